package docs

import (
	"fmt"
	"regexp"
	"strings"
)

var headingPattern = regexp.MustCompile(`^#{1,4} .+`)

// ParseHeadings returns the H1-H4 Markdown headings of content as
// "<line>: <heading line>" entries, one per line. Headings inside fenced
// code blocks are ignored.
func ParseHeadings(content string) string {
	var (
		out     []string
		inFence bool
		fence   string
	)

	for i, line := range splitLines(content) {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "```") || strings.HasPrefix(stripped, "~~~") {
			marker := stripped[:3]
			switch {
			case !inFence:
				inFence = true
				fence = marker
			case marker == fence:
				inFence = false
				fence = ""
			}
			continue
		}
		if inFence {
			continue
		}

		if headingPattern.MatchString(line) {
			out = append(out, fmt.Sprintf("%d: %s", i+1, line))
		}
	}

	return strings.Join(out, "\n")
}

// splitLines splits content on line breaks. A trailing newline does not
// produce an extra empty line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}
