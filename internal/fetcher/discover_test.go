package fetcher

import (
	"slices"
	"testing"
)

func TestExtractBaseDomains(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "markdown links",
			content: "- [Intro](https://python.langchain.com/docs/intro)\n- [API](https://api.langchain.com/ref)",
			want:    []string{"langchain.com"},
		},
		{
			name:    "multiple domains sorted",
			content: "See https://svelte.dev/docs and http://docs.pydantic.dev/latest/.",
			want:    []string{"pydantic.dev", "svelte.dev"},
		},
		{
			name:    "trailing punctuation",
			content: "Visit https://example.org, or https://other.net.",
			want:    []string{"example.org", "other.net"},
		},
		{
			name:    "private ips skipped",
			content: "http://127.0.0.1:8000/a http://192.168.1.10/b https://[::1]/c https://ok.io/",
			want:    []string{"ok.io"},
		},
		{
			name:    "relative links ignored",
			content: "[page](/docs/page.md) and ftp://files.example.com/x",
			want:    []string{},
		},
		{
			name:    "empty",
			content: "",
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractBaseDomains(tt.content)
			if !slices.Equal(got, tt.want) {
				t.Errorf("ExtractBaseDomains() = %v, want %v", got, tt.want)
			}
		})
	}
}
