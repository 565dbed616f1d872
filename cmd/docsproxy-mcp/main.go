package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sha1n/mcp-docsproxy-server/internal/app"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "docsproxy-mcp"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx, Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(ctx context.Context, version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:     programName,
		Short:   "Documentation MCP Server",
		Long:    "MCP server that resolves libraries and serves their llms.txt documentation from allowlisted sources",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunWithDeps(cmd.Context(), app.DefaultRunParams(), cmd.Flags(), version)
		},
	}
	rootCmd.SetVersionTemplate(`{{.Version}} (` + build + `)
`)
	app.RegisterFlags(rootCmd.Flags())

	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Download the latest library registry into the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunSetup(cmd.Context(), app.DefaultSetupParams(), cmd.Flags())
		},
	}
	app.RegisterCommonFlags(setupCmd.Flags())
	rootCmd.AddCommand(setupCmd)

	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
