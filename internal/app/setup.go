package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-docsproxy-server/internal/config"
	"github.com/sha1n/mcp-docsproxy-server/internal/registry"
)

// SetupParams contains dependencies for the setup command
type SetupParams struct {
	LoadSettings  func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings func(*config.Settings) error
	LogOutput     io.Writer
}

// DefaultSetupParams returns production dependencies
func DefaultSetupParams() SetupParams {
	return SetupParams{
		LoadSettings:  config.LoadSettingsWithFlags,
		ValidSettings: config.ValidateSettings,
		LogOutput:     os.Stderr,
	}
}

// RunSetup downloads the latest registry pair into the data directory.
// It fails when the registry could not be fetched, verified or saved.
func RunSetup(ctx context.Context, params SetupParams, flags *pflag.FlagSet) error {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := config.NewLogger(out, settings.Logging)

	paths := registry.NewPaths(settings.RegistryDir())
	updater := registry.NewUpdater(registry.UpdaterConfig{
		MetadataURL: settings.Registry.MetadataURL,
		Timeout:     settings.Registry.Timeout,
		Paths:       paths,
		Logger:      logger,
	})

	logger.Info("Downloading registry", "metadata_url", settings.Registry.MetadataURL, "dir", settings.RegistryDir())
	if err := updater.Setup(ctx); err != nil {
		return fmt.Errorf("registry setup failed: %w", err)
	}

	entries, desc, err := registry.LoadPair(paths)
	if err != nil {
		return fmt.Errorf("registry setup verification failed: %w", err)
	}
	logger.Info("Registry setup complete", "version", desc.Version, "entries", len(entries))
	return nil
}
