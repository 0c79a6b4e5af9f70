package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/image-packager/internal/config"
	"github.com/oshokin/image-packager/internal/logger"
	"github.com/oshokin/image-packager/internal/service/updater"
	"github.com/oshokin/image-packager/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel sets the logging verbosity.
	logLevel string

	// rootCmd represents the base command for updating the toolchain binaries.
	rootCmd = &cobra.Command{
		Use:   "image-updater [update-folder]",
		Short: "Update the toolchain binaries from the update folder",
		Long: `Fetches the version manifest from the configured update folder,
compares versions and checksums, and applies changed files atomically.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			// Use update folder argument if provided, otherwise rely on config.
			var updateFolder string
			if len(args) > 0 {
				updateFolder = args[0]
			}

			options := &updater.Options{
				ConfigPath:   configPath,
				UpdateFolder: updateFolder,
			}

			return updater.Run(ctx, options)
		},
	}

	// publishCmd writes the version manifest for a release.
	publishCmd = &cobra.Command{
		Use:   "publish [update-folder]",
		Short: "Write the version manifest for the toolchain artifacts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var updateFolder string
			if len(args) > 0 {
				updateFolder = args[0]
			}

			return updater.Publish(ctx, &updater.PublishOptions{UpdateFolder: updateFolder})
		},
	}
)

// Execute runs the image-updater CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(publishCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging level (debug, info, warn, error)")
}
