package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/image-packager/internal/config"
	"github.com/oshokin/image-packager/internal/logger"
	"github.com/oshokin/image-packager/internal/service/pipeline"
	"github.com/oshokin/image-packager/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// dryRun logs resolved commands without executing them.
	dryRun bool
	// logLevel sets the logging verbosity.
	logLevel string

	// rootCmd represents the base command for running the test pipeline.
	rootCmd = &cobra.Command{
		Use:   "image-pipeline [descriptor]",
		Short: "Run the declared test command sequence inside docker images",
		Long: `Loads a pipeline descriptor (OS matrix, docker images, ordered test
commands) and executes each step with docker run, in declared order.
The first failing step aborts the sequence.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			// Use descriptor argument if provided, otherwise rely on config.
			var descriptorPath string
			if len(args) > 0 {
				descriptorPath = args[0]
			}

			options := &pipeline.Options{
				ConfigPath:     configPath,
				DescriptorPath: descriptorPath,
				DryRun:         dryRun,
			}

			return pipeline.Run(ctx, options)
		},
	}
)

// Execute runs the image-pipeline CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log resolved commands without executing them")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "logging level (debug, info, warn, error)")
}
