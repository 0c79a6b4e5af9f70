package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/image-packager/internal/config"
	"github.com/oshokin/image-packager/internal/logger"
	"github.com/oshokin/image-packager/internal/service/packager"
	"github.com/oshokin/image-packager/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// contextRoot overrides the directory tree to archive.
	contextRoot string
	// imageTag overrides the tag applied to the built image.
	imageTag string
	// archivePath pins the intermediate archive location.
	archivePath string
	// keepArchive leaves the archive on disk for inspection.
	keepArchive bool
	// logLevel sets the logging verbosity.
	logLevel string

	// rootCmd represents the base command for packaging and building the image.
	rootCmd = &cobra.Command{
		Use:   "image-packager",
		Short: "Package the working tree and build the docker image",
		Long: `Archives the working tree into a deterministic build context
(excluding configured paths), builds the docker image with no cache, and
removes the intermediate archive on every exit path.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			options := &packager.Options{
				ConfigPath:  configPath,
				ContextRoot: contextRoot,
				ImageTag:    imageTag,
				ArchivePath: archivePath,
				KeepArchive: keepArchive,
			}

			return packager.Run(ctx, options)
		},
	}
)

// Execute runs the image-packager CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVar(&contextRoot, "context", "", "directory tree to archive (defaults to current directory)")
	rootCmd.Flags().StringVarP(&imageTag, "tag", "t", "", "tag for the built image")
	rootCmd.Flags().StringVar(&archivePath, "archive", "", "pin the intermediate archive path instead of a temporary directory")
	rootCmd.Flags().BoolVar(&keepArchive, "keep-archive", false, "leave the intermediate archive on disk")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "logging level (debug, info, warn, error)")
}
