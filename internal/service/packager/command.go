package packager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/oshokin/image-packager/internal/archive"
	"github.com/oshokin/image-packager/internal/builder"
	"github.com/oshokin/image-packager/internal/config"
	"github.com/oshokin/image-packager/internal/logger"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is an optional path to the settings YAML (defaults apply when absent).
	ConfigPath string
	// ContextRoot overrides the directory tree to archive.
	ContextRoot string
	// ImageTag overrides the tag applied to the built image.
	ImageTag string
	// ArchivePath pins the intermediate archive location instead of a
	// per-invocation temporary directory.
	ArchivePath string
	// KeepArchive leaves the archive on disk for inspection.
	KeepArchive bool
}

// packager executes one Packaging -> Building -> Cleanup pass.
// It is unexported—callers should use Run, which encapsulates setup and validation.
type packager struct {
	// cfg holds resolved settings for the run.
	cfg *config.Config
	// keepArchive disables archive removal during cleanup.
	keepArchive bool
	// archivePath is the resolved archive file location.
	archivePath string
	// ownedDir is a temporary directory created for this invocation, if any.
	ownedDir string
}

// Run executes the packaging workflow: archive the working tree, build the
// image, and remove the archive on every exit path.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "image-packager")

	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	applyOverrides(cfg, opts)

	if err := config.Validate(cfg); err != nil {
		return err
	}

	pkg := &packager{cfg: cfg, keepArchive: opts.KeepArchive}

	if err := pkg.Run(ctx); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Packager completed successfully", "image_tag", cfg.ImageTag)

	return nil
}

// applyOverrides folds command-line overrides into the loaded settings.
func applyOverrides(cfg *config.Config, opts *Options) {
	if opts.ContextRoot != "" {
		cfg.ContextRoot = opts.ContextRoot
	}

	if opts.ImageTag != "" {
		cfg.ImageTag = opts.ImageTag
	}

	if opts.ArchivePath != "" {
		cfg.ArchivePath = opts.ArchivePath
	}
}

// Run drives the three phases. Cleanup is deferred as soon as the archive
// location exists, so it runs whether packaging, building, or nothing failed.
func (p *packager) Run(ctx context.Context) (err error) {
	if running, derr := builder.DaemonRunning(); derr == nil && !running {
		logger.Warn(ctx, "No local docker daemon detected, relying on docker CLI configuration")
	}

	if aerr := p.acquireArchiveLocation(); aerr != nil {
		return fmt.Errorf("%w: %w", ErrPackaging, aerr)
	}

	defer func() {
		if cerr := p.cleanup(ctx); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: %w", ErrCleanup, cerr))
		}
	}()

	if perr := p.pack(ctx); perr != nil {
		return fmt.Errorf("%w: %w", ErrPackaging, perr)
	}

	if berr := p.build(ctx); berr != nil {
		return fmt.Errorf("%w: %w", ErrBuild, berr)
	}

	return nil
}

// acquireArchiveLocation resolves where the archive lives for this run.
// Without an explicit path a fresh temporary directory keeps concurrent
// invocations from clobbering each other.
func (p *packager) acquireArchiveLocation() error {
	if p.cfg.ArchivePath != "" {
		p.archivePath = p.cfg.ArchivePath

		return os.MkdirAll(filepath.Dir(p.archivePath), 0o755)
	}

	dir, err := os.MkdirTemp("", "image-packager-")
	if err != nil {
		return fmt.Errorf("create temporary directory: %w", err)
	}

	p.ownedDir = dir
	p.archivePath = filepath.Join(dir, config.DefaultArchiveName)

	return nil
}

// pack writes the deterministic build-context archive.
func (p *packager) pack(ctx context.Context) error {
	logger.InfoKV(ctx, "Packaging working tree",
		"context_root", p.cfg.ContextRoot,
		"archive", p.archivePath,
		"exclude", p.cfg.Exclude,
	)

	result, err := archive.CreateFile(ctx, p.cfg.ContextRoot, p.archivePath, p.cfg.Exclude)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Build context packaged",
		"digest", result.Digest.String(),
		"size_bytes", result.Size,
	)

	return nil
}

// build invokes the external image build with the configured timeout.
func (p *packager) build(ctx context.Context) error {
	buildCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	return builder.Build(buildCtx, &builder.BuildOptions{
		Binary:     p.cfg.DockerBinary,
		Tag:        p.cfg.ImageTag,
		ContextDir: p.cfg.BuildContext,
		NoCache:    p.cfg.NoCache,
	})
}

// cleanup removes the archive and any owned temporary directory.
func (p *packager) cleanup(ctx context.Context) error {
	if p.keepArchive {
		logger.InfoKV(ctx, "Keeping archive", "archive", p.archivePath)

		return nil
	}

	if err := os.Remove(p.archivePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archive: %w", err)
	}

	if p.ownedDir != "" {
		if err := os.RemoveAll(p.ownedDir); err != nil {
			return fmt.Errorf("remove temporary directory: %w", err)
		}
	}

	logger.DebugKV(ctx, "Removed intermediate archive", "archive", p.archivePath)

	return nil
}
