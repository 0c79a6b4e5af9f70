package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/oshokin/image-packager/internal/builder"
	"github.com/oshokin/image-packager/internal/config"
	"github.com/oshokin/image-packager/internal/logger"
)

// Options contains inputs for the pipeline entry point.
type Options struct {
	// ConfigPath is an optional path to the settings YAML.
	ConfigPath string
	// DescriptorPath overrides the pipeline descriptor location.
	DescriptorPath string
	// DryRun logs resolved commands without executing them.
	DryRun bool
}

// Run loads the pipeline descriptor and executes its steps in declared
// order. The first failing step aborts the sequence.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "image-pipeline")

	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	descriptorPath := cfg.PipelineFile
	if opts.DescriptorPath != "" {
		descriptorPath = opts.DescriptorPath
	}

	desc, err := LoadDescriptor(descriptorPath)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Loaded pipeline descriptor",
		"path", descriptorPath,
		"matrix_os", desc.Matrix.OS,
		"steps", len(desc.Steps),
	)

	if running, derr := builder.DaemonRunning(); derr == nil && !running && !opts.DryRun {
		logger.Warn(ctx, "No local docker daemon detected, relying on docker CLI configuration")
	}

	if err := runInstall(ctx, desc, opts.DryRun); err != nil {
		return err
	}

	return runSteps(ctx, cfg, desc, opts.DryRun)
}

// runInstall executes the optional host-side install script.
func runInstall(ctx context.Context, desc *Descriptor, dryRun bool) error {
	if desc.Install == "" {
		return nil
	}

	if dryRun {
		logger.Infof(ctx, "Would run install script: %s", desc.Install)
		return nil
	}

	logger.InfoKV(ctx, "Running install script", "path", desc.Install)

	cmd := exec.CommandContext(ctx, "/bin/sh", "-e", desc.Install)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("install script %s: %w", desc.Install, err)
	}

	return nil
}

// runSteps executes the descriptor's steps sequentially.
func runSteps(ctx context.Context, cfg *config.Config, desc *Descriptor, dryRun bool) error {
	for i, step := range desc.Steps {
		name := step.displayName(i)

		if dryRun {
			logger.Infof(ctx, "Would run step %s: docker run --rm %s /bin/sh -c %q (shm_size=%s)",
				name, step.Image, step.Command, step.ShmSize)

			continue
		}

		logger.InfoKV(ctx, "Running pipeline step",
			"step", name,
			"image", step.Image,
			"command", step.Command,
		)

		stepCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)

		err := builder.RunCommand(stepCtx, &builder.RunOptions{
			Binary:  cfg.DockerBinary,
			Image:   step.Image,
			Command: step.Command,
			ShmSize: step.ShmSize,
		})

		cancel()

		if err != nil {
			return fmt.Errorf("pipeline step %s: %w", name, err)
		}
	}

	logger.Info(ctx, "Pipeline completed successfully")

	return nil
}
