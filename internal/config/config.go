package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/distribution/reference"
	"gopkg.in/yaml.v3"
)

// Config holds settings shared by the image-packager binaries.
type Config struct {
	// ContextRoot is the directory tree that gets archived as the build context.
	ContextRoot string `yaml:"context_root"`
	// Exclude lists dockerignore-style patterns left out of the archive.
	Exclude []string `yaml:"exclude"`
	// ArchivePath pins the intermediate archive location. When empty, a
	// fresh temporary directory is used per invocation.
	ArchivePath string `yaml:"archive_path"`
	// BuildContext is the directory handed to docker build.
	BuildContext string `yaml:"build_context"`
	// ImageTag is the tag applied to the built image.
	ImageTag string `yaml:"image_tag"`
	// NoCache disables the docker build cache.
	NoCache bool `yaml:"no_cache"`
	// DockerBinary is the docker executable to invoke.
	DockerBinary string `yaml:"docker_binary"`
	// Timeout bounds a single external docker invocation.
	Timeout time.Duration `yaml:"timeout"`
	// UpdateFolder is the URL where toolchain update artifacts are hosted.
	UpdateFolder string `yaml:"update_folder"`
	// PipelineFile is the path to the pipeline descriptor YAML.
	PipelineFile string `yaml:"pipeline_file"`
}

const (
	// DefaultConfigFilename is the default filename for packager settings.
	DefaultConfigFilename = "image-packager-settings.yaml"

	// DefaultBuildContext is the build context directory of the original script.
	DefaultBuildContext = "docker/deploy-conda"

	// DefaultImageTag is the image tag of the original script.
	DefaultImageTag = "ray-project/ray:deploy-conda"

	// DefaultArchiveName is the archive filename used inside temporary directories.
	DefaultArchiveName = "ray.tar"

	// DefaultDockerBinary is the docker executable looked up on PATH.
	DefaultDockerBinary = "docker"

	// DefaultPipelineFilename is the default pipeline descriptor path.
	DefaultPipelineFilename = "image-pipeline.yaml"

	// DefaultTimeout bounds a single docker invocation.
	DefaultTimeout = 10 * time.Minute

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errImageTagRequired is returned when the image tag is missing.
	errImageTagRequired = errors.New("image tag must be provided")
	// errBuildContextRequired is returned when the build context is missing.
	errBuildContextRequired = errors.New("build context must be provided")
)

// Default returns a configuration preloaded with the original script's values.
func Default() *Config {
	return &Config{
		ContextRoot:  ".",
		Exclude:      []string{"docker"},
		BuildContext: DefaultBuildContext,
		ImageTag:     DefaultImageTag,
		NoCache:      true,
		DockerBinary: DefaultDockerBinary,
		Timeout:      DefaultTimeout,
		PipelineFile: DefaultPipelineFilename,
	}
}

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	// Unmarshal over the defaults so a settings file that pins only some
	// fields keeps the documented values for the rest.
	cfg := Default()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads configuration from path when the file exists and falls
// back to defaults when it does not. Any other read or validation failure is
// still an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting.
// Empty optional fields are replaced with defaults in place.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ImageTag == "" {
		return errImageTagRequired
	}

	if _, err := reference.ParseNormalizedNamed(cfg.ImageTag); err != nil {
		return fmt.Errorf("invalid image tag %q: %w", cfg.ImageTag, err)
	}

	if cfg.BuildContext == "" {
		return errBuildContextRequired
	}

	if cfg.ContextRoot == "" {
		cfg.ContextRoot = "."
	}

	if cfg.DockerBinary == "" {
		cfg.DockerBinary = DefaultDockerBinary
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.PipelineFile == "" {
		cfg.PipelineFile = DefaultPipelineFilename
	}

	if cfg.UpdateFolder == "" {
		return nil
	}

	if _, err := url.ParseRequestURI(cfg.UpdateFolder); err != nil {
		return fmt.Errorf("invalid update folder URI: %w", err)
	}

	return nil
}
