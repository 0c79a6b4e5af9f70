package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Descriptor declares a test pipeline: the OS matrix it applies to and the
// ordered command sequence executed inside docker images. It is
// configuration data, not logic: migrating a pipeline means preserving the
// declared order exactly.
type Descriptor struct {
	// Matrix lists the environments the pipeline is declared for.
	Matrix Matrix `yaml:"matrix"`
	// Install is an optional host-side dependency script run before the steps.
	Install string `yaml:"install,omitempty"`
	// Steps is the ordered list of commands to run.
	Steps []Step `yaml:"steps"`
}

// Matrix declares the environment combinations of the pipeline.
type Matrix struct {
	// OS names the operating systems the pipeline runs under.
	OS []string `yaml:"os"`
}

// Step is a single command executed inside a docker image.
type Step struct {
	// Name labels the step in logs and errors.
	Name string `yaml:"name"`
	// Image is the docker image the command runs in.
	Image string `yaml:"image"`
	// Command is passed to the container shell.
	Command string `yaml:"command"`
	// ShmSize optionally raises /dev/shm for the step (e.g. "8G").
	ShmSize string `yaml:"shm_size,omitempty"`
}

var (
	// errNoSteps is returned for a descriptor without steps.
	errNoSteps = errors.New("pipeline declares no steps")
	// errStepImageRequired is returned when a step has no image.
	errStepImageRequired = errors.New("step image must be provided")
	// errStepCommandRequired is returned when a step has no command.
	errStepCommandRequired = errors.New("step command must be provided")
	// errUnknownOS is returned for OS names outside the supported set.
	errUnknownOS = errors.New("unknown matrix os")
)

// knownOS is the supported matrix vocabulary.
//
//nolint:gochecknoglobals // Shared lookup table.
var knownOS = map[string]struct{}{
	"linux":   {},
	"osx":     {},
	"windows": {},
}

// LoadDescriptor reads and validates a pipeline descriptor from path.
func LoadDescriptor(path string) (*Descriptor, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read pipeline descriptor: %w", err)
	}

	var desc Descriptor
	if err := yaml.Unmarshal(contents, &desc); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline descriptor: %w", err)
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	return &desc, nil
}

// Validate checks the descriptor for structural problems.
// Step order is never altered.
func (d *Descriptor) Validate() error {
	for _, osName := range d.Matrix.OS {
		if _, ok := knownOS[osName]; !ok {
			return fmt.Errorf("%q: %w", osName, errUnknownOS)
		}
	}

	if len(d.Steps) == 0 {
		return errNoSteps
	}

	for i, step := range d.Steps {
		if step.Image == "" {
			return fmt.Errorf("step %d (%s): %w", i+1, step.displayName(i), errStepImageRequired)
		}

		if step.Command == "" {
			return fmt.Errorf("step %d (%s): %w", i+1, step.displayName(i), errStepCommandRequired)
		}
	}

	return nil
}

// displayName returns a log-friendly label for the step.
func (s *Step) displayName(index int) string {
	if s.Name != "" {
		return s.Name
	}

	return fmt.Sprintf("step-%d", index+1)
}
