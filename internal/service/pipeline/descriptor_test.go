package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLoadDescriptor_PreservesOrder ensures the declared step order survives parsing.
func TestLoadDescriptor_PreservesOrder(t *testing.T) {
	t.Parallel()

	contents := `
matrix:
  os: [linux, osx]
steps:
  - name: runtest
    image: ray-project/ray:deploy
    command: python test/runtest.py
  - name: arraytest
    image: ray-project/ray:deploy
    command: python test/array_test.py
  - name: driver
    image: ray-project/ray:deploy
    command: python examples/lbfgs/driver.py
    shm_size: 8G
`

	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	desc, err := LoadDescriptor(path)
	require.NoError(t, err)

	require.Equal(t, []string{"linux", "osx"}, desc.Matrix.OS)
	require.Len(t, desc.Steps, 3)
	require.Equal(t, "runtest", desc.Steps[0].Name)
	require.Equal(t, "arraytest", desc.Steps[1].Name)
	require.Equal(t, "driver", desc.Steps[2].Name)
	require.Equal(t, "8G", desc.Steps[2].ShmSize)
}

// TestValidate rejects structurally broken descriptors.
func TestValidate(t *testing.T) {
	t.Parallel()

	// No steps.
	desc := &Descriptor{}
	require.ErrorIs(t, desc.Validate(), errNoSteps)

	// Unknown OS.
	desc = &Descriptor{
		Matrix: Matrix{OS: []string{"beos"}},
		Steps:  []Step{{Image: "img", Command: "true"}},
	}
	require.ErrorIs(t, desc.Validate(), errUnknownOS)

	// Missing image.
	desc = &Descriptor{
		Steps: []Step{{Command: "true"}},
	}
	require.ErrorIs(t, desc.Validate(), errStepImageRequired)

	// Missing command.
	desc = &Descriptor{
		Steps: []Step{{Image: "img"}},
	}
	require.ErrorIs(t, desc.Validate(), errStepCommandRequired)

	// Okay.
	desc = &Descriptor{
		Matrix: Matrix{OS: []string{"linux"}},
		Steps:  []Step{{Name: "ok", Image: "img", Command: "true"}},
	}
	require.NoError(t, desc.Validate())
}

// TestStepDisplayName falls back to a positional label.
func TestStepDisplayName(t *testing.T) {
	t.Parallel()

	named := Step{Name: "runtest"}
	require.Equal(t, "runtest", named.displayName(0))

	anonymous := Step{}
	require.Equal(t, "step-3", anonymous.displayName(2))
}
