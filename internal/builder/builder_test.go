package builder

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeStubDocker creates an executable shell script standing in for docker.
// It records its arguments to argsFile and exits with the given code.
func writeStubDocker(t *testing.T, argsFile string, exitCode int) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("stub docker script requires a POSIX shell")
	}

	script := "#!/bin/sh\necho \"$@\" >> " + argsFile + "\necho build output line\nexit " +
		strconv.Itoa(exitCode) + "\n"

	path := filepath.Join(t.TempDir(), "docker")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path
}

// TestBuild_InvokesDockerWithExpectedArguments checks flag ordering against the stub.
func TestBuild_InvokesDockerWithExpectedArguments(t *testing.T) {
	t.Parallel()

	argsFile := filepath.Join(t.TempDir(), "args.txt")
	stub := writeStubDocker(t, argsFile, 0)

	err := Build(context.Background(), &BuildOptions{
		Binary:     stub,
		Tag:        "ray-project/ray:deploy-conda",
		ContextDir: "docker/deploy-conda",
		NoCache:    true,
	})
	require.NoError(t, err)

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Equal(t, "build --no-cache -t ray-project/ray:deploy-conda docker/deploy-conda\n", string(recorded))
}

// TestRunCommand_PassesShmSize checks docker run argument construction.
func TestRunCommand_PassesShmSize(t *testing.T) {
	t.Parallel()

	argsFile := filepath.Join(t.TempDir(), "args.txt")
	stub := writeStubDocker(t, argsFile, 0)

	err := RunCommand(context.Background(), &RunOptions{
		Binary:  stub,
		Image:   "ray-project/ray:deploy",
		Command: "python test/runtest.py",
		ShmSize: "8G",
	})
	require.NoError(t, err)

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Equal(t, "run --rm --shm-size=8G ray-project/ray:deploy /bin/sh -c python test/runtest.py\n", string(recorded))
}

// TestBuild_NonZeroExit propagates docker failures.
func TestBuild_NonZeroExit(t *testing.T) {
	t.Parallel()

	argsFile := filepath.Join(t.TempDir(), "args.txt")
	stub := writeStubDocker(t, argsFile, 1)

	err := Build(context.Background(), &BuildOptions{
		Binary:     stub,
		Tag:        "example/app:latest",
		ContextDir: ".",
	})
	require.Error(t, err)
}

// TestBuild_MissingBinary maps a missing executable to ErrDockerNotFound.
func TestBuild_MissingBinary(t *testing.T) {
	t.Parallel()

	err := Build(context.Background(), &BuildOptions{
		Binary:     filepath.Join(t.TempDir(), "no-such-docker"),
		Tag:        "example/app:latest",
		ContextDir: ".",
	})
	require.ErrorIs(t, err, ErrDockerNotFound)
}

// TestLineWriter_SplitsLines verifies buffering of partial writes.
func TestLineWriter_SplitsLines(t *testing.T) {
	t.Parallel()

	w := &lineWriter{ctx: context.Background()}

	_, err := w.Write([]byte("first\nsec"))
	require.NoError(t, err)
	require.Equal(t, "sec", w.buf.String())

	_, err = w.Write([]byte("ond\n"))
	require.NoError(t, err)
	require.Zero(t, w.buf.Len())

	_, err = w.Write([]byte("tail"))
	require.NoError(t, err)
	w.Flush()
	require.Zero(t, w.buf.Len())
}
