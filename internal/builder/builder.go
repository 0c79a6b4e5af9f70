package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/image-packager/internal/logger"
)

// BuildOptions describe a single docker build invocation.
type BuildOptions struct {
	// Binary is the docker executable, defaulting to "docker".
	Binary string
	// Tag is applied to the built image.
	Tag string
	// ContextDir is the build context directory.
	ContextDir string
	// NoCache disables the build cache.
	NoCache bool
}

// RunOptions describe a single docker run invocation.
type RunOptions struct {
	// Binary is the docker executable, defaulting to "docker".
	Binary string
	// Image names the image to run the command in.
	Image string
	// Command is passed to /bin/sh -c inside the container.
	Command string
	// ShmSize optionally raises /dev/shm (e.g. "8G").
	ShmSize string
}

// ErrDockerNotFound indicates the docker executable is not on PATH.
var ErrDockerNotFound = errors.New("docker binary not found")

// daemonExecutables are process names that indicate a local docker daemon.
//
//nolint:gochecknoglobals // Shared lookup table.
var daemonExecutables = map[string]struct{}{
	"dockerd":            {},
	"com.docker.backend": {},
}

// Build invokes `docker build` for the provided options, streaming build
// output into the logger. A non-zero exit is returned as an error.
func Build(ctx context.Context, opts *BuildOptions) error {
	args := []string{"build"}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}

	args = append(args, "-t", opts.Tag, opts.ContextDir)

	return runDocker(ctx, binaryOrDefault(opts.Binary), args)
}

// RunCommand invokes `docker run --rm` with the provided command, streaming
// container output into the logger.
func RunCommand(ctx context.Context, opts *RunOptions) error {
	args := []string{"run", "--rm"}
	if opts.ShmSize != "" {
		args = append(args, "--shm-size="+opts.ShmSize)
	}

	args = append(args, opts.Image, "/bin/sh", "-c", opts.Command)

	return runDocker(ctx, binaryOrDefault(opts.Binary), args)
}

// DaemonRunning reports whether a docker daemon process is visible in the
// local process table. A false result is not fatal: the daemon may live on
// another machine behind DOCKER_HOST.
func DaemonRunning() (bool, error) {
	processes, err := ps.Processes()
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processes {
		if _, found := daemonExecutables[process.Executable()]; found {
			return true, nil
		}
	}

	return false, nil
}

// runDocker executes the docker binary with args, logging each output line.
func runDocker(ctx context.Context, binary string, args []string) error {
	logger.InfoKV(ctx, "Running docker", "binary", binary, "args", strings.Join(args, " "))

	output := &lineWriter{ctx: ctx}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = output
	cmd.Stderr = output

	err := cmd.Run()
	output.Flush()

	if err == nil {
		return nil
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrDockerNotFound, binary)
	}

	return fmt.Errorf("docker %s: %w", args[0], err)
}

// binaryOrDefault resolves the docker executable name.
func binaryOrDefault(binary string) string {
	if binary == "" {
		return "docker"
	}

	return binary
}

// lineWriter forwards complete output lines to the logger, buffering the
// tail of partial writes.
type lineWriter struct {
	ctx context.Context //nolint:containedctx // Carries the request-scoped logger into io.Writer calls.
	buf bytes.Buffer
}

// Write implements io.Writer.
func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)

	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line, keep it buffered.
			w.buf.WriteString(line)
			break
		}

		w.log(strings.TrimRight(line, "\r\n"))
	}

	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *lineWriter) Flush() {
	if w.buf.Len() == 0 {
		return
	}

	w.log(strings.TrimRight(w.buf.String(), "\r\n"))
	w.buf.Reset()
}

func (w *lineWriter) log(line string) {
	if line == "" {
		return
	}

	logger.Info(w.ctx, line)
}
