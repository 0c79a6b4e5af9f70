package packager

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/image-packager/internal/config"
)

// newTree creates a minimal working tree with an excluded docker subdirectory.
func newTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "docker", "deploy-conda"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0o644))

	return root
}

// stubDocker returns the path of a fake docker executable exiting with code.
func stubDocker(t *testing.T, code string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("stub docker script requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "docker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit "+code+"\n"), 0o755))

	return path
}

// testConfig returns settings pointing at a stub docker and a temp tree.
func testConfig(t *testing.T, root, docker string) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.ContextRoot = root
	cfg.BuildContext = filepath.Join(root, "docker", "deploy-conda")
	cfg.DockerBinary = docker

	return cfg
}

// TestRun_ArchiveRemovedOnSuccess covers the happy path.
func TestRun_ArchiveRemovedOnSuccess(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	pinned := filepath.Join(root, "docker", "deploy-conda", "ray.tar")

	cfg := testConfig(t, root, stubDocker(t, "0"))
	cfg.ArchivePath = pinned

	pkg := &packager{cfg: cfg}
	require.NoError(t, pkg.Run(context.Background()))

	_, err := os.Stat(pinned)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_ArchiveRemovedOnBuildFailure preserves the unconditional-cleanup
// property while reporting the build failure.
func TestRun_ArchiveRemovedOnBuildFailure(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	pinned := filepath.Join(root, "docker", "deploy-conda", "ray.tar")

	cfg := testConfig(t, root, stubDocker(t, "1"))
	cfg.ArchivePath = pinned

	pkg := &packager{cfg: cfg}
	err := pkg.Run(context.Background())
	require.ErrorIs(t, err, ErrBuild)
	require.NotErrorIs(t, err, ErrPackaging)

	_, err = os.Stat(pinned)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_PackagingFailure surfaces ErrPackaging when the tree is unreadable.
func TestRun_PackagingFailure(t *testing.T) {
	t.Parallel()

	root := newTree(t)

	cfg := testConfig(t, root, stubDocker(t, "0"))
	cfg.ContextRoot = filepath.Join(root, "no-such-dir")

	pkg := &packager{cfg: cfg}
	err := pkg.Run(context.Background())
	require.ErrorIs(t, err, ErrPackaging)
}

// TestRun_KeepArchive leaves the archive in place when requested.
func TestRun_KeepArchive(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	pinned := filepath.Join(root, "docker", "deploy-conda", "ray.tar")

	cfg := testConfig(t, root, stubDocker(t, "0"))
	cfg.ArchivePath = pinned

	pkg := &packager{cfg: cfg, keepArchive: true}
	require.NoError(t, pkg.Run(context.Background()))

	_, err := os.Stat(pinned)
	require.NoError(t, err)
}

// TestAcquireArchiveLocation_TempPerInvocation gives every run its own path.
func TestAcquireArchiveLocation_TempPerInvocation(t *testing.T) {
	t.Parallel()

	first := &packager{cfg: config.Default()}
	second := &packager{cfg: config.Default()}

	require.NoError(t, first.acquireArchiveLocation())
	require.NoError(t, second.acquireArchiveLocation())

	t.Cleanup(func() {
		_ = os.RemoveAll(first.ownedDir)
		_ = os.RemoveAll(second.ownedDir)
	})

	require.NotEqual(t, first.archivePath, second.archivePath)
	require.Equal(t, config.DefaultArchiveName, filepath.Base(first.archivePath))
}
