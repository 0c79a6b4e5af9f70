package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestTree builds a small working tree resembling the original layout:
// a source file plus a docker subdirectory that must be excluded.
func newTestTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "docker", "deploy-conda"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.py"), []byte("print()"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docker", "deploy-conda", "Dockerfile"), []byte("FROM scratch"), 0o644))

	return root
}

// entryNames returns the entry names of a tar stream in order.
func entryNames(t *testing.T, data []byte) []string {
	t.Helper()

	var names []string

	tr := tar.NewReader(bytes.NewReader(data))

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		require.NoError(t, err)
		names = append(names, header.Name)
	}

	return names
}

// TestCreate_ExcludesSubtree verifies excluded paths never appear in the archive.
func TestCreate_ExcludesSubtree(t *testing.T) {
	t.Parallel()

	root := newTestTree(t)

	var buf bytes.Buffer

	result, err := Create(context.Background(), root, &buf, []string{"docker"})
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), result.Size)

	names := entryNames(t, buf.Bytes())
	require.Contains(t, names, "a.txt")
	require.Contains(t, names, "src/main.py")

	for _, name := range names {
		require.False(t, strings.HasPrefix(name, "docker/"), "unexpected entry %s", name)
	}
}

// TestCreate_Deterministic verifies byte-identical output across runs.
func TestCreate_Deterministic(t *testing.T) {
	t.Parallel()

	root := newTestTree(t)

	var first, second bytes.Buffer

	resultFirst, err := Create(context.Background(), root, &first, []string{"docker"})
	require.NoError(t, err)

	resultSecond, err := Create(context.Background(), root, &second, []string{"docker"})
	require.NoError(t, err)

	require.Equal(t, first.Bytes(), second.Bytes())
	require.Equal(t, resultFirst.Digest, resultSecond.Digest)
	require.NoError(t, resultFirst.Digest.Validate())
}

// TestCreate_Canceled aborts the walk when the context is done.
func TestCreate_Canceled(t *testing.T) {
	t.Parallel()

	root := newTestTree(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Create(ctx, root, io.Discard, nil)
	require.ErrorIs(t, err, context.Canceled)
}

// TestCreate_RootMustBeDirectory rejects a file root.
func TestCreate_RootMustBeDirectory(t *testing.T) {
	t.Parallel()

	root := newTestTree(t)

	_, err := Create(context.Background(), filepath.Join(root, "a.txt"), io.Discard, nil)
	require.Error(t, err)
}

// TestCreateFile_SelfExclusion allows the archive to live inside the tree
// without swallowing itself.
func TestCreateFile_SelfExclusion(t *testing.T) {
	t.Parallel()

	root := newTestTree(t)
	dest := filepath.Join(root, "out.tar")

	result, err := CreateFile(context.Background(), root, dest, nil)
	require.NoError(t, err)
	require.Positive(t, result.Size)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)

	names := entryNames(t, data)
	require.NotContains(t, names, "out.tar")
	require.Contains(t, names, "a.txt")
}

// TestCreateFile_RemovesPartialOnFailure ensures no partial archive is left
// behind when packing fails.
func TestCreateFile_RemovesPartialOnFailure(t *testing.T) {
	t.Parallel()

	root := newTestTree(t)
	dest := filepath.Join(t.TempDir(), "out.tar")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CreateFile(ctx, root, dest, nil)
	require.Error(t, err)

	_, err = os.Stat(dest)
	require.ErrorIs(t, err, os.ErrNotExist)
}
