package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/patternmatcher"
	"github.com/opencontainers/go-digest"
)

// Result describes a finished archive.
type Result struct {
	// Digest is the canonical digest of the archive bytes.
	Digest digest.Digest
	// Size is the archive length in bytes.
	Size int64
}

// errNotDirectory is returned when the archive root is not a directory.
var errNotDirectory = errors.New("archive root is not a directory")

// zeroTime is written into every header so archives do not depend on when
// they were produced.
var zeroTime = time.Unix(0, 0).UTC() //nolint:gochecknoglobals // Shared constant.

// Create streams an uncompressed tar of the tree rooted at root to w,
// skipping paths matched by the dockerignore-style exclude patterns.
//
// Output is deterministic for a fixed tree: entries appear in lexical walk
// order, timestamps and ownership are zeroed, so repeated runs produce
// byte-identical archives.
func Create(ctx context.Context, root string, w io.Writer, excludes []string) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, errNotDirectory)
	}

	matcher, err := patternmatcher.New(excludes)
	if err != nil {
		return nil, fmt.Errorf("parse exclude patterns: %w", err)
	}

	digester := digest.Canonical.Digester()
	counter := &countingWriter{next: io.MultiWriter(w, digester.Hash())}
	tw := tar.NewWriter(counter)

	if err := writeTree(ctx, tw, root, matcher); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	return &Result{Digest: digester.Digest(), Size: counter.written}, nil
}

// CreateFile archives the tree rooted at root into a tar file at dest.
// The destination itself is always excluded, so the archive may live inside
// the tree being archived. A partially written file is removed on failure.
func CreateFile(ctx context.Context, root, dest string, excludes []string) (*Result, error) {
	if rel, err := filepath.Rel(root, dest); err == nil && filepath.IsLocal(rel) {
		excludes = append(append([]string(nil), excludes...), filepath.ToSlash(rel))
	}

	out, err := os.Create(filepath.Clean(dest))
	if err != nil {
		return nil, fmt.Errorf("create archive file: %w", err)
	}

	result, err := Create(ctx, root, out, excludes)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(dest)

		return nil, err
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(dest)

		return nil, fmt.Errorf("close archive file: %w", err)
	}

	return result, nil
}

// writeTree walks root lexically and writes matching entries to tw.
func writeTree(ctx context.Context, tw *tar.Writer, root string, matcher *patternmatcher.PatternMatcher) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		// The root itself is not an entry.
		if rel == "." {
			return nil
		}

		name := filepath.ToSlash(rel)

		matched, err := matcher.MatchesOrParentMatches(name)
		if err != nil {
			return fmt.Errorf("match %s: %w", name, err)
		}

		if matched {
			if entry.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		return writeEntry(tw, path, name, entry)
	})
}

// writeEntry emits a single normalized tar header (and file body for regular
// files). Entry types other than files, directories and symlinks are skipped.
func writeEntry(tw *tar.Writer, path, name string, entry fs.DirEntry) error {
	info, err := entry.Info()
	if err != nil {
		return err
	}

	var link string

	switch {
	case info.Mode().IsRegular(), info.IsDir():
	case info.Mode()&fs.ModeSymlink != 0:
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	default:
		return nil
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("header for %s: %w", name, err)
	}

	header.Name = name
	if info.IsDir() {
		header.Name += "/"
	}

	normalizeHeader(header)

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header for %s: %w", name, err)
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	if _, err := io.Copy(tw, file); err != nil {
		_ = file.Close()

		return fmt.Errorf("copy %s: %w", name, err)
	}

	return file.Close()
}

// normalizeHeader strips everything that varies between runs or machines:
// times, ownership and platform-specific attrs.
func normalizeHeader(header *tar.Header) {
	header.ModTime = zeroTime
	header.AccessTime = time.Time{}
	header.ChangeTime = time.Time{}
	header.Uid = 0
	header.Gid = 0
	header.Uname = ""
	header.Gname = ""
	header.Xattrs = nil //nolint:staticcheck // Cleared for determinism, even though deprecated.
	header.PAXRecords = nil
	header.Format = tar.FormatPAX
}

// countingWriter tracks the total number of bytes written.
type countingWriter struct {
	next    io.Writer
	written int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.next.Write(p)
	c.written += int64(n)

	return n, err
}
