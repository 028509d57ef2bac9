// Package worktree turns a working directory into an opaque snapshot blob and
// back. Only files on the tracked list are archived; the blob format is a tar
// stream with zeroed metadata so identical content always produces identical
// bytes, which keeps commit ids content-addressed.
package worktree

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/driftvcs/drift/internal/object"
)

// Worktree manages a working directory and its tracked-file list.
type Worktree struct {
	root         string
	trackingPath string
}

// New creates a Worktree over root, with the tracked list stored at
// trackingPath (one relative path per line).
func New(root, trackingPath string) *Worktree {
	return &Worktree{root: root, trackingPath: trackingPath}
}

// Root returns the working directory path.
func (w *Worktree) Root() string { return w.root }

// Tracked returns the tracked file list, sorted.
func (w *Worktree) Tracked() ([]string, error) {
	data, err := os.ReadFile(w.trackingPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tracking list: %w", err)
	}
	var paths []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			paths = append(paths, line)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (w *Worktree) writeTracked(paths []string) error {
	sort.Strings(paths)
	var buf bytes.Buffer
	for _, p := range paths {
		buf.WriteString(p)
		buf.WriteByte('\n')
	}
	return object.SafeWrite(w.trackingPath, buf.Bytes(), 0644)
}

// Track adds paths to the tracked list. Paths are stored relative to root.
func (w *Worktree) Track(paths ...string) error {
	tracked, err := w.Tracked()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(tracked))
	for _, p := range tracked {
		seen[p] = true
	}
	for _, p := range paths {
		rel, err := w.relPath(p)
		if err != nil {
			return err
		}
		if !seen[rel] {
			tracked = append(tracked, rel)
			seen[rel] = true
		}
	}
	return w.writeTracked(tracked)
}

// Untrack removes paths from the tracked list. Files on disk are untouched.
func (w *Worktree) Untrack(paths ...string) error {
	tracked, err := w.Tracked()
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(paths))
	for _, p := range paths {
		rel, err := w.relPath(p)
		if err != nil {
			return err
		}
		drop[rel] = true
	}
	kept := tracked[:0]
	for _, p := range tracked {
		if !drop[p] {
			kept = append(kept, p)
		}
	}
	return w.writeTracked(kept)
}

func (w *Worktree) relPath(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.root, p)
	}
	rel, err := filepath.Rel(w.root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path outside working tree: %s", p)
	}
	return filepath.ToSlash(rel), nil
}

// Snapshot archives the tracked files into a deterministic blob.
func (w *Worktree) Snapshot() ([]byte, error) {
	tracked, err := w.Tracked()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, rel := range tracked {
		data, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(rel)))
		if os.IsNotExist(err) {
			continue // tracked but deleted; absent from the snapshot
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		hdr := &tar.Header{
			Name: rel,
			Mode: 0644,
			Size: int64(len(data)),
			// ModTime deliberately zero: equal content must archive to
			// equal bytes.
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write header %s: %w", rel, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("write entry %s: %w", rel, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore clears the currently tracked files and repopulates the working
// directory from a snapshot blob. The tracked list is reset to the archive's
// contents.
func (w *Worktree) Restore(blob []byte) error {
	tracked, err := w.Tracked()
	if err != nil {
		return err
	}
	for _, rel := range tracked {
		path := filepath.Join(w.root, filepath.FromSlash(rel))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", rel, err)
		}
	}

	var restored []string
	tr := tar.NewReader(bytes.NewReader(blob))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		rel, err := w.relPath(hdr.Name)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("read entry %s: %w", rel, err)
		}
		path := filepath.Join(w.root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create dir for %s: %w", rel, err)
		}
		if err := object.SafeWrite(path, data, os.FileMode(hdr.Mode).Perm()); err != nil {
			return fmt.Errorf("restore %s: %w", rel, err)
		}
		restored = append(restored, rel)
	}
	return w.writeTracked(restored)
}
