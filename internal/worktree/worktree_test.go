package worktree

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newWorktree(t *testing.T) *Worktree {
	t.Helper()
	root := t.TempDir()
	return New(root, filepath.Join(root, "tracking"))
}

func writeFile(t *testing.T, w *Worktree, rel, content string) {
	t.Helper()
	path := filepath.Join(w.Root(), rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestTrackUntrack(t *testing.T) {
	w := newWorktree(t)
	writeFile(t, w, "a.txt", "a")
	writeFile(t, w, "sub/b.txt", "b")

	if err := w.Track("a.txt", "sub/b.txt"); err != nil {
		t.Fatalf("Track: %v", err)
	}
	// Tracking twice is harmless.
	if err := w.Track("a.txt"); err != nil {
		t.Fatal(err)
	}

	tracked, err := w.Tracked()
	if err != nil {
		t.Fatal(err)
	}
	if len(tracked) != 2 || tracked[0] != "a.txt" || tracked[1] != "sub/b.txt" {
		t.Errorf("tracked = %v", tracked)
	}

	if err := w.Untrack("a.txt"); err != nil {
		t.Fatalf("Untrack: %v", err)
	}
	tracked, _ = w.Tracked()
	if len(tracked) != 1 || tracked[0] != "sub/b.txt" {
		t.Errorf("tracked = %v", tracked)
	}
	// The file itself stays.
	if _, err := os.Stat(filepath.Join(w.Root(), "a.txt")); err != nil {
		t.Errorf("untracked file should remain on disk: %v", err)
	}
}

func TestTrack_OutsideTree(t *testing.T) {
	w := newWorktree(t)
	if err := w.Track("../escape.txt"); err == nil {
		t.Errorf("Track outside the tree should fail")
	}
}

func TestSnapshot_Deterministic(t *testing.T) {
	w := newWorktree(t)
	writeFile(t, w, "a.txt", "alpha\n")
	writeFile(t, w, "b.txt", "beta\n")
	if err := w.Track("a.txt", "b.txt"); err != nil {
		t.Fatal(err)
	}

	blob1, err := w.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	blob2, err := w.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blob1, blob2) {
		t.Errorf("equal content must produce identical snapshot bytes")
	}
}

func TestSnapshot_IgnoresUntrackedFiles(t *testing.T) {
	w := newWorktree(t)
	writeFile(t, w, "tracked.txt", "in\n")
	writeFile(t, w, "scratch.txt", "out\n")
	if err := w.Track("tracked.txt"); err != nil {
		t.Fatal(err)
	}

	blob, err := w.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(blob, []byte("out\n")) {
		t.Errorf("snapshot contains untracked content")
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	w := newWorktree(t)
	writeFile(t, w, "a.txt", "alpha\n")
	writeFile(t, w, "sub/b.txt", "beta\n")
	if err := w.Track("a.txt", "sub/b.txt"); err != nil {
		t.Fatal(err)
	}
	blob, err := w.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	// Mutate the tree, then restore the snapshot.
	writeFile(t, w, "a.txt", "changed\n")
	writeFile(t, w, "new.txt", "extra\n")
	if err := w.Track("new.txt"); err != nil {
		t.Fatal(err)
	}

	if err := w.Restore(blob); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(w.Root(), "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "alpha\n" {
		t.Errorf("a.txt = %q, want %q", got, "alpha\n")
	}
	// new.txt was tracked at restore time, so the restore cleared it.
	if _, err := os.Stat(filepath.Join(w.Root(), "new.txt")); !os.IsNotExist(err) {
		t.Errorf("new.txt should have been cleared on restore")
	}
	tracked, err := w.Tracked()
	if err != nil {
		t.Fatal(err)
	}
	if len(tracked) != 2 || tracked[0] != "a.txt" || tracked[1] != "sub/b.txt" {
		t.Errorf("tracked = %v", tracked)
	}
}

func TestRestore_EmptySnapshot(t *testing.T) {
	w := newWorktree(t)
	writeFile(t, w, "a.txt", "alpha\n")
	if err := w.Track("a.txt"); err != nil {
		t.Fatal(err)
	}
	empty := New(t.TempDir(), filepath.Join(t.TempDir(), "tracking"))
	blob, err := empty.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Restore(blob); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := os.Stat(filepath.Join(w.Root(), "a.txt")); !os.IsNotExist(err) {
		t.Errorf("a.txt should have been cleared")
	}
}
