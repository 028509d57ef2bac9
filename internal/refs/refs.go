// Package refs holds the mutable reference layer: branch pointers, HEAD, and
// remote-tracking mirrors. Branches are the only contended state in the
// system, so every branch mutation goes through a single compare-and-swap
// primitive; there is no other locking.
package refs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gocid "github.com/ipfs/go-cid"

	"github.com/driftvcs/drift/internal/object"
)

var (
	// ErrBranchNotFound is returned when a named branch does not exist.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrBranchExists is returned when creating a branch whose name is taken.
	ErrBranchExists = errors.New("branch already exists")
	// ErrStaleBranch is returned when a compare-and-swap loses a race: the
	// stored value no longer matches the expected old value. The caller must
	// re-read and decide; the store never retries on its own.
	ErrStaleBranch = errors.New("stale branch value")
)

// RefStore manages branch pointers, HEAD, and remote mirrors as files under a
// refs/ directory. Each branch is a file in refs/heads/ whose content is the
// base32 id of its tip; mirrors live under refs/remotes/<remote>/.
type RefStore struct {
	dir string

	mu sync.Mutex // serializes the read-compare-write of SetBranch
}

// NewRefStore creates a RefStore rooted at the given directory.
func NewRefStore(dir string) (*RefStore, error) {
	for _, d := range []string{dir, filepath.Join(dir, "heads"), filepath.Join(dir, "remotes")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("create refs dir: %w", err)
		}
	}
	return &RefStore{dir: dir}, nil
}

func (r *RefStore) branchPath(name string) string {
	return filepath.Join(r.dir, "heads", name)
}

func (r *RefStore) mirrorPath(remote, branch string) string {
	return filepath.Join(r.dir, "remotes", remote, branch)
}

func readIDFile(path string) (gocid.Cid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return gocid.Undef, err
	}
	return object.ParseID(strings.TrimSpace(string(data)))
}

// Branch resolves a branch name to its tip id.
func (r *RefStore) Branch(name string) (gocid.Cid, error) {
	id, err := readIDFile(r.branchPath(name))
	if os.IsNotExist(err) {
		return gocid.Undef, fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	if err != nil {
		return gocid.Undef, fmt.Errorf("read branch %s: %w", name, err)
	}
	return id, nil
}

// SetBranch atomically moves a branch from expectedOld to newValue.
// An undefined expectedOld means the branch must not exist yet (creation);
// any mismatch between expectedOld and the stored value fails with
// ErrStaleBranch and leaves the branch untouched.
func (r *RefStore) SetBranch(name string, expectedOld, newValue gocid.Cid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.Branch(name)
	switch {
	case errors.Is(err, ErrBranchNotFound):
		if expectedOld != gocid.Undef {
			return fmt.Errorf("%w: %s does not exist, expected %s", ErrStaleBranch, name, expectedOld)
		}
	case err != nil:
		return err
	default:
		if !current.Equals(expectedOld) {
			return fmt.Errorf("%w: %s is at %s, expected %s", ErrStaleBranch, name, current, expectedOld)
		}
	}

	line := object.IDToString(newValue) + "\n"
	if err := object.SafeWrite(r.branchPath(name), []byte(line), 0644); err != nil {
		return fmt.Errorf("write branch %s: %w", name, err)
	}
	return nil
}

// DeleteBranch removes a branch pointer. Objects it pointed to are untouched.
func (r *RefStore) DeleteBranch(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.branchPath(name))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	return err
}

// HasBranch checks if a branch exists.
func (r *RefStore) HasBranch(name string) bool {
	_, err := os.Stat(r.branchPath(name))
	return err == nil
}

// Branches returns all branch names and their tips.
func (r *RefStore) Branches() (map[string]gocid.Cid, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, "heads"))
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	out := make(map[string]gocid.Cid, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := readIDFile(r.branchPath(e.Name()))
		if err != nil {
			continue // skip broken refs
		}
		out[e.Name()] = id
	}
	return out, nil
}

// Mirror returns the cached remote tip for remote/branch, as observed at the
// last fetch. Mirrors are advisory; an undefined id with ErrBranchNotFound
// means the branch has never been fetched from that remote.
func (r *RefStore) Mirror(remote, branch string) (gocid.Cid, error) {
	id, err := readIDFile(r.mirrorPath(remote, branch))
	if os.IsNotExist(err) {
		return gocid.Undef, fmt.Errorf("%w: %s/%s", ErrBranchNotFound, remote, branch)
	}
	if err != nil {
		return gocid.Undef, fmt.Errorf("read mirror %s/%s: %w", remote, branch, err)
	}
	return id, nil
}

// SetMirror overwrites the cached remote tip unconditionally. Mirrors are
// caches of observed remote state, not authoritative, so no CAS applies.
func (r *RefStore) SetMirror(remote, branch string, id gocid.Cid) error {
	path := r.mirrorPath(remote, branch)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create mirror dir: %w", err)
	}
	line := object.IDToString(id) + "\n"
	if err := object.SafeWrite(path, []byte(line), 0644); err != nil {
		return fmt.Errorf("write mirror %s/%s: %w", remote, branch, err)
	}
	return nil
}

// Mirrors returns all mirrored branches for a remote.
func (r *RefStore) Mirrors(remote string) (map[string]gocid.Cid, error) {
	dir := filepath.Join(r.dir, "remotes", remote)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]gocid.Cid{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list mirrors: %w", err)
	}
	out := make(map[string]gocid.Cid, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := readIDFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out[e.Name()] = id
	}
	return out, nil
}
