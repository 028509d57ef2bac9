// Package repo composes the object store, the ref layer, and the working-tree
// capability into a repository with commit, checkout, and branch operations.
package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gocid "github.com/ipfs/go-cid"

	"github.com/driftvcs/drift/internal/object"
	"github.com/driftvcs/drift/internal/refs"
	"github.com/driftvcs/drift/internal/worktree"
)

// DefaultBranch is the branch HEAD points at in a freshly created repository.
const DefaultBranch = "main"

// Worktree is the filesystem capability the repository drives on checkout.
// The repository never touches working files itself; it only exchanges opaque
// snapshot blobs with this interface.
type Worktree interface {
	Snapshot() ([]byte, error)
	Restore(blob []byte) error
}

// Repository is the top-level facade over one clone's stores.
type Repository struct {
	root    string
	Store   object.Store
	Refs    *refs.RefStore
	Remotes *refs.Remotes
	Tree    Worktree
}

// Option customizes OpenRepository.
type Option func(*options)

type options struct {
	store object.Store
	tree  Worktree
}

// WithStore substitutes the object-store backend (e.g. the Bolt backend for a
// served endpoint).
func WithStore(s object.Store) Option {
	return func(o *options) { o.store = s }
}

// WithWorktree substitutes the working-tree capability.
func WithWorktree(w Worktree) Option {
	return func(o *options) { o.tree = w }
}

// OpenRepository opens or creates a repository rooted at the given path. Its
// data lives under <root>/.drift/.
func OpenRepository(root string, opts ...Option) (*Repository, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	driftDir := filepath.Join(root, ".drift")
	for _, dir := range []string{driftDir, filepath.Join(driftDir, "objects")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	// Create meta.json if it doesn't exist
	metaPath := filepath.Join(driftDir, "meta.json")
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		meta := map[string]interface{}{
			"version": 1,
			"created": time.Now().UTC().Format(time.RFC3339),
		}
		data, _ := json.MarshalIndent(meta, "", "  ")
		os.WriteFile(metaPath, data, 0644)
	}

	store := o.store
	if store == nil {
		fs, err := object.NewFileStore(filepath.Join(driftDir, "objects"))
		if err != nil {
			return nil, err
		}
		store = fs
	}

	rs, err := refs.NewRefStore(filepath.Join(driftDir, "refs"))
	if err != nil {
		return nil, err
	}

	tree := o.tree
	if tree == nil {
		tree = worktree.New(root, filepath.Join(driftDir, "tracking"))
	}

	r := &Repository{
		root:    root,
		Store:   store,
		Refs:    rs,
		Remotes: refs.NewRemotes(filepath.Join(driftDir, "remotes.json")),
		Tree:    tree,
	}

	// A new repository starts attached to an unborn default branch.
	if _, err := r.Refs.Head(); err != nil {
		if err := r.Refs.SetHead(refs.AttachedHead(DefaultBranch)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Root returns the working directory path.
func (r *Repository) Root() string { return r.root }

// DriftDir returns the path to the .drift/ data directory.
func (r *Repository) DriftDir() string { return filepath.Join(r.root, ".drift") }

// Close releases the underlying store.
func (r *Repository) Close() error { return r.Store.Close() }

// headTip resolves HEAD to its commit id. An unborn branch (attached, branch
// file absent) resolves to Undef: the next commit will be a root commit.
func (r *Repository) headTip() (refs.Head, gocid.Cid, error) {
	head, err := r.Refs.Head()
	if err != nil {
		return refs.Head{}, gocid.Undef, err
	}
	if head.Detached() {
		return head, head.ID, nil
	}
	tip, err := r.Refs.Branch(head.Branch)
	if errors.Is(err, refs.ErrBranchNotFound) {
		return head, gocid.Undef, nil
	}
	if err != nil {
		return refs.Head{}, gocid.Undef, err
	}
	return head, tip, nil
}

// Commit stores a snapshot as a new commit on top of HEAD and advances the
// current branch. Extra parents are appended after the HEAD parent (merge
// finalization passes the source tip here). If HEAD is detached the new
// commit moves HEAD only; no branch is touched.
func (r *Repository) Commit(snapshot []byte, extraParents ...gocid.Cid) (gocid.Cid, error) {
	head, tip, err := r.headTip()
	if err != nil {
		return gocid.Undef, err
	}

	var parents []gocid.Cid
	if tip != gocid.Undef {
		parents = append(parents, tip)
	}
	parents = append(parents, extraParents...)

	id, err := r.Store.Put(snapshot, parents)
	if err != nil {
		return gocid.Undef, err
	}

	if head.Detached() {
		if err := r.Refs.SetHead(refs.DetachedHead(id)); err != nil {
			return gocid.Undef, err
		}
		return id, nil
	}
	// Lost races surface as ErrStaleBranch; the caller refreshes and retries.
	if err := r.Refs.SetBranch(head.Branch, tip, id); err != nil {
		return gocid.Undef, err
	}
	return id, nil
}

// Resolve turns a ref string into a commit id: a branch name if one exists,
// otherwise a literal id.
func (r *Repository) Resolve(ref string) (gocid.Cid, error) {
	if r.Refs.HasBranch(ref) {
		return r.Refs.Branch(ref)
	}
	id, err := object.ParseID(ref)
	if err != nil {
		return gocid.Undef, fmt.Errorf("%w: %s", refs.ErrBranchNotFound, ref)
	}
	if !r.Store.Has(id) {
		return gocid.Undef, fmt.Errorf("%w: %s", object.ErrObjectNotFound, id)
	}
	return id, nil
}

// Checkout replaces the working tree with the snapshot of the target, which
// is a branch name or a bare commit id. A bare id leaves HEAD detached;
// commits made in that state advance no branch.
func (r *Repository) Checkout(target string) error {
	var head refs.Head
	var id gocid.Cid

	if r.Refs.HasBranch(target) {
		tip, err := r.Refs.Branch(target)
		if err != nil {
			return err
		}
		head, id = refs.AttachedHead(target), tip
	} else {
		parsed, err := object.ParseID(target)
		if err != nil {
			return fmt.Errorf("%w: %s", refs.ErrBranchNotFound, target)
		}
		head, id = refs.DetachedHead(parsed), parsed
	}

	c, err := r.Store.Get(id)
	if err != nil {
		return err
	}
	if err := r.Tree.Restore(c.Snapshot); err != nil {
		return fmt.Errorf("restore working tree: %w", err)
	}
	return r.Refs.SetHead(head)
}

// CreateBranch creates a branch at the given id, or at HEAD when at is Undef.
func (r *Repository) CreateBranch(name string, at gocid.Cid) error {
	if r.Refs.HasBranch(name) {
		return fmt.Errorf("%w: %s", refs.ErrBranchExists, name)
	}
	if at == gocid.Undef {
		_, tip, err := r.headTip()
		if err != nil {
			return err
		}
		if tip == gocid.Undef {
			return fmt.Errorf("cannot branch from an unborn HEAD")
		}
		at = tip
	}
	if !r.Store.Has(at) {
		return fmt.Errorf("%w: %s", object.ErrObjectNotFound, at)
	}
	return r.Refs.SetBranch(name, gocid.Undef, at)
}

// DeleteBranch removes a branch pointer. The commits it pointed to stay in
// the store.
func (r *Repository) DeleteBranch(name string) error {
	head, err := r.Refs.Head()
	if err != nil {
		return err
	}
	if !head.Detached() && head.Branch == name {
		return fmt.Errorf("cannot delete the checked-out branch %s", name)
	}
	return r.Refs.DeleteBranch(name)
}
