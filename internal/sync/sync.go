package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	gocid "github.com/ipfs/go-cid"

	"github.com/driftvcs/drift/internal/object"
	"github.com/driftvcs/drift/internal/refs"
	"github.com/driftvcs/drift/internal/repo"
)

// Syncer runs fetch and push for one repository against its registered
// remotes.
type Syncer struct {
	repo *repo.Repository
	dial func(location string) (Peer, error)
}

// NewSyncer creates a Syncer using the default dialer.
func NewSyncer(r *repo.Repository) *Syncer {
	return &Syncer{repo: r, dial: Dial}
}

// NewSyncerWith creates a Syncer with a caller-supplied dialer.
func NewSyncerWith(r *repo.Repository, dial func(string) (Peer, error)) *Syncer {
	return &Syncer{repo: r, dial: dial}
}

func (s *Syncer) peer(remote string) (Peer, error) {
	loc, err := s.repo.Remotes.Location(remote)
	if err != nil {
		return nil, err
	}
	return s.dial(loc)
}

// FetchStats summarises one fetch.
type FetchStats struct {
	Branches int // mirrors updated
	Objects  int // objects installed
}

// Fetch downloads the remote's branch pointers and every commit reachable
// from them that is missing locally, then updates the remote-tracking
// mirrors. Local branches are never touched. Any hash mismatch aborts the
// whole fetch before anything is installed for that branch.
func (s *Syncer) Fetch(ctx context.Context, remote string) (FetchStats, error) {
	peer, err := s.peer(remote)
	if err != nil {
		return FetchStats{}, err
	}

	tips, err := peer.ListBranches(ctx)
	if err != nil {
		return FetchStats{}, err
	}

	names := make([]string, 0, len(tips))
	for name := range tips {
		names = append(names, name)
	}
	sort.Strings(names)

	var stats FetchStats
	staged := map[gocid.Cid][]byte{} // verified but not yet installed

	for _, name := range names {
		tip := tips[name]

		if err := s.stageMissing(ctx, peer, tip, staged); err != nil {
			return FetchStats{}, err
		}

		// The branch's need-set is complete and verified; install it
		// parents-first, then move the mirror.
		installed, err := installStaged(s.repo.Store, tip, staged)
		if err != nil {
			return FetchStats{}, err
		}
		stats.Objects += installed

		if err := s.repo.Refs.SetMirror(remote, name, tip); err != nil {
			return FetchStats{}, err
		}
		stats.Branches++
	}
	return stats, nil
}

// stageMissing walks ancestry from tip, downloading and verifying every
// commit not already held locally. Traversal stops the moment a path reaches
// a known commit, which bounds the transfer to genuinely new history.
func (s *Syncer) stageMissing(ctx context.Context, peer Peer, tip gocid.Cid, staged map[gocid.Cid][]byte) error {
	queue := []gocid.Cid{tip}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if s.repo.Store.Has(id) {
			continue
		}
		if _, ok := staged[id]; ok {
			continue
		}

		data, err := peer.GetObject(ctx, id)
		if err != nil {
			return err
		}
		actual, err := object.ComputeID(data)
		if err != nil {
			return err
		}
		if !actual.Equals(id) {
			return fmt.Errorf("%w: object %s hashes to %s", ErrCorruptTransfer, id, actual)
		}
		c, err := object.DecodeCommit(data)
		if err != nil {
			return fmt.Errorf("%w: object %s: %v", ErrCorruptTransfer, id, err)
		}
		parents, err := c.ParentIDs()
		if err != nil {
			return fmt.Errorf("%w: object %s: %v", ErrCorruptTransfer, id, err)
		}

		staged[id] = data
		queue = append(queue, parents...)
	}
	return nil
}

// installStaged inserts the staged ancestry of tip into the store in
// parents-before-children order, so the store's missing-parent check never
// fires. Returns the number of objects actually installed.
func installStaged(store object.Store, tip gocid.Cid, staged map[gocid.Cid][]byte) (int, error) {
	installed := 0
	var install func(id gocid.Cid) error
	install = func(id gocid.Cid) error {
		if store.Has(id) {
			return nil
		}
		data, ok := staged[id]
		if !ok {
			return fmt.Errorf("%w: %s", object.ErrObjectNotFound, id)
		}
		c, err := object.DecodeCommit(data)
		if err != nil {
			return err
		}
		parents, err := c.ParentIDs()
		if err != nil {
			return err
		}
		for _, p := range parents {
			if err := install(p); err != nil {
				return err
			}
		}
		if err := store.PutRaw(id, data); err != nil {
			return err
		}
		installed++
		return nil
	}
	if err := install(tip); err != nil {
		return 0, err
	}
	return installed, nil
}

// PushStats summarises one push.
type PushStats struct {
	Objects int       // objects uploaded
	Tip     gocid.Cid // remote branch tip after the push
}

// Push uploads the commits on branch that the remote has not seen (judged
// against the mirror from the last fetch) and atomically advances the remote
// branch pointer from the mirrored value to the local tip. A lost race
// surfaces as ErrNonFastForward with no partial ref movement; the caller
// fetches, reconciles, and pushes again.
func (s *Syncer) Push(ctx context.Context, remote, branch string) (PushStats, error) {
	peer, err := s.peer(remote)
	if err != nil {
		return PushStats{}, err
	}

	local, err := s.repo.Refs.Branch(branch)
	if err != nil {
		return PushStats{}, err
	}

	mirror, err := s.repo.Refs.Mirror(remote, branch)
	if err != nil && !errors.Is(err, refs.ErrBranchNotFound) {
		return PushStats{}, err
	}

	if local.Equals(mirror) {
		return PushStats{Tip: local}, nil // nothing to push
	}

	toSend, err := s.collectUnpushed(local, mirror)
	if err != nil {
		return PushStats{}, err
	}

	// Ancestors before descendants: the remote must never see a commit
	// whose parent is missing.
	for _, id := range toSend {
		data, err := s.repo.Store.GetRaw(id)
		if err != nil {
			return PushStats{}, err
		}
		if err := peer.PutObject(ctx, id, data); err != nil {
			return PushStats{}, err
		}
	}

	if _, err := peer.CASUpdateBranch(ctx, branch, mirror, local); err != nil {
		return PushStats{}, err
	}
	if err := s.repo.Refs.SetMirror(remote, branch, local); err != nil {
		return PushStats{}, err
	}
	return PushStats{Objects: len(toSend), Tip: local}, nil
}

// collectUnpushed returns the commits reachable from local but not from
// mirror, ordered parents-first.
func (s *Syncer) collectUnpushed(local, mirror gocid.Cid) ([]gocid.Cid, error) {
	known := map[gocid.Cid]bool{}
	if mirror != gocid.Undef && s.repo.Store.Has(mirror) {
		queue := []gocid.Cid{mirror}
		known[mirror] = true
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			c, err := s.repo.Store.Get(id)
			if err != nil {
				return nil, err
			}
			parents, err := c.ParentIDs()
			if err != nil {
				return nil, err
			}
			for _, p := range parents {
				if !known[p] {
					known[p] = true
					queue = append(queue, p)
				}
			}
		}
	}

	var order []gocid.Cid
	visited := map[gocid.Cid]bool{}
	var walk func(id gocid.Cid) error
	walk = func(id gocid.Cid) error {
		if visited[id] || known[id] {
			return nil
		}
		visited[id] = true
		c, err := s.repo.Store.Get(id)
		if err != nil {
			return err
		}
		parents, err := c.ParentIDs()
		if err != nil {
			return err
		}
		for _, p := range parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		order = append(order, id)
		return nil
	}
	if err := walk(local); err != nil {
		return nil, err
	}
	return order, nil
}

// FetchAll fetches every registered remote, logging per-remote failures and
// returning the first error encountered.
func (s *Syncer) FetchAll(ctx context.Context) error {
	names, err := s.repo.Remotes.Names()
	if err != nil {
		return err
	}
	var firstErr error
	for _, name := range names {
		if _, err := s.Fetch(ctx, name); err != nil {
			log.Printf("drift: fetch %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
