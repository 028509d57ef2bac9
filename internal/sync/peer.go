// Package sync moves commit objects and ref state between repositories.
// Fetch pulls missing history into local mirrors; push uploads local history
// and atomically advances a remote branch pointer.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gocid "github.com/ipfs/go-cid"

	"github.com/driftvcs/drift/internal/object"
	"github.com/driftvcs/drift/internal/refs"
	"github.com/driftvcs/drift/internal/repo"
)

var (
	// ErrRemoteUnreachable wraps transport failures. Retrying is the
	// caller's choice; nothing here retries.
	ErrRemoteUnreachable = errors.New("remote unreachable")
	// ErrCorruptTransfer is returned when a downloaded object fails hash
	// verification. The whole transfer aborts; nothing is installed.
	ErrCorruptTransfer = errors.New("corrupt transfer")
	// ErrNonFastForward is returned when the remote branch moved since the
	// last fetch and the push CAS lost. The caller must fetch, reconcile,
	// and push again.
	ErrNonFastForward = errors.New("non-fast-forward push rejected")
)

// Peer is the wire surface of a remote repository, transport-agnostic.
type Peer interface {
	// ListBranches returns the remote's branch pointers.
	ListBranches(ctx context.Context) (map[string]gocid.Cid, error)

	// GetObject downloads one object's wire encoding.
	GetObject(ctx context.Context, id gocid.Cid) ([]byte, error)

	// PutObject uploads one object. The remote verifies the encoding
	// hashes to id before admitting it.
	PutObject(ctx context.Context, id gocid.Cid, data []byte) error

	// CASUpdateBranch conditionally moves a remote branch from expectedOld
	// to newValue. On a lost race it returns ErrNonFastForward along with
	// the branch's actual current value.
	CASUpdateBranch(ctx context.Context, branch string, expectedOld, newValue gocid.Cid) (actual gocid.Cid, err error)
}

// LocalPeer serves the wire operations directly from an in-process
// repository: the remote end of a filesystem-path remote, and the test seam.
type LocalPeer struct {
	Repo *repo.Repository
}

// ListBranches returns the repository's branch pointers.
func (p *LocalPeer) ListBranches(ctx context.Context) (map[string]gocid.Cid, error) {
	return p.Repo.Refs.Branches()
}

// GetObject reads one object's stored encoding.
func (p *LocalPeer) GetObject(ctx context.Context, id gocid.Cid) ([]byte, error) {
	return p.Repo.Store.GetRaw(id)
}

// PutObject verifies and installs one uploaded object.
func (p *LocalPeer) PutObject(ctx context.Context, id gocid.Cid, data []byte) error {
	return p.Repo.Store.PutRaw(id, data)
}

// CASUpdateBranch applies the compare-and-swap against the local ref store.
func (p *LocalPeer) CASUpdateBranch(ctx context.Context, branch string, expectedOld, newValue gocid.Cid) (gocid.Cid, error) {
	err := p.Repo.Refs.SetBranch(branch, expectedOld, newValue)
	if errors.Is(err, refs.ErrStaleBranch) {
		actual, berr := p.Repo.Refs.Branch(branch)
		if berr != nil && !errors.Is(berr, refs.ErrBranchNotFound) {
			return gocid.Undef, berr
		}
		return actual, fmt.Errorf("%w: %s is at %s", ErrNonFastForward, branch, actual)
	}
	if err != nil {
		return gocid.Undef, err
	}
	return newValue, nil
}

// Dial resolves a remote location into a Peer: http(s) URLs get the HTTP
// client, anything else is treated as a repository path on this filesystem.
func Dial(location string) (Peer, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewClient(location), nil
	}
	r, err := repo.OpenRepository(location)
	if err != nil {
		return nil, fmt.Errorf("open local remote %s: %w", location, err)
	}
	return &LocalPeer{Repo: r}, nil
}

// parseWireID decodes an id received over the wire.
func parseWireID(s string) (gocid.Cid, error) {
	return object.ParseID(s)
}
