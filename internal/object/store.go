package object

import (
	"errors"
	"fmt"

	gocid "github.com/ipfs/go-cid"
)

var (
	// ErrObjectNotFound is returned when a referenced id is absent from the store.
	ErrObjectNotFound = errors.New("object not found")
	// ErrCorruptObject is returned when stored bytes do not hash to their id.
	ErrCorruptObject = errors.New("corrupt object")
	// ErrMissingParent is returned when a commit references a parent id that is
	// not yet stored. Parents must exist before children, which keeps the graph
	// acyclic by construction.
	ErrMissingParent = errors.New("missing parent commit")
)

// Store is an append-only, content-addressed store of commit objects.
// Objects are never mutated or deleted after insertion; writing the same
// snapshot and parents twice is a no-op that returns the same id.
type Store interface {
	// Put stores a commit built from snapshot and parents and returns its id.
	// Every parent must already be present.
	Put(snapshot []byte, parents []gocid.Cid) (gocid.Cid, error)

	// Get retrieves a commit by id.
	Get(id gocid.Cid) (*Commit, error)

	// GetRaw retrieves the canonical encoding of a commit, as shipped on the wire.
	GetRaw(id gocid.Cid) ([]byte, error)

	// PutRaw installs a commit from its wire encoding. The encoding must hash
	// to id and every parent must already be present.
	PutRaw(id gocid.Cid, data []byte) error

	// Has reports whether an object exists.
	Has(id gocid.Cid) bool

	// Verify recomputes the hash over the stored encoding and checks it
	// against id.
	Verify(id gocid.Cid) error

	// List returns the ids of all stored objects.
	List() ([]gocid.Cid, error)

	// Close releases any underlying resources.
	Close() error
}

// putCommit is the shared Put implementation: check parents, encode, hash,
// then hand the encoded object to the backend's raw writer.
func putCommit(s Store, snapshot []byte, parents []gocid.Cid) (gocid.Cid, error) {
	for _, p := range parents {
		if !s.Has(p) {
			return gocid.Undef, fmt.Errorf("%w: %s", ErrMissingParent, p)
		}
	}
	data, err := EncodeCommit(NewCommit(snapshot, parents))
	if err != nil {
		return gocid.Undef, fmt.Errorf("serialize commit: %w", err)
	}
	id, err := ComputeID(data)
	if err != nil {
		return gocid.Undef, err
	}
	if s.Has(id) {
		return id, nil // already exists
	}
	if err := s.PutRaw(id, data); err != nil {
		return gocid.Undef, err
	}
	return id, nil
}

// checkRaw validates a wire encoding against its claimed id and the
// parents-exist invariant, returning the decoded commit.
func checkRaw(s Store, id gocid.Cid, data []byte) (*Commit, error) {
	actual, err := ComputeID(data)
	if err != nil {
		return nil, err
	}
	if !actual.Equals(id) {
		return nil, fmt.Errorf("%w: %s hashes to %s", ErrCorruptObject, id, actual)
	}
	c, err := DecodeCommit(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptObject, err)
	}
	parents, err := c.ParentIDs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptObject, err)
	}
	for _, p := range parents {
		if !s.Has(p) {
			return nil, fmt.Errorf("%w: %s", ErrMissingParent, p)
		}
	}
	return c, nil
}
