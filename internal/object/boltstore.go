package object

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	gocid "github.com/ipfs/go-cid"
	bolt "go.etcd.io/bbolt"
)

const boltObjectsBucket = "objects"

// BoltStore keeps objects inside a single BoltDB file, keyed by the base32
// encoding of their id. Suited to a served remote endpoint where many objects
// in one file beats a directory of small files.
type BoltStore struct {
	db   *bolt.DB
	once sync.Once
}

// NewBoltStore opens (or creates) a Bolt-backed store at the given path.
func NewBoltStore(path string) (*BoltStore, error) {
	cleaned := filepath.Clean(path)
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(cleaned, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open object db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltObjectsBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Put stores a commit and returns its id. Idempotent.
func (s *BoltStore) Put(snapshot []byte, parents []gocid.Cid) (gocid.Cid, error) {
	return putCommit(s, snapshot, parents)
}

// PutRaw installs a verified wire encoding under id.
func (s *BoltStore) PutRaw(id gocid.Cid, data []byte) error {
	if _, err := checkRaw(s, id, data); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltObjectsBucket))
		key := []byte(IDToString(id))
		if b.Get(key) != nil {
			return nil // already exists
		}
		return b.Put(key, data)
	})
}

// Get reads a commit by id.
func (s *BoltStore) Get(id gocid.Cid) (*Commit, error) {
	data, err := s.GetRaw(id)
	if err != nil {
		return nil, err
	}
	return DecodeCommit(data)
}

// GetRaw reads the stored encoding of an object.
func (s *BoltStore) GetRaw(id gocid.Cid) ([]byte, error) {
	var result []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(boltObjectsBucket)).Get([]byte(IDToString(id)))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, id)
		}
		result = append([]byte{}, data...)
		return nil
	})
	return result, err
}

// Has checks if an object exists.
func (s *BoltStore) Has(id gocid.Cid) bool {
	var found bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(boltObjectsBucket)).Get([]byte(IDToString(id))) != nil
		return nil
	})
	return found
}

// Verify recomputes the hash over the stored encoding.
func (s *BoltStore) Verify(id gocid.Cid) error {
	data, err := s.GetRaw(id)
	if err != nil {
		return err
	}
	actual, err := ComputeID(data)
	if err != nil {
		return err
	}
	if !actual.Equals(id) {
		return fmt.Errorf("%w: %s hashes to %s", ErrCorruptObject, id, actual)
	}
	return nil
}

// List returns the ids of all stored objects.
func (s *BoltStore) List() ([]gocid.Cid, error) {
	var ids []gocid.Cid
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltObjectsBucket)).ForEach(func(k, _ []byte) error {
			id, err := ParseID(string(k))
			if err != nil {
				return nil // skip stray keys
			}
			ids = append(ids, id)
			return nil
		})
	})
	return ids, err
}

// Close shuts down the Bolt DB.
func (s *BoltStore) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}
