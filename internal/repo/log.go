package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gocid "github.com/ipfs/go-cid"

	"github.com/driftvcs/drift/internal/object"
)

// LogEntry pairs a commit with its id for history display.
type LogEntry struct {
	ID     gocid.Cid
	Commit *object.Commit
}

// Log walks first parents from the given id, returning up to n entries
// (newest first). An undefined from starts at HEAD.
func (r *Repository) Log(from gocid.Cid, n int) ([]LogEntry, error) {
	if from == gocid.Undef {
		_, tip, err := r.headTip()
		if err != nil {
			return nil, err
		}
		from = tip
	}

	var entries []LogEntry
	current := from
	for i := 0; (n <= 0 || i < n) && current != gocid.Undef; i++ {
		c, err := r.Store.Get(current)
		if err != nil {
			return nil, err
		}
		entries = append(entries, LogEntry{ID: current, Commit: c})

		parents, err := c.ParentIDs()
		if err != nil {
			return nil, err
		}
		if len(parents) == 0 {
			break
		}
		current = parents[0]
	}
	return entries, nil
}

// VerifyAll recomputes every stored object's hash, fsck style. All failures
// are reported, joined into one error.
func (r *Repository) VerifyAll() error {
	ids, err := r.Store.List()
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if err := r.Store.Verify(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const mergeParentsFile = "MERGE_PARENTS"

// SetPendingMerge records an in-progress merge: the two parents the
// finalizing commit will carry, target tip first.
func (r *Repository) SetPendingMerge(target, source gocid.Cid) error {
	content := object.IDToString(target) + "\n" + object.IDToString(source) + "\n"
	path := filepath.Join(r.DriftDir(), mergeParentsFile)
	return object.SafeWrite(path, []byte(content), 0644)
}

// PendingMerge returns the recorded merge parents, if a merge is in progress.
func (r *Repository) PendingMerge() (target, source gocid.Cid, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(r.DriftDir(), mergeParentsFile))
	if os.IsNotExist(err) {
		return gocid.Undef, gocid.Undef, false, nil
	}
	if err != nil {
		return gocid.Undef, gocid.Undef, false, fmt.Errorf("read merge state: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		return gocid.Undef, gocid.Undef, false, fmt.Errorf("malformed merge state")
	}
	if target, err = object.ParseID(lines[0]); err != nil {
		return gocid.Undef, gocid.Undef, false, err
	}
	if source, err = object.ParseID(lines[1]); err != nil {
		return gocid.Undef, gocid.Undef, false, err
	}
	return target, source, true, nil
}

// ClearPendingMerge removes the in-progress merge marker.
func (r *Repository) ClearPendingMerge() error {
	err := os.Remove(filepath.Join(r.DriftDir(), mergeParentsFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
