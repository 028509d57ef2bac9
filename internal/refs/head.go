package refs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gocid "github.com/ipfs/go-cid"

	"github.com/driftvcs/drift/internal/object"
)

const headRefPrefix = "ref: "

// Head is a tagged union: either attached to a branch by name, or detached at
// a specific commit id. Exactly one variant is set.
type Head struct {
	Branch string
	ID     gocid.Cid
}

// AttachedHead returns a Head pointing at a branch.
func AttachedHead(branch string) Head { return Head{Branch: branch} }

// DetachedHead returns a Head pinned to a commit id.
func DetachedHead(id gocid.Cid) Head { return Head{ID: id} }

// Detached reports whether the head points at a commit rather than a branch.
func (h Head) Detached() bool { return h.Branch == "" }

func (h Head) String() string {
	if h.Detached() {
		return "detached at " + object.IDToString(h.ID)
	}
	return h.Branch
}

// Head reads the HEAD file. The file holds either "ref: <branch>" or a bare
// commit id (detached).
func (r *RefStore) Head() (Head, error) {
	data, err := os.ReadFile(r.headPath())
	if err != nil {
		return Head{}, fmt.Errorf("read HEAD: %w", err)
	}
	line := strings.TrimSpace(string(data))
	if name, ok := strings.CutPrefix(line, headRefPrefix); ok {
		return AttachedHead(strings.TrimSpace(name)), nil
	}
	id, err := object.ParseID(line)
	if err != nil {
		return Head{}, fmt.Errorf("decode HEAD: %w", err)
	}
	return DetachedHead(id), nil
}

// SetHead writes the HEAD file.
func (r *RefStore) SetHead(h Head) error {
	var line string
	if h.Detached() {
		line = object.IDToString(h.ID) + "\n"
	} else {
		line = headRefPrefix + h.Branch + "\n"
	}
	if err := object.SafeWrite(r.headPath(), []byte(line), 0644); err != nil {
		return fmt.Errorf("write HEAD: %w", err)
	}
	return nil
}

func (r *RefStore) headPath() string {
	return filepath.Join(r.dir, "HEAD")
}
