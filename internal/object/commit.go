package object

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// Undef is the undefined/zero CID value, exported for use by other packages.
var Undef = gocid.Undef

// Commit is an immutable snapshot of the working tree plus an ordered list of
// parent ids. A root commit has no parents; a merge commit has two or more.
// The commit's id is the CID of its canonical encoding, so equal snapshot and
// equal parents always produce the same id.
type Commit struct {
	V        int      `json:"v"`
	Snapshot []byte   `json:"snapshot"`
	Parents  []string `json:"parents"` // base32 CIDs, order-preserving
}

// ParentIDs decodes the parent list into CIDs.
func (c *Commit) ParentIDs() ([]gocid.Cid, error) {
	ids := make([]gocid.Cid, 0, len(c.Parents))
	for _, p := range c.Parents {
		id, err := ParseID(p)
		if err != nil {
			return nil, fmt.Errorf("parent %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// NewCommit builds a Commit from a snapshot blob and parent ids.
func NewCommit(snapshot []byte, parents []gocid.Cid) *Commit {
	ps := make([]string, 0, len(parents))
	for _, p := range parents {
		ps = append(ps, IDToString(p))
	}
	return &Commit{V: 1, Snapshot: snapshot, Parents: ps}
}

// EncodeCommit serializes a commit to its canonical form, the bytes the id is
// computed over.
func EncodeCommit(c *Commit) ([]byte, error) {
	return CanonicalJSON(c)
}

// DecodeCommit parses a commit from its stored encoding.
func DecodeCommit(data []byte) (*Commit, error) {
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	return &c, nil
}

// ComputeID computes a CIDv1 (raw codec, SHA2-256) over the given encoding.
func ComputeID(data []byte) (gocid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return gocid.Undef, fmt.Errorf("multihash: %w", err)
	}
	return gocid.NewCidV1(gocid.Raw, mh), nil
}

// IDToString returns the base32lower encoding of an id, used both in ref files
// and as object filenames.
func IDToString(c gocid.Cid) string {
	encoded, _ := multibase.Encode(multibase.Base32, c.Bytes())
	return encoded
}

// ParseID decodes a base32 id string back into a CID.
func ParseID(s string) (gocid.Cid, error) {
	_, raw, err := multibase.Decode(strings.TrimSpace(s))
	if err != nil {
		return gocid.Undef, fmt.Errorf("decode id: %w", err)
	}
	return gocid.Cast(raw)
}

// CanonicalJSON produces a deterministic JSON encoding with sorted keys.
func CanonicalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// Re-decode into ordered structure and re-encode
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return canonicalEncode(raw)
}

func canonicalEncode(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyBytes, _ := json.Marshal(k)
			buf = append(buf, keyBytes...)
			buf = append(buf, ':')
			valBytes, err := canonicalEncode(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, valBytes...)
		}
		buf = append(buf, '}')
		return buf, nil

	case []interface{}:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			itemBytes, err := canonicalEncode(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, itemBytes...)
		}
		buf = append(buf, ']')
		return buf, nil

	default:
		return json.Marshal(v)
	}
}
