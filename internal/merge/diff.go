// Package merge reconciles divergent histories: merge-base discovery,
// fast-forwards, and three-way merge commits. Textual diffing and patching
// are collaborator capabilities; the bundled implementation is line-based,
// built on go-difflib.
package merge

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Hunk replaces base lines [BaseStart, BaseEnd) with Lines. BaseStart equal
// to BaseEnd is a pure insertion.
type Hunk struct {
	BaseStart int
	BaseEnd   int
	Lines     []string
}

// Changeset is an ordered, non-overlapping set of hunks against a base blob.
type Changeset struct {
	Hunks []Hunk
}

// Conflict reports a base region both sides changed incompatibly.
type Conflict struct {
	BaseStart int
	BaseEnd   int
	Ours      []string
	Theirs    []string
}

// Differ computes the changeset between two snapshot blobs.
type Differ interface {
	Diff(base, other []byte) (Changeset, error)
}

// Patcher applies a changeset to a target that itself diverged from base,
// reporting regions where the two sides overlap. A non-empty conflict list
// comes with a marker-annotated merged blob for manual resolution.
type Patcher interface {
	Apply(base, target []byte, change Changeset) (merged []byte, conflicts []Conflict, err error)
}

// LineDiffer diffs blobs line by line via difflib's sequence matcher.
type LineDiffer struct{}

// Diff returns the hunks that turn base into other.
func (LineDiffer) Diff(base, other []byte) (Changeset, error) {
	return Changeset{Hunks: lineHunks(splitLines(base), splitLines(other))}, nil
}

// splitLines keeps line endings so joining the output reproduces the input
// byte for byte. difflib's own SplitLines pads a phantom trailing line, which
// would corrupt round-trips here.
func splitLines(blob []byte) []string {
	if len(blob) == 0 {
		return nil
	}
	lines := strings.SplitAfter(string(blob), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func lineHunks(base, other []string) []Hunk {
	m := difflib.NewMatcher(base, other)
	var hunks []Hunk
	for _, op := range m.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		hunks = append(hunks, Hunk{
			BaseStart: op.I1,
			BaseEnd:   op.I2,
			Lines:     append([]string(nil), other[op.J1:op.J2]...),
		})
	}
	return hunks
}

// LinePatcher merges a changeset into a diverged target, three-way.
type LinePatcher struct{}

// Apply recomputes the target's own hunks against base and folds the two hunk
// sets together. Non-overlapping changes combine cleanly; overlapping ones
// become conflicts rendered with git-style markers.
func (LinePatcher) Apply(base, target []byte, change Changeset) ([]byte, []Conflict, error) {
	baseLines := splitLines(base)
	ours := lineHunks(baseLines, splitLines(target)) // target side
	theirs := change.Hunks                           // source side

	out, conflicts := merge3(baseLines, ours, theirs)
	return []byte(strings.Join(out, "")), conflicts, nil
}

// merge3 walks the base, emitting unchanged lines and resolving hunk
// clusters. Hunks from the two sides that touch the same base region (or
// insert at the same point) form one cluster.
func merge3(base []string, ours, theirs []Hunk) ([]string, []Conflict) {
	var out []string
	var conflicts []Conflict
	pos := 0 // next unconsumed base line
	oi, ti := 0, 0

	for oi < len(ours) || ti < len(theirs) {
		// Start a cluster at the earliest remaining hunk.
		lo := -1
		if oi < len(ours) {
			lo = ours[oi].BaseStart
		}
		if ti < len(theirs) && (lo < 0 || theirs[ti].BaseStart < lo) {
			lo = theirs[ti].BaseStart
		}
		hi := lo

		// Grow the cluster while hunks from either side touch it.
		var co, ct []Hunk
		for {
			grown := false
			if oi < len(ours) && touches(ours[oi], lo, hi) {
				if ours[oi].BaseEnd > hi {
					hi = ours[oi].BaseEnd
				}
				co = append(co, ours[oi])
				oi++
				grown = true
			}
			if ti < len(theirs) && touches(theirs[ti], lo, hi) {
				if theirs[ti].BaseEnd > hi {
					hi = theirs[ti].BaseEnd
				}
				ct = append(ct, theirs[ti])
				ti++
				grown = true
			}
			if !grown {
				break
			}
		}

		out = append(out, base[pos:lo]...)
		pos = hi

		oursRegion := applyHunks(base, co, lo, hi)
		theirsRegion := applyHunks(base, ct, lo, hi)

		switch {
		case len(co) == 0:
			out = append(out, theirsRegion...)
		case len(ct) == 0:
			out = append(out, oursRegion...)
		case equalLines(oursRegion, theirsRegion):
			out = append(out, oursRegion...)
		default:
			conflicts = append(conflicts, Conflict{
				BaseStart: lo, BaseEnd: hi,
				Ours:   oursRegion,
				Theirs: theirsRegion,
			})
			out = append(out, markerLine("<<<<<<< ours"))
			out = append(out, oursRegion...)
			out = append(out, markerLine("======="))
			out = append(out, theirsRegion...)
			out = append(out, markerLine(">>>>>>> theirs"))
		}
	}

	out = append(out, base[pos:]...)
	return out, conflicts
}

// touches reports whether a hunk belongs to the cluster [lo, hi). Insertions
// are points; an insertion at the cluster boundary joins it.
func touches(h Hunk, lo, hi int) bool {
	if h.BaseStart == h.BaseEnd {
		return h.BaseStart >= lo && h.BaseStart <= hi
	}
	return h.BaseStart < hi && h.BaseEnd > lo || h.BaseStart == lo
}

// applyHunks rewrites base[lo:hi] with one side's hunks substituted in.
func applyHunks(base []string, hunks []Hunk, lo, hi int) []string {
	var out []string
	pos := lo
	for _, h := range hunks {
		out = append(out, base[pos:h.BaseStart]...)
		out = append(out, h.Lines...)
		pos = h.BaseEnd
	}
	out = append(out, base[pos:hi]...)
	return out
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func markerLine(s string) string { return s + "\n" }
