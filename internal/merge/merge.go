package merge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	gocid "github.com/ipfs/go-cid"

	"github.com/driftvcs/drift/internal/object"
	"github.com/driftvcs/drift/internal/refs"
	"github.com/driftvcs/drift/internal/repo"
)

var (
	// ErrNoMergeBase is returned when two commits share no history at all.
	ErrNoMergeBase = errors.New("no common ancestor")
	// ErrMergeInProgress is returned when a merge is started while another is
	// pending resolution.
	ErrMergeInProgress = errors.New("merge already in progress")
	// ErrNoPendingMerge is returned when finalizing without a pending merge.
	ErrNoPendingMerge = errors.New("no merge in progress")
)

// Result classifies a merge outcome.
type Result int

const (
	// UpToDate: the source is already an ancestor of the target; nothing done.
	UpToDate Result = iota
	// FastForward: the target branch moved to the source tip; no new commit.
	FastForward
	// Merged: a two-parent merge commit was created.
	Merged
	// Conflicted: overlapping changes; the repository holds pending-merge
	// state until the caller resolves and finalizes.
	Conflicted
)

func (r Result) String() string {
	switch r {
	case UpToDate:
		return "up to date"
	case FastForward:
		return "fast-forward"
	case Merged:
		return "merged"
	case Conflicted:
		return "conflicted"
	}
	return "unknown"
}

// mergeResultFile holds the marker-annotated merge output while a conflicted
// merge awaits resolution.
const mergeResultFile = "MERGE_RESULT"

// Engine reads the commit graph through the repository's object store and
// writes merge commits and ref updates back through it.
type Engine struct {
	repo    *repo.Repository
	differ  Differ
	patcher Patcher
}

// NewEngine creates a merge engine with the bundled line-based diff and
// patch capabilities.
func NewEngine(r *repo.Repository) *Engine {
	return &Engine{repo: r, differ: LineDiffer{}, patcher: LinePatcher{}}
}

// NewEngineWith creates a merge engine with caller-supplied capabilities.
func NewEngineWith(r *repo.Repository, d Differ, p Patcher) *Engine {
	return &Engine{repo: r, differ: d, patcher: p}
}

// ancestors collects every commit reachable from id, id included.
func (e *Engine) ancestors(id gocid.Cid) (map[gocid.Cid]bool, error) {
	seen := map[gocid.Cid]bool{id: true}
	queue := []gocid.Cid{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, err := e.repo.Store.Get(cur)
		if err != nil {
			return nil, err
		}
		parents, err := c.ParentIDs()
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return seen, nil
}

// FindMergeBase returns the best common ancestor of a and b: a common
// ancestor that is not itself an ancestor of another common ancestor. When
// several such maximal ancestors exist (criss-cross histories), the one with
// the lexicographically smallest id wins, so the choice is deterministic.
func (e *Engine) FindMergeBase(a, b gocid.Cid) (gocid.Cid, error) {
	ancA, err := e.ancestors(a)
	if err != nil {
		return gocid.Undef, err
	}
	ancB, err := e.ancestors(b)
	if err != nil {
		return gocid.Undef, err
	}

	common := map[gocid.Cid]bool{}
	for id := range ancA {
		if ancB[id] {
			common[id] = true
		}
	}
	if len(common) == 0 {
		return gocid.Undef, ErrNoMergeBase
	}

	// A common ancestor reachable through the parents of another common
	// ancestor is not maximal.
	maximal := map[gocid.Cid]bool{}
	for id := range common {
		maximal[id] = true
	}
	for id := range common {
		c, err := e.repo.Store.Get(id)
		if err != nil {
			return gocid.Undef, err
		}
		parents, err := c.ParentIDs()
		if err != nil {
			return gocid.Undef, err
		}
		for _, p := range parents {
			reach, err := e.ancestors(p)
			if err != nil {
				return gocid.Undef, err
			}
			for r := range reach {
				if common[r] {
					delete(maximal, r)
				}
			}
		}
	}

	candidates := make([]string, 0, len(maximal))
	byName := make(map[string]gocid.Cid, len(maximal))
	for id := range maximal {
		s := object.IDToString(id)
		candidates = append(candidates, s)
		byName[s] = id
	}
	sort.Strings(candidates)
	return byName[candidates[0]], nil
}

// Merge reconciles sourceRef into targetBranch. Fast-forwards when the target
// tip is an ancestor of the source; otherwise computes a three-way merge over
// the merge base. A clean merge commits immediately with parents
// [target tip, source tip]; conflicts leave pending-merge state behind.
func (e *Engine) Merge(targetBranch, sourceRef string) (Result, gocid.Cid, error) {
	if _, _, pending, err := e.repo.PendingMerge(); err != nil {
		return 0, gocid.Undef, err
	} else if pending {
		return 0, gocid.Undef, ErrMergeInProgress
	}

	tipT, err := e.repo.Refs.Branch(targetBranch)
	if err != nil {
		return 0, gocid.Undef, err
	}
	tipS, err := e.repo.Resolve(sourceRef)
	if err != nil {
		return 0, gocid.Undef, err
	}

	base, err := e.FindMergeBase(tipT, tipS)
	if err != nil {
		return 0, gocid.Undef, err
	}

	switch {
	case base.Equals(tipS):
		return UpToDate, tipT, nil

	case base.Equals(tipT):
		if err := e.repo.Refs.SetBranch(targetBranch, tipT, tipS); err != nil {
			return 0, gocid.Undef, err
		}
		if err := e.restoreIfCheckedOut(targetBranch, tipS); err != nil {
			return 0, gocid.Undef, err
		}
		return FastForward, tipS, nil
	}

	baseC, err := e.repo.Store.Get(base)
	if err != nil {
		return 0, gocid.Undef, err
	}
	targetC, err := e.repo.Store.Get(tipT)
	if err != nil {
		return 0, gocid.Undef, err
	}
	sourceC, err := e.repo.Store.Get(tipS)
	if err != nil {
		return 0, gocid.Undef, err
	}

	change, err := e.differ.Diff(baseC.Snapshot, sourceC.Snapshot)
	if err != nil {
		return 0, gocid.Undef, fmt.Errorf("diff: %w", err)
	}
	merged, conflicts, err := e.patcher.Apply(baseC.Snapshot, targetC.Snapshot, change)
	if err != nil {
		return 0, gocid.Undef, fmt.Errorf("apply: %w", err)
	}

	if len(conflicts) > 0 {
		if err := e.repo.SetPendingMerge(tipT, tipS); err != nil {
			return 0, gocid.Undef, err
		}
		path := filepath.Join(e.repo.DriftDir(), mergeResultFile)
		if err := object.SafeWrite(path, merged, 0644); err != nil {
			return 0, gocid.Undef, err
		}
		return Conflicted, gocid.Undef, nil
	}

	id, err := e.commitMerge(targetBranch, tipT, tipS, merged)
	if err != nil {
		return 0, gocid.Undef, err
	}
	return Merged, id, nil
}

// Finalize completes a conflicted merge with the resolved snapshot, creating
// the two-parent commit recorded in the pending state. Parent order is the
// contract: target tip first, source tip second.
func (e *Engine) Finalize(targetBranch string, resolved []byte) (gocid.Cid, error) {
	tipT, tipS, pending, err := e.repo.PendingMerge()
	if err != nil {
		return gocid.Undef, err
	}
	if !pending {
		return gocid.Undef, ErrNoPendingMerge
	}

	current, err := e.repo.Refs.Branch(targetBranch)
	if err != nil {
		return gocid.Undef, err
	}
	if !current.Equals(tipT) {
		return gocid.Undef, fmt.Errorf("%w: %s moved since merge started", refs.ErrStaleBranch, targetBranch)
	}

	id, err := e.commitMerge(targetBranch, tipT, tipS, resolved)
	if err != nil {
		return gocid.Undef, err
	}
	if err := e.repo.ClearPendingMerge(); err != nil {
		return gocid.Undef, err
	}
	os.Remove(filepath.Join(e.repo.DriftDir(), mergeResultFile))
	return id, nil
}

// Abort discards a pending merge, leaving the target branch untouched.
func (e *Engine) Abort() error {
	_, _, pending, err := e.repo.PendingMerge()
	if err != nil {
		return err
	}
	if !pending {
		return ErrNoPendingMerge
	}
	os.Remove(filepath.Join(e.repo.DriftDir(), mergeResultFile))
	return e.repo.ClearPendingMerge()
}

// MergeResult returns the marker-annotated output of a conflicted merge.
func (e *Engine) MergeResult() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(e.repo.DriftDir(), mergeResultFile))
	if os.IsNotExist(err) {
		return nil, ErrNoPendingMerge
	}
	return data, err
}

func (e *Engine) commitMerge(targetBranch string, tipT, tipS gocid.Cid, snapshot []byte) (gocid.Cid, error) {
	id, err := e.repo.Store.Put(snapshot, []gocid.Cid{tipT, tipS})
	if err != nil {
		return gocid.Undef, err
	}
	if err := e.repo.Refs.SetBranch(targetBranch, tipT, id); err != nil {
		return gocid.Undef, err
	}
	if err := e.restoreIfCheckedOut(targetBranch, id); err != nil {
		return gocid.Undef, err
	}
	return id, nil
}

// restoreIfCheckedOut refreshes the working tree when the moved branch is the
// one HEAD points at.
func (e *Engine) restoreIfCheckedOut(branch string, id gocid.Cid) error {
	head, err := e.repo.Refs.Head()
	if err != nil {
		return err
	}
	if head.Detached() || head.Branch != branch {
		return nil
	}
	c, err := e.repo.Store.Get(id)
	if err != nil {
		return err
	}
	return e.repo.Tree.Restore(c.Snapshot)
}
