package merge

import (
	"errors"
	"strings"
	"testing"

	gocid "github.com/ipfs/go-cid"

	"github.com/driftvcs/drift/internal/repo"
)

type memTree struct {
	blob []byte
}

func (m *memTree) Snapshot() ([]byte, error) { return append([]byte(nil), m.blob...), nil }
func (m *memTree) Restore(b []byte) error {
	m.blob = append([]byte(nil), b...)
	return nil
}

func openTestRepo(t *testing.T) (*repo.Repository, *memTree) {
	t.Helper()
	tree := &memTree{}
	r, err := repo.OpenRepository(t.TempDir(), repo.WithWorktree(tree))
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	return r, tree
}

func commit(t *testing.T, r *repo.Repository, snapshot string, extra ...gocid.Cid) gocid.Cid {
	t.Helper()
	id, err := r.Commit([]byte(snapshot), extra...)
	if err != nil {
		t.Fatalf("Commit %q: %v", snapshot, err)
	}
	return id
}

func TestFindMergeBase_DivergedBranches(t *testing.T) {
	r, _ := openTestRepo(t)
	e := NewEngine(r)

	commit(t, r, "c1")
	c2 := commit(t, r, "c2")
	if err := r.CreateBranch("release-1", gocid.Undef); err != nil {
		t.Fatal(err)
	}
	c9 := commit(t, r, "c9") // main moves on

	if err := r.Checkout("release-1"); err != nil {
		t.Fatal(err)
	}
	c7 := commit(t, r, "c7")

	base, err := e.FindMergeBase(c9, c7)
	if err != nil {
		t.Fatalf("FindMergeBase: %v", err)
	}
	if !base.Equals(c2) {
		t.Errorf("base = %s, want %s", base, c2)
	}
}

func TestFindMergeBase_AncestorIsBase(t *testing.T) {
	r, _ := openTestRepo(t)
	e := NewEngine(r)

	a := commit(t, r, "a")
	b := commit(t, r, "b")

	base, err := e.FindMergeBase(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if !base.Equals(a) {
		t.Errorf("base = %s, want ancestor %s", base, a)
	}
}

func TestFindMergeBase_Disjoint(t *testing.T) {
	r, _ := openTestRepo(t)
	e := NewEngine(r)

	a := commit(t, r, "a")

	// A second root with no shared history.
	b, err := r.Store.Put([]byte("unrelated"), nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.FindMergeBase(a, b); !errors.Is(err, ErrNoMergeBase) {
		t.Errorf("err = %v, want ErrNoMergeBase", err)
	}
}

func TestFindMergeBase_CrissCrossDeterministic(t *testing.T) {
	r, _ := openTestRepo(t)
	e := NewEngine(r)

	root := commit(t, r, "root")
	x, err := r.Store.Put([]byte("x"), []gocid.Cid{root})
	if err != nil {
		t.Fatal(err)
	}
	y, err := r.Store.Put([]byte("y"), []gocid.Cid{root})
	if err != nil {
		t.Fatal(err)
	}
	// Criss-cross: both sides merged the other once already.
	m1, err := r.Store.Put([]byte("m1"), []gocid.Cid{x, y})
	if err != nil {
		t.Fatal(err)
	}
	m2, err := r.Store.Put([]byte("m2"), []gocid.Cid{y, x})
	if err != nil {
		t.Fatal(err)
	}

	base1, err := e.FindMergeBase(m1, m2)
	if err != nil {
		t.Fatal(err)
	}
	base2, err := e.FindMergeBase(m1, m2)
	if err != nil {
		t.Fatal(err)
	}
	if !base1.Equals(base2) {
		t.Fatalf("merge base not deterministic: %s vs %s", base1, base2)
	}
	// Both x and y are maximal; the tie-break must pick one of them, never root.
	if !base1.Equals(x) && !base1.Equals(y) {
		t.Errorf("base = %s, want x or y", base1)
	}
}

func TestMerge_UpToDate(t *testing.T) {
	r, _ := openTestRepo(t)
	e := NewEngine(r)

	c1 := commit(t, r, "c1")
	if err := r.CreateBranch("old", c1); err != nil {
		t.Fatal(err)
	}
	commit(t, r, "c2")

	result, _, err := e.Merge(repo.DefaultBranch, "old")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result != UpToDate {
		t.Errorf("result = %s, want up to date", result)
	}
}

func TestMerge_FastForward(t *testing.T) {
	r, tree := openTestRepo(t)
	e := NewEngine(r)

	c1 := commit(t, r, "c1")
	if err := r.CreateBranch("feature", c1); err != nil {
		t.Fatal(err)
	}
	if err := r.Checkout("feature"); err != nil {
		t.Fatal(err)
	}
	c2 := commit(t, r, "c2")

	if err := r.Checkout(repo.DefaultBranch); err != nil {
		t.Fatal(err)
	}

	before, err := r.Store.List()
	if err != nil {
		t.Fatal(err)
	}

	result, id, err := e.Merge(repo.DefaultBranch, "feature")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result != FastForward {
		t.Fatalf("result = %s, want fast-forward", result)
	}
	if !id.Equals(c2) {
		t.Errorf("id = %s, want %s", id, c2)
	}

	after, err := r.Store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Errorf("fast-forward created %d new objects, want 0", len(after)-len(before))
	}

	tip, err := r.Refs.Branch(repo.DefaultBranch)
	if err != nil {
		t.Fatal(err)
	}
	if !tip.Equals(c2) {
		t.Errorf("main = %s, want %s", tip, c2)
	}
	if string(tree.blob) != "c2" {
		t.Errorf("tree = %q, want %q (branch is checked out)", tree.blob, "c2")
	}
}

func TestMerge_ThreeWayCleanParentOrder(t *testing.T) {
	r, _ := openTestRepo(t)
	e := NewEngine(r)

	commit(t, r, "one\ntwo\nthree\n")
	if err := r.CreateBranch("feature", gocid.Undef); err != nil {
		t.Fatal(err)
	}
	tipT := commit(t, r, "ONE\ntwo\nthree\n")

	if err := r.Checkout("feature"); err != nil {
		t.Fatal(err)
	}
	tipS := commit(t, r, "one\ntwo\nTHREE\n")

	if err := r.Checkout(repo.DefaultBranch); err != nil {
		t.Fatal(err)
	}

	result, id, err := e.Merge(repo.DefaultBranch, "feature")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result != Merged {
		t.Fatalf("result = %s, want merged", result)
	}

	c, err := r.Store.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	parents, err := c.ParentIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(parents) != 2 || !parents[0].Equals(tipT) || !parents[1].Equals(tipS) {
		t.Errorf("parents = %v, want [%s %s] in that order", parents, tipT, tipS)
	}
	if string(c.Snapshot) != "ONE\ntwo\nTHREE\n" {
		t.Errorf("snapshot = %q", c.Snapshot)
	}
}

func TestMerge_ConflictThenFinalize(t *testing.T) {
	r, _ := openTestRepo(t)
	e := NewEngine(r)

	commit(t, r, "line\n")
	if err := r.CreateBranch("feature", gocid.Undef); err != nil {
		t.Fatal(err)
	}
	tipT := commit(t, r, "ours\n")

	if err := r.Checkout("feature"); err != nil {
		t.Fatal(err)
	}
	tipS := commit(t, r, "theirs\n")

	if err := r.Checkout(repo.DefaultBranch); err != nil {
		t.Fatal(err)
	}

	result, _, err := e.Merge(repo.DefaultBranch, "feature")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result != Conflicted {
		t.Fatalf("result = %s, want conflicted", result)
	}

	// Pending state records [target tip, source tip] in that order.
	target, source, pending, err := r.PendingMerge()
	if err != nil || !pending {
		t.Fatalf("PendingMerge = %v, %v", pending, err)
	}
	if !target.Equals(tipT) || !source.Equals(tipS) {
		t.Errorf("pending = (%s, %s), want (%s, %s)", target, source, tipT, tipS)
	}

	// The branch did not move.
	tip, err := r.Refs.Branch(repo.DefaultBranch)
	if err != nil {
		t.Fatal(err)
	}
	if !tip.Equals(tipT) {
		t.Errorf("main moved during a conflicted merge")
	}

	// A second merge is refused while one is pending.
	if _, _, err := e.Merge(repo.DefaultBranch, "feature"); !errors.Is(err, ErrMergeInProgress) {
		t.Errorf("err = %v, want ErrMergeInProgress", err)
	}

	// The conflicted output carries markers for manual resolution.
	out, err := e.MergeResult()
	if err != nil {
		t.Fatalf("MergeResult: %v", err)
	}
	if !strings.Contains(string(out), "<<<<<<<") {
		t.Errorf("merge result lacks conflict markers: %q", out)
	}

	id, err := e.Finalize(repo.DefaultBranch, []byte("resolved\n"))
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	c, err := r.Store.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	parents, err := c.ParentIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(parents) != 2 || !parents[0].Equals(tipT) || !parents[1].Equals(tipS) {
		t.Errorf("parents = %v, want [%s %s]", parents, tipT, tipS)
	}

	if _, _, pending, _ := r.PendingMerge(); pending {
		t.Errorf("pending state should be cleared after finalize")
	}
	tip, _ = r.Refs.Branch(repo.DefaultBranch)
	if !tip.Equals(id) {
		t.Errorf("main = %s, want %s", tip, id)
	}
}

func TestMerge_Abort(t *testing.T) {
	r, _ := openTestRepo(t)
	e := NewEngine(r)

	commit(t, r, "line\n")
	if err := r.CreateBranch("feature", gocid.Undef); err != nil {
		t.Fatal(err)
	}
	tipT := commit(t, r, "ours\n")
	if err := r.Checkout("feature"); err != nil {
		t.Fatal(err)
	}
	commit(t, r, "theirs\n")
	if err := r.Checkout(repo.DefaultBranch); err != nil {
		t.Fatal(err)
	}

	if result, _, err := e.Merge(repo.DefaultBranch, "feature"); err != nil || result != Conflicted {
		t.Fatalf("Merge = %s, %v", result, err)
	}
	if err := e.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, _, pending, _ := r.PendingMerge(); pending {
		t.Errorf("pending state should be cleared after abort")
	}
	tip, _ := r.Refs.Branch(repo.DefaultBranch)
	if !tip.Equals(tipT) {
		t.Errorf("abort must leave the branch untouched")
	}
	if err := e.Abort(); !errors.Is(err, ErrNoPendingMerge) {
		t.Errorf("err = %v, want ErrNoPendingMerge", err)
	}
}

func TestFinalize_WithoutPending(t *testing.T) {
	r, _ := openTestRepo(t)
	e := NewEngine(r)
	commit(t, r, "c1")

	if _, err := e.Finalize(repo.DefaultBranch, []byte("x")); !errors.Is(err, ErrNoPendingMerge) {
		t.Errorf("err = %v, want ErrNoPendingMerge", err)
	}
}
