package merge

import (
	"strings"
	"testing"
)

func mustApply(t *testing.T, base, target, source string) (string, []Conflict) {
	t.Helper()
	change, err := LineDiffer{}.Diff([]byte(base), []byte(source))
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	merged, conflicts, err := LinePatcher{}.Apply([]byte(base), []byte(target), change)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return string(merged), conflicts
}

func TestDiff_NoChanges(t *testing.T) {
	change, err := LineDiffer{}.Diff([]byte("a\nb\n"), []byte("a\nb\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(change.Hunks) != 0 {
		t.Errorf("hunks = %v, want none", change.Hunks)
	}
}

func TestApply_DisjointChangesCombine(t *testing.T) {
	base := "one\ntwo\nthree\nfour\nfive\n"
	target := "ONE\ntwo\nthree\nfour\nfive\n" // changed line 1
	source := "one\ntwo\nthree\nfour\nFIVE\n" // changed line 5

	merged, conflicts := mustApply(t, base, target, source)
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %v, want none", conflicts)
	}
	want := "ONE\ntwo\nthree\nfour\nFIVE\n"
	if merged != want {
		t.Errorf("merged = %q, want %q", merged, want)
	}
}

func TestApply_SourceOnlyChange(t *testing.T) {
	base := "a\nb\nc\n"
	merged, conflicts := mustApply(t, base, base, "a\nB\nc\n")
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %v", conflicts)
	}
	if merged != "a\nB\nc\n" {
		t.Errorf("merged = %q", merged)
	}
}

func TestApply_IdenticalChangesAgree(t *testing.T) {
	base := "a\nb\nc\n"
	both := "a\nB\nc\n"
	merged, conflicts := mustApply(t, base, both, both)
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %v, want none for identical edits", conflicts)
	}
	if merged != both {
		t.Errorf("merged = %q, want %q", merged, both)
	}
}

func TestApply_OverlapConflicts(t *testing.T) {
	base := "a\nb\nc\n"
	target := "a\nours\nc\n"
	source := "a\ntheirs\nc\n"

	merged, conflicts := mustApply(t, base, target, source)
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %v, want exactly one", conflicts)
	}
	c := conflicts[0]
	if len(c.Ours) != 1 || c.Ours[0] != "ours\n" {
		t.Errorf("Ours = %v", c.Ours)
	}
	if len(c.Theirs) != 1 || c.Theirs[0] != "theirs\n" {
		t.Errorf("Theirs = %v", c.Theirs)
	}
	for _, marker := range []string{"<<<<<<< ours", "=======", ">>>>>>> theirs"} {
		if !strings.Contains(merged, marker) {
			t.Errorf("merged output missing marker %q:\n%s", marker, merged)
		}
	}
}

func TestApply_InsertionsAtSamePointConflict(t *testing.T) {
	base := "a\nb\n"
	target := "a\nX\nb\n"
	source := "a\nY\nb\n"

	_, conflicts := mustApply(t, base, target, source)
	if len(conflicts) != 1 {
		t.Errorf("conflicts = %v, want one", conflicts)
	}
}

func TestApply_DeletionAndUntouchedRegion(t *testing.T) {
	base := "a\nb\nc\nd\n"
	target := "a\nc\nd\n"  // deleted b
	source := "a\nb\nc\nD\n" // changed d

	merged, conflicts := mustApply(t, base, target, source)
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %v", conflicts)
	}
	if merged != "a\nc\nD\n" {
		t.Errorf("merged = %q", merged)
	}
}

func TestApply_EmptyBase(t *testing.T) {
	merged, conflicts := mustApply(t, "", "ours\n", "")
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %v", conflicts)
	}
	if merged != "ours\n" {
		t.Errorf("merged = %q", merged)
	}
}
