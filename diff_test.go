package manifest

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectDiff(t *testing.T, s *NodeStore[string], left, right string, ordered bool) []DiffEntry[string, string] {
	t.Helper()
	var got []DiffEntry[string, string]
	visit := func(e DiffEntry[string, string]) (bool, error) {
		got = append(got, e)
		return true, nil
	}
	var err error
	if ordered {
		err = DiffManifestsOrdered[string, string](ctx, s, 16, left, right, visit)
	} else {
		err = DiffManifests[string, string](ctx, s, 16, left, right, visit)
	}
	require.NoError(t, err)
	return got
}

func diffStrings(events []DiffEntry[string, string]) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.String()
	}
	return out
}

func TestDiffIdenticalTrees(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	root := mustDerive(t, s, nil, changesOf(map[string]string{"a/b": "b"}))
	assert.Empty(t, collectDiff(t, s, root, root, false))
}

func TestDiffEvents(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	left := mustDerive(t, s, nil, changesOf(map[string]string{
		"a/b": "1", "a/c": "2", "top": "x",
	}))
	var changes Changes[string]
	changes.Add(MustParsePath("a/b"), "1v2")
	changes.Add(MustParsePath("d/e"), "3")
	changes.Remove(MustParsePath("top"))
	right := mustDerive(t, s, []string{left}, changes)

	got := collectDiff(t, s, left, right, true)
	assert.Equal(t, []string{
		`<Changed  tree(` + left + `) -> tree(` + right + `)>`,
		`<Changed a tree(` + treeIDAt(t, s, left, "a") + `) -> tree(` + treeIDAt(t, s, right, "a") + `)>`,
		`<Changed a/b leaf(1) -> leaf(1v2)>`,
		`<Added d tree(` + treeIDAt(t, s, right, "d") + `)>`,
		`<Added d/e leaf(3)>`,
		`<Removed top leaf(x)>`,
	}, diffStrings(got))
}

func treeIDAt(t *testing.T, s *NodeStore[string], root, path string) string {
	t.Helper()
	e, ok, err := FindEntry[string, string](ctx, s, root, MustParsePath(path))
	require.NoError(t, err)
	require.True(t, ok)
	id, isTree := e.Tree()
	require.True(t, isTree)
	return id
}

func TestDiffKindTransition(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	left := mustDerive(t, s, nil, changesOf(map[string]string{"x": "flat", "keep": "k"}))
	next := mustDerive(t, s, []string{left}, changesOf(map[string]string{"x/below": "deep"}))

	got := collectDiff(t, s, left, next, true)
	var atX []DiffType
	for _, e := range got {
		if e.Path.String() == "x" {
			atX = append(atX, e.Type)
		}
		assert.NotEqual(t, "keep", e.Path.String())
	}
	// never a Changed across a file/directory flip
	assert.Equal(t, []DiffType{Removed, Added}, atX)

	found := false
	for _, e := range got {
		if e.Path.String() == "x/below" {
			found = true
			assert.Equal(t, Added, e.Type)
		}
	}
	assert.True(t, found)
}

func TestDiffParentBeforeChild(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	left := mustDerive(t, s, nil, changesOf(map[string]string{"deep/er/still/a": "1"}))
	right := mustDerive(t, s, []string{left}, changesOf(map[string]string{"deep/er/still/b": "2"}))

	// the unordered variant still delivers a parent before its children
	got := collectDiff(t, s, left, right, false)
	seen := map[string]bool{}
	for _, e := range got {
		if parent, _, ok := e.Path.Split(); ok {
			assert.True(t, seen[parent.String()], "child %q before parent", e.Path)
		}
		seen[e.Path.String()] = true
	}
}

func TestDiffOrderedIsSorted(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	left := mustDerive(t, s, nil, changesOf(map[string]string{
		"a/a": "1", "a/b": "2", "b/a": "3", "c": "4",
	}))
	right := mustDerive(t, s, nil, changesOf(map[string]string{
		"a/a": "1v2", "a/c": "5", "b/a": "3", "d/e": "6",
	}))

	got := collectDiff(t, s, left, right, true)
	require.NotEmpty(t, got)
	sorted := sort.SliceIsSorted(got, func(i, j int) bool {
		return got[i].Path.Order(got[j].Path) < 0
	})
	assert.True(t, sorted, "ordered diff out of order: %v", diffStrings(got))
	// "b" is identical on both sides and must not appear
	for _, e := range got {
		assert.NotEqual(t, "b", e.Path.String())
		assert.NotEqual(t, "b/a", e.Path.String())
	}
}

func TestDiffRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	left := mustDerive(t, s, nil, changesOf(map[string]string{
		"a/b": "1", "a/c": "2", "old/gone": "x",
	}))
	right := mustDerive(t, s, nil, changesOf(map[string]string{
		"a/b": "1v2", "a/c": "2", "fresh/new": "y",
	}))

	// replaying the leaf-level events of a diff onto left rebuilds right
	var changes Changes[string]
	err := DiffManifests[string, string](ctx, s, 16, left, right,
		func(e DiffEntry[string, string]) (bool, error) {
			switch e.Type {
			case Added, Changed:
				if leaf, ok := e.New.Leaf(); ok {
					changes.Add(e.Path, leaf)
				}
			case Removed:
				if _, ok := e.Old.Leaf(); ok {
					changes.Remove(e.Path)
				}
			}
			return true, nil
		})
	require.NoError(t, err)
	replayed := mustDerive(t, s, []string{left}, changes)
	assert.Equal(t, right, replayed)
}

func TestDiffEarlyStop(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	left := mustDerive(t, s, nil, changesOf(map[string]string{"a/b": "1", "c/d": "2"}))
	right := mustDerive(t, s, []string{left}, changesOf(map[string]string{"a/b": "1v2", "c/d": "2v2"}))
	visited := 0
	err := DiffManifestsOrdered[string, string](ctx, s, 16, left, right,
		func(DiffEntry[string, string]) (bool, error) {
			visited++
			return visited < 2, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, visited)
}

func TestDiffFilteredRecurse(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	left := mustDerive(t, s, nil, changesOf(map[string]string{"skip/a": "1", "want/b": "2"}))
	right := mustDerive(t, s, []string{left}, changesOf(map[string]string{"skip/a": "1v2", "want/b": "2v2"}))

	var got []string
	err := DiffManifestsFilteredOrdered[string, string](ctx, s, 16, left, right,
		func(e DiffEntry[string, string]) bool {
			return e.Path.String() != "skip"
		},
		nil,
		func(e DiffEntry[string, string]) (bool, error) {
			got = append(got, e.Path.String())
			return true, nil
		})
	require.NoError(t, err)
	// the pruned directory's own event still shows; its contents do not
	assert.Equal(t, []string{"", "skip", "want", "want/b"}, got)
}

func TestDiffFilteredOutput(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	left := mustDerive(t, s, nil, changesOf(map[string]string{"a/b": "1", "a/c": "2"}))
	right := mustDerive(t, s, []string{left}, changesOf(map[string]string{"a/b": "1v2"}))

	var got []string
	err := DiffManifestsFilteredOrdered[string, string](ctx, s, 16, left, right,
		nil,
		func(e DiffEntry[string, string]) bool {
			// leaves only; directory churn is noise here
			return e.New == nil || !e.New.IsTree()
		},
		func(e DiffEntry[string, string]) (bool, error) {
			got = append(got, e.String())
			return true, nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{`<Changed a/b leaf(1) -> leaf(1v2)>`}, got)
}

func TestFindIntersectionOfDiffs(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	base := mustDerive(t, s, nil, changesOf(map[string]string{
		"common/a": "1", "common/b": "2",
	}))
	ref1 := mustDerive(t, s, []string{base}, changesOf(map[string]string{"only1/x": "x"}))
	ref2 := mustDerive(t, s, []string{base}, changesOf(map[string]string{"only2/y": "y"}))
	// target touches common/a, which neither reference did, plus only1/x
	// exactly as ref1 already has it
	target := mustDerive(t, s, []string{base}, changesOf(map[string]string{
		"common/a": "1v2", "only1/x": "x",
	}))

	var got []string
	err := FindIntersectionOfDiffs[string, string](ctx, s, 16, target, []string{ref1, ref2},
		func(p Path, e Entry[string, string]) (bool, error) {
			got = append(got, p.String())
			return true, nil
		})
	require.NoError(t, err)
	sort.Strings(got)
	// only1 matches ref1, so it is excluded even though ref2 lacks it;
	// common/b is shared with everyone through base
	assert.Equal(t, []string{"", "common", "common/a"}, got)
}

func TestFindIntersectionNoReferences(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	target := mustDerive(t, s, nil, changesOf(map[string]string{"a/b": "1"}))
	var got []string
	err := FindIntersectionOfDiffs[string, string](ctx, s, 16, target, nil,
		func(p Path, e Entry[string, string]) (bool, error) {
			got = append(got, p.String())
			return true, nil
		})
	require.NoError(t, err)
	sort.Strings(got)
	assert.Equal(t, []string{"", "a", "a/b"}, got)
}

func TestFindIntersectionTargetEqualsReference(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	target := mustDerive(t, s, nil, changesOf(map[string]string{"a/b": "1"}))
	err := FindIntersectionOfDiffs[string, string](ctx, s, 16, target, []string{target},
		func(p Path, e Entry[string, string]) (bool, error) {
			t.Fatalf("unexpected visit at %q", p)
			return false, nil
		})
	require.NoError(t, err)
}
