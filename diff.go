package manifest

import (
	"context"
	"fmt"
)

// diffIn is one pending comparison: the entries on each side of a
// path, either of which may be absent.
type diffIn[T, L comparable] struct {
	path  Path
	left  *Entry[T, L]
	right *Entry[T, L]
}

type differ[T, L comparable] struct {
	loader  Loader[T, L]
	recurse func(DiffEntry[T, L]) bool
	output  func(DiffEntry[T, L]) bool
}

// DiffManifests compares two manifests and feeds every difference to
// visit: Added for paths only in right, Removed for paths only in
// left, Changed for paths whose entries differ in content but not in
// kind. A path whose kind flips between file and directory yields a
// Removed plus an Added, never a Changed. Subtrees with equal ids are
// neither recursed into nor reported; equal ids are trusted to mean
// equal contents.
//
// A parent's event is always delivered before its children's, but no
// order is promised across sibling subtrees; DiffManifestsOrdered adds
// the lexicographic sibling guarantee. visit returning keepGoing=false
// stops the diff.
func DiffManifests[T, L comparable](
	ctx context.Context,
	loader Loader[T, L],
	concurrency int,
	left, right T,
	visit func(DiffEntry[T, L]) (bool, error),
) error {
	return DiffManifestsFiltered(ctx, loader, concurrency, left, right, nil, nil, visit)
}

// DiffManifestsOrdered is DiffManifests with a total delivery order:
// parent before child, siblings in canonical name order. Children of
// one directory are still fetched concurrently, then re-sequenced
// before delivery.
func DiffManifestsOrdered[T, L comparable](
	ctx context.Context,
	loader Loader[T, L],
	concurrency int,
	left, right T,
	visit func(DiffEntry[T, L]) (bool, error),
) error {
	return DiffManifestsFilteredOrdered(ctx, loader, concurrency, left, right, nil, nil, visit)
}

// DiffManifestsFiltered is DiffManifests with two predicates: recurse
// decides, per event, whether the subtree under it is worth descending
// into at all (pruning both work and output below it); output decides,
// per event, whether that single event is delivered, without affecting
// recursion. A nil predicate means "always".
func DiffManifestsFiltered[T, L comparable](
	ctx context.Context,
	loader Loader[T, L],
	concurrency int,
	left, right T,
	recurse func(DiffEntry[T, L]) bool,
	output func(DiffEntry[T, L]) bool,
	visit func(DiffEntry[T, L]) (bool, error),
) error {
	d := &differ[T, L]{loader: loader, recurse: recurse, output: output}
	roots := d.roots(left, right)
	return BoundedStream(ctx, concurrency, roots, d.unfold, visit)
}

// DiffManifestsFilteredOrdered combines the filtered and ordered
// variants.
func DiffManifestsFilteredOrdered[T, L comparable](
	ctx context.Context,
	loader Loader[T, L],
	concurrency int,
	left, right T,
	recurse func(DiffEntry[T, L]) bool,
	output func(DiffEntry[T, L]) bool,
	visit func(DiffEntry[T, L]) (bool, error),
) error {
	d := &differ[T, L]{loader: loader, recurse: recurse, output: output}
	roots := d.roots(left, right)
	return BoundedStreamOrdered(ctx, concurrency, roots, d.unfold, visit)
}

func (d *differ[T, L]) roots(left, right T) []diffIn[T, L] {
	if left == right {
		return nil
	}
	l := TreeEntry[T, L](left)
	r := TreeEntry[T, L](right)
	return []diffIn[T, L]{{left: &l, right: &r}}
}

// unfold emits this path's events and schedules the comparisons below
// it. Events for a node always precede its children's, which is what
// gives even the unordered variant its parent-before-child property.
func (d *differ[T, L]) unfold(ctx context.Context, in diffIn[T, L]) ([]DiffEntry[T, L], []diffIn[T, L], error) {
	var events []DiffEntry[T, L]
	var children []diffIn[T, L]
	add := func(e DiffEntry[T, L], below []diffIn[T, L]) {
		if d.recurse == nil || d.recurse(e) {
			children = append(children, below...)
		}
		if d.output == nil || d.output(e) {
			events = append(events, e)
		}
	}

	switch {
	case in.left == nil && in.right != nil:
		below, err := d.oneSided(ctx, in.path, *in.right, false)
		if err != nil {
			return nil, nil, err
		}
		add(DiffEntry[T, L]{Type: Added, Path: in.path, New: in.right}, below)

	case in.left != nil && in.right == nil:
		below, err := d.oneSided(ctx, in.path, *in.left, true)
		if err != nil {
			return nil, nil, err
		}
		add(DiffEntry[T, L]{Type: Removed, Path: in.path, Old: in.left}, below)

	case in.left.IsTree() != in.right.IsTree():
		// A file/directory transition is a removal and an addition;
		// each side recurses independently.
		oldBelow, err := d.oneSided(ctx, in.path, *in.left, true)
		if err != nil {
			return nil, nil, err
		}
		newBelow, err := d.oneSided(ctx, in.path, *in.right, false)
		if err != nil {
			return nil, nil, err
		}
		add(DiffEntry[T, L]{Type: Removed, Path: in.path, Old: in.left}, oldBelow)
		add(DiffEntry[T, L]{Type: Added, Path: in.path, New: in.right}, newBelow)

	case in.left.IsTree():
		below, err := d.compareTrees(ctx, in.path, *in.left, *in.right)
		if err != nil {
			return nil, nil, err
		}
		add(DiffEntry[T, L]{Type: Changed, Path: in.path, Old: in.left, New: in.right}, below)

	default:
		add(DiffEntry[T, L]{Type: Changed, Path: in.path, Old: in.left, New: in.right}, nil)
	}
	return events, children, nil
}

// oneSided schedules the children of an entry that exists on only one
// side of the comparison (or whose counterpart has the other kind).
// removed selects which side of the child comparisons the entries land
// on, and so whether descendants report as Removed or Added.
func (d *differ[T, L]) oneSided(ctx context.Context, path Path, e Entry[T, L], removed bool) ([]diffIn[T, L], error) {
	id, ok := e.Tree()
	if !ok {
		return nil, nil
	}
	m, err := d.loader.LoadTree(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load %v: %w", id, err)
	}
	var children []diffIn[T, L]
	err = m.List(ctx, func(name PathElement, child Entry[T, L]) (bool, error) {
		c := child
		in := diffIn[T, L]{path: path.Child(name)}
		if removed {
			in.left = &c
		} else {
			in.right = &c
		}
		children = append(children, in)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}

// compareTrees merges the child lists of two differing directories.
// Names on one side only become one-sided comparisons; names on both
// sides are skipped when equal and compared when not.
func (d *differ[T, L]) compareTrees(ctx context.Context, path Path, left, right Entry[T, L]) ([]diffIn[T, L], error) {
	leftID, _ := left.Tree()
	rightID, _ := right.Tree()
	lm, err := d.loader.LoadTree(ctx, leftID)
	if err != nil {
		return nil, fmt.Errorf("load %v: %w", leftID, err)
	}
	rm, err := d.loader.LoadTree(ctx, rightID)
	if err != nil {
		return nil, fmt.Errorf("load %v: %w", rightID, err)
	}
	ls, err := listAll(ctx, lm)
	if err != nil {
		return nil, err
	}
	rs, err := listAll(ctx, rm)
	if err != nil {
		return nil, err
	}

	var children []diffIn[T, L]
	i, j := 0, 0
	for i < len(ls) || j < len(rs) {
		switch {
		case j >= len(rs) || (i < len(ls) && ls[i].Name < rs[j].Name):
			e := ls[i].Entry
			children = append(children, diffIn[T, L]{path: path.Child(ls[i].Name), left: &e})
			i++
		case i >= len(ls) || rs[j].Name < ls[i].Name:
			e := rs[j].Entry
			children = append(children, diffIn[T, L]{path: path.Child(rs[j].Name), right: &e})
			j++
		default:
			if ls[i].Entry != rs[j].Entry {
				le, re := ls[i].Entry, rs[j].Entry
				children = append(children, diffIn[T, L]{path: path.Child(ls[i].Name), left: &le, right: &re})
			}
			i++
			j++
		}
	}
	return children, nil
}
