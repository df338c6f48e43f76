package manifest

import (
	"context"
	"fmt"
)

type intersectIn[T, L comparable] struct {
	path  Path
	entry Entry[T, L]
	refs  []Entry[T, L]
}

// FindIntersectionOfDiffs visits the entries of target that differ
// from the corresponding entry in every one of the reference trees: an
// entry equal to its counterpart in even a single reference is
// excluded, and its subtree is not descended into. With no references
// it degenerates to enumerating all of target. The usual use is
// finding the derivation work common to all of a merge's ancestors,
// when processing any one ancestor's side would cover the rest.
//
// Recursion stops at a subtree the moment any reference shares its id,
// so the cost is bounded by what is new in target relative to the
// closest reference, not by the size of target.
func FindIntersectionOfDiffs[T, L comparable](
	ctx context.Context,
	loader Loader[T, L],
	concurrency int,
	target T,
	references []T,
	visit func(Path, Entry[T, L]) (bool, error),
) error {
	rootRefs := make([]Entry[T, L], 0, len(references))
	for _, r := range dedupe(references) {
		rootRefs = append(rootRefs, TreeEntry[T, L](r))
	}
	root := intersectIn[T, L]{entry: TreeEntry[T, L](target), refs: rootRefs}
	if matchesAny(root.entry, root.refs) {
		return nil
	}
	unfold := func(ctx context.Context, in intersectIn[T, L]) ([]PathEntry[T, L], []intersectIn[T, L], error) {
		out := []PathEntry[T, L]{{Path: in.path, Entry: in.entry}}
		id, ok := in.entry.Tree()
		if !ok {
			return out, nil, nil
		}
		m, err := loader.LoadTree(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("load %v: %w", id, err)
		}
		refChildren, err := gatherRefChildren(ctx, loader, in.refs)
		if err != nil {
			return nil, nil, err
		}
		var children []intersectIn[T, L]
		err = m.List(ctx, func(name PathElement, e Entry[T, L]) (bool, error) {
			refs := refChildren[name]
			if matchesAny(e, refs) {
				return true, nil
			}
			children = append(children, intersectIn[T, L]{path: in.path.Child(name), entry: e, refs: refs})
			return true, nil
		})
		if err != nil {
			return nil, nil, err
		}
		return out, children, nil
	}
	return BoundedStream(ctx, concurrency, []intersectIn[T, L]{root}, unfold, func(pe PathEntry[T, L]) (bool, error) {
		return visit(pe.Path, pe.Entry)
	})
}

func matchesAny[T, L comparable](e Entry[T, L], refs []Entry[T, L]) bool {
	for _, r := range refs {
		if e == r {
			return true
		}
	}
	return false
}

// gatherRefChildren merges the children of every reference entry that
// is a tree, keyed by name.
func gatherRefChildren[T, L comparable](
	ctx context.Context,
	loader Loader[T, L],
	refs []Entry[T, L],
) (map[PathElement][]Entry[T, L], error) {
	byName := map[PathElement][]Entry[T, L]{}
	var ids []T
	for _, r := range refs {
		if id, ok := r.Tree(); ok {
			ids = append(ids, id)
		}
	}
	for _, id := range dedupe(ids) {
		m, err := loader.LoadTree(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load reference %v: %w", id, err)
		}
		err = m.List(ctx, func(name PathElement, e Entry[T, L]) (bool, error) {
			byName[name] = append(byName[name], e)
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return byName, nil
}
