package manifest

import (
	"context"
	"fmt"
	"sort"
)

// changeNode is one directory's slice of a commit's change set: the
// change terminating here, if any, and the changes below, grouped by
// their next element. sets counts Set changes at or below the node, to
// distinguish subtrees that only delete from ones that create.
type changeNode[L comparable] struct {
	change *Change[L]
	sets   int
	child  map[PathElement]*changeNode[L]
}

func (n *changeNode[L]) anyChangePath(prefix Path) Path {
	if n.change != nil {
		return prefix
	}
	for name, c := range n.child {
		if p := c.anyChangePath(prefix.Child(name)); p != nil {
			return p
		}
	}
	return nil
}

// newChangeTrie groups changes by path and rejects sets in which one
// path is a strict prefix of another, or the same path appears twice.
func newChangeTrie[L comparable](changes Changes[L]) (*changeNode[L], error) {
	root := &changeNode[L]{}
	for _, pc := range changes {
		if pc.Path.IsRoot() {
			return nil, fmt.Errorf("invalid changes: the root path cannot carry a change")
		}
		_, isSet := pc.Change.Leaf()
		node := root
		for i, name := range pc.Path {
			if node.change != nil {
				return nil, &InvalidChangesError{Path: pc.Path[:i], Conflict: pc.Path}
			}
			if isSet {
				node.sets++
			}
			if node.child == nil {
				node.child = map[PathElement]*changeNode[L]{}
			}
			next, ok := node.child[name]
			if !ok {
				next = &changeNode[L]{}
				node.child[name] = next
			}
			node = next
		}
		if node.change != nil {
			return nil, &InvalidChangesError{Path: pc.Path, Conflict: pc.Path}
		}
		if node.child != nil {
			return nil, &InvalidChangesError{Path: pc.Path, Conflict: node.anyChangePath(pc.Path)}
		}
		change := pc.Change
		node.change = &change
		if isSet {
			node.sets++
		}
	}
	return root, nil
}

// deriveIn is one pending unit of derivation work: either a directory
// to merge and rebuild, or a leaf to construct.
type deriveIn[T, L comparable] struct {
	path    Path
	name    PathElement
	parents []T
	changes *changeNode[L]
	leaf    *LeafInfo[L]
}

// deriveUnfolded carries a directory's partially-merged state from
// unfold to fold: the children already settled (reused verbatim from a
// parent), with the rest arriving as child results.
type deriveUnfolded[T, L comparable, Sum any] struct {
	path     Path
	name     PathElement
	parents  []T
	resolved []ChildInfo[T, L, Sum]
	leaf     *LeafInfo[L]
}

// deriveOut is one folded child: its finalized entry, or nil for a
// deleted/imploded one.
type deriveOut[T, L comparable, Sum any] struct {
	name    PathElement
	summary *Sum
	entry   *Entry[T, L]
}

// DeriveManifest computes the manifest of a commit from the manifests
// of its parents plus the commit's path-level changes. Zero parents
// derives the very first commit, one is linear history, two or more a
// merge.
//
// Only directories on a changed path, or on which parents disagree,
// are rebuilt: makeTree runs exactly once per such directory and
// makeLeaf exactly once per surviving changed leaf, and an unaffected
// subtree with a single contributing parent is reused by reference
// with no callback and no store write.
//
// Parents that disagree on a path, in kind or in leaf payload, make
// derivation fail with a ConflictError unless a change at exactly that
// path overrides them. Deleting a path absent from every parent is a
// no-op. A directory left without children is itself dropped.
//
// The result is nil when the commit leaves no paths at all, which
// callers may serialize differently from an empty tree. On error,
// nodes already written remain in the store (content-addressed writes
// are harmless to retain) but no usable root exists.
func DeriveManifest[T, L comparable, Sum any](
	ctx context.Context,
	loader Loader[T, L],
	concurrency int,
	parents []T,
	changes Changes[L],
	makeTree MakeTree[T, L, Sum],
	makeLeaf MakeLeaf[T, L, Sum],
) (*T, error) {
	trie, err := newChangeTrie(changes)
	if err != nil {
		return nil, err
	}
	if trie.child == nil {
		// Nothing changes: the result is a parent, verbatim, if the
		// parents agree.
		if len(parents) == 0 {
			return nil, nil
		}
		same := true
		for _, p := range parents[1:] {
			if p != parents[0] {
				same = false
				break
			}
		}
		if same {
			id := parents[0]
			return &id, nil
		}
	}

	d := &deriver[T, L, Sum]{
		loader:   loader,
		makeTree: makeTree,
		makeLeaf: makeLeaf,
	}
	root := deriveIn[T, L]{parents: dedupe(parents), changes: trie}
	out, err := boundedFold(ctx, concurrency, root, d.unfold, d.fold)
	if err != nil {
		return nil, err
	}
	if out.entry == nil {
		return nil, nil
	}
	id, ok := out.entry.Tree()
	if !ok {
		return nil, fmt.Errorf("derived a leaf at the root")
	}
	return &id, nil
}

type deriver[T, L comparable, Sum any] struct {
	loader   Loader[T, L]
	makeTree MakeTree[T, L, Sum]
	makeLeaf MakeLeaf[T, L, Sum]
}

func (d *deriver[T, L, Sum]) unfold(ctx context.Context, in deriveIn[T, L]) (deriveUnfolded[T, L, Sum], []deriveIn[T, L], error) {
	u := deriveUnfolded[T, L, Sum]{path: in.path, name: in.name, parents: in.parents, leaf: in.leaf}
	if in.leaf != nil {
		return u, nil, nil
	}

	names, byName, err := d.gather(ctx, in.parents)
	if err != nil {
		return u, nil, err
	}
	for name := range in.changes.childNames() {
		if _, ok := byName[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var children []deriveIn[T, L]
	for _, name := range names {
		entries := byName[name]
		var cn *changeNode[L]
		if in.changes != nil {
			cn = in.changes.child[name]
		}
		resolved, child, err := d.mergeName(in.path, name, entries, cn)
		if err != nil {
			return u, nil, err
		}
		if resolved != nil {
			u.resolved = append(u.resolved, *resolved)
		}
		if child != nil {
			children = append(children, *child)
		}
	}
	return u, children, nil
}

// mergeName settles one child name of a directory being derived:
// either the entry is reused from the parents as-is, or further work
// (a subdirectory merge, or leaf construction) is scheduled, or the
// name is dropped, or the parents are in unresolvable conflict.
func (d *deriver[T, L, Sum]) mergeName(
	dirPath Path,
	name PathElement,
	entries []Entry[T, L],
	cn *changeNode[L],
) (*ChildInfo[T, L, Sum], *deriveIn[T, L], error) {
	path := dirPath.Child(name)
	var treeIDs []T
	var leafVals []L
	for _, e := range entries {
		if id, ok := e.Tree(); ok {
			treeIDs = append(treeIDs, id)
		} else if v, ok := e.Leaf(); ok {
			leafVals = append(leafVals, v)
		}
	}
	treeIDs = dedupe(treeIDs)

	if cn != nil && cn.change != nil {
		leaf, isSet := cn.change.Leaf()
		if !isSet {
			// Deletion drops the entry and everything below it, and is
			// a no-op for a path no parent has.
			return nil, nil, nil
		}
		// The commit's own change wins over any disagreement between
		// parents, including a file/directory kind transition.
		return nil, &deriveIn[T, L]{
			path: path,
			name: name,
			leaf: &LeafInfo[L]{Path: path, Parents: leafVals, Change: &leaf},
		}, nil
	}

	if cn != nil && cn.sets > 0 {
		// Something is created below this name, so it is a directory
		// in the result; a parent's leaf here is implicitly deleted by
		// the deeper change.
		return nil, &deriveIn[T, L]{path: path, name: name, parents: treeIDs, changes: cn}, nil
	}

	if cn != nil && len(treeIDs) > 0 {
		// Only deletions below. They can affect tree parents; mixing
		// tree and leaf parents remains a conflict because nothing at
		// this exact path settles the kind.
		if len(leafVals) > 0 {
			return nil, nil, &ConflictError{Path: path}
		}
		return nil, &deriveIn[T, L]{path: path, name: name, parents: treeIDs, changes: cn}, nil
	}

	// No effective change at or below: the parents must agree, or be
	// mergeable directories.
	if len(entries) == 0 {
		return nil, nil, nil
	}
	equal := true
	for _, e := range entries[1:] {
		if e != entries[0] {
			equal = false
			break
		}
	}
	if equal {
		return &ChildInfo[T, L, Sum]{Name: name, Entry: entries[0]}, nil, nil
	}
	if len(leafVals) > 0 {
		// Differing leaves, or a leaf against a tree.
		return nil, nil, &ConflictError{Path: path}
	}
	// Distinct subtrees merge recursively.
	return nil, &deriveIn[T, L]{path: path, name: name, parents: treeIDs}, nil
}

func (d *deriver[T, L, Sum]) fold(ctx context.Context, u deriveUnfolded[T, L, Sum], results []deriveOut[T, L, Sum]) (deriveOut[T, L, Sum], error) {
	if u.leaf != nil {
		sum, leaf, err := d.makeLeaf(ctx, *u.leaf)
		if err != nil {
			return deriveOut[T, L, Sum]{}, fmt.Errorf("make leaf %q: %w", u.leaf.Path, err)
		}
		e := LeafEntry[T, L](leaf)
		return deriveOut[T, L, Sum]{name: u.name, summary: &sum, entry: &e}, nil
	}

	children := u.resolved
	for _, r := range results {
		if r.entry == nil {
			continue
		}
		children = append(children, ChildInfo[T, L, Sum]{Name: r.name, Summary: r.summary, Entry: *r.entry})
	}
	if len(children) == 0 {
		// A directory does not exist apart from its contents; dropping
		// the last child drops the directory.
		return deriveOut[T, L, Sum]{name: u.name}, nil
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	sum, id, err := d.makeTree(ctx, TreeInfo[T, L, Sum]{Path: u.path, Parents: u.parents, Children: children})
	if err != nil {
		return deriveOut[T, L, Sum]{}, fmt.Errorf("make tree %q: %w", u.path, err)
	}
	e := TreeEntry[T, L](id)
	return deriveOut[T, L, Sum]{name: u.name, summary: &sum, entry: &e}, nil
}

// gather lists every parent's children, keyed by name, entries in
// parent order.
func (d *deriver[T, L, Sum]) gather(ctx context.Context, parents []T) ([]PathElement, map[PathElement][]Entry[T, L], error) {
	byName := map[PathElement][]Entry[T, L]{}
	var names []PathElement
	for _, id := range parents {
		m, err := d.loader.LoadTree(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("load parent %v: %w", id, err)
		}
		err = m.List(ctx, func(name PathElement, e Entry[T, L]) (bool, error) {
			if _, ok := byName[name]; !ok {
				names = append(names, name)
			}
			byName[name] = append(byName[name], e)
			return true, nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("list parent %v: %w", id, err)
		}
	}
	return names, byName, nil
}

func (n *changeNode[L]) childNames() map[PathElement]*changeNode[L] {
	if n == nil {
		return nil
	}
	return n.child
}

func dedupe[T comparable](ids []T) []T {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[T]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
