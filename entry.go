package manifest

import (
	"context"
	"fmt"
)

// Entry is a named child of a tree node: either a reference to a
// stored subtree, or a leaf payload. Both type parameters are
// comparable so entries themselves compare with ==, which is what lets
// diff and derivation skip work on identical entries.
//
// The engine never interprets T or L; all domain meaning lives in the
// concrete kind's Manifest implementation and in the construction
// callbacks passed to DeriveManifest.
type Entry[T, L comparable] struct {
	isTree bool
	tree   T
	leaf   L
}

// TreeEntry returns an Entry referencing the subtree with the given id.
func TreeEntry[T, L comparable](id T) Entry[T, L] {
	return Entry[T, L]{isTree: true, tree: id}
}

// LeafEntry returns an Entry holding the given leaf payload.
func LeafEntry[T, L comparable](leaf L) Entry[T, L] {
	return Entry[T, L]{leaf: leaf}
}

// IsTree reports whether e references a subtree.
func (e Entry[T, L]) IsTree() bool { return e.isTree }

// Tree returns the subtree id, and whether e is a tree reference.
func (e Entry[T, L]) Tree() (T, bool) { return e.tree, e.isTree }

// Leaf returns the leaf payload, and whether e is a leaf.
func (e Entry[T, L]) Leaf() (L, bool) { return e.leaf, !e.isTree }

func (e Entry[T, L]) String() string {
	if e.isTree {
		return fmt.Sprintf("tree(%v)", e.tree)
	}
	return fmt.Sprintf("leaf(%v)", e.leaf)
}

// Change is one per-path input to derivation: set a leaf, or delete
// whatever is at the path.
type Change[L comparable] struct {
	leaf    *L
	deleted bool
}

// Set returns a Change that creates or replaces the leaf at its path.
func Set[L comparable](leaf L) Change[L] {
	return Change[L]{leaf: &leaf}
}

// Delete returns a Change that removes the entry at its path, along
// with everything below it.
func Delete[L comparable]() Change[L] {
	return Change[L]{deleted: true}
}

// Leaf returns the new leaf payload, and false for a deletion.
func (c Change[L]) Leaf() (L, bool) {
	if c.deleted {
		var zero L
		return zero, false
	}
	return *c.leaf, true
}

// PathChange pairs a Change with the path it applies to.
type PathChange[L comparable] struct {
	Path   Path
	Change Change[L]
}

// Changes is a commit's flat path-level delta. Order is insignificant;
// derivation rejects a set in which any path is a strict prefix of, or
// equal to, another.
type Changes[L comparable] []PathChange[L]

// Add appends a Set change.
func (cs *Changes[L]) Add(p Path, leaf L) {
	*cs = append(*cs, PathChange[L]{p, Set(leaf)})
}

// Remove appends a Delete change.
func (cs *Changes[L]) Remove(p Path) {
	*cs = append(*cs, PathChange[L]{p, Delete[L]()})
}

// ChildInfo is one finalized child of a directory being constructed.
// Summary is the value the child's own construction callback returned,
// and is nil when the child was reused verbatim from a parent (no
// callback ran for it).
type ChildInfo[T, L comparable, Sum any] struct {
	Name    PathElement
	Summary *Sum
	Entry   Entry[T, L]
}

// TreeInfo is the input to the tree-construction callback: the
// directory's path (root for the top), the parent tree ids that
// contributed entries to it, and its children, unique and in canonical
// name order.
type TreeInfo[T, L comparable, Sum any] struct {
	Path     Path
	Parents  []T
	Children []ChildInfo[T, L, Sum]
}

// LeafInfo is the input to the leaf-construction callback: the leaf's
// path, the payloads of whichever parents had leaves there, and the
// commit's own new payload if the leaf is being created or replaced
// (nil when the callback runs only to reconcile parents).
type LeafInfo[L comparable] struct {
	Path    Path
	Parents []L
	Change  *L
}

// MakeTree persists one freshly-constructed directory and returns its
// id plus a summary for the directory's own parent. It is invoked
// exactly once per directory that derivation actually rebuilds.
type MakeTree[T, L comparable, Sum any] func(ctx context.Context, info TreeInfo[T, L, Sum]) (Sum, T, error)

// MakeLeaf finalizes one leaf and returns its payload plus a summary
// for the enclosing directory.
type MakeLeaf[T, L comparable, Sum any] func(ctx context.Context, info LeafInfo[L]) (Sum, L, error)

// DiffType discriminates diff events.
type DiffType int

const (
	// Added: the path exists only in the right manifest.
	Added DiffType = iota
	// Removed: the path exists only in the left manifest.
	Removed
	// Changed: the path exists in both with differing entries of the
	// same kind. A kind transition (file to directory or back) is
	// reported as a Removed plus an Added, never as Changed.
	Changed
)

func (t DiffType) String() string {
	switch t {
	case Added:
		return "Added"
	case Removed:
		return "Removed"
	case Changed:
		return "Changed"
	}
	panic(fmt.Sprintf("unsupported DiffType %d", int(t)))
}

// DiffEntry is one event from the diff engine. Old is set for Removed
// and Changed, New for Added and Changed.
type DiffEntry[T, L comparable] struct {
	Type DiffType
	Path Path
	Old  *Entry[T, L]
	New  *Entry[T, L]
}

func (d DiffEntry[T, L]) String() string {
	switch d.Type {
	case Added:
		return fmt.Sprintf("<Added %s %v>", d.Path, *d.New)
	case Removed:
		return fmt.Sprintf("<Removed %s %v>", d.Path, *d.Old)
	default:
		return fmt.Sprintf("<Changed %s %v -> %v>", d.Path, *d.Old, *d.New)
	}
}
