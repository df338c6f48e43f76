package manifest

import (
	"context"
	"fmt"
)

// PathEntry pairs an entry with the path it was found at.
type PathEntry[T, L comparable] struct {
	Path  Path
	Entry Entry[T, L]
}

// FindEntry looks up the entry at exactly the given path, in one store
// fetch per path component. An absent path is (zero, false, nil), not
// an error. The root path resolves to the root's own tree entry.
func FindEntry[T, L comparable](
	ctx context.Context,
	loader Loader[T, L],
	root T,
	path Path,
) (Entry[T, L], bool, error) {
	e := TreeEntry[T, L](root)
	for i, name := range path {
		id, ok := e.Tree()
		if !ok {
			return Entry[T, L]{}, false, nil
		}
		m, err := loader.LoadTree(ctx, id)
		if err != nil {
			return Entry[T, L]{}, false, fmt.Errorf("load %v: %w", id, err)
		}
		child, ok, err := m.Lookup(ctx, name)
		if err != nil {
			return Entry[T, L]{}, false, fmt.Errorf("lookup %q: %w", path[:i+1], err)
		}
		if !ok {
			return Entry[T, L]{}, false, nil
		}
		e = child
	}
	return e, true, nil
}

// PathOrPrefix is one request to FindEntries: either the entry at an
// exact path, or every entry at or below a prefix.
type PathOrPrefix struct {
	path   Path
	prefix bool
}

// PathRequest asks for the entry at exactly p.
func PathRequest(p Path) PathOrPrefix {
	return PathOrPrefix{path: p}
}

// PrefixRequest asks for every entry at or below p, recursively.
func PrefixRequest(p Path) PathOrPrefix {
	return PathOrPrefix{path: p, prefix: true}
}

// reqNode is the requests of one FindEntries call merged into a trie,
// so overlapping requests resolve each node once.
type reqNode struct {
	exact  bool
	prefix bool
	child  map[PathElement]*reqNode
}

func newReqTrie(requests []PathOrPrefix) *reqNode {
	root := &reqNode{}
	for _, r := range requests {
		node := root
		for _, name := range r.path {
			if node.child == nil {
				node.child = map[PathElement]*reqNode{}
			}
			next, ok := node.child[name]
			if !ok {
				next = &reqNode{}
				node.child[name] = next
			}
			node = next
		}
		if r.prefix {
			node.prefix = true
		} else {
			node.exact = true
		}
	}
	return root
}

type findIn[T, L comparable] struct {
	path     Path
	entry    Entry[T, L]
	node     *reqNode
	inPrefix bool
}

// FindEntries resolves a batch of exact-path and prefix requests
// against one tree, visiting each reachable entry exactly once even
// when requests overlap (an exact path inside a requested prefix is
// not reported twice). Delivery order is unspecified.
func FindEntries[T, L comparable](
	ctx context.Context,
	loader Loader[T, L],
	concurrency int,
	root T,
	requests []PathOrPrefix,
	visit func(Path, Entry[T, L]) (bool, error),
) error {
	trie := newReqTrie(requests)
	roots := []findIn[T, L]{{entry: TreeEntry[T, L](root), node: trie}}
	unfold := func(ctx context.Context, in findIn[T, L]) ([]PathEntry[T, L], []findIn[T, L], error) {
		var out []PathEntry[T, L]
		inPrefix := in.inPrefix || (in.node != nil && in.node.prefix)
		if inPrefix || in.node.exact {
			out = append(out, PathEntry[T, L]{Path: in.path, Entry: in.entry})
		}
		id, isTree := in.entry.Tree()
		if !isTree {
			return out, nil, nil
		}
		if !inPrefix && len(in.node.child) == 0 {
			return out, nil, nil
		}
		m, err := loader.LoadTree(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("load %v: %w", id, err)
		}
		var children []findIn[T, L]
		if inPrefix {
			// Everything below is wanted; request-trie children no
			// longer matter, they are subsumed.
			err = m.List(ctx, func(name PathElement, e Entry[T, L]) (bool, error) {
				children = append(children, findIn[T, L]{path: in.path.Child(name), entry: e, inPrefix: true})
				return true, nil
			})
			if err != nil {
				return nil, nil, err
			}
			return out, children, nil
		}
		for name, node := range in.node.child {
			e, ok, err := m.Lookup(ctx, name)
			if err != nil {
				return nil, nil, fmt.Errorf("lookup %q: %w", in.path.Child(name), err)
			}
			if !ok {
				continue
			}
			children = append(children, findIn[T, L]{path: in.path.Child(name), entry: e, node: node})
		}
		return out, children, nil
	}
	return BoundedStream(ctx, concurrency, roots, unfold, func(pe PathEntry[T, L]) (bool, error) {
		return visit(pe.Path, pe.Entry)
	})
}

// ListAllEntries enumerates every entry of a tree depth-first,
// intermediate trees included, starting with the root's own entry.
// The walk is lazy: returning keepGoing=false stops it, and the
// sequence restarts from the top on a fresh call.
func ListAllEntries[T, L comparable](
	ctx context.Context,
	loader Loader[T, L],
	concurrency int,
	root T,
	visit func(Path, Entry[T, L]) (bool, error),
) error {
	return listEntries(ctx, loader, concurrency, root, false, visit)
}

// ListLeafEntries is ListAllEntries restricted to leaves.
func ListLeafEntries[T, L comparable](
	ctx context.Context,
	loader Loader[T, L],
	concurrency int,
	root T,
	visit func(Path, L) (bool, error),
) error {
	return listEntries(ctx, loader, concurrency, root, true, func(p Path, e Entry[T, L]) (bool, error) {
		leaf, ok := e.Leaf()
		if !ok {
			return true, nil
		}
		return visit(p, leaf)
	})
}

func listEntries[T, L comparable](
	ctx context.Context,
	loader Loader[T, L],
	concurrency int,
	root T,
	leavesOnly bool,
	visit func(Path, Entry[T, L]) (bool, error),
) error {
	roots := []PathEntry[T, L]{{Entry: TreeEntry[T, L](root)}}
	unfold := func(ctx context.Context, in PathEntry[T, L]) ([]PathEntry[T, L], []PathEntry[T, L], error) {
		var out []PathEntry[T, L]
		if !leavesOnly || !in.Entry.IsTree() {
			out = append(out, in)
		}
		id, ok := in.Entry.Tree()
		if !ok {
			return out, nil, nil
		}
		m, err := loader.LoadTree(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("load %v: %w", id, err)
		}
		var children []PathEntry[T, L]
		err = m.List(ctx, func(name PathElement, e Entry[T, L]) (bool, error) {
			children = append(children, PathEntry[T, L]{Path: in.Path.Child(name), Entry: e})
			return true, nil
		})
		if err != nil {
			return nil, nil, err
		}
		return out, children, nil
	}
	return BoundedStreamOrdered(ctx, concurrency, roots, unfold, func(pe PathEntry[T, L]) (bool, error) {
		return visit(pe.Path, pe.Entry)
	})
}
