package manifest

import (
	"context"
	"fmt"
)

// stackCacheSize bounds the nodes held across one stack derivation; a
// directory untouched by the whole stack is fetched at most once as
// long as it stays resident.
const stackCacheSize = 16 * 1024

// CachedLoader wraps a Loader with a NodeCache, so repeated traversals
// of overlapping trees (consecutive commits of a stack, a diff after a
// derive) resolve shared subtrees without a store round-trip.
type CachedLoader[T, L comparable] struct {
	loader Loader[T, L]
	cache  NodeCache
}

// NewCachedLoader returns a Loader reading through the given cache.
// The cache may be shared; it must not outlive the underlying store's
// contents.
func NewCachedLoader[T, L comparable](loader Loader[T, L], cache NodeCache) *CachedLoader[T, L] {
	return &CachedLoader[T, L]{loader: loader, cache: cache}
}

func (c *CachedLoader[T, L]) LoadTree(ctx context.Context, id T) (Manifest[T, L], error) {
	if v, ok := c.cache.Get(id); ok {
		return v.(Manifest[T, L]), nil
	}
	m, err := c.loader.LoadTree(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, m)
	return m, nil
}

// StackCommit is one commit of a linear run: an identifier meaningful
// to the caller, and the commit's changes.
type StackCommit[L comparable] struct {
	ID      string
	Changes Changes[L]
}

// StackResult is the derived tree for one commit of the run. Tree is
// nil when that commit leaves no paths.
type StackResult[T comparable] struct {
	ID   string
	Tree *T
}

// DeriveManifestStack derives manifests for a linear run of commits,
// each chaining on the one before it (the first on parent, which may
// be nil for a repository-creating run). Results are byte-identical to
// calling DeriveManifest once per commit in order; the point of the
// combined call is that per-directory state is cached across the whole
// stack, so a directory no commit touches costs at most one fetch.
func DeriveManifestStack[T, L comparable, Sum any](
	ctx context.Context,
	loader Loader[T, L],
	concurrency int,
	parent *T,
	commits []StackCommit[L],
	makeTree MakeTree[T, L, Sum],
	makeLeaf MakeLeaf[T, L, Sum],
) ([]StackResult[T], error) {
	cached := NewCachedLoader(loader, NewNodeCache(stackCacheSize))
	results := make([]StackResult[T], 0, len(commits))
	for _, commit := range commits {
		var parents []T
		if parent != nil {
			parents = []T{*parent}
		}
		id, err := DeriveManifest[T, L, Sum](ctx, cached, concurrency, parents, commit.Changes, makeTree, makeLeaf)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", commit.ID, err)
		}
		results = append(results, StackResult[T]{ID: commit.ID, Tree: id})
		parent = id
	}
	return results, nil
}
