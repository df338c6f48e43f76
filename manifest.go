package manifest

import "context"

// Persist is the interface for loading and storing serialized tree
// nodes. The given string identity corresponds to the content, which
// is immutable (never modified). Store of already-present content must
// succeed without rewriting; Load of absent content must return an
// error wrapping ErrNotFound.
type Persist interface {
	Store(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}

// Manifest is the minimal read capability a stored tree node exposes
// to the engine. Implementations enumerate children in canonical
// (bytewise name) order. This is the only contract the engine requires
// from a concrete node representation; byte layout is entirely the
// concrete kind's business.
type Manifest[T, L comparable] interface {
	// List invokes fn for every child in canonical order. fn returning
	// false stops the enumeration without error.
	List(ctx context.Context, fn func(PathElement, Entry[T, L]) (bool, error)) error
	// ListPrefix is List restricted to names whose bytes start with
	// prefix.
	ListPrefix(ctx context.Context, prefix []byte, fn func(PathElement, Entry[T, L]) (bool, error)) error
	// ListAfter is List restricted to names sorting strictly after
	// the given name.
	ListAfter(ctx context.Context, after PathElement, fn func(PathElement, Entry[T, L]) (bool, error)) error
	// Lookup returns the entry with exactly the given name, if any.
	Lookup(ctx context.Context, name PathElement) (Entry[T, L], bool, error)
}

// Loader resolves tree ids to their stored nodes. A Loader backed by a
// shared NodeCache may be reused across any number of derivations and
// diffs; the engine only ever reads through it.
type Loader[T, L comparable] interface {
	LoadTree(ctx context.Context, id T) (Manifest[T, L], error)
}

// listAll collects a manifest's children into a slice, in canonical
// order.
func listAll[T, L comparable](ctx context.Context, m Manifest[T, L]) ([]ChildInfo[T, L, struct{}], error) {
	var children []ChildInfo[T, L, struct{}]
	err := m.List(ctx, func(name PathElement, e Entry[T, L]) (bool, error) {
		children = append(children, ChildInfo[T, L, struct{}]{Name: name, Entry: e})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}
