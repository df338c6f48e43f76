package manifest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/minio/blake2b-simd"
)

var (
	defaultUnmarshal = json.Unmarshal
	defaultMarshal   = json.Marshal
)

// StoreConfig controls how NodeStore nodes are persisted and loaded.
type StoreConfig struct {
	// Persist stores and loads serialized nodes.
	Persist Persist

	// Marshal function, defaults to JSON.
	Marshal func(interface{}) ([]byte, error)

	// Unmarshal function, defaults to JSON.
	Unmarshal func([]byte, interface{}) error

	// NodeCache caches deserialized nodes and may be shared across
	// multiple trees. Optional.
	NodeCache NodeCache
}

// NodeStore is the default derived-data kind: a manifest whose nodes
// are serialized child lists addressed by the blake2b-256 of their
// bytes. Leaf payloads are stored inline. It implements Loader and
// supplies the construction callbacks for derivation, so a NodeStore
// plus a Persist is a complete, usable manifest kind; other kinds with
// their own node formats implement the same interfaces against their
// own bytes.
//
// Identity rests on blake2b collision resistance: two nodes with equal
// ids are taken to be equal everywhere, without re-verification.
type NodeStore[L comparable] struct {
	persist   Persist
	marshal   func(interface{}) ([]byte, error)
	unmarshal func([]byte, interface{}) error
	cache     NodeCache
}

// NewNodeStore returns a NodeStore reading and writing nodes through
// config.Persist.
func NewNodeStore[L comparable](config StoreConfig) *NodeStore[L] {
	s := &NodeStore[L]{
		persist:   config.Persist,
		marshal:   config.Marshal,
		unmarshal: config.Unmarshal,
		cache:     config.NodeCache,
	}
	if s.marshal == nil {
		s.marshal = defaultMarshal
	}
	if s.unmarshal == nil {
		s.unmarshal = defaultUnmarshal
	}
	return s
}

// Node is the wire layout of one directory: parallel arrays of child
// names, inline leaf payload bytes (nil for subtrees), and subtree ids
// ("" for leaves). It is exported so alternate codecs (a protobuf
// marshal, say) can be plugged in through StoreConfig.
type Node struct {
	Name []string
	Leaf [][]byte `json:",omitempty"`
	Link []string `json:",omitempty"`
}

// Summary counts what one derivation freshly constructed at or below a
// node. Reused subtrees contribute nothing; the root summary is the
// cost of the commit, not the size of the tree.
type Summary struct {
	NewLeaves int
	NewTrees  int
}

// nodeChild is one deserialized child entry.
type nodeChild[L comparable] struct {
	name  PathElement
	entry Entry[string, L]
}

// nodeManifest is a deserialized node; children are in canonical
// order.
type nodeManifest[L comparable] struct {
	children []nodeChild[L]
}

var _ Manifest[string, string] = (*nodeManifest[string])(nil)

func (m *nodeManifest[L]) List(ctx context.Context, fn func(PathElement, Entry[string, L]) (bool, error)) error {
	for _, c := range m.children {
		keepGoing, err := fn(c.name, c.entry)
		if err != nil || !keepGoing {
			return err
		}
	}
	return nil
}

func (m *nodeManifest[L]) ListPrefix(ctx context.Context, prefix []byte, fn func(PathElement, Entry[string, L]) (bool, error)) error {
	start := sort.Search(len(m.children), func(i int) bool {
		return string(m.children[i].name) >= string(prefix)
	})
	for _, c := range m.children[start:] {
		if !c.name.HasBytePrefix(prefix) {
			return nil
		}
		keepGoing, err := fn(c.name, c.entry)
		if err != nil || !keepGoing {
			return err
		}
	}
	return nil
}

func (m *nodeManifest[L]) ListAfter(ctx context.Context, after PathElement, fn func(PathElement, Entry[string, L]) (bool, error)) error {
	start := sort.Search(len(m.children), func(i int) bool {
		return m.children[i].name > after
	})
	for _, c := range m.children[start:] {
		keepGoing, err := fn(c.name, c.entry)
		if err != nil || !keepGoing {
			return err
		}
	}
	return nil
}

func (m *nodeManifest[L]) Lookup(ctx context.Context, name PathElement) (Entry[string, L], bool, error) {
	i := sort.Search(len(m.children), func(i int) bool {
		return m.children[i].name >= name
	})
	if i < len(m.children) && m.children[i].name == name {
		return m.children[i].entry, true, nil
	}
	return Entry[string, L]{}, false, nil
}

// LoadTree fetches and deserializes the node with the given id.
func (s *NodeStore[L]) LoadTree(ctx context.Context, id string) (Manifest[string, L], error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(id); ok {
			return v.(*nodeManifest[L]), nil
		}
	}
	data, err := s.persist.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("persist load %s: %w", id, err)
	}
	var stored Node
	if err := s.unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", id, err)
	}
	if len(stored.Leaf) != len(stored.Name) || len(stored.Link) != len(stored.Name) {
		return nil, fmt.Errorf("cannot unmarshal %s: mismatched names, leaves, and links", id)
	}
	m := nodeManifest[L]{children: make([]nodeChild[L], len(stored.Name))}
	for i, name := range stored.Name {
		if name == "" {
			return nil, fmt.Errorf("cannot unmarshal %s: empty child name", id)
		}
		m.children[i].name = PathElement(name)
		if stored.Link[i] != "" {
			m.children[i].entry = TreeEntry[string, L](stored.Link[i])
			continue
		}
		var leaf L
		if err := s.unmarshal(stored.Leaf[i], &leaf); err != nil {
			return nil, fmt.Errorf("cannot unmarshal leaf[%d] in %s: %w", i, id, err)
		}
		m.children[i].entry = LeafEntry[string, L](leaf)
	}
	if !sort.SliceIsSorted(m.children, func(i, j int) bool { return m.children[i].name < m.children[j].name }) {
		return nil, fmt.Errorf("cannot unmarshal %s: children out of order", id)
	}
	if s.cache != nil {
		s.cache.Add(id, &m)
	}
	return &m, nil
}

// MakeTree serializes and persists one freshly-derived directory,
// returning its content address. Suitable as the makeTree callback of
// DeriveManifest.
func (s *NodeStore[L]) MakeTree(ctx context.Context, info TreeInfo[string, L, Summary]) (Summary, string, error) {
	sum := Summary{NewTrees: 1}
	stored := Node{
		Name: make([]string, len(info.Children)),
		Leaf: make([][]byte, len(info.Children)),
		Link: make([]string, len(info.Children)),
	}
	m := nodeManifest[L]{children: make([]nodeChild[L], len(info.Children))}
	for i, c := range info.Children {
		if c.Summary != nil {
			sum.NewLeaves += c.Summary.NewLeaves
			sum.NewTrees += c.Summary.NewTrees
		}
		stored.Name[i] = string(c.Name)
		m.children[i] = nodeChild[L]{name: c.Name, entry: c.Entry}
		if id, ok := c.Entry.Tree(); ok {
			stored.Link[i] = id
			continue
		}
		leaf, _ := c.Entry.Leaf()
		data, err := s.marshal(leaf)
		if err != nil {
			return Summary{}, "", fmt.Errorf("marshal leaf %q: %w", info.Path.Child(c.Name), err)
		}
		stored.Leaf[i] = data
	}
	encoded, err := s.marshal(stored)
	if err != nil {
		return Summary{}, "", fmt.Errorf("marshal node %q: %w", info.Path, err)
	}
	hashBytes := blake2b.Sum256(encoded)
	id := base64.RawURLEncoding.EncodeToString(hashBytes[:])
	if s.cache != nil && s.cache.Contains(id) {
		return sum, id, nil
	}
	if err := s.persist.Store(ctx, id, encoded); err != nil {
		return Summary{}, "", fmt.Errorf("persist store: %w", err)
	}
	if s.cache != nil {
		s.cache.Add(id, &m)
	}
	return sum, id, nil
}

// MakeLeaf finalizes one leaf. The payload is the commit's own change
// when there is one, otherwise the parents' shared payload. Suitable
// as the makeLeaf callback of DeriveManifest.
func (s *NodeStore[L]) MakeLeaf(ctx context.Context, info LeafInfo[L]) (Summary, L, error) {
	if info.Change != nil {
		return Summary{NewLeaves: 1}, *info.Change, nil
	}
	var zero L
	if len(info.Parents) == 0 {
		return Summary{}, zero, fmt.Errorf("leaf %q has neither change nor parents", info.Path)
	}
	for _, p := range info.Parents[1:] {
		if p != info.Parents[0] {
			return Summary{}, zero, &ConflictError{Path: info.Path}
		}
	}
	return Summary{NewLeaves: 1}, info.Parents[0], nil
}

// Derive derives the manifest of one commit in this store.
func (s *NodeStore[L]) Derive(ctx context.Context, concurrency int, parents []string, changes Changes[L]) (*string, error) {
	return DeriveManifest[string, L, Summary](ctx, s, concurrency, parents, changes, s.MakeTree, s.MakeLeaf)
}

// DeriveStack derives a linear run of commits in this store.
func (s *NodeStore[L]) DeriveStack(ctx context.Context, concurrency int, parent *string, commits []StackCommit[L]) ([]StackResult[string], error) {
	return DeriveManifestStack[string, L, Summary](ctx, s, concurrency, parent, commits, s.MakeTree, s.MakeLeaf)
}
