package manifest

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/minio/blake2b-simd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeStoreDeterministicIDs(t *testing.T) {
	t.Parallel()
	files := map[string]string{"a/b": "1", "a/c": "2", "d": "3"}
	// two stores, no shared state, same content
	r1 := mustDerive(t, newTestStore(), nil, changesOf(files))
	r2 := mustDerive(t, newTestStore(), nil, changesOf(files))
	assert.Equal(t, r1, r2)

	r3 := mustDerive(t, newTestStore(), nil, changesOf(map[string]string{
		"a/b": "1", "a/c": "2", "d": "different",
	}))
	assert.NotEqual(t, r1, r3)
}

func TestNodeStoreRoundTrip(t *testing.T) {
	t.Parallel()
	persist := NewInMemoryStore()
	root := mustDerive(t, NewNodeStore[string](StoreConfig{Persist: persist}),
		nil, changesOf(map[string]string{"a/b": "1", "c": "2"}))

	// a fresh store over the same persisted bytes sees the same tree
	s2 := NewNodeStore[string](StoreConfig{Persist: persist})
	assert.Equal(t, map[string]string{"a/b": "1", "c": "2"}, leafMap(t, s2, root))
}

func TestNodeStoreLoadMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	_, err := s.LoadTree(ctx, "definitely-not-stored")
	require.ErrorIs(t, err, ErrNotFound)
}

func storeRaw(t *testing.T, persist Persist, n Node) string {
	t.Helper()
	encoded, err := json.Marshal(n)
	require.NoError(t, err)
	hash := blake2b.Sum256(encoded)
	id := base64.RawURLEncoding.EncodeToString(hash[:])
	require.NoError(t, persist.Store(ctx, id, encoded))
	return id
}

func TestNodeStoreRejectsMalformedNodes(t *testing.T) {
	t.Parallel()
	persist := NewInMemoryStore()
	s := NewNodeStore[string](StoreConfig{Persist: persist})

	leaf := func(v string) []byte {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}

	id := storeRaw(t, persist, Node{
		Name: []string{"b", "a"},
		Leaf: [][]byte{leaf("1"), leaf("2")},
		Link: []string{"", ""},
	})
	_, err := s.LoadTree(ctx, id)
	assert.ErrorContains(t, err, "out of order")

	id = storeRaw(t, persist, Node{
		Name: []string{""},
		Leaf: [][]byte{leaf("1")},
		Link: []string{""},
	})
	_, err = s.LoadTree(ctx, id)
	assert.ErrorContains(t, err, "empty child name")

	id = storeRaw(t, persist, Node{
		Name: []string{"a", "b"},
		Leaf: [][]byte{leaf("1")},
		Link: []string{""},
	})
	_, err = s.LoadTree(ctx, id)
	assert.ErrorContains(t, err, "mismatched")

	require.NoError(t, persist.Store(ctx, "garbage", []byte("not json")))
	_, err = s.LoadTree(ctx, "garbage")
	assert.ErrorContains(t, err, "unmarshal")
}

func TestNodeStoreCacheSkipsLoads(t *testing.T) {
	t.Parallel()
	persist := newCountingPersist()
	s := NewNodeStore[string](StoreConfig{Persist: persist, NodeCache: NewNodeCache(64)})
	root := mustDerive(t, s, nil, changesOf(map[string]string{"a/b": "1"}))

	// MakeTree primed the cache; enumeration needs no store reads
	_ = leafMap(t, s, root)
	assert.Equal(t, 0, persist.maxLoads())

	// a store sharing the cache also skips the loads
	s2 := NewNodeStore[string](StoreConfig{Persist: persist, NodeCache: s.cache})
	_ = leafMap(t, s2, root)
	assert.Equal(t, 0, persist.maxLoads())
}

func TestNodeStoreCustomCodec(t *testing.T) {
	t.Parallel()
	marshals := 0
	s := NewNodeStore[string](StoreConfig{
		Persist: NewInMemoryStore(),
		Marshal: func(i interface{}) ([]byte, error) {
			marshals++
			return json.Marshal(i)
		},
		Unmarshal: json.Unmarshal,
	})
	root := mustDerive(t, s, nil, changesOf(map[string]string{"a": "1"}))
	assert.Positive(t, marshals)
	assert.Equal(t, map[string]string{"a": "1"}, leafMap(t, s, root))
}

func TestMakeLeafReconcilesParents(t *testing.T) {
	t.Parallel()
	s := newTestStore()

	change := "new"
	sum, leaf, err := s.MakeLeaf(ctx, LeafInfo[string]{
		Path: MustParsePath("p"), Parents: []string{"old"}, Change: &change,
	})
	require.NoError(t, err)
	assert.Equal(t, "new", leaf)
	assert.Equal(t, Summary{NewLeaves: 1}, sum)

	_, leaf, err = s.MakeLeaf(ctx, LeafInfo[string]{
		Path: MustParsePath("p"), Parents: []string{"same", "same"},
	})
	require.NoError(t, err)
	assert.Equal(t, "same", leaf)

	_, _, err = s.MakeLeaf(ctx, LeafInfo[string]{
		Path: MustParsePath("p"), Parents: []string{"left", "right"},
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	_, _, err = s.MakeLeaf(ctx, LeafInfo[string]{Path: MustParsePath("p")})
	require.Error(t, err)
}

func TestInMemoryStore(t *testing.T) {
	t.Parallel()
	p := NewInMemoryStore()
	require.NoError(t, p.Store(ctx, "k", []byte("v")))
	got, err := p.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// storing identical content again is fine
	require.NoError(t, p.Store(ctx, "k", []byte("v")))

	_, err = p.Load(ctx, "absent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNodeStoreConcurrencyLimitRespected(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	files := map[string]string{}
	for _, a := range []string{"q", "r", "s", "t"} {
		for _, b := range []string{"w", "x", "y", "z"} {
			files[a+"/"+b] = a + b
		}
	}
	root, err := s.Derive(ctx, 1, nil, changesOf(files))
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, files, leafMap(t, s, *root))
}
