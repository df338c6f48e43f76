package manifest

import lru "github.com/hashicorp/golang-lru"

// NodeCache caches immutable, already-deserialized tree nodes by id.
// It is also used to avoid re-storing nodes, so care should be taken
// to switch/invalidate the NodeCache when the Persist is changed. One
// cache can be shared by any number of trees and traversals.
type NodeCache interface {
	// Add adds a freshly-loaded or freshly-persisted node to the cache.
	Add(key, value interface{})
	// Contains indicates the node with the given key has already been
	// persisted.
	Contains(key interface{}) bool
	// Get retrieves the already-deserialized node with the given id,
	// if cached.
	Get(key interface{}) (value interface{}, ok bool)
}

// NewNodeCache creates a new LRU-based node cache of the given size.
func NewNodeCache(size int) NodeCache {
	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}
	return cache
}
