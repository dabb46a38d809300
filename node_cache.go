package grove

import lru "github.com/hashicorp/golang-lru"

// NodeCache caches deserialized tree nodes and commits loaded from a
// Persist. It is also consulted before re-storing objects, so care
// should be taken to switch/invalidate the NodeCache when the Persist
// is changed.
type NodeCache interface {
	// Add adds a freshly-persisted object to the cache.
	Add(key, value interface{})
	// Contains indicates the object with the given key has already been persisted.
	Contains(key interface{}) bool
	// Get retrieves the already-deserialized object with the given key, if cached.
	Get(key interface{}) (value interface{}, ok bool)
}

// NewNodeCache creates a new LRU-based object cache of the given
// size. One cache can be shared by any number of DBs backed by the
// same Persist.
func NewNodeCache(size int) NodeCache {
	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}
	return cache
}
