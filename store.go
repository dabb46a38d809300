package grove

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// Persist is the interface for loading and storing serialized
// objects. The given string name corresponds to the content, which is
// immutable: a Persist is never asked to overwrite a name with
// different bytes, so Store may skip names it already holds.
type Persist interface {
	// Store makes the given bytes accessible by the given name.
	Store(ctx context.Context, name string, value []byte) error
	// Load retrieves the previously-stored bytes by the given name.
	Load(ctx context.Context, name string) ([]byte, error)
	// Has indicates whether bytes have been stored by the given name.
	Has(ctx context.Context, name string) (bool, error)
}

// Config controls how a DB serializes values and where it keeps its
// objects.
type Config struct {
	// ValuesLike is an instance of the type tree values will be
	// deserialized as. If nil, values are deserialized as whatever the
	// Unmarshal function produces for an untyped interface{}.
	ValuesLike interface{}

	// StoreImmutablePartsWith is used to store and load serialized
	// objects. Defaults to a fresh in-memory store.
	StoreImmutablePartsWith Persist

	// Marshal function for tree values, defaults to JSON. Equal values
	// must encode to equal bytes, or merges will see them as divergent
	// and equal trees will get distinct keys.
	Marshal func(interface{}) ([]byte, error)

	// Unmarshal function for tree values, defaults to JSON.
	Unmarshal func([]byte, interface{}) error

	// DigestWith derives object names from content, defaults to
	// DefaultDigest. Stores that synchronize with each other must
	// agree on it.
	DigestWith Digest

	// NodeCache caches deserialized tree nodes and commits, and may be
	// shared across multiple DBs using the same Persist.
	NodeCache NodeCache
}

// DB is a store handle: a content-addressed object heap plus a set of
// named branches. The object heap may be shared by any number of
// concurrent readers and writers; branch updates are serialized per
// name by compare-and-set.
type DB struct {
	persist   Persist
	digest    Digest
	marshal   func(interface{}) ([]byte, error)
	unmarshal func([]byte, interface{}) error
	zeroValue interface{}
	nodeCache NodeCache
	branches  branchStore
}

// NewDB creates a store handle per the given configuration.
func NewDB(config Config) *DB {
	db := DB{
		persist:   config.StoreImmutablePartsWith,
		digest:    config.DigestWith,
		marshal:   config.Marshal,
		unmarshal: config.Unmarshal,
		zeroValue: config.ValuesLike,
		nodeCache: config.NodeCache,
	}
	if db.persist == nil {
		db.persist = NewInMemoryStore()
	}
	if db.digest == nil {
		db.digest = DefaultDigest
	}
	if db.marshal == nil {
		db.marshal = json.Marshal
	}
	if db.unmarshal == nil {
		db.unmarshal = json.Unmarshal
	}
	db.branches.init()
	return &db
}

// NewInMemoryDB returns a DB whose objects live in a process-local
// map, usually for testing.
func NewInMemoryDB() *DB {
	return NewDB(Config{})
}

// PutObject stores the given serialized object and returns its key.
// Storing the same bytes twice yields the same key and does not
// duplicate storage.
func (db *DB) PutObject(ctx context.Context, b []byte) (Key, error) {
	key := db.digest(b)
	err := db.persist.Store(ctx, string(key), b)
	if err != nil {
		return "", fmt.Errorf("persist store: %w", err)
	}
	return key, nil
}

// GetObject retrieves the serialized object with the given key. A key
// that doesn't resolve yields a DanglingError.
func (db *DB) GetObject(ctx context.Context, key Key) ([]byte, error) {
	has, err := db.persist.Has(ctx, string(key))
	if err != nil {
		return nil, fmt.Errorf("persist has: %w", err)
	}
	if !has {
		return nil, DanglingError{key}
	}
	b, err := db.persist.Load(ctx, string(key))
	if err != nil {
		return nil, fmt.Errorf("persist load %s: %w", key, err)
	}
	return b, nil
}

// HasObject indicates whether the object with the given key is
// present in this store.
func (db *DB) HasObject(ctx context.Context, key Key) (bool, error) {
	has, err := db.persist.Has(ctx, string(key))
	if err != nil {
		return false, fmt.Errorf("persist has: %w", err)
	}
	return has, nil
}

func (db *DB) encodeValue(value interface{}) ([]byte, error) {
	b, err := db.marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return b, nil
}

func (db *DB) decodeValue(b []byte) (interface{}, error) {
	if db.zeroValue == nil {
		var value interface{}
		if err := db.unmarshal(b, &value); err != nil {
			return nil, fmt.Errorf("unmarshal value: %w", err)
		}
		return value, nil
	}
	aType := reflect.TypeOf(db.zeroValue)
	aCopy := reflect.New(aType)
	if err := db.unmarshal(b, aCopy.Interface()); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return aCopy.Elem().Interface(), nil
}
