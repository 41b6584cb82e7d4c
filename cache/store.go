package cache

import (
	"sync"
)

// Store is a collection of named cache buckets.
// A bucket holds serialized HTTP responses keyed by request identity.
// The worker opens one bucket per version tag and prunes the rest on
// activation.
//
// Implementations must be thread-safe!
type Store interface {
	// Open returns the bucket with the given name, creating it if it
	// does not exist. Opening an existing bucket keeps its entries.
	Open(name string) (Bucket, error)
	// Names returns the names of all buckets in the store,
	// including empty ones.
	Names() ([]string, error)
	// Delete removes the named bucket and all of its entries.
	// Deleting a bucket that does not exist is not an error.
	Delete(name string) error
}

// Bucket is a key-value store of serialized HTTP responses.
// Concurrent puts to the same key are last-write-wins; the bucket does
// no coordination beyond making each operation atomic.
type Bucket interface {
	// Match returns the stored response bytes for the given key, if any.
	Match(key string) ([]byte, bool, error)
	// Put stores the given response bytes under the given key,
	// replacing any previous entry.
	Put(key string, bytes []byte) error
}

// MemStore is an in-memory Store, useful for tests and ephemeral runs.
type MemStore struct {
	mutex   *sync.RWMutex
	buckets map[string]map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{
		mutex:   &sync.RWMutex{},
		buckets: make(map[string]map[string][]byte),
	}
}

func (m *MemStore) Open(name string) (Bucket, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.buckets[name]; !ok {
		m.buckets[name] = make(map[string][]byte)
	}
	return &memBucket{store: m, name: name}, nil
}

func (m *MemStore) Names() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	return names, nil
}

func (m *MemStore) Delete(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.buckets, name)
	return nil
}

type memBucket struct {
	store *MemStore
	name  string
}

func (b *memBucket) Match(key string) ([]byte, bool, error) {
	b.store.mutex.RLock()
	defer b.store.mutex.RUnlock()
	entries, ok := b.store.buckets[b.name]
	if !ok {
		return nil, false, nil
	}
	bytes, ok := entries[key]
	return bytes, ok, nil
}

func (b *memBucket) Put(key string, bytes []byte) error {
	b.store.mutex.Lock()
	defer b.store.mutex.Unlock()
	entries, ok := b.store.buckets[b.name]
	if !ok {
		// bucket was deleted underneath us, e.g. by a concurrent
		// activation; drop the write
		return nil
	}
	entries[key] = bytes
	return nil
}
