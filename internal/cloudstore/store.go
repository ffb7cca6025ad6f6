// Package cloudstore is the boundary interface to the origin cloud's
// embedded KV engine, kept narrow enough that callers can depend on
// the interface alone, with an in-memory reference implementation
// realistic enough to drive the integration tests end to end.
package cloudstore

import (
	"errors"
	"sync"
	"time"
)

// ErrKeyNotFound is returned when a key is absent from the store and has
// no live tombstone covering it.
var ErrKeyNotFound = errors.New("cloudstore: key not found")

// Record is a key's live value as Get returns it; a deleted key's
// tombstone is kept separately and is never returned as a Record.
type Record struct {
	Value []byte
	Cost  float64 // optional round-trip cost estimate; Put leaves it zero
}

// Store is the minimal origin interface internal/cacheserver's Server
// falls back to on a global miss.
//
//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mock_store.go -package=cloudstore
type Store interface {
	// Get returns the current record for key. ErrKeyNotFound covers both
	// "never written" and "tombstone past its grace window".
	Get(key string) (Record, error)

	// Put writes or overwrites key with value, clearing any tombstone.
	Put(key string, value []byte) error

	// Delete tombstones key rather than removing it outright, so a
	// racing RedirectedGet against a just-deleted key observes a
	// global-miss instead of resurrecting stale bytes.
	Delete(key string) error

	// List returns a snapshot of all live (non-tombstoned) keys.
	List() []string

	// Stats returns point-in-time usage statistics.
	Stats() Stats
}

// Stats is a point-in-time usage summary, including a tombstone count
// for observability.
type Stats struct {
	Keys       int
	Bytes      int
	Tombstones int
}

// DefaultTombstoneGrace is how long a deleted key continues to report
// ErrKeyNotFound (rather than falling out of the store entirely, which
// would be indistinguishable from "never written") before MemoryStore
// reclaims it.
const DefaultTombstoneGrace = 30 * time.Second

type tombstonedRecord struct {
	rec      Record
	deleted  bool
	deadline time.Time
}

// MemoryStore is an in-memory reference Store, a trivial stand-in for
// the real embedded KV engine.
type MemoryStore struct {
	mu             sync.RWMutex
	data           map[string]*tombstonedRecord
	tombstoneGrace time.Duration
	now            func() time.Time
}

// NewMemoryStore creates an empty store using DefaultTombstoneGrace.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithGrace(DefaultTombstoneGrace)
}

// NewMemoryStoreWithGrace creates an empty store with an explicit
// tombstone grace window, primarily for tests that want to observe
// reclamation without a 30-second wait.
func NewMemoryStoreWithGrace(grace time.Duration) *MemoryStore {
	return &MemoryStore{
		data:           make(map[string]*tombstonedRecord),
		tombstoneGrace: grace,
		now:            time.Now,
	}
}

func (m *MemoryStore) Get(key string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.data[key]
	if !ok {
		return Record{}, ErrKeyNotFound
	}
	if tr.deleted {
		if m.now().After(tr.deadline) {
			delete(m.data, key)
			return Record{}, ErrKeyNotFound
		}
		return Record{}, ErrKeyNotFound
	}

	cp := make([]byte, len(tr.rec.Value))
	copy(cp, tr.rec.Value)
	return Record{Value: cp, Cost: tr.rec.Cost}, nil
}

func (m *MemoryStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = &tombstonedRecord{rec: Record{Value: cp}}
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = &tombstonedRecord{
		deleted:  true,
		deadline: m.now().Add(m.tombstoneGrace),
	}
	return nil
}

func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k, tr := range m.data {
		if !tr.deleted {
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *MemoryStore) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, tr := range m.data {
		if tr.deleted {
			s.Tombstones++
			continue
		}
		s.Keys++
		s.Bytes += len(tr.rec.Value)
	}
	return s
}
