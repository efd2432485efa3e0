package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/dreamware/thingdir/internal/thing"
)

// ErrNotFound is returned when a record id doesn't exist in the store
var ErrNotFound = errors.New("record not found")

// ErrDuplicateID is returned by Insert when the id is already stored
var ErrDuplicateID = errors.New("duplicate record id")

// Entry is the storage envelope of a record: the record itself plus its
// replication counter, which is never part of the record's attributes.
type Entry struct {
	Record    thing.Record `json:"td"`
	Publicity int          `json:"publicity"`
}

// Store defines the interface for the local record store.
// All implementations must be thread-safe for concurrent access; each call
// is atomic on its own but callers get no multi-call transactions.
type Store interface {
	// Insert stores a new entry.
	// Returns ErrDuplicateID if the record id is already present.
	Insert(e Entry) error

	// Get retrieves an entry by record id.
	// Returns ErrNotFound if the id doesn't exist.
	Get(id string) (Entry, error)

	// Query returns every entry matching the filter.
	// Order is stable for a given store content.
	Query(f Filter) ([]Entry, error)

	// Delete removes an entry and returns it.
	// Returns ErrNotFound if the id doesn't exist.
	Delete(id string) (Entry, error)

	// CountType returns the number of stored records of a type.
	CountType(thingType string) (int, error)

	// Types returns record counts keyed by type.
	Types() (map[string]int, error)

	// Stats returns storage statistics
	Stats() StoreStats

	// Close releases the backend.
	Close() error
}

// IndexBackend persists aggregation index entries next to the records.
type IndexBackend interface {
	LoadIndex() (map[string][]string, error)
	SaveIndex(thingType string, locations []string) error
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Records int // Number of records
	Types   int // Number of distinct record types
}

type memEntry struct {
	entry Entry
	seq   uint64
}

// MemoryStore implements Store with in-memory maps.
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]memEntry
	byType  map[string]int
	index   map[string][]string
	nextSeq uint64
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:   make(map[string]memEntry),
		byType: make(map[string]int),
		index:  make(map[string][]string),
	}
}

// Insert stores a copy of the entry.
func (m *MemoryStore) Insert(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[e.Record.ID]; exists {
		return ErrDuplicateID
	}
	m.nextSeq++
	m.data[e.Record.ID] = memEntry{entry: cloneEntry(e), seq: m.nextSeq}
	m.byType[e.Record.Type]++
	return nil
}

// Get returns a copy to prevent external modification
func (m *MemoryStore) Get(id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	me, exists := m.data[id]
	if !exists {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(me.entry), nil
}

// Query returns matching entries in insertion order.
func (m *MemoryStore) Query(f Filter) ([]Entry, error) {
	m.mu.RLock()
	matched := make([]memEntry, 0)
	for _, me := range m.data {
		if f.Match(me.entry) {
			matched = append(matched, me)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]Entry, len(matched))
	for i, me := range matched {
		out[i] = cloneEntry(me.entry)
	}
	return out, nil
}

// Delete removes an entry.
func (m *MemoryStore) Delete(id string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	me, exists := m.data[id]
	if !exists {
		return Entry{}, ErrNotFound
	}
	delete(m.data, id)
	if m.byType[me.entry.Record.Type]--; m.byType[me.entry.Record.Type] <= 0 {
		delete(m.byType, me.entry.Record.Type)
	}
	return me.entry, nil
}

// CountType returns the number of records of a type.
func (m *MemoryStore) CountType(thingType string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byType[thingType], nil
}

// Types returns a copy of the per-type counts.
func (m *MemoryStore) Types() (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int, len(m.byType))
	for t, n := range m.byType {
		out[t] = n
	}
	return out, nil
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return StoreStats{Records: len(m.data), Types: len(m.byType)}
}

// LoadIndex returns the saved aggregation index entries.
func (m *MemoryStore) LoadIndex() (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]string, len(m.index))
	for t, locs := range m.index {
		out[t] = append([]string(nil), locs...)
	}
	return out, nil
}

// SaveIndex records one aggregation index entry; an empty list removes it.
func (m *MemoryStore) SaveIndex(thingType string, locations []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(locations) == 0 {
		delete(m.index, thingType)
		return nil
	}
	m.index[thingType] = append([]string(nil), locations...)
	return nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }

func cloneEntry(e Entry) Entry {
	return Entry{Record: e.Record.Clone(), Publicity: e.Publicity}
}
