package partition

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dreamware/thingdir/internal/storage"
)

// State represents the current state of a partition
type State string

const (
	// StateActive means the partition is serving requests
	StateActive State = "active"
	// StateClosed means the backing store has been released
	StateClosed State = "closed"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("partition closed")

// Partition is the slice of the directory a single node owns.
// It wraps a storage.Store and serializes the writes whose outcome depends
// on per-type counts, so exactly one concurrent register reports the first
// record of a type and exactly one delete reports the last.
type Partition struct {
	Name  string        // Name of the owning node
	Store storage.Store // The storage backend
	state State
	ops   OperationStats
	mu    sync.RWMutex // Protects state and orders type-count transitions
}

// Stats combines operation counters with storage statistics
type Stats struct {
	Ops     OperationStats     `json:"ops"`
	Storage storage.StoreStats `json:"storage"`
}

// OperationStats tracks operation counts
type OperationStats struct {
	Inserts uint64 `json:"inserts"` // Number of insert operations
	Gets    uint64 `json:"gets"`    // Number of get operations
	Queries uint64 `json:"queries"` // Number of query operations
	Deletes uint64 `json:"deletes"` // Number of delete operations
}

// Info contains metadata about a partition
type Info struct {
	Name    string         `json:"name"`
	State   State          `json:"state"`
	Records int            `json:"records"`
	Types   map[string]int `json:"types"`
}

// New creates a partition over the given store.
// The partition starts active and takes ownership of store: Close closes it.
//
// Parameters:
//   - name: Name of the owning node, reported by Info
//   - store: Backend holding the node's records (memory or badger)
//
// Returns:
//   - *Partition: Active partition ready for Insert, Get, Query and Delete
//
// Example:
//
//	store, err := storage.OpenBadger(storage.DefaultBadgerConfig(dir))
//	if err != nil {
//	    return err
//	}
//	part := partition.New("level2", store)
//	defer part.Close()
func New(name string, store storage.Store) *Partition {
	return &Partition{Name: name, Store: store, state: StateActive}
}

// NewInMemory creates a partition with in-memory storage
func NewInMemory(name string) *Partition {
	return New(name, storage.NewMemoryStore())
}

// Insert stores a new entry and reports whether it is now the only record
// of its type.
// Increments insert counter for statistics.
//
// Parameters:
//   - e: Entry to store; e.Record.ID must not be present yet
//
// Returns:
//   - firstOfType: true when no other record of e.Record.Type was stored,
//     the caller then announces the type to its parent's index
//   - err: storage.ErrDuplicateID, ErrClosed or a backend error
//
// Example:
//
//	first, err := part.Insert(storage.Entry{Record: rec, Publicity: 1})
//	if err == nil && first {
//	    indexer.Added(ctx, rec.Type, self)
//	}
func (p *Partition) Insert(e storage.Entry) (firstOfType bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateActive {
		return false, ErrClosed
	}

	atomic.AddUint64(&p.ops.Inserts, 1)
	if err := p.Store.Insert(e); err != nil {
		return false, err
	}
	n, err := p.Store.CountType(e.Record.Type)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Get retrieves an entry by id.
func (p *Partition) Get(id string) (storage.Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != StateActive {
		return storage.Entry{}, ErrClosed
	}

	atomic.AddUint64(&p.ops.Gets, 1)
	return p.Store.Get(id)
}

// Query returns every entry matching the filter.
func (p *Partition) Query(f storage.Filter) ([]storage.Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state != StateActive {
		return nil, ErrClosed
	}

	atomic.AddUint64(&p.ops.Queries, 1)
	return p.Store.Query(f)
}

// Delete removes an entry. An unknown id is not an error: existed is false
// and nothing else happens. lastOfType reports that no record of the
// deleted entry's type remains.
// Increments delete counter for statistics.
//
// Example:
//
//	e, existed, last, err := part.Delete("bus-1")
//	if err == nil && existed && last {
//	    indexer.Removed(ctx, e.Record.Type, self)
//	}
func (p *Partition) Delete(id string) (e storage.Entry, existed, lastOfType bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateActive {
		return storage.Entry{}, false, false, ErrClosed
	}

	atomic.AddUint64(&p.ops.Deletes, 1)
	e, err = p.Store.Delete(id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Entry{}, false, false, nil
	}
	if err != nil {
		return storage.Entry{}, false, false, err
	}
	n, err := p.Store.CountType(e.Record.Type)
	if err != nil {
		return e, true, false, err
	}
	return e, true, n == 0, nil
}

// Types returns record counts keyed by type.
func (p *Partition) Types() (map[string]int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Store.Types()
}

// GetStats returns current partition statistics
func (p *Partition) GetStats() Stats {
	return Stats{
		Ops: OperationStats{
			Inserts: atomic.LoadUint64(&p.ops.Inserts),
			Gets:    atomic.LoadUint64(&p.ops.Gets),
			Queries: atomic.LoadUint64(&p.ops.Queries),
			Deletes: atomic.LoadUint64(&p.ops.Deletes),
		},
		Storage: p.Store.Stats(),
	}
}

// Info returns metadata about the partition
func (p *Partition) Info() Info {
	p.mu.RLock()
	state := p.state
	p.mu.RUnlock()

	info := Info{Name: p.Name, State: state, Types: map[string]int{}}
	if state != StateActive {
		return info
	}
	if types, err := p.Store.Types(); err == nil {
		info.Types = types
	}
	for _, n := range info.Types {
		info.Records += n
	}
	return info
}

// Close releases the backing store. Further calls fail with ErrClosed.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosed {
		return nil
	}
	p.state = StateClosed
	return p.Store.Close()
}
