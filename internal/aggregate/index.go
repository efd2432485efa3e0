// Package aggregate maintains a node's aggregation index: for each record
// type, the descendant locations (or this node itself) whose subtree is
// known to hold at least one record of that type.
//
// The fan-out aggregator reads the index to skip subtrees with nothing to
// contribute. The index is only as accurate as the update notifications a
// node has received; it may drift when an upward notification is lost.
package aggregate

import (
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/thingdir/internal/metrics"
	"github.com/dreamware/thingdir/internal/storage"
)

// Index maps a record type to an ordered set of locations.
// Locations keep the order in which they were first added; fan-out visits
// them in that order.
type Index struct {
	mu      sync.RWMutex
	entries map[string][]string
	backend storage.IndexBackend
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Options configures an Index. Every field is optional.
type Options struct {
	Backend storage.IndexBackend // persists entries; nil keeps them in memory only
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// New creates an index and loads any entries persisted by the backend.
func New(opts Options) (*Index, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idx := &Index{
		entries: make(map[string][]string),
		backend: opts.Backend,
		logger:  logger,
		metrics: opts.Metrics,
	}
	if idx.backend != nil {
		saved, err := idx.backend.LoadIndex()
		if err != nil {
			return nil, err
		}
		for t, locs := range saved {
			if len(locs) > 0 {
				idx.entries[t] = slices.Clone(locs)
				idx.metrics.SetIndexLocations(t, len(locs))
			}
		}
	}
	return idx, nil
}

// Add records that location holds thingType. It reports whether the index
// changed; adding a location that is already present is a no-op.
func (x *Index) Add(thingType, location string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	locs := x.entries[thingType]
	if slices.Contains(locs, location) {
		return false
	}
	locs = append(locs, location)
	x.entries[thingType] = locs
	x.persist(thingType, locs)
	return true
}

// Remove drops location from thingType's entry. It reports whether the
// location was present.
func (x *Index) Remove(thingType, location string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	locs := x.entries[thingType]
	i := slices.Index(locs, location)
	if i < 0 {
		return false
	}
	locs = slices.Delete(slices.Clone(locs), i, i+1)
	if len(locs) == 0 {
		delete(x.entries, thingType)
	} else {
		x.entries[thingType] = locs
	}
	x.persist(thingType, locs)
	return true
}

// persist runs with x.mu held. Save failures leave the in-memory entry
// authoritative until the next change.
func (x *Index) persist(thingType string, locs []string) {
	x.metrics.SetIndexLocations(thingType, len(locs))
	if x.backend == nil {
		return
	}
	if err := x.backend.SaveIndex(thingType, locs); err != nil {
		x.logger.Warn("failed to persist aggregation index entry",
			slog.String("type", thingType),
			slog.String("error", err.Error()))
	}
}

// Locations returns the locations recorded for thingType.
func (x *Index) Locations(thingType string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Clone(x.entries[thingType])
}

// AllLocations returns every recorded location once, visiting types in
// sorted order and keeping each type's insertion order.
func (x *Index) AllLocations() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	types := make([]string, 0, len(x.entries))
	for t := range x.entries {
		types = append(types, t)
	}
	sort.Strings(types)

	var out []string
	for _, t := range types {
		for _, loc := range x.entries[t] {
			if !slices.Contains(out, loc) {
				out = append(out, loc)
			}
		}
	}
	return out
}

// Snapshot returns a copy of the whole index.
func (x *Index) Snapshot() map[string][]string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make(map[string][]string, len(x.entries))
	for t, locs := range x.entries {
		out[t] = slices.Clone(locs)
	}
	return out
}
