// Package storage holds the records a directory node owns and the persisted
// copy of its aggregation index.
//
// # Overview
//
// Every node keeps its Thing Descriptions in exactly one Store. A stored
// Entry is the record plus its publicity counter, the number of ancestor
// levels the record should still be replicated to. The counter never leaks
// into the record's attributes.
//
// # Backends
//
//	┌─────────────────────────────────────┐
//	│        partition / directory        │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│     Store + IndexBackend            │
//	└─────────────────────────────────────┘
//	         │                 │
//	         ▼                 ▼
//	┌──────────────┐   ┌──────────────┐
//	│ MemoryStore  │   │ BadgerStore  │
//	└──────────────┘   └──────────────┘
//
// MemoryStore keeps everything in maps guarded by a sync.RWMutex and
// returns query results in insertion order. It is the default for tests and
// for nodes started without a store path.
//
// BadgerStore persists entries in an embedded BadgerDB. Records live under
// "td/<id>", a secondary "ty/<type>" key per record makes type scans and
// counts cheap, and aggregation index entries live under "ix/<type>". Query
// results come back ordered by id.
//
// # Filters
//
// A Filter combines an optional type, an optional planar polygon applied to
// the record's [lon, lat] coordinates at properties.geo.coordinates, and
// dotted-path equality constraints. Numbers compare by value, so 2 and 2.0
// match.
//
// # Errors
//
//   - ErrNotFound: Get or Delete of an unknown id
//   - ErrDuplicateID: Insert of an id that is already stored
//   - ErrInvalidFilter: a polygon with fewer than three points
//
// # Concurrency
//
// Each call is atomic. Callers that need "insert, then learn whether this
// was the first record of its type" must serialize those two calls
// themselves; the partition package does.
package storage
