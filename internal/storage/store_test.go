package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dreamware/thingdir/internal/thing"
)

func mustRecord(t *testing.T, raw string) thing.Record {
	t.Helper()
	var r thing.Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("bad fixture %s: %v", raw, err)
	}
	return r
}

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBadger(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to open badger store: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": b,
	}
}

// TestStore runs the shared behaviour suite against every backend
func TestStore(t *testing.T) {
	for name := range backends(t) {
		name := name
		t.Run(name, func(t *testing.T) {
			t.Run("new store is empty", func(t *testing.T) {
				store := backends(t)[name]

				if st := store.Stats(); st.Records != 0 || st.Types != 0 {
					t.Errorf("Expected empty stats, got %+v", st)
				}
				if _, err := store.Get("nonexistent"); !errors.Is(err, ErrNotFound) {
					t.Errorf("Expected ErrNotFound, got %v", err)
				}
			})

			t.Run("insert and get", func(t *testing.T) {
				store := backends(t)[name]
				rec := mustRecord(t, `{"id":"bus-1","type":"bus","route":"7"}`)

				if err := store.Insert(Entry{Record: rec, Publicity: 2}); err != nil {
					t.Fatalf("Failed to insert: %v", err)
				}
				got, err := store.Get("bus-1")
				if err != nil {
					t.Fatalf("Failed to get: %v", err)
				}
				if got.Publicity != 2 || got.Record.Type != "bus" {
					t.Errorf("Unexpected entry %+v", got)
				}
				if raw, ok := got.Record.Attr("route"); !ok || string(raw) != `"7"` {
					t.Errorf("Attribute lost, got %s", raw)
				}
			})

			t.Run("duplicate id is rejected", func(t *testing.T) {
				store := backends(t)[name]
				rec := mustRecord(t, `{"id":"bus-1","type":"bus"}`)

				if err := store.Insert(Entry{Record: rec}); err != nil {
					t.Fatalf("Failed to insert: %v", err)
				}
				if err := store.Insert(Entry{Record: rec}); !errors.Is(err, ErrDuplicateID) {
					t.Errorf("Expected ErrDuplicateID, got %v", err)
				}
			})

			t.Run("delete returns the entry and updates counts", func(t *testing.T) {
				store := backends(t)[name]
				store.Insert(Entry{Record: mustRecord(t, `{"id":"a","type":"bus"}`), Publicity: 1})
				store.Insert(Entry{Record: mustRecord(t, `{"id":"b","type":"bus"}`)})

				e, err := store.Delete("a")
				if err != nil {
					t.Fatalf("Failed to delete: %v", err)
				}
				if e.Publicity != 1 || e.Record.ID != "a" {
					t.Errorf("Unexpected deleted entry %+v", e)
				}
				if n, _ := store.CountType("bus"); n != 1 {
					t.Errorf("Expected 1 bus left, got %d", n)
				}
				if _, err := store.Delete("a"); !errors.Is(err, ErrNotFound) {
					t.Errorf("Expected ErrNotFound on second delete, got %v", err)
				}
				store.Delete("b")
				types, _ := store.Types()
				if len(types) != 0 {
					t.Errorf("Expected no types left, got %v", types)
				}
			})

			t.Run("query by type and attribute", func(t *testing.T) {
				store := backends(t)[name]
				store.Insert(Entry{Record: mustRecord(t, `{"id":"b1","type":"bus","properties":{"line":7}}`)})
				store.Insert(Entry{Record: mustRecord(t, `{"id":"b2","type":"bus","properties":{"line":9}}`)})
				store.Insert(Entry{Record: mustRecord(t, `{"id":"l1","type":"lamp","properties":{"line":7}}`)})

				all, err := store.Query(Filter{})
				if err != nil || len(all) != 3 {
					t.Fatalf("Expected 3 records, got %d (%v)", len(all), err)
				}
				buses, _ := store.Query(Filter{Type: "bus"})
				if len(buses) != 2 {
					t.Errorf("Expected 2 buses, got %d", len(buses))
				}
				line7, _ := store.Query(Filter{Type: "bus", Equals: map[string]any{"properties.line": json.Number("7")}})
				if len(line7) != 1 || line7[0].Record.ID != "b1" {
					t.Errorf("Expected only b1, got %+v", line7)
				}
				none, _ := store.Query(Filter{Type: "train"})
				if len(none) != 0 {
					t.Errorf("Expected no trains, got %d", len(none))
				}
			})

			t.Run("types sharing a prefix stay separate", func(t *testing.T) {
				store := backends(t)[name]
				store.Insert(Entry{Record: mustRecord(t, `{"id":"x","type":"bus"}`)})
				store.Insert(Entry{Record: mustRecord(t, `{"id":"y","type":"bus/2"}`)})

				if n, _ := store.CountType("bus"); n != 1 {
					t.Errorf("Expected 1 bus, got %d", n)
				}
				types, _ := store.Types()
				if types["bus"] != 1 || types["bus/2"] != 1 {
					t.Errorf("Unexpected type counts %v", types)
				}
			})

			t.Run("index entries round trip", func(t *testing.T) {
				store := backends(t)[name]
				backend, ok := store.(IndexBackend)
				if !ok {
					t.Fatalf("%s does not persist the index", name)
				}
				backend.SaveIndex("bus", []string{"level2", "level3"})
				backend.SaveIndex("lamp", []string{"level2"})
				backend.SaveIndex("lamp", nil)

				idx, err := backend.LoadIndex()
				if err != nil {
					t.Fatalf("Failed to load index: %v", err)
				}
				if len(idx) != 1 || len(idx["bus"]) != 2 || idx["bus"][1] != "level3" {
					t.Errorf("Unexpected index %v", idx)
				}
			})
		})
	}
}

// TestMemoryStoreConcurrentInsert checks that concurrent writers never
// store the same id twice
func TestMemoryStoreConcurrentInsert(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := thing.Record{ID: fmt.Sprintf("id-%d", i%10), Type: "bus"}
			if err := store.Insert(Entry{Record: rec}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("Expected 10 successful inserts, got %d", succeeded)
	}
	if st := store.Stats(); st.Records != 10 || st.Types != 1 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

// TestMemoryStoreReturnsCopies guards against callers mutating stored data
func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	rec := mustRecord(t, `{"id":"a","type":"bus","speed":10}`)
	store.Insert(Entry{Record: rec})

	rec.Attrs[0].Value[0] = '9'
	got, _ := store.Get("a")
	if raw, _ := got.Record.Attr("speed"); string(raw) != "10" {
		t.Errorf("Stored record changed through caller slice: %s", raw)
	}

	got.Record.Attrs[0].Value[0] = '7'
	again, _ := store.Get("a")
	if raw, _ := again.Record.Attr("speed"); string(raw) != "10" {
		t.Errorf("Stored record changed through returned copy: %s", raw)
	}
}

func TestFilterPolygon(t *testing.T) {
	square, err := NewPolygon([][2]float64{{0, 0}, {10, 0}, {10, 10}, {0, 10}})
	if err != nil {
		t.Fatalf("Failed to build polygon: %v", err)
	}
	if len(square[0]) != 5 || !square[0].Closed() {
		t.Errorf("Expected the ring to be closed, got %v", square[0])
	}

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"inside", `{"id":"a","type":"s","properties":{"geo":{"coordinates":[5,5]}}}`, true},
		{"outside", `{"id":"b","type":"s","properties":{"geo":{"coordinates":[15,5]}}}`, false},
		{"no coordinates", `{"id":"c","type":"s"}`, false},
		{"malformed coordinates", `{"id":"d","type":"s","properties":{"geo":{"coordinates":"5,5"}}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Entry{Record: mustRecord(t, tt.raw)}
			if got := (Filter{Polygon: square}).Match(e); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := NewPolygon([][2]float64{{0, 0}, {1, 1}}); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("Expected ErrInvalidFilter for two points, got %v", err)
	}
}

func TestFilterEquals(t *testing.T) {
	e := Entry{Record: mustRecord(t, `{"id":"a","type":"s","name":"lamp","properties":{"level":2.0}}`)}

	tests := []struct {
		name   string
		equals map[string]any
		want   bool
	}{
		{"string match", map[string]any{"name": "lamp"}, true},
		{"string mismatch", map[string]any{"name": "bus"}, false},
		{"numbers by value", map[string]any{"properties.level": 2}, true},
		{"number vs string", map[string]any{"properties.level": "2"}, false},
		{"missing path", map[string]any{"properties.nope": 1}, false},
		{"id field", map[string]any{"id": "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Filter{Equals: tt.equals}).Match(e); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}
