package partition

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dreamware/thingdir/internal/storage"
	"github.com/dreamware/thingdir/internal/thing"
)

func entry(id, thingType string) storage.Entry {
	return storage.Entry{Record: thing.Record{ID: id, Type: thingType}}
}

// TestNewPartition tests partition creation
func TestNewPartition(t *testing.T) {
	p := NewInMemory("level2")

	if p.Name != "level2" {
		t.Errorf("Expected name level2, got %s", p.Name)
	}
	if p.Store == nil {
		t.Fatal("Expected store to be initialized")
	}
	info := p.Info()
	if info.State != StateActive || info.Records != 0 {
		t.Errorf("Unexpected initial info %+v", info)
	}
}

// TestPartitionTypeTransitions tests first/last of type reporting
func TestPartitionTypeTransitions(t *testing.T) {
	t.Run("first insert of a type", func(t *testing.T) {
		p := NewInMemory("n")

		first, err := p.Insert(entry("a", "bus"))
		if err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
		if !first {
			t.Error("Expected first insert to report firstOfType")
		}

		first, _ = p.Insert(entry("b", "bus"))
		if first {
			t.Error("Second insert of the same type must not report firstOfType")
		}

		first, _ = p.Insert(entry("c", "lamp"))
		if !first {
			t.Error("Expected a new type to report firstOfType")
		}
	})

	t.Run("duplicate insert fails", func(t *testing.T) {
		p := NewInMemory("n")
		p.Insert(entry("a", "bus"))

		first, err := p.Insert(entry("a", "bus"))
		if !errors.Is(err, storage.ErrDuplicateID) {
			t.Errorf("Expected ErrDuplicateID, got %v", err)
		}
		if first {
			t.Error("Failed insert must not report firstOfType")
		}
	})

	t.Run("delete of last record of a type", func(t *testing.T) {
		p := NewInMemory("n")
		p.Insert(entry("a", "bus"))
		p.Insert(entry("b", "bus"))

		_, existed, last, err := p.Delete("a")
		if err != nil || !existed || last {
			t.Errorf("Expected existed=true last=false, got existed=%v last=%v err=%v", existed, last, err)
		}

		e, existed, last, err := p.Delete("b")
		if err != nil || !existed || !last {
			t.Errorf("Expected existed=true last=true, got existed=%v last=%v err=%v", existed, last, err)
		}
		if e.Record.Type != "bus" {
			t.Errorf("Expected deleted entry to be returned, got %+v", e)
		}
	})

	t.Run("delete of unknown id is a no-op", func(t *testing.T) {
		p := NewInMemory("n")

		_, existed, last, err := p.Delete("ghost")
		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
		if existed || last {
			t.Errorf("Expected existed=false last=false, got %v %v", existed, last)
		}
	})
}

// TestPartitionConcurrentFirstOfType checks that only one of many concurrent
// registrations of a new type reports firstOfType
func TestPartitionConcurrentFirstOfType(t *testing.T) {
	p := NewInMemory("n")
	var firsts int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			first, err := p.Insert(entry(fmt.Sprintf("id-%d", i), "bus"))
			if err == nil && first {
				atomic.AddInt32(&firsts, 1)
			}
		}(i)
	}
	wg.Wait()

	if firsts != 1 {
		t.Errorf("Expected exactly one firstOfType, got %d", firsts)
	}
}

// TestPartitionStats tests statistics tracking
func TestPartitionStats(t *testing.T) {
	p := NewInMemory("n")

	stats := p.GetStats()
	if stats.Ops.Inserts != 0 || stats.Ops.Gets != 0 || stats.Ops.Deletes != 0 {
		t.Error("Initial operation stats should be zero")
	}

	p.Insert(entry("a", "bus"))
	p.Insert(entry("b", "lamp"))
	p.Get("a")
	p.Get("a")
	p.Query(storage.Filter{Type: "bus"})
	p.Delete("b")

	stats = p.GetStats()
	if stats.Ops.Inserts != 2 {
		t.Errorf("Expected 2 inserts, got %d", stats.Ops.Inserts)
	}
	if stats.Ops.Gets != 2 {
		t.Errorf("Expected 2 gets, got %d", stats.Ops.Gets)
	}
	if stats.Ops.Queries != 1 {
		t.Errorf("Expected 1 query, got %d", stats.Ops.Queries)
	}
	if stats.Ops.Deletes != 1 {
		t.Errorf("Expected 1 delete, got %d", stats.Ops.Deletes)
	}
	if stats.Storage.Records != 1 || stats.Storage.Types != 1 {
		t.Errorf("Unexpected storage stats %+v", stats.Storage)
	}

	info := p.Info()
	if info.Records != 1 || info.Types["bus"] != 1 {
		t.Errorf("Unexpected info %+v", info)
	}
}

// TestPartitionClose tests that a closed partition refuses work
func TestPartitionClose(t *testing.T) {
	p := NewInMemory("n")
	p.Insert(entry("a", "bus"))

	if err := p.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}

	if _, err := p.Insert(entry("b", "bus")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Insert, got %v", err)
	}
	if _, err := p.Get("a"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Get, got %v", err)
	}
	if _, _, _, err := p.Delete("a"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Delete, got %v", err)
	}
	if info := p.Info(); info.State != StateClosed {
		t.Errorf("Expected closed state, got %s", info.State)
	}
}
