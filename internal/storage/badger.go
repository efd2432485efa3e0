package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	td/<id>          -> JSON Entry
//	ty/<type>\x00<id> -> empty (type index)
//	ix/<type>        -> JSON []string (aggregation index entry)
const (
	recordPrefix = "td/"
	typePrefix   = "ty/"
	indexPrefix  = "ix/"
	typeSep      = "\x00"
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64

	// Logger receives BadgerDB's internal log output. Nil silences it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults for the given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore implements Store on an embedded BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// OpenBadger opens (or creates) a BadgerDB-backed store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &BadgerStore{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means no GC was needed
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

func recordKey(id string) []byte { return []byte(recordPrefix + id) }

func typeKey(thingType, id string) []byte { return []byte(typePrefix + thingType + typeSep + id) }

// Insert stores a new entry and its type index key in one transaction.
func (s *BadgerStore) Insert(e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.Record.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(recordKey(e.Record.ID)); err == nil {
			return ErrDuplicateID
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(recordKey(e.Record.ID), val); err != nil {
			return err
		}
		return txn.Set(typeKey(e.Record.Type, e.Record.ID), nil)
	})
}

func getEntry(txn *badger.Txn, id string) (Entry, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("decode entry %s: %w", id, err)
	}
	return e, nil
}

// Get retrieves an entry by record id.
func (s *BadgerStore) Get(id string) (Entry, error) {
	var e Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = getEntry(txn, id)
		return err
	})
	return e, err
}

// Query scans the type index when the filter names a type, otherwise every
// record, and applies the filter to each entry. Results are ordered by id.
func (s *BadgerStore) Query(f Filter) ([]Entry, error) {
	out := make([]Entry, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		if f.Type != "" {
			ids := s.typeIDs(txn, f.Type)
			for _, id := range ids {
				e, err := getEntry(txn, id)
				if errors.Is(err, ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if f.Match(e) {
					out = append(out, e)
				}
			}
			return nil
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(recordPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode entry %s: %w", it.Item().Key(), err)
			}
			if f.Match(e) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) typeIDs(txn *badger.Txn, thingType string) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := []byte(typePrefix + thingType + typeSep)
	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, string(it.Item().Key()[len(prefix):]))
	}
	return ids
}

// Delete removes an entry and its type index key.
func (s *BadgerStore) Delete(id string) (Entry, error) {
	var e Entry
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		if e, err = getEntry(txn, id); err != nil {
			return err
		}
		if err := txn.Delete(recordKey(id)); err != nil {
			return err
		}
		return txn.Delete(typeKey(e.Record.Type, id))
	})
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// CountType counts type index keys.
func (s *BadgerStore) CountType(thingType string) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		n = len(s.typeIDs(txn, thingType))
		return nil
	})
	return n, err
}

// Types counts type index keys grouped by type.
func (s *BadgerStore) Types() (map[string]int, error) {
	out := make(map[string]int)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(typePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := string(it.Item().Key()[len(prefix):])
			for i := 0; i < len(rest); i++ {
				if rest[i] == typeSep[0] {
					out[rest[:i]]++
					break
				}
			}
		}
		return nil
	})
	return out, err
}

// Stats returns storage statistics.
func (s *BadgerStore) Stats() StoreStats {
	types, err := s.Types()
	if err != nil {
		s.logger.Warn("badger stats failed", slog.String("error", err.Error()))
		return StoreStats{}
	}
	st := StoreStats{Types: len(types)}
	for _, n := range types {
		st.Records += n
	}
	return st
}

// LoadIndex reads every persisted aggregation index entry.
func (s *BadgerStore) LoadIndex() (map[string][]string, error) {
	out := make(map[string][]string)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(indexPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			thingType := string(it.Item().Key()[len(prefix):])
			var locs []string
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &locs)
			}); err != nil {
				return fmt.Errorf("decode index entry %s: %w", thingType, err)
			}
			out[thingType] = locs
		}
		return nil
	})
	return out, err
}

// SaveIndex persists one aggregation index entry; an empty list deletes it.
func (s *BadgerStore) SaveIndex(thingType string, locations []string) error {
	key := []byte(indexPrefix + thingType)
	return s.db.Update(func(txn *badger.Txn) error {
		if len(locations) == 0 {
			return txn.Delete(key)
		}
		val, err := json.Marshal(locations)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
}

// Close stops garbage collection and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
		s.stopGC = nil
	}
	return s.db.Close()
}
