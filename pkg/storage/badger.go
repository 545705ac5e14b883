// Package storage persists the causal graph with BadgerDB.
//
// Four record tables back the in-memory graph: entities, relations,
// chains, and patterns. Entities and relations are written
// incrementally as producers ingest them; chains and patterns are
// analytics artifacts, rebuilt wholesale on every run, so they are
// replaced as a set rather than updated row by row.
//
// Key Structure:
//   - Entities:  0x01 + entityID   -> JSON(graph.Entity)
//   - Relations: 0x02 + relationID -> JSON(graph.Relation)
//   - Chains:    0x03 + chainID    -> JSON(chain.Chain)
//   - Patterns:  0x04 + patternID  -> JSON(pattern.Pattern)
//
// Example:
//
//	store, err := storage.Open(storage.Options{DataDir: "./data"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	entities, err := store.LoadEntities()
package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/skulddb/pkg/chain"
	"github.com/orneryd/skulddb/pkg/graph"
	"github.com/orneryd/skulddb/pkg/pattern"
)

// Single-byte key prefixes, one per table.
const (
	prefixEntity   = byte(0x01)
	prefixRelation = byte(0x02)
	prefixChain    = byte(0x03)
	prefixPattern  = byte(0x04)
)

// Options configures the Badger store.
type Options struct {
	// DataDir is the directory for data files. Created if absent.
	DataDir string

	// InMemory runs Badger without touching disk. Data is lost on
	// Close; useful for tests.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but durable.
	SyncWrites bool

	// Logger receives Badger's internal logging. Nil silences it.
	Logger badger.Logger
}

// BadgerStore is the durable backing for a SkuldDB graph.
//
// Safe for concurrent use from multiple goroutines.
type BadgerStore struct {
	db     *badger.DB
	mu     sync.Mutex
	closed bool
}

// Open creates or reopens a store at opts.DataDir.
func Open(opts Options) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	// Sized for an embedded analytics store, not a bulk KV workload.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", opts.DataDir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database. Further calls are no-ops.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// PutEntity persists one entity.
func (s *BadgerStore) PutEntity(e *graph.Entity) error {
	return s.putJSON(prefixEntity, string(e.ID), e)
}

// DeleteEntity removes one entity record.
func (s *BadgerStore) DeleteEntity(id graph.EntityID) error {
	return s.delete(prefixEntity, string(id))
}

// PutRelation persists one relation.
func (s *BadgerStore) PutRelation(r *graph.Relation) error {
	return s.putJSON(prefixRelation, string(r.ID), r)
}

// DeleteRelation removes one relation record.
func (s *BadgerStore) DeleteRelation(id graph.RelationID) error {
	return s.delete(prefixRelation, string(id))
}

// ReplaceChains drops the chain table and writes the given set in one
// transaction, so a crash never leaves a half-rebuilt set on disk.
func (s *BadgerStore) ReplaceChains(chains []*chain.Chain) error {
	return s.replace(prefixChain, len(chains), func(i int) (string, any) {
		return string(chains[i].ID), chains[i]
	})
}

// ReplacePatterns drops the pattern table and writes the given set in
// one transaction.
func (s *BadgerStore) ReplacePatterns(patterns []*pattern.Pattern) error {
	return s.replace(prefixPattern, len(patterns), func(i int) (string, any) {
		return string(patterns[i].ID), patterns[i]
	})
}

// LoadEntities reads the full entity table.
func (s *BadgerStore) LoadEntities() ([]*graph.Entity, error) {
	var entities []*graph.Entity
	err := s.scanJSON(prefixEntity, func(data []byte) error {
		var e graph.Entity
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		entities = append(entities, &e)
		return nil
	})
	return entities, err
}

// LoadRelations reads the full relation table.
func (s *BadgerStore) LoadRelations() ([]*graph.Relation, error) {
	var relations []*graph.Relation
	err := s.scanJSON(prefixRelation, func(data []byte) error {
		var r graph.Relation
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		relations = append(relations, &r)
		return nil
	})
	return relations, err
}

// LoadChains reads the persisted chain set.
func (s *BadgerStore) LoadChains() ([]*chain.Chain, error) {
	var chains []*chain.Chain
	err := s.scanJSON(prefixChain, func(data []byte) error {
		var c chain.Chain
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		chains = append(chains, &c)
		return nil
	})
	return chains, err
}

// LoadPatterns reads the persisted pattern set.
func (s *BadgerStore) LoadPatterns() ([]*pattern.Pattern, error) {
	var patterns []*pattern.Pattern
	err := s.scanJSON(prefixPattern, func(data []byte) error {
		var p pattern.Pattern
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		patterns = append(patterns, &p)
		return nil
	})
	return patterns, err
}

func key(prefix byte, id string) []byte {
	k := make([]byte, 1+len(id))
	k[0] = prefix
	copy(k[1:], id)
	return k
}

func (s *BadgerStore) putJSON(prefix byte, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", id, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(prefix, id), data)
	})
}

func (s *BadgerStore) delete(prefix byte, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(prefix, id))
	})
}

// replace clears one table prefix and writes n records transactionally.
func (s *BadgerStore) replace(prefix byte, n int, record func(i int) (string, any)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefix}})
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		for i := 0; i < n; i++ {
			id, v := record(i)
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal %q: %w", id, err)
			}
			if err := txn.Set(key(prefix, id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) scanJSON(prefix byte, fn func(data []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefix}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				return fn(val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
