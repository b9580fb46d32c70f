package storage

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/mfroach/livebind/livestore"
	"github.com/mfroach/livebind/livestore/query"
)

// BadgerSession is the default persistent record store, backed by
// BadgerDB. Records live under entity-prefixed keys, so a prefix scan
// yields one entity's records in primary-key order.
type BadgerSession struct {
	db *badger.DB

	mu       sync.Mutex
	onCommit []func(ChangeSet)
}

// BadgerOptions tunes the underlying BadgerDB instance.
type BadgerOptions struct {
	// InMemory runs Badger without files. Used by tests and throwaway
	// stores; Path is ignored when set.
	InMemory bool

	MemTableSize   int64
	BlockCacheSize int64
	IndexCacheSize int64
}

// DefaultBadgerOptions mirrors a read-heavy embedded workload.
func DefaultBadgerOptions() BadgerOptions {
	return BadgerOptions{
		MemTableSize:   64 << 20,
		BlockCacheSize: 128 << 20,
		IndexCacheSize: 64 << 20,
	}
}

// OpenBadger opens (or creates) a Badger-backed session at path.
func OpenBadger(path string, opts BadgerOptions) (*BadgerSession, error) {
	bopts := badger.DefaultOptions(path)
	bopts.Logger = nil // badger's own logger is too chatty for a library
	bopts.InMemory = opts.InMemory
	if opts.InMemory {
		bopts.Dir = ""
		bopts.ValueDir = ""
	}
	if opts.MemTableSize > 0 {
		bopts.MemTableSize = opts.MemTableSize
	}
	if opts.BlockCacheSize > 0 {
		bopts.BlockCacheSize = opts.BlockCacheSize
	}
	if opts.IndexCacheSize > 0 {
		bopts.IndexCacheSize = opts.IndexCacheSize
	}
	// Conflict detection stays on: a conflicting commit must surface
	// as a WriteConflictError, not silently win.

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerSession{db: db}, nil
}

// recordKey builds the storage key for (entity, pk). The separator
// byte keeps entity prefixes from shadowing each other.
func recordKey(entity, key string) []byte {
	buf := make([]byte, 0, len(entity)+1+len(key))
	buf = append(buf, entity...)
	buf = append(buf, 0)
	buf = append(buf, key...)
	return buf
}

func entityPrefix(entity string) []byte {
	buf := make([]byte, 0, len(entity)+1)
	buf = append(buf, entity...)
	buf = append(buf, 0)
	return buf
}

func (s *BadgerSession) ReadByKey(entity, key string) (map[string]any, error) {
	var fields map[string]any
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(entity, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			fields, err = DecodeFields(val)
			return err
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s[%s]: %w", entity, key, err)
	}
	return fields, nil
}

func (s *BadgerSession) Scan(entity string, filter query.Expr, sortSpec query.Sort) ([]livestore.Record, error) {
	prefix := entityPrefix(entity)
	records := make([]livestore.Record, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				fields, err := DecodeFields(val)
				if err != nil {
					return err
				}
				if query.Matches(filter, fields) {
					records = append(records, livestore.Record{
						Entity: entity,
						Key:    key,
						Fields: fields,
					})
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", entity, err)
	}

	// Badger iterates in key order, which is primary-key order here
	sortSpec.Apply(records)
	return records, nil
}

func (s *BadgerSession) OnCommit(fn func(ChangeSet)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = append(s.onCommit, fn)
}

func (s *BadgerSession) Close() error {
	return s.db.Close()
}

func (s *BadgerSession) BeginTx() (Tx, error) {
	return &badgerTx{session: s}, nil
}

// badgerTx stages writes and applies them inside one badger
// transaction at commit time, reading before-images along the way so
// the change set carries them.
type badgerTx struct {
	session *BadgerSession
	ops     []stagedOp
	done    bool
}

func (t *badgerTx) Write(entity, key string, fields map[string]any) error {
	if t.done {
		return fmt.Errorf("transaction is closed")
	}
	t.ops = append(t.ops, stagedOp{entity: entity, key: key, fields: livestore.CloneFields(fields)})
	return nil
}

func (t *badgerTx) Delete(entity, key string) error {
	if t.done {
		return fmt.Errorf("transaction is closed")
	}
	t.ops = append(t.ops, stagedOp{entity: entity, key: key})
	return nil
}

func (t *badgerTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction is closed")
	}
	t.done = true

	cs := ChangeSet{}
	txn := t.session.db.NewTransaction(true)
	defer txn.Discard()

	for _, op := range t.ops {
		before, err := readInTxn(txn, op.entity, op.key)
		if err != nil {
			return err
		}
		storageKey := recordKey(op.entity, op.key)
		if op.fields == nil {
			if before == nil {
				continue
			}
			if err := txn.Delete(storageKey); err != nil {
				return fmt.Errorf("delete %s[%s]: %w", op.entity, op.key, err)
			}
			cs.Changes = append(cs.Changes, Change{
				Entity: op.entity, Action: ActionDelete, Key: op.key, Before: before,
			})
			continue
		}
		payload, err := EncodeFields(op.fields)
		if err != nil {
			return fmt.Errorf("encode %s[%s]: %w", op.entity, op.key, err)
		}
		if err := txn.Set(storageKey, payload); err != nil {
			return fmt.Errorf("write %s[%s]: %w", op.entity, op.key, err)
		}
		change := Change{Entity: op.entity, Action: ActionCreate, Key: op.key, After: op.fields}
		if before != nil {
			change.Action = ActionUpdate
			change.Before = before
		}
		cs.Changes = append(cs.Changes, change)
	}

	if err := txn.Commit(); err != nil {
		if err == badger.ErrConflict {
			return &livestore.WriteConflictError{Err: err}
		}
		return fmt.Errorf("commit: %w", err)
	}

	if len(cs.Changes) > 0 {
		t.session.mu.Lock()
		callbacks := append(([]func(ChangeSet))(nil), t.session.onCommit...)
		t.session.mu.Unlock()
		for _, fn := range callbacks {
			fn(cs)
		}
	}
	return nil
}

func (t *badgerTx) Rollback() error {
	t.done = true
	t.ops = nil
	return nil
}

// readInTxn fetches the current fields of (entity, key) inside the
// write transaction, registering the read for conflict detection.
func readInTxn(txn *badger.Txn, entity, key string) (map[string]any, error) {
	item, err := txn.Get(recordKey(entity, key))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s[%s]: %w", entity, key, err)
	}
	var fields map[string]any
	err = item.Value(func(val []byte) error {
		fields, err = DecodeFields(val)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s[%s]: %w", entity, key, err)
	}
	return fields, nil
}
