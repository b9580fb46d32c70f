package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mfroach/livebind/livestore"
	"github.com/mfroach/livebind/livestore/query"
)

// MemorySession is an in-memory record store. It satisfies the same
// contract as the persistent sessions and carries the test suite; a
// caller that never needs durability can use it directly.
type MemorySession struct {
	mu       sync.RWMutex
	state    map[string]map[string]map[string]any // entity -> key -> fields
	onCommit []func(ChangeSet)
	closed   bool
}

// NewMemorySession creates an empty in-memory session.
func NewMemorySession() *MemorySession {
	return &MemorySession{
		state: make(map[string]map[string]map[string]any),
	}
}

func (s *MemorySession) ReadByKey(entity, key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("session is closed")
	}
	fields, ok := s.state[entity][key]
	if !ok {
		return nil, nil
	}
	return livestore.CloneFields(fields), nil
}

func (s *MemorySession) Scan(entity string, filter query.Expr, sortSpec query.Sort) ([]livestore.Record, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("session is closed")
	}
	records := make([]livestore.Record, 0)
	for key, fields := range s.state[entity] {
		if query.Matches(filter, fields) {
			records = append(records, livestore.Record{
				Entity: entity,
				Key:    key,
				Fields: livestore.CloneFields(fields),
			})
		}
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	sortSpec.Apply(records)
	return records, nil
}

func (s *MemorySession) OnCommit(fn func(ChangeSet)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = append(s.onCommit, fn)
}

func (s *MemorySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.state = make(map[string]map[string]map[string]any)
	return nil
}

func (s *MemorySession) BeginTx() (Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("session is closed")
	}
	return &memoryTx{session: s}, nil
}

type stagedOp struct {
	entity string
	key    string
	fields map[string]any // nil marks a delete
}

type memoryTx struct {
	session *MemorySession
	ops     []stagedOp
	done    bool
}

func (t *memoryTx) Write(entity, key string, fields map[string]any) error {
	if t.done {
		return fmt.Errorf("transaction is closed")
	}
	t.ops = append(t.ops, stagedOp{entity: entity, key: key, fields: livestore.CloneFields(fields)})
	return nil
}

func (t *memoryTx) Delete(entity, key string) error {
	if t.done {
		return fmt.Errorf("transaction is closed")
	}
	t.ops = append(t.ops, stagedOp{entity: entity, key: key})
	return nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction is closed")
	}
	t.done = true

	s := t.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session is closed")
	}

	cs := ChangeSet{}
	for _, op := range t.ops {
		before, existed := s.state[op.entity][op.key]
		if op.fields == nil {
			if !existed {
				continue // deleting a missing record is a no-op
			}
			delete(s.state[op.entity], op.key)
			cs.Changes = append(cs.Changes, Change{
				Entity: op.entity,
				Action: ActionDelete,
				Key:    op.key,
				Before: livestore.CloneFields(before),
			})
			continue
		}
		if s.state[op.entity] == nil {
			s.state[op.entity] = make(map[string]map[string]any)
		}
		s.state[op.entity][op.key] = livestore.CloneFields(op.fields)
		change := Change{
			Entity: op.entity,
			Action: ActionCreate,
			Key:    op.key,
			After:  livestore.CloneFields(op.fields),
		}
		if existed {
			change.Action = ActionUpdate
			change.Before = livestore.CloneFields(before)
		}
		cs.Changes = append(cs.Changes, change)
	}
	callbacks := append(([]func(ChangeSet))(nil), s.onCommit...)
	s.mu.Unlock()

	// Callbacks run outside the state lock so they may read the store.
	if len(cs.Changes) > 0 {
		for _, fn := range callbacks {
			fn(cs)
		}
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	t.done = true
	t.ops = nil
	return nil
}
