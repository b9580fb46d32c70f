// Package storage defines the contract the binding layer requires
// from an underlying transactional record store, and ships three
// sessions that satisfy it: BadgerDB (the default embedded engine),
// SQLite, and an in-memory store. The binding core never touches
// on-disk bytes; everything flows through Session and Tx.
package storage

import (
	"github.com/mfroach/livebind/livestore"
	"github.com/mfroach/livebind/livestore/query"
)

// Action classifies one change inside a committed change set.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change records one record-level mutation of a committed
// transaction. Before is nil for creates; After is nil for deletes.
type Change struct {
	Entity string
	Action Action
	Key    string
	Before map[string]any
	After  map[string]any
}

// ChangeSet is the ordered change log of one committed transaction,
// delivered to OnCommit callbacks after the commit is durable.
type ChangeSet struct {
	Changes []Change
}

// Touches reports whether the change set contains any change to the
// given entity.
func (cs ChangeSet) Touches(entity string) bool {
	for _, c := range cs.Changes {
		if c.Entity == entity {
			return true
		}
	}
	return false
}

// ForKey returns the last change applied to (entity, key), or nil.
// The last change wins because a transaction may stage several writes
// to one record.
func (cs ChangeSet) ForKey(entity, key string) *Change {
	for i := len(cs.Changes) - 1; i >= 0; i-- {
		if cs.Changes[i].Entity == entity && cs.Changes[i].Key == key {
			return &cs.Changes[i]
		}
	}
	return nil
}

// Session is one open handle on a record store. Reads observe the
// last-committed snapshot and need no transaction. At most one write
// transaction is applied at a time; the binding layer serializes
// callers above this interface.
type Session interface {
	// BeginTx starts a write transaction. Writes stage inside the Tx
	// and become visible atomically on Commit.
	BeginTx() (Tx, error)

	// ReadByKey returns the committed fields of (entity, key), or
	// (nil, nil) when no such record exists.
	ReadByKey(entity, key string) (map[string]any, error)

	// Scan returns committed records of an entity that match the
	// filter, in primary-key order before the sort spec is applied.
	Scan(entity string, filter query.Expr, sort query.Sort) ([]livestore.Record, error)

	// OnCommit registers a callback fired synchronously after each
	// successful commit, with that commit's ordered change set.
	OnCommit(fn func(ChangeSet))

	Close() error
}

// Tx is a staged write transaction. Write and Delete never touch the
// store; Commit applies every staged operation atomically or not at
// all. A Tx is single-use.
type Tx interface {
	Write(entity, key string, fields map[string]any) error
	Delete(entity, key string) error
	Commit() error
	Rollback() error
}
