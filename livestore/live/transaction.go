package live

import (
	"errors"
	"fmt"

	"github.com/mfroach/livebind/livestore"
	"github.com/mfroach/livebind/livestore/schema"
)

// TxState is the lifecycle state of a transaction.
type TxState int

const (
	TxIdle TxState = iota
	TxActive
	TxCommitting
	TxCommitted
	TxFailed
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxActive:
		return "active"
	case TxCommitting:
		return "committing"
	case TxCommitted:
		return "committed"
	case TxFailed:
		return "failed"
	case TxRolledBack:
		return "rolled back"
	}
	return fmt.Sprintf("TxState(%d)", int(s))
}

// terminal reports whether no further transitions are allowed.
func (s TxState) terminal() bool {
	return s == TxCommitted || s == TxFailed || s == TxRolledBack
}

type stagedRecord struct {
	fields  map[string]any
	deleted bool
	created bool // record did not exist before this transaction
}

// Transaction is one atomic unit of mutation. Writes stage in an
// ordered log and become durable only on Commit; reads through the
// owning store observe staged state (read-your-writes). Transactions
// are re-entrant: Begin inside an active transaction returns the same
// transaction with a raised nesting count, so mutator-wrapped
// operations compose without nested commit points.
type Transaction struct {
	store   *Store
	state   TxState
	nesting int

	staged  map[objKey]*stagedRecord
	order   []objKey
	created []*Object
	deleted []*Object
}

// Begin starts a transaction, or joins the already-active one by
// incrementing its nesting count. Only the outermost Commit applies
// writes; there is no second transaction and no nested commit point.
func (s *Store) Begin() (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if s.tx != nil {
		if s.tx.state != TxActive {
			return nil, fmt.Errorf("previous transaction is still %s", s.tx.state)
		}
		s.tx.nesting++
		return s.tx, nil
	}
	tx := &Transaction{
		store:  s,
		state:  TxActive,
		staged: make(map[objKey]*stagedRecord),
	}
	s.tx = tx
	s.generation++
	return tx, nil
}

// Run executes fn inside a transaction: it begins one if none is
// active, commits on normal completion, and rolls back and rethrows
// if fn fails. Called inside an already-active transaction it joins
// it, so a failed inner Run dooms the whole transaction.
func (s *Store) Run(fn func(tx *Transaction) error) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() TxState {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.state
}

// Commit applies all staged writes atomically. A nested Commit only
// lowers the nesting count; the outermost call performs the real
// commit, after which the transaction is Committed and every observer
// notification for the commit has been delivered. On failure the
// store is unchanged, the transaction is Failed, and the error is a
// ConstraintViolationError or WriteConflictError.
func (t *Transaction) Commit() error {
	s := t.store

	s.mu.Lock()
	if t.state != TxActive {
		s.mu.Unlock()
		return fmt.Errorf("cannot commit: transaction is %s", t.state)
	}
	if t.nesting > 0 {
		t.nesting--
		s.mu.Unlock()
		return nil
	}
	t.state = TxCommitting
	order := t.order
	staged := t.staged
	s.mu.Unlock()

	err := t.apply(order, staged)

	s.mu.Lock()
	if err != nil {
		t.state = TxFailed
		t.invalidateCreatedLocked()
	} else {
		t.state = TxCommitted
	}
	s.tx = nil
	s.generation++
	s.mu.Unlock()

	if err != nil {
		s.log.Debugw("commit failed", "error", err)
		return err
	}
	s.log.Debugw("commit applied", "writes", len(order))
	return nil
}

// apply pushes the staged log into one storage transaction. The
// session fires the change notification pass synchronously from its
// commit, before this returns.
func (t *Transaction) apply(order []objKey, staged map[objKey]*stagedRecord) error {
	if len(order) == 0 {
		return nil
	}
	stx, err := t.store.session.BeginTx()
	if err != nil {
		return &livestore.WriteConflictError{Err: err}
	}
	for _, k := range order {
		rec := staged[k]
		if rec.deleted {
			err = stx.Delete(k.entity, k.key)
		} else {
			err = stx.Write(k.entity, k.key, rec.fields)
		}
		if err != nil {
			_ = stx.Rollback()
			return &livestore.WriteConflictError{Err: err}
		}
	}
	if err := stx.Commit(); err != nil {
		var conflict *livestore.WriteConflictError
		if errors.As(err, &conflict) {
			return err
		}
		return &livestore.WriteConflictError{Err: err}
	}
	return nil
}

// Rollback discards all staged writes, invalidates every proxy
// created under this transaction, and transitions it to RolledBack.
// Rolling back a finished transaction is a no-op.
func (t *Transaction) Rollback() error {
	return t.discard(TxRolledBack)
}

func (t *Transaction) discard(final TxState) error {
	s := t.store
	s.mu.Lock()
	if t.state.terminal() {
		s.mu.Unlock()
		return nil
	}
	if t.state == TxCommitting {
		s.mu.Unlock()
		return fmt.Errorf("cannot roll back: commit in progress")
	}
	t.state = final
	t.staged = nil
	t.order = nil
	t.invalidateCreatedLocked()
	if s.tx == t {
		s.tx = nil
	}
	s.generation++
	s.mu.Unlock()
	s.log.Debugw("transaction rolled back")
	return nil
}

// invalidateCreatedLocked drops proxies born in this transaction.
// Callers hold store.mu.
func (t *Transaction) invalidateCreatedLocked() {
	for _, obj := range t.created {
		obj.invalidate()
		delete(t.store.objects, objKey{obj.entity, obj.key})
	}
	t.created = nil
}

// stageLocked records a write in the ordered log. Callers hold
// store.mu.
func (t *Transaction) stageLocked(k objKey, rec *stagedRecord) {
	if _, seen := t.staged[k]; !seen {
		t.order = append(t.order, k)
	}
	t.staged[k] = rec
}

// activeTxLocked returns the current Active transaction, or a
// NoActiveTransactionError naming the operation. Callers hold s.mu.
func (s *Store) activeTxLocked(op string) (*Transaction, error) {
	if s.tx == nil || s.tx.state != TxActive {
		return nil, &livestore.NoActiveTransactionError{Op: op}
	}
	return s.tx, nil
}

// Create stages a new object. It requires an active transaction,
// validates the payload against the schema, fills defaults, and
// detects duplicate primary keys immediately (a key index is always
// available). The returned proxy is visible to reads in the same
// transaction before commit.
func (s *Store) Create(entity string, values map[string]any) (*Object, error) {
	ent, err := s.graph.Entity(entity)
	if err != nil {
		return nil, err
	}

	for name := range values {
		if _, ok := ent.Property(name); !ok {
			return nil, &livestore.ConstraintViolationError{
				Entity: entity,
				Msg:    fmt.Sprintf("unknown property %q", name),
			}
		}
	}

	fields := schema.ApplyDefaults(ent, values)
	for i := range ent.Properties {
		p := &ent.Properties[i]
		if p.Type == schema.Backlink {
			if _, present := fields[p.Name]; present {
				return nil, &livestore.ConstraintViolationError{
					Entity: entity,
					Msg:    fmt.Sprintf("back-link %q cannot be written", p.Name),
				}
			}
			continue
		}
		norm, err := schema.ValidateValue(p, fields[p.Name])
		if err != nil {
			return nil, &livestore.ConstraintViolationError{Entity: entity, Msg: err.Error()}
		}
		if norm == nil {
			delete(fields, p.Name)
		} else {
			fields[p.Name] = norm
		}
	}

	key, err := primaryKeyValue(ent, fields)
	if err != nil {
		return nil, &livestore.ConstraintViolationError{Entity: entity, Msg: err.Error()}
	}

	s.mu.Lock()
	tx, err := s.activeTxLocked("create")
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	k := objKey{entity, key}
	if staged, ok := tx.staged[k]; ok && !staged.deleted {
		s.mu.Unlock()
		return nil, &livestore.ConstraintViolationError{
			Entity: entity, Key: key, Msg: "duplicate primary key",
		}
	} else if !ok {
		s.mu.Unlock()
		existing, err := s.session.ReadByKey(entity, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, &livestore.ConstraintViolationError{
				Entity: entity, Key: key, Msg: "duplicate primary key",
			}
		}
		s.mu.Lock()
		if tx, err = s.activeTxLocked("create"); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}

	tx.stageLocked(k, &stagedRecord{fields: fields, created: true})
	obj := s.proxyLocked(entity, key)
	tx.created = append(tx.created, obj)
	s.mu.Unlock()
	return obj, nil
}

// Delete stages removal of the object's record and invalidates the
// proxy immediately for every holder. The record disappears from the
// store at commit. Requires an active transaction.
func (s *Store) Delete(obj *Object) error {
	if obj == nil {
		return fmt.Errorf("delete of nil object")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.activeTxLocked("delete")
	if err != nil {
		return err
	}
	if !obj.IsValid() {
		return &livestore.InvalidObjectError{Entity: obj.entity, Key: obj.key}
	}
	k := objKey{obj.entity, obj.key}
	tx.stageLocked(k, &stagedRecord{deleted: true})
	tx.deleted = append(tx.deleted, obj)
	obj.invalidate()
	delete(s.objects, k)
	return nil
}

// Create is Store.Create, for use inside Run bodies.
func (t *Transaction) Create(entity string, values map[string]any) (*Object, error) {
	return t.store.Create(entity, values)
}

// Delete is Store.Delete, for use inside Run bodies.
func (t *Transaction) Delete(obj *Object) error {
	return t.store.Delete(obj)
}

// primaryKeyValue extracts (or generates) the record key from a
// validated field map. Entities with no declared primary key get a
// generated object id as their storage key.
func primaryKeyValue(ent *schema.Entity, fields map[string]any) (string, error) {
	pk := ent.PrimaryKey()
	if pk == nil {
		return schema.GenerateObjectID(), nil
	}
	v, ok := fields[pk.Name]
	if !ok {
		return "", fmt.Errorf("primary key %q is required", pk.Name)
	}
	key, ok := v.(string)
	if !ok || key == "" {
		return "", fmt.Errorf("primary key %q must be a non-empty string", pk.Name)
	}
	return key, nil
}
