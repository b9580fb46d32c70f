package live

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mfroach/livebind/livestore"
	"github.com/mfroach/livebind/livestore/query"
	"github.com/mfroach/livebind/livestore/schema"
)

// Object is a live proxy onto one stored record. It holds only the
// record's identity (entity name + primary key), never the record
// itself: every read goes through the store, so the proxy always
// reflects current state, including the active transaction's staged
// writes. A proxy becomes permanently invalid when its record is
// deleted, when the transaction that created it rolls back, or when
// the store closes.
type Object struct {
	store  *Store
	entity string
	key    string
	valid  atomic.Bool

	linkMu  sync.Mutex
	linkGen uint64
	links   map[string]*Object
}

func newObject(s *Store, entity, key string) *Object {
	o := &Object{store: s, entity: entity, key: key}
	o.valid.Store(true)
	return o
}

// Entity returns the entity name.
func (o *Object) Entity() string {
	return o.entity
}

// Key returns the primary-key value. Immutable for the proxy's
// lifetime.
func (o *Object) Key() string {
	return o.key
}

// IsValid reports whether the proxy may still be used. Observers must
// check this before touching a proxy inside a notification callback.
func (o *Object) IsValid() bool {
	return o.valid.Load()
}

func (o *Object) invalidate() {
	o.valid.Store(false)
}

func (o *Object) guard() error {
	if !o.valid.Load() {
		return &livestore.InvalidObjectError{Entity: o.entity, Key: o.key}
	}
	return nil
}

// Get returns the current value of a property, reflecting uncommitted
// writes of the active transaction. Missing optional properties
// return nil. Link properties return the raw target key; use Link for
// a resolved proxy and Backlink for the inverse collection.
func (o *Object) Get(prop string) (any, error) {
	if err := o.guard(); err != nil {
		return nil, err
	}
	ent, err := o.store.graph.Entity(o.entity)
	if err != nil {
		return nil, err
	}
	p, ok := ent.Property(prop)
	if !ok {
		return nil, fmt.Errorf("entity %q has no property %q", o.entity, prop)
	}
	if p.Type == schema.Backlink {
		return nil, fmt.Errorf("property %q is a back-link; use Backlink", prop)
	}
	fields, err := o.store.visibleFields(o.entity, o.key)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		// The record vanished under the proxy (deleted in the active
		// transaction through another handle).
		return nil, &livestore.InvalidObjectError{Entity: o.entity, Key: o.key}
	}
	return fields[prop], nil
}

// Set stages a new value for a property. It requires an active
// transaction and validates the value against the schema. Primary
// keys are immutable; back-links are computed and cannot be written.
func (o *Object) Set(prop string, value any) error {
	if err := o.guard(); err != nil {
		return err
	}
	ent, err := o.store.graph.Entity(o.entity)
	if err != nil {
		return err
	}
	p, ok := ent.Property(prop)
	if !ok {
		return fmt.Errorf("entity %q has no property %q", o.entity, prop)
	}
	if p.PrimaryKey {
		return &livestore.ConstraintViolationError{
			Entity: o.entity, Key: o.key, Msg: fmt.Sprintf("primary key %q is immutable", prop),
		}
	}
	if p.Type == schema.Backlink {
		return &livestore.ConstraintViolationError{
			Entity: o.entity, Key: o.key, Msg: fmt.Sprintf("back-link %q cannot be written", prop),
		}
	}
	norm, err := schema.ValidateValue(p, value)
	if err != nil {
		return &livestore.ConstraintViolationError{Entity: o.entity, Key: o.key, Msg: err.Error()}
	}

	s := o.store
	s.mu.Lock()
	tx, err := s.activeTxLocked("set " + prop)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	k := objKey{o.entity, o.key}
	staged, ok := tx.staged[k]
	if ok && staged.deleted {
		s.mu.Unlock()
		return &livestore.InvalidObjectError{Entity: o.entity, Key: o.key}
	}
	if !ok {
		s.mu.Unlock()
		committed, err := s.session.ReadByKey(o.entity, o.key)
		if err != nil {
			return err
		}
		if committed == nil {
			return &livestore.InvalidObjectError{Entity: o.entity, Key: o.key}
		}
		s.mu.Lock()
		if tx, err = s.activeTxLocked("set " + prop); err != nil {
			s.mu.Unlock()
			return err
		}
		staged = &stagedRecord{fields: committed}
		tx.stageLocked(k, staged)
	}
	if norm == nil {
		delete(staged.fields, prop)
	} else {
		staged.fields[prop] = norm
	}
	s.mu.Unlock()
	return nil
}

// Link resolves a forward-link property to its target object. The
// result is cached on the proxy until the next transaction boundary
// or commit. A link whose target no longer exists resolves to
// (nil, nil): dangling links are a first-class state, not an error.
func (o *Object) Link(prop string) (*Object, error) {
	if err := o.guard(); err != nil {
		return nil, err
	}
	ent, err := o.store.graph.Entity(o.entity)
	if err != nil {
		return nil, err
	}
	p, ok := ent.Property(prop)
	if !ok {
		return nil, fmt.Errorf("entity %q has no property %q", o.entity, prop)
	}
	if p.Type != schema.Link {
		return nil, fmt.Errorf("property %q is %s, not a link", prop, p.Type)
	}

	o.store.mu.Lock()
	gen := o.store.generation
	o.store.mu.Unlock()

	o.linkMu.Lock()
	if o.linkGen == gen {
		if target, ok := o.links[prop]; ok && (target == nil || target.IsValid()) {
			o.linkMu.Unlock()
			return target, nil
		}
	} else {
		o.links = nil
	}
	o.linkMu.Unlock()

	raw, err := o.Get(prop)
	if err != nil {
		return nil, err
	}
	var target *Object
	if keyStr, ok := raw.(string); ok && keyStr != "" {
		target, err = o.store.Get(p.Target, keyStr)
		if err != nil {
			return nil, err
		}
	}

	o.linkMu.Lock()
	if o.links == nil {
		o.links = make(map[string]*Object)
	}
	o.linkGen = gen
	o.links[prop] = target
	o.linkMu.Unlock()
	return target, nil
}

// Backlink returns the live collection of objects whose named forward
// link points at this object. The collection is computed, read-only,
// and updates like any other live query; it is never stored.
func (o *Object) Backlink(prop string) (*Results, error) {
	if err := o.guard(); err != nil {
		return nil, err
	}
	ent, err := o.store.graph.Entity(o.entity)
	if err != nil {
		return nil, err
	}
	p, ok := ent.Property(prop)
	if !ok {
		return nil, fmt.Errorf("entity %q has no property %q", o.entity, prop)
	}
	if p.Type != schema.Backlink {
		return nil, fmt.Errorf("property %q is %s, not a back-link", prop, p.Type)
	}

	source, err := o.store.graph.Entity(p.Target)
	if err != nil {
		return nil, err
	}
	fwd, _ := source.Property(p.LinkedFrom)

	var filter query.Expr
	if fwd.Type == schema.LinkList {
		filter = query.Contains{Prop: p.LinkedFrom, Value: o.key}
	} else {
		filter = query.Comparison{Prop: p.LinkedFrom, Op: query.OpEq, Value: o.key}
	}
	return o.store.Query(p.Target, filter, nil)
}
