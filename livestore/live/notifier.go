package live

import (
	"sync"

	"github.com/mfroach/livebind/livestore"
	"github.com/mfroach/livebind/livestore/storage"
)

// ObjectChange is the batched notification delivered to an object
// observer for one commit: every stored-record change for the subject
// collapses into a single invocation.
type ObjectChange struct {
	Object  *Object
	Deleted bool
	// Properties lists the property names whose values changed. Empty
	// when Deleted.
	Properties []string
}

// Subscription identifies one registered observer. Unobserve is safe
// to call from any goroutine; a notification already in flight for a
// committed transaction may still be delivered once after Unobserve
// returns, so callbacks must check their subject's validity.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Unobserve removes the observer.
func (s *Subscription) Unobserve() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// notifier is the process-wide change notification bus for one store.
type notifier struct {
	mu          sync.Mutex
	nextID      uint64
	objects     map[objKey]map[uint64]func(ObjectChange)
	collections map[*Results]map[uint64]func(CollectionChange)
}

func newNotifier() *notifier {
	return &notifier{
		objects:     make(map[objKey]map[uint64]func(ObjectChange)),
		collections: make(map[*Results]map[uint64]func(CollectionChange)),
	}
}

// Observe registers a callback invoked after each commit that touches
// this object's record. The callback runs on the committing
// goroutine, after the commit is durable and before the next
// transaction may begin.
func (o *Object) Observe(fn func(ObjectChange)) *Subscription {
	n := o.store.notifier
	k := objKey{o.entity, o.key}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	if n.objects[k] == nil {
		n.objects[k] = make(map[uint64]func(ObjectChange))
	}
	n.objects[k][id] = fn

	return &Subscription{cancel: func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.objects[k], id)
		if len(n.objects[k]) == 0 {
			delete(n.objects, k)
		}
	}}
}

// Observe registers a callback invoked after each commit that could
// affect this collection. Dependency tracking is conservative: any
// commit touching the queried entity triggers re-evaluation, and the
// callback fires only when the diff is non-empty.
func (r *Results) Observe(fn func(CollectionChange)) *Subscription {
	n := r.store.notifier

	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	if n.collections[r] == nil {
		n.collections[r] = make(map[uint64]func(CollectionChange))
	}
	n.collections[r][id] = fn

	return &Subscription{cancel: func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.collections[r], id)
		if len(n.collections[r]) == 0 {
			delete(n.collections, r)
		}
	}}
}

func (n *notifier) dropCollection(r *Results) {
	n.mu.Lock()
	delete(n.collections, r)
	n.mu.Unlock()
}

func (n *notifier) objectObservers(k objKey) []func(ObjectChange) {
	n.mu.Lock()
	defer n.mu.Unlock()
	obs := make([]func(ObjectChange), 0, len(n.objects[k]))
	for _, fn := range n.objects[k] {
		obs = append(obs, fn)
	}
	return obs
}

func (n *notifier) collectionObservers(r *Results) []func(CollectionChange) {
	n.mu.Lock()
	defer n.mu.Unlock()
	obs := make([]func(CollectionChange), 0, len(n.collections[r]))
	for _, fn := range n.collections[r] {
		obs = append(obs, fn)
	}
	return obs
}

// handleCommit is the notification pass. The session invokes it
// synchronously after each durable commit, which is what pins the
// ordering guarantee: every callback for the commit runs before
// Commit returns to the writer, hence before the next transaction on
// this store can begin. Notifications across subjects have no defined
// relative order; notifications for one subject arrive as one batched
// call.
func (s *Store) handleCommit(cs storage.ChangeSet) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.generation++
	collections := make([]*Results, 0, len(s.collections))
	for r := range s.collections {
		collections = append(collections, r)
	}
	// Proxies of externally deleted records are invalidated here;
	// deletes staged through Store.Delete already were at stage time.
	for _, c := range cs.Changes {
		if c.Action != storage.ActionDelete {
			continue
		}
		k := objKey{c.Entity, c.Key}
		if obj, ok := s.objects[k]; ok {
			obj.invalidate()
			delete(s.objects, k)
		}
	}
	s.mu.Unlock()

	s.log.Debugw("notification pass", "changes", len(cs.Changes))

	changedByEntity := make(map[string]map[string]bool)
	for _, c := range cs.Changes {
		if changedByEntity[c.Entity] == nil {
			changedByEntity[c.Entity] = make(map[string]bool)
		}
		changedByEntity[c.Entity][c.Key] = true
	}

	// Collections first: their membership must be current before any
	// callback (object or collection) observes the store.
	type pendingColl struct {
		change    CollectionChange
		observers []func(CollectionChange)
	}
	var collPending []pendingColl
	for _, r := range collections {
		if !cs.Touches(r.Entity()) {
			continue
		}
		change, fired := r.refresh(changedByEntity[r.Entity()])
		if !fired {
			continue
		}
		if obs := s.notifier.collectionObservers(r); len(obs) > 0 {
			collPending = append(collPending, pendingColl{change: change, observers: obs})
		}
	}

	// Object notifications: one batched change per observed record.
	seen := make(map[objKey]bool)
	for _, c := range cs.Changes {
		k := objKey{c.Entity, c.Key}
		if seen[k] {
			continue
		}
		seen[k] = true
		obs := s.notifier.objectObservers(k)
		if len(obs) == 0 {
			continue
		}
		change := s.objectChange(cs, k)
		for _, fn := range obs {
			fn(change)
		}
	}

	for _, p := range collPending {
		for _, fn := range p.observers {
			fn(p.change)
		}
	}
}

// objectChange folds every change for one record in the commit into a
// single notification value.
func (s *Store) objectChange(cs storage.ChangeSet, k objKey) ObjectChange {
	final := cs.ForKey(k.entity, k.key)

	s.mu.Lock()
	obj, ok := s.objects[k]
	s.mu.Unlock()
	if !ok {
		// Deleted records have no canonical proxy anymore; hand the
		// observer a detached, already-invalid one for identity.
		obj = &Object{store: s, entity: k.entity, key: k.key}
	}

	change := ObjectChange{Object: obj}
	if final.Action == storage.ActionDelete {
		change.Deleted = true
		return change
	}

	// Walk the full log so a create-then-update still reports every
	// property that differs from the pre-commit state.
	first, last := firstAndLast(cs, k)
	change.Properties = changedProperties(first.Before, last.After)
	return change
}

func firstAndLast(cs storage.ChangeSet, k objKey) (first, last storage.Change) {
	found := false
	for _, c := range cs.Changes {
		if c.Entity != k.entity || c.Key != k.key {
			continue
		}
		if !found {
			first = c
			found = true
		}
		last = c
	}
	return first, last
}

func changedProperties(before, after map[string]any) []string {
	var props []string
	for name, v := range after {
		if old, ok := before[name]; !ok || !livestore.ValuesEqual(old, v) {
			props = append(props, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			props = append(props, name)
		}
	}
	return props
}
