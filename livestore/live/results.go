package live

import (
	"sync"

	"github.com/mfroach/livebind/livestore/query"
)

// Results is a live, ordered query result set. Membership always
// matches the filter and ordering always matches the sort spec (ties
// broken by primary key) as of the last observed commit; after each
// commit that touches the entity, the engine re-evaluates in
// primary-key order and applies a minimal diff. Unsorted queries keep
// store iteration order, which is stable across reads absent mutation
// but not guaranteed to match insertion order once deletions occur.
type Results struct {
	store  *Store
	entity string
	filter query.Expr
	sort   query.Sort

	mu      sync.Mutex
	objects []*Object
	keys    []string
	valid   bool
}

func newResults(s *Store, entity string, filter query.Expr, sort query.Sort) *Results {
	return &Results{
		store:  s,
		entity: entity,
		filter: filter,
		sort:   sort,
		valid:  true,
	}
}

// Entity returns the queried entity name.
func (r *Results) Entity() string {
	return r.entity
}

// Len returns the current number of matching objects.
func (r *Results) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

// At returns the object at position i in the current ordering, or nil
// when i is out of range.
func (r *Results) At(i int) *Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.objects) {
		return nil
	}
	return r.objects[i]
}

// Objects returns a snapshot of the current membership in order.
func (r *Results) Objects() []*Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Object(nil), r.objects...)
}

// Keys returns the primary keys of the current membership in order.
func (r *Results) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

// IsValid reports whether the collection still updates. It becomes
// false after Release or store close.
func (r *Results) IsValid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.valid
}

// Release detaches the collection: it stops updating and drops its
// observers. Held object proxies stay valid.
func (r *Results) Release() {
	r.mu.Lock()
	if !r.valid {
		r.mu.Unlock()
		return
	}
	r.valid = false
	r.mu.Unlock()
	r.store.releaseResults(r)
}

func (r *Results) invalidate() {
	r.mu.Lock()
	r.valid = false
	r.mu.Unlock()
}

// replace installs a new membership without diffing. Used for the
// initial population.
func (r *Results) replace(objects []*Object) {
	keys := make([]string, len(objects))
	for i, o := range objects {
		keys[i] = o.Key()
	}
	r.mu.Lock()
	r.objects = objects
	r.keys = keys
	r.mu.Unlock()
}

// Move describes one element whose position changed between two
// evaluations of a collection.
type Move struct {
	From int
	To   int
}

// CollectionChange is the batched diff delivered to a collection
// observer for one commit. Deletions index the previous ordering;
// insertions, moves' To, and modifications index the new one.
type CollectionChange struct {
	Collection    *Results
	Insertions    []int
	Deletions     []int
	Moves         []Move
	Modifications []int
}

// Empty reports whether the diff carries no changes.
func (c CollectionChange) Empty() bool {
	return len(c.Insertions) == 0 && len(c.Deletions) == 0 &&
		len(c.Moves) == 0 && len(c.Modifications) == 0
}

// refresh re-evaluates the collection against post-commit state and
// swaps in the new membership, returning the diff against the old
// one. changedKeys carries the keys the commit touched, for the
// modification set.
func (r *Results) refresh(changedKeys map[string]bool) (CollectionChange, bool) {
	records, err := r.store.session.Scan(r.entity, r.filter, r.sort)
	if err != nil {
		r.store.log.Errorw("live query re-evaluation failed",
			"entity", r.entity, "error", err)
		return CollectionChange{}, false
	}

	r.store.mu.Lock()
	objects := r.store.proxiesForLocked(records)
	r.store.mu.Unlock()

	newKeys := make([]string, len(objects))
	for i, o := range objects {
		newKeys[i] = o.Key()
	}

	r.mu.Lock()
	if !r.valid {
		r.mu.Unlock()
		return CollectionChange{}, false
	}
	oldKeys := r.keys
	r.objects = objects
	r.keys = newKeys
	r.mu.Unlock()

	change := diffKeys(oldKeys, newKeys, changedKeys)
	change.Collection = r
	return change, !change.Empty()
}

// diffKeys computes the minimal index diff between two orderings.
// Moves are reported for keys surviving in both whose rank among the
// survivors changed; modifications for surviving keys the commit
// touched that did not move.
func diffKeys(oldKeys, newKeys []string, changedKeys map[string]bool) CollectionChange {
	var change CollectionChange

	oldIndex := make(map[string]int, len(oldKeys))
	for i, k := range oldKeys {
		oldIndex[k] = i
	}
	newIndex := make(map[string]int, len(newKeys))
	for i, k := range newKeys {
		newIndex[k] = i
	}

	// Survivor ranks: position among keys present in both orderings
	oldRank := make(map[string]int)
	rank := 0
	for _, k := range oldKeys {
		if _, ok := newIndex[k]; ok {
			oldRank[k] = rank
			rank++
		}
	}
	newRank := make(map[string]int)
	rank = 0
	for _, k := range newKeys {
		if _, ok := oldIndex[k]; ok {
			newRank[k] = rank
			rank++
		}
	}

	for i, k := range oldKeys {
		if _, ok := newIndex[k]; !ok {
			change.Deletions = append(change.Deletions, i)
		}
	}
	for i, k := range newKeys {
		oldPos, survived := oldIndex[k]
		if !survived {
			change.Insertions = append(change.Insertions, i)
			continue
		}
		if oldRank[k] != newRank[k] {
			change.Moves = append(change.Moves, Move{From: oldPos, To: i})
		} else if changedKeys[k] {
			change.Modifications = append(change.Modifications, i)
		}
	}
	return change
}
