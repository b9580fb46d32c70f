// Package live is the binding core: it maps a registered schema onto
// a storage session and exposes live object proxies, live query
// results, and a single-writer transaction API with commit-time
// change notifications.
package live

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mfroach/livebind/livestore"
	"github.com/mfroach/livebind/livestore/parser"
	"github.com/mfroach/livebind/livestore/query"
	"github.com/mfroach/livebind/livestore/schema"
	"github.com/mfroach/livebind/livestore/storage"
)

type objKey struct {
	entity string
	key    string
}

// Store binds application code to one open storage session. It owns
// the schema graph, the canonical proxy table, all live collections,
// and the notification bus. A Store has one logical writer: at most
// one transaction is active at a time, and re-entrant Begin calls
// join it (see Begin).
type Store struct {
	graph   *schema.Graph
	session storage.Session
	log     *zap.SugaredLogger

	mu          sync.Mutex
	tx          *Transaction
	objects     map[objKey]*Object
	collections map[*Results]struct{}
	generation  uint64
	closed      bool

	notifier *notifier
}

// Option configures a Store at open time.
type Option func(*Store)

// WithLogger installs a structured logger. Without it the store is
// silent.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Open registers the descriptor batch and binds the resulting schema
// graph to the given session. Registration failures close nothing:
// the caller still owns the session. On success the store owns the
// session and Close tears both down.
func Open(descriptors []schema.Descriptor, session storage.Session, opts ...Option) (*Store, error) {
	graph, err := schema.Register(descriptors)
	if err != nil {
		return nil, err
	}
	s := &Store{
		graph:       graph,
		session:     session,
		log:         zap.NewNop().Sugar(),
		objects:     make(map[objKey]*Object),
		collections: make(map[*Results]struct{}),
		notifier:    newNotifier(),
	}
	for _, opt := range opts {
		opt(s)
	}
	session.OnCommit(s.handleCommit)
	s.log.Debugw("store opened", "entities", len(graph.Entities()))
	return s, nil
}

// Schema returns the immutable schema graph.
func (s *Store) Schema() *schema.Graph {
	return s.graph
}

// Close invalidates every proxy and collection and closes the
// underlying session. Any active transaction is rolled back.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tx := s.tx
	s.tx = nil
	for _, obj := range s.objects {
		obj.invalidate()
	}
	s.objects = make(map[objKey]*Object)
	for r := range s.collections {
		r.invalidate()
	}
	s.collections = make(map[*Results]struct{})
	s.mu.Unlock()

	if tx != nil {
		tx.discard(TxRolledBack)
	}
	s.log.Debugw("store closed")
	return s.session.Close()
}

// Get fetches an object by primary key. It is read-only, requires no
// transaction, and returns (nil, nil) when the key does not exist.
// Inside an active transaction it sees that transaction's staged
// writes (read-your-writes).
func (s *Store) Get(entity, key string) (*Object, error) {
	if _, err := s.graph.Entity(entity); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("store is closed")
	}
	if tx := s.tx; tx != nil && tx.state == TxActive {
		if staged, ok := tx.staged[objKey{entity, key}]; ok {
			if staged.deleted {
				s.mu.Unlock()
				return nil, nil
			}
			obj := s.proxyLocked(entity, key)
			s.mu.Unlock()
			return obj, nil
		}
	}
	s.mu.Unlock()

	fields, err := s.session.ReadByKey(entity, key)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, nil
	}

	s.mu.Lock()
	obj := s.proxyLocked(entity, key)
	s.mu.Unlock()
	return obj, nil
}

// proxyLocked returns the canonical proxy for (entity, key), creating
// one if needed. Callers hold s.mu. Sharing one proxy per record is
// what makes delete-time invalidation reach every holder.
func (s *Store) proxyLocked(entity, key string) *Object {
	k := objKey{entity, key}
	if obj, ok := s.objects[k]; ok {
		return obj
	}
	obj := newObject(s, entity, key)
	s.objects[k] = obj
	return obj
}

// Query compiles a filter and sort against the schema and returns a
// live result set that re-evaluates after every commit touching the
// entity.
func (s *Store) Query(entity string, filter query.Expr, sort query.Sort) (*Results, error) {
	if filter == nil {
		filter = query.True{}
	}
	if err := query.Validate(s.graph, entity, filter, sort); err != nil {
		return nil, err
	}

	records, err := s.session.Scan(entity, filter, sort)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	r := newResults(s, entity, filter, sort)
	r.replace(s.proxiesForLocked(records))
	s.collections[r] = struct{}{}
	return r, nil
}

// QueryString is Query with the filter and sort given in their string
// forms.
func (s *Store) QueryString(entity, filter, sort string) (*Results, error) {
	expr, err := parser.Parse(filter)
	if err != nil {
		return nil, err
	}
	sortSpec, err := parser.ParseSort(sort)
	if err != nil {
		return nil, err
	}
	return s.Query(entity, expr, sortSpec)
}

func (s *Store) proxiesForLocked(records []livestore.Record) []*Object {
	objects := make([]*Object, len(records))
	for i, rec := range records {
		objects[i] = s.proxyLocked(rec.Entity, rec.Key)
	}
	return objects
}

// releaseResults detaches a collection so commits no longer refresh
// it.
func (s *Store) releaseResults(r *Results) {
	s.mu.Lock()
	delete(s.collections, r)
	s.mu.Unlock()
	s.notifier.dropCollection(r)
}

// visibleFields returns the fields of (entity, key) as the caller
// should see them right now: the active transaction's staged state if
// any, otherwise the last-committed state. nil means the record does
// not exist from this viewpoint.
func (s *Store) visibleFields(entity, key string) (map[string]any, error) {
	s.mu.Lock()
	if tx := s.tx; tx != nil && tx.state == TxActive {
		if staged, ok := tx.staged[objKey{entity, key}]; ok {
			var fields map[string]any
			if !staged.deleted {
				fields = livestore.CloneFields(staged.fields)
			}
			s.mu.Unlock()
			return fields, nil
		}
	}
	s.mu.Unlock()
	return s.session.ReadByKey(entity, key)
}
