package live

// Binding is the surface a UI or view layer binds against: object and
// query lookup plus transaction-wrapped mutation, with no access to
// store internals. Store implements it; the filter and sort arguments
// use their string forms so a binding layer needs no query AST
// knowledge.
type Binding interface {
	GetObject(entity, key string) (*Object, error)
	GetQuery(entity, filter, sort string) (*Results, error)
	RunMutator(fn func(tx *Transaction) error) error
	CreateObject(entity string, values map[string]any) (*Object, error)
	DeleteObject(obj *Object) error
}

var _ Binding = (*Store)(nil)

// GetObject implements Binding.
func (s *Store) GetObject(entity, key string) (*Object, error) {
	return s.Get(entity, key)
}

// GetQuery implements Binding.
func (s *Store) GetQuery(entity, filter, sort string) (*Results, error) {
	return s.QueryString(entity, filter, sort)
}

// RunMutator implements Binding.
func (s *Store) RunMutator(fn func(tx *Transaction) error) error {
	return s.Run(fn)
}

// CreateObject implements Binding.
func (s *Store) CreateObject(entity string, values map[string]any) (*Object, error) {
	return s.Create(entity, values)
}

// DeleteObject implements Binding.
func (s *Store) DeleteObject(obj *Object) error {
	return s.Delete(obj)
}
