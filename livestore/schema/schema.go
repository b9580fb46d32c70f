// Package schema parses and validates schema descriptors into an
// immutable schema graph. Registration happens once per store open;
// the resulting Graph is shared, read-only, for the store's lifetime.
package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mfroach/livebind/livestore"
)

// PropertyType is the semantic type tag of a schema property. Types
// are explicit in descriptors; no inference happens in the core.
type PropertyType int

const (
	Int PropertyType = iota
	Float
	String
	Bool
	Date
	Binary
	ObjectID
	Embedded
	Link
	LinkList
	Backlink
)

var typeNames = map[PropertyType]string{
	Int:      "int",
	Float:    "float",
	String:   "string",
	Bool:     "bool",
	Date:     "date",
	Binary:   "binary",
	ObjectID: "objectid",
	Embedded: "embedded",
	Link:     "link",
	LinkList: "list",
	Backlink: "backlink",
}

func (t PropertyType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PropertyType(%d)", int(t))
}

// ParseType resolves a type name from a schema descriptor file.
func ParseType(name string) (PropertyType, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Property describes one property of an entity.
type Property struct {
	Name string
	Type PropertyType

	// Target is the referenced entity for Link, LinkList and Backlink
	// properties.
	Target string

	// LinkedFrom names the forward-link property on Target that a
	// Backlink inverts. Backlinks are computed, never stored.
	LinkedFrom string

	PrimaryKey bool
	Optional   bool

	// Default is a literal default value; DefaultFn generates one per
	// created object. At most one of the two is set.
	Default   any
	DefaultFn func() any
}

// Descriptor declares one entity: a unique name and an ordered
// property list.
type Descriptor struct {
	Name       string
	Properties []Property
}

// Entity is a validated descriptor inside a Graph.
type Entity struct {
	Name       string
	Properties []Property

	byName map[string]int
	pk     int // index into Properties, -1 when none declared
}

// Property looks up a property by name.
func (e *Entity) Property(name string) (*Property, bool) {
	i, ok := e.byName[name]
	if !ok {
		return nil, false
	}
	return &e.Properties[i], true
}

// PrimaryKey returns the primary-key property, or nil when the entity
// has none declared (keys are then generated at create time).
func (e *Entity) PrimaryKey() *Property {
	if e.pk < 0 {
		return nil
	}
	return &e.Properties[e.pk]
}

// Graph is the immutable result of registering a descriptor batch.
type Graph struct {
	entities map[string]*Entity
	ordered  []string
}

// Entity resolves an entity by name.
func (g *Graph) Entity(name string) (*Entity, error) {
	e, ok := g.entities[name]
	if !ok {
		return nil, &livestore.UnknownEntityError{Entity: name}
	}
	return e, nil
}

// Entities returns all registered entity names in registration order.
func (g *Graph) Entities() []string {
	return append([]string(nil), g.ordered...)
}

// Register validates a descriptor batch as a whole, so forward
// references across entities resolve regardless of order. On success
// it returns an immutable Graph; on any violation it fails with a
// SchemaError and nothing is registered.
func Register(descriptors []Descriptor) (*Graph, error) {
	g := &Graph{entities: make(map[string]*Entity, len(descriptors))}

	// First pass: entity-local validation
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, livestore.NewSchemaError("entity with empty name")
		}
		if _, dup := g.entities[d.Name]; dup {
			return nil, livestore.NewSchemaError("duplicate entity %q", d.Name)
		}
		e := &Entity{
			Name:       d.Name,
			Properties: append([]Property(nil), d.Properties...),
			byName:     make(map[string]int, len(d.Properties)),
			pk:         -1,
		}
		for i, p := range e.Properties {
			if p.Name == "" {
				return nil, livestore.NewSchemaError("entity %q: property with empty name", d.Name)
			}
			if _, dup := e.byName[p.Name]; dup {
				return nil, livestore.NewSchemaError("entity %q: duplicate property %q", d.Name, p.Name)
			}
			e.byName[p.Name] = i
			if p.PrimaryKey {
				if e.pk >= 0 {
					return nil, livestore.NewSchemaError("entity %q: multiple primary keys (%q and %q)",
						d.Name, e.Properties[e.pk].Name, p.Name)
				}
				if p.Type != String && p.Type != ObjectID {
					return nil, livestore.NewSchemaError("entity %q: primary key %q must be string or objectid, got %s",
						d.Name, p.Name, p.Type)
				}
				if p.Optional {
					return nil, livestore.NewSchemaError("entity %q: primary key %q cannot be optional", d.Name, p.Name)
				}
				e.pk = i
			}
			if p.Type == Backlink && (p.PrimaryKey || p.Default != nil || p.DefaultFn != nil) {
				return nil, livestore.NewSchemaError("entity %q: back-link %q is computed and cannot carry a key or default",
					d.Name, p.Name)
			}
			if p.Default != nil && p.DefaultFn != nil {
				return nil, livestore.NewSchemaError("entity %q: property %q declares both a default value and a generator",
					d.Name, p.Name)
			}
		}
		g.entities[d.Name] = e
		g.ordered = append(g.ordered, d.Name)
	}

	// Second pass: cross-entity references
	for _, name := range g.ordered {
		e := g.entities[name]
		for i := range e.Properties {
			p := &e.Properties[i]
			switch p.Type {
			case Link, LinkList:
				if _, ok := g.entities[p.Target]; !ok {
					return nil, livestore.NewSchemaError("entity %q: link %q references unknown entity %q",
						name, p.Name, p.Target)
				}
			case Backlink:
				target, ok := g.entities[p.Target]
				if !ok {
					return nil, livestore.NewSchemaError("entity %q: back-link %q references unknown entity %q",
						name, p.Name, p.Target)
				}
				fwd, ok := target.Property(p.LinkedFrom)
				if !ok {
					return nil, livestore.NewSchemaError("entity %q: back-link %q names missing property %q on %q",
						name, p.Name, p.LinkedFrom, p.Target)
				}
				if fwd.Type != Link && fwd.Type != LinkList {
					return nil, livestore.NewSchemaError("entity %q: back-link %q names %q.%q which is %s, not a link",
						name, p.Name, p.Target, p.LinkedFrom, fwd.Type)
				}
				if fwd.Target != name {
					return nil, livestore.NewSchemaError("entity %q: back-link %q inverts %q.%q which links to %q, not %q",
						name, p.Name, p.Target, p.LinkedFrom, fwd.Target, name)
				}
			default:
				if p.Target != "" || p.LinkedFrom != "" {
					return nil, livestore.NewSchemaError("entity %q: property %q of type %s cannot declare link targets",
						name, p.Name, p.Type)
				}
			}
			if p.Default != nil && p.Type != Backlink {
				norm, err := ValidateValue(p, p.Default)
				if err != nil {
					return nil, livestore.NewSchemaError("entity %q: default for %q: %v", name, p.Name, err)
				}
				p.Default = norm
			}
		}
	}

	return g, nil
}

// GenerateObjectID produces a fresh object-id value.
func GenerateObjectID() string {
	return uuid.NewString()
}

// ValidateValue checks a value against a property's declared type and
// returns it in normalized form (int -> int64, float32 -> float64).
// Nil is accepted only for optional properties. Backlinks reject any
// stored value.
func ValidateValue(p *Property, v any) (any, error) {
	if v == nil {
		if !p.Optional {
			return nil, fmt.Errorf("property %q is required", p.Name)
		}
		return nil, nil
	}
	switch p.Type {
	case Int:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case Float:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case String, ObjectID:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case Date:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	case Binary:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	case Link:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case LinkList:
		switch l := v.(type) {
		case []string:
			return l, nil
		case []any:
			keys := make([]string, len(l))
			for i, el := range l {
				s, ok := el.(string)
				if !ok {
					return nil, fmt.Errorf("property %q: list element %d is %T, want string key", p.Name, i, el)
				}
				keys[i] = s
			}
			return keys, nil
		}
	case Embedded:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	case Backlink:
		return nil, fmt.Errorf("property %q is a computed back-link and cannot be written", p.Name)
	}
	return nil, fmt.Errorf("property %q: value %T does not match type %s", p.Name, v, p.Type)
}

// ApplyDefaults fills missing properties of a create payload from
// declared defaults and generators. Object-id primary keys with no
// supplied value are generated. The input map is not mutated.
func ApplyDefaults(e *Entity, values map[string]any) map[string]any {
	out := make(map[string]any, len(e.Properties))
	for k, v := range values {
		out[k] = v
	}
	for i := range e.Properties {
		p := &e.Properties[i]
		if p.Type == Backlink {
			continue
		}
		if _, present := out[p.Name]; present {
			continue
		}
		switch {
		case p.DefaultFn != nil:
			out[p.Name] = p.DefaultFn()
		case p.Default != nil:
			out[p.Name] = p.Default
		case p.Type == ObjectID && p.PrimaryKey:
			out[p.Name] = GenerateObjectID()
		}
	}
	return out
}
