package query

import (
	"github.com/mfroach/livebind/livestore"
	"github.com/mfroach/livebind/livestore/schema"
)

// Validate checks a filter and sort against an entity's schema.
// Unknown properties, comparisons against values of the wrong type,
// ordering comparisons on unorderable properties, and CONTAINS on
// non-list, non-string properties all fail with InvalidQueryError.
func Validate(g *schema.Graph, entity string, filter Expr, s Sort) error {
	e, err := g.Entity(entity)
	if err != nil {
		return err
	}
	if filter != nil {
		if err := validateExpr(e, filter); err != nil {
			return err
		}
	}
	for _, f := range s {
		p, ok := e.Property(f.Prop)
		if !ok {
			return livestore.NewInvalidQueryError("entity %q has no property %q", entity, f.Prop)
		}
		if !orderable(p.Type) {
			return livestore.NewInvalidQueryError("cannot sort %s.%s: %s values have no order",
				entity, f.Prop, p.Type)
		}
	}
	return nil
}

func validateExpr(e *schema.Entity, expr Expr) error {
	switch x := expr.(type) {
	case True:
		return nil
	case Comparison:
		p, ok := e.Property(x.Prop)
		if !ok {
			return livestore.NewInvalidQueryError("entity %q has no property %q", e.Name, x.Prop)
		}
		if p.Type == schema.Backlink || p.Type == schema.LinkList {
			return livestore.NewInvalidQueryError("%s.%s is a %s; use CONTAINS", e.Name, x.Prop, p.Type)
		}
		if x.Op != OpEq && x.Op != OpNe && !orderable(p.Type) {
			return livestore.NewInvalidQueryError("%s.%s: %s values do not support %s",
				e.Name, x.Prop, p.Type, x.Op)
		}
		if x.Value != nil {
			if _, err := compatibleConstant(p, x.Value); err != nil {
				return err
			}
		} else if !p.Optional {
			return livestore.NewInvalidQueryError("%s.%s is required and never nil", e.Name, x.Prop)
		}
		return nil
	case Contains:
		p, ok := e.Property(x.Prop)
		if !ok {
			return livestore.NewInvalidQueryError("entity %q has no property %q", e.Name, x.Prop)
		}
		switch p.Type {
		case schema.LinkList, schema.String:
			if _, isStr := x.Value.(string); !isStr {
				return livestore.NewInvalidQueryError("%s.%s CONTAINS expects a string, got %T",
					e.Name, x.Prop, x.Value)
			}
			return nil
		}
		return livestore.NewInvalidQueryError("%s.%s: CONTAINS requires a list or string property, got %s",
			e.Name, x.Prop, p.Type)
	case And:
		if err := validateExpr(e, x.Left); err != nil {
			return err
		}
		return validateExpr(e, x.Right)
	case Or:
		if err := validateExpr(e, x.Left); err != nil {
			return err
		}
		return validateExpr(e, x.Right)
	case Not:
		return validateExpr(e, x.Expr)
	}
	return livestore.NewInvalidQueryError("unsupported expression %T", expr)
}

func orderable(t schema.PropertyType) bool {
	switch t {
	case schema.Int, schema.Float, schema.String, schema.Date, schema.ObjectID, schema.Bool:
		return true
	}
	return false
}

// compatibleConstant validates a comparison constant against the
// property type, reusing schema value validation but reporting the
// failure as a caller mistake rather than a constraint violation.
func compatibleConstant(p *schema.Property, v any) (any, error) {
	check := *p
	check.Optional = true
	norm, err := schema.ValidateValue(&check, v)
	if err != nil {
		return nil, livestore.NewInvalidQueryError("%v", err)
	}
	return norm, nil
}
