// Package query defines the filter expression and sort model used by
// live queries: property comparisons, containment, and logical
// connectives, evaluated against stored records.
package query

import (
	"fmt"
	"strings"

	"github.com/mfroach/livebind/livestore"
)

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Expr is a filter expression node.
type Expr interface {
	expr()
	String() string
}

// True matches every record. The empty filter.
type True struct{}

func (True) expr()          {}
func (True) String() string { return "TRUE" }

// Comparison compares a property against a constant.
type Comparison struct {
	Prop  string
	Op    Op
	Value any
}

func (Comparison) expr() {}
func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Prop, c.Op, livestore.FormatValue(c.Value))
}

// Contains matches link lists holding a key, or string properties
// holding a substring.
type Contains struct {
	Prop  string
	Value any
}

func (Contains) expr() {}
func (c Contains) String() string {
	return fmt.Sprintf("%s CONTAINS %s", c.Prop, livestore.FormatValue(c.Value))
}

// And is logical conjunction.
type And struct {
	Left, Right Expr
}

func (And) expr() {}
func (a And) String() string {
	return fmt.Sprintf("(%s AND %s)", a.Left, a.Right)
}

// Or is logical disjunction.
type Or struct {
	Left, Right Expr
}

func (Or) expr() {}
func (o Or) String() string {
	return fmt.Sprintf("(%s OR %s)", o.Left, o.Right)
}

// Not is logical negation.
type Not struct {
	Expr Expr
}

func (Not) expr() {}
func (n Not) String() string {
	return fmt.Sprintf("NOT %s", n.Expr)
}

// Matches evaluates an expression against a record's fields. Missing
// properties evaluate as nil values.
func Matches(e Expr, fields map[string]any) bool {
	switch x := e.(type) {
	case nil:
		return true
	case True:
		return true
	case Comparison:
		cmp := livestore.CompareValues(fields[x.Prop], x.Value)
		switch x.Op {
		case OpEq:
			return valueEq(fields[x.Prop], x.Value)
		case OpNe:
			return !valueEq(fields[x.Prop], x.Value)
		case OpLt:
			return cmp < 0
		case OpLe:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		case OpGe:
			return cmp >= 0
		}
		return false
	case Contains:
		switch field := fields[x.Prop].(type) {
		case []string:
			want, ok := x.Value.(string)
			if !ok {
				return false
			}
			for _, k := range field {
				if k == want {
					return true
				}
			}
			return false
		case string:
			want, ok := x.Value.(string)
			return ok && strings.Contains(field, want)
		}
		return false
	case And:
		return Matches(x.Left, fields) && Matches(x.Right, fields)
	case Or:
		return Matches(x.Left, fields) || Matches(x.Right, fields)
	case Not:
		return !Matches(x.Expr, fields)
	}
	return false
}

func valueEq(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return livestore.ValuesEqual(left, right)
}
