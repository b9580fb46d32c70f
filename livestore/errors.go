package livestore

import "fmt"

// SchemaError reports an invalid schema descriptor batch. It is fatal
// at registration: a store cannot open with a bad schema.
type SchemaError struct {
	Msg string
}

func (e *SchemaError) Error() string {
	return "schema error: " + e.Msg
}

// NewSchemaError builds a SchemaError from a format string.
func NewSchemaError(format string, args ...any) *SchemaError {
	return &SchemaError{Msg: fmt.Sprintf(format, args...)}
}

// UnknownEntityError reports a lookup against an entity name that was
// never registered.
type UnknownEntityError struct {
	Entity string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown entity %q", e.Entity)
}

// InvalidQueryError reports a filter or sort that does not match the
// schema: unknown property names, type-incompatible comparisons, or a
// malformed filter expression.
type InvalidQueryError struct {
	Msg string
}

func (e *InvalidQueryError) Error() string {
	return "invalid query: " + e.Msg
}

// NewInvalidQueryError builds an InvalidQueryError from a format string.
func NewInvalidQueryError(format string, args ...any) *InvalidQueryError {
	return &InvalidQueryError{Msg: fmt.Sprintf(format, args...)}
}

// NoActiveTransactionError reports a mutation attempted outside a
// write transaction. Always recoverable: wrap the call in a mutator.
type NoActiveTransactionError struct {
	Op string
}

func (e *NoActiveTransactionError) Error() string {
	return fmt.Sprintf("%s requires an active write transaction", e.Op)
}

// ConstraintViolationError reports a schema constraint failure on a
// staged or committed write: duplicate primary key, missing required
// property, or a type mismatch.
type ConstraintViolationError struct {
	Entity string
	Key    string
	Msg    string
}

func (e *ConstraintViolationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("constraint violation on %s[%s]: %s", e.Entity, e.Key, e.Msg)
	}
	return fmt.Sprintf("constraint violation on %s: %s", e.Entity, e.Msg)
}

// WriteConflictError reports that the underlying store rejected a
// commit. The transaction is Failed and nothing was written; the
// caller decides whether to retry with fresh data.
type WriteConflictError struct {
	Err error
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("write conflict: %v", e.Err)
}

func (e *WriteConflictError) Unwrap() error {
	return e.Err
}

// InvalidObjectError reports use of a proxy that was invalidated by a
// delete, a rollback of the transaction that created it, or store
// close. Recoverable by re-fetching.
type InvalidObjectError struct {
	Entity string
	Key    string
}

func (e *InvalidObjectError) Error() string {
	return fmt.Sprintf("object %s[%s] is invalid", e.Entity, e.Key)
}
