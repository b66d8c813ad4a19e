package chain

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrMapping is matched by every *MappingError.
	ErrMapping = errors.New("chain: mapping error")

	// ErrInvalidLink is returned when a chain is built from a nil builder,
	// predecessor or data source.
	ErrInvalidLink = errors.New("chain: invalid chain link")

	// ErrInvalidDataSource is returned when a data source cannot be built
	// from the given provider, handle or connection parameters.
	ErrInvalidDataSource = errors.New("chain: invalid data source")

	// ErrNoColumns is returned when a result or a command has no columns to
	// work with.
	ErrNoColumns = errors.New("chain: no columns")

	// ErrDuplicateColumn is returned when a result set repeats a column name
	// (case-insensitive).
	ErrDuplicateColumn = errors.New("chain: duplicate column")

	// ErrNoKeyColumns is returned when columns are auto-selected for a table
	// that has neither a primary key nor an identity column.
	ErrNoKeyColumns = errors.New("chain: table has no primary key or identity column")

	// ErrTableNotFound is returned by schema sources for unknown tables.
	ErrTableNotFound = errors.New("chain: table not found")

	// ErrReturningUnsupported is returned when a command would need a
	// RETURNING clause the provider cannot generate.
	ErrReturningUnsupported = errors.New("chain: provider does not support returning columns")

	// ErrTokenSealed is returned when a token is modified after execution began.
	ErrTokenSealed = errors.New("chain: execution token is sealed")

	// ErrTxDone is returned when a transaction is used after Commit or Rollback.
	ErrTxDone = errors.New("chain: transaction has already been committed or rolled back")
)

// MappingError reports a destination type whose shape cannot be reconciled
// with the available columns.
type MappingError struct {
	Type   reflect.Type
	Member string // field, parameter or column name
	Reason string
}

func (e *MappingError) Error() string {
	var b strings.Builder
	b.WriteString("chain: mapping ")
	if e.Type != nil {
		b.WriteString(e.Type.String())
	} else {
		b.WriteString("<nil>")
	}
	if e.Member != "" {
		b.WriteString(".")
		b.WriteString(e.Member)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *MappingError) Is(target error) bool { return target == ErrMapping }

func mappingErrorf(rt reflect.Type, member, format string, args ...any) *MappingError {
	return &MappingError{Type: rt, Member: member, Reason: fmt.Sprintf(format, args...)}
}

// ExecutionError wraps a driver failure with the context of the command that
// produced it.
type ExecutionError struct {
	DataSource  string
	Operation   string
	CommandText string
	Parameters  []Parameter
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("chain: %s on %q failed: %v [sql: %s; params: %s]",
		e.Operation, e.DataSource, e.Err, e.CommandText, formatParameters(e.Parameters))
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CanceledError is returned instead of an ExecutionError when the driver
// failure coincides with cancellation of the caller's context. It matches
// both the context error and the native error with errors.Is.
type CanceledError struct {
	DataSource  string
	Operation   string
	CommandText string
	Cause       error // context.Canceled or context.DeadlineExceeded
	Err         error // native error, may equal Cause
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("chain: %s on %q canceled: %v", e.Operation, e.DataSource, e.Cause)
}

func (e *CanceledError) Unwrap() []error {
	if e.Err == nil || e.Err == e.Cause {
		return []error{e.Cause}
	}
	return []error{e.Cause, e.Err}
}

// IsCanceled reports whether err was produced by a canceled execution.
func IsCanceled(err error) bool {
	var ce *CanceledError
	return errors.As(err, &ce) || errors.Is(err, context.Canceled)
}

func formatParameters(ps []Parameter) string {
	if len(ps) == 0 {
		return "[]"
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		if p.Name != "" {
			parts[i] = fmt.Sprintf("%s=%v", p.Name, p.Value)
		} else {
			parts[i] = fmt.Sprintf("%v", p.Value)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
