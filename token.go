package chain

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// LockMode classifies a command for the data source's reader/writer guard.
type LockMode uint8

const (
	// LockNone bypasses the guard entirely.
	LockNone LockMode = iota
	// LockRead takes a shared lock.
	LockRead
	// LockWrite takes an exclusive lock. Mutating and schema commands use it.
	LockWrite
)

func (m LockMode) String() string {
	switch m {
	case LockNone:
		return "none"
	case LockRead:
		return "read"
	case LockWrite:
		return "write"
	default:
		return "unknown"
	}
}

// CommandKind describes how the command text is interpreted.
type CommandKind uint8

const (
	CommandText CommandKind = iota
	CommandProcedure
)

func (k CommandKind) String() string {
	if k == CommandProcedure {
		return "procedure"
	}
	return "text"
}

// Parameter is one command argument. Positional parameters have no name.
type Parameter struct {
	Name  string
	Value any
}

// TokenSpec is what a command builder fills in to create a token.
type TokenSpec struct {
	Operation  string
	Text       string
	Kind       CommandKind
	Lock       LockMode
	Parameters []Parameter
	Timeout    time.Duration
}

// TokenHook receives a token after it has been prepared and before it is
// executed.
type TokenHook func(*ExecutionToken)

type hooksKey struct{}

// withHooks returns ctx carrying hs ahead of the hooks ctx already has, so
// the outermost appender's hooks run last.
func withHooks(ctx context.Context, hs []TokenHook) context.Context {
	if len(hs) == 0 {
		return ctx
	}
	outer := hooksFrom(ctx)
	all := make([]TokenHook, 0, len(hs)+len(outer))
	all = append(append(all, hs...), outer...)
	return context.WithValue(ctx, hooksKey{}, all)
}

func hooksFrom(ctx context.Context) []TokenHook {
	hs, _ := ctx.Value(hooksKey{}).([]TokenHook)
	return hs
}

// ExecutionToken describes one physical command. It is created per
// invocation and sealed when execution starts; the command timeout is the
// only property that may change before that.
type ExecutionToken struct {
	id         string
	dataSource string
	operation  string
	text       string
	kind       CommandKind
	lock       LockMode
	params     []Parameter
	timeout    atomic.Int64
	sealed     atomic.Bool
}

// NewExecutionToken builds a token for the named data source.
func NewExecutionToken(dataSource string, spec TokenSpec) *ExecutionToken {
	t := &ExecutionToken{
		id:         uuid.NewString(),
		dataSource: dataSource,
		operation:  spec.Operation,
		text:       spec.Text,
		kind:       spec.Kind,
		lock:       spec.Lock,
		params:     append([]Parameter(nil), spec.Parameters...),
	}
	t.timeout.Store(int64(spec.Timeout))
	return t
}

// ID is a random identifier unique to this execution.
func (t *ExecutionToken) ID() string { return t.id }

// DataSourceName is the name of the data source that runs the command.
func (t *ExecutionToken) DataSourceName() string { return t.dataSource }

// Operation names the builder call that produced the command.
func (t *ExecutionToken) Operation() string { return t.operation }

// CommandText is the SQL text or procedure name.
func (t *ExecutionToken) CommandText() string { return t.text }

// Kind reports whether CommandText is a statement or a procedure.
func (t *ExecutionToken) Kind() CommandKind { return t.kind }

// LockMode is the guard the command takes on a lock-enabled data source.
func (t *ExecutionToken) LockMode() LockMode { return t.lock }

// Sealed reports whether execution has started.
func (t *ExecutionToken) Sealed() bool { return t.sealed.Load() }

// Parameters returns a copy of the bound parameters.
func (t *ExecutionToken) Parameters() []Parameter { return append([]Parameter(nil), t.params...) }

// CommandTimeout returns the per-command timeout, zero meaning "use the data
// source default".
func (t *ExecutionToken) CommandTimeout() time.Duration {
	return time.Duration(t.timeout.Load())
}

// SetCommandTimeout overrides the command timeout. It fails once execution
// has started.
func (t *ExecutionToken) SetCommandTimeout(d time.Duration) error {
	if t.sealed.Load() {
		return ErrTokenSealed
	}
	t.timeout.Store(int64(d))
	return nil
}

// Args renders the parameters as database/sql arguments.
func (t *ExecutionToken) Args() []any {
	args := make([]any, len(t.params))
	for i, p := range t.params {
		if p.Name != "" {
			args[i] = sql.Named(p.Name, p.Value)
		} else {
			args[i] = p.Value
		}
	}
	return args
}

func (t *ExecutionToken) seal() { t.sealed.Store(true) }

func positional(args []any) []Parameter {
	ps := make([]Parameter, len(args))
	for i, a := range args {
		if na, ok := a.(sql.NamedArg); ok {
			ps[i] = Parameter{Name: na.Name, Value: na.Value}
			continue
		}
		ps[i] = Parameter{Value: a}
	}
	return ps
}
