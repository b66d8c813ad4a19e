package chain

import "time"

// NullHandling decides what happens when a database NULL meets a destination
// that cannot hold "no value" (an int field, a string parameter, ...).
type NullHandling uint8

const (
	// NullAsZero stores the zero value.
	NullAsZero NullHandling = iota
	// NullIsError fails with a *MappingError.
	NullIsError
)

// Settings holds the per data source configuration.
type Settings struct {
	// Name identifies the data source in events and errors.
	Name string

	// DefaultCommandTimeout bounds each command unless the token overrides
	// it. Zero means no timeout beyond the caller's context.
	DefaultCommandTimeout time.Duration

	// DefaultConnectionTimeout bounds the connectivity check in Open.
	DefaultConnectionTimeout time.Duration

	// StrictMode makes object population fail when an exported, non-ignored
	// field has no matching column.
	StrictMode bool

	// SuppressGlobalEvents keeps this data source's events out of
	// GlobalEvents.
	SuppressGlobalEvents bool

	// DisableLocks turns the reader/writer guard off. Callers become
	// responsible for serializing access to file-based engines.
	DisableLocks bool

	// NullHandling applies when a NULL meets a non-nullable destination.
	NullHandling NullHandling
}

// Option configures Settings.
type Option func(*Settings)

// WithName sets the name used in events and errors.
func WithName(name string) Option { return func(s *Settings) { s.Name = name } }

// WithCommandTimeout sets the timeout for commands whose token sets none.
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Settings) { s.DefaultCommandTimeout = d }
}

// WithConnectionTimeout bounds the connectivity check in Open.
func WithConnectionTimeout(d time.Duration) Option {
	return func(s *Settings) { s.DefaultConnectionTimeout = d }
}

// WithStrictMode makes a field with no matching column an error.
func WithStrictMode(strict bool) Option { return func(s *Settings) { s.StrictMode = strict } }

// WithSuppressGlobalEvents keeps events out of GlobalEvents.
func WithSuppressGlobalEvents(suppress bool) Option {
	return func(s *Settings) { s.SuppressGlobalEvents = suppress }
}

// WithLocksDisabled turns off the read/write guard.
func WithLocksDisabled(disabled bool) Option {
	return func(s *Settings) { s.DisableLocks = disabled }
}

// WithNullHandling sets what a NULL does to a field that cannot hold it.
func WithNullHandling(h NullHandling) Option { return func(s *Settings) { s.NullHandling = h } }

func newSettings(defaultName string, opts []Option) Settings {
	s := Settings{Name: defaultName, DefaultConnectionTimeout: 15 * time.Second}
	for _, o := range opts {
		if o != nil {
			o(&s)
		}
	}
	return s
}
