package chain

import (
	"context"
	"database/sql"
	"fmt"
)

// DB is a long-lived data source over a *sql.DB.
type DB struct {
	host
	db     *sql.DB
	schema SchemaSource
}

var _ DataSource = (*DB)(nil)

// Open opens a connection pool for p's driver and verifies it with a ping
// bounded by the connection timeout.
func Open(ctx context.Context, p Provider, dsn string, opts ...Option) (*DB, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidDataSource)
	}
	db, err := sql.Open(p.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataSource, err)
	}
	d, err := New(db, p, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chain: connect %q: %w", d.Name(), err)
	}
	return d, nil
}

// New wraps an existing pool. The pool is owned by the returned DB.
func New(db *sql.DB, p Provider, opts ...Option) (*DB, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil *sql.DB", ErrInvalidDataSource)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidDataSource)
	}
	d := &DB{
		host: host{
			settings: newSettings(p.DriverName(), opts),
			events:   NewEvents(),
			provider: p,
		},
		db: db,
	}
	if p.FileBased() {
		d.guard = NewRWGuard()
	}
	d.schema = p.Schema(db)
	if d.schema == nil {
		d.schema = StaticSchema{}
	}
	return d, nil
}

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if t := d.settings.DefaultConnectionTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error         { return d.db.Close() }
func (d *DB) Handle() *sql.DB      { return d.db }
func (d *DB) Schema() SchemaSource { return d.schema }
func (d *DB) Guard() Guard         { return d.guard }

// UseSchema replaces the metadata source, for example with a CachedSchema.
func (d *DB) UseSchema(s SchemaSource) {
	if s != nil {
		d.schema = s
	}
}

func (d *DB) Execute(ctx context.Context, token *ExecutionToken, impl Implementation, state any) (*int64, error) {
	return d.run(ctx, d.db, token, impl, state)
}

// Begin starts a transaction. On file-based engines the exclusive lock is
// taken here and held until Commit or Rollback.
func (d *DB) Begin(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	release := func() {}
	if d.guard != nil && !d.settings.DisableLocks {
		r, err := d.guard.Acquire(ctx, LockWrite)
		if err != nil {
			return nil, fmt.Errorf("chain: begin on %q: %w", d.Name(), err)
		}
		release = r
	}
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		release()
		return nil, fmt.Errorf("chain: begin on %q: %w", d.Name(), err)
	}
	return &Tx{
		host: host{
			settings: d.settings,
			events:   d.events,
			provider: d.provider,
		},
		parent:  d,
		tx:      tx,
		schema:  bindSchema(d.schema, tx),
		release: release,
	}, nil
}
