// Package sqlite connects chain to SQLite through modernc.org/sqlite, a
// pure Go driver. SQLite keeps a database in one file, so data sources get
// the reader/writer guard.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	chain "github.com/sk8tz/Chain"
)

// DriverName is the database/sql name registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Provider describes SQLite.
type Provider struct{}

var _ chain.Provider = Provider{}

func (Provider) DriverName() string                 { return DriverName }
func (Provider) Placeholder() chain.Placeholder     { return chain.PlaceholderQuestion }
func (Provider) QuoteIdentifier(name string) string { return chain.QuoteDouble(name) }
func (Provider) SupportsReturning() bool            { return true }
func (Provider) FileBased() bool                    { return true }

// IsCanceled recognizes SQLITE_INTERRUPT, which the driver reports when a
// statement is interrupted because its context was canceled.
func (Provider) IsCanceled(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_INTERRUPT
}

func (Provider) Schema(q chain.Querier) chain.SchemaSource { return &Schema{q: q} }

// Open opens the database file at path (":memory:" works too) and names the
// data source after it. Options follow the defaults.
func Open(ctx context.Context, path string, opts ...chain.Option) (*chain.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", chain.ErrInvalidDataSource)
	}
	opts = append([]chain.Option{chain.WithName(path)}, opts...)
	d, err := chain.Open(ctx, Provider{}, dsn(path), opts...)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		d.Handle().SetMaxOpenConns(1)
	}
	return d, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") || path == ":memory:" {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Schema reads table definitions with pragma_table_info.
type Schema struct {
	q chain.Querier
}

var _ chain.BoundSchema = (*Schema)(nil)

// Bind reads the catalog through q, for example a transaction.
func (s *Schema) Bind(q chain.Querier) chain.SchemaSource { return &Schema{q: q} }

func (s *Schema) Table(ctx context.Context, name string) (*chain.TableSchema, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT name, type, "notnull", pk FROM pragma_table_info(?) ORDER BY cid`, name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: describe %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	t := &chain.TableSchema{Name: name}
	keys := 0
	for rows.Next() {
		var (
			c       chain.ColumnSchema
			notNull int
			pk      int
		)
		if err := rows.Scan(&c.Name, &c.Type, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("sqlite: describe %s: %w", name, err)
		}
		c.Nullable = notNull == 0
		c.PrimaryKey = pk > 0
		if c.PrimaryKey {
			keys++
		}
		t.Columns = append(t.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: describe %s: %w", name, err)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s", chain.ErrTableNotFound, name)
	}

	// A lone INTEGER PRIMARY KEY is an alias of the rowid.
	if keys == 1 {
		for i := range t.Columns {
			c := &t.Columns[i]
			if c.PrimaryKey && strings.EqualFold(c.Type, "INTEGER") {
				c.Identity = true
			}
		}
	}
	return t, nil
}
