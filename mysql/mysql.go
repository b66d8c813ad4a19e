// Package mysql connects chain to MySQL and MariaDB through
// github.com/go-sql-driver/mysql. Table metadata is read with sqlx.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	chain "github.com/sk8tz/Chain"
)

const DriverName = "mysql"

// ER_QUERY_INTERRUPTED
const queryInterrupted = 1317

// Provider describes MySQL.
type Provider struct{}

var _ chain.Provider = Provider{}

func (Provider) DriverName() string                 { return DriverName }
func (Provider) Placeholder() chain.Placeholder     { return chain.PlaceholderQuestion }
func (Provider) QuoteIdentifier(name string) string { return chain.QuoteBacktick(name) }
func (Provider) SupportsReturning() bool            { return false }
func (Provider) FileBased() bool                    { return false }

func (Provider) IsCanceled(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == queryInterrupted
}

func (Provider) Schema(q chain.Querier) chain.SchemaSource { return &Schema{q: q} }

// Open validates dsn, connects and pings. The data source is named after
// the database in the DSN unless an option says otherwise.
func Open(ctx context.Context, dsn string, opts ...chain.Option) (*chain.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidDataSource, err)
	}
	conn, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidDataSource, err)
	}
	if cfg.DBName != "" {
		opts = append([]chain.Option{chain.WithName(cfg.DBName)}, opts...)
	}
	d, err := chain.New(sql.OpenDB(conn), Provider{}, opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("mysql: connect %q: %w", d.Name(), err)
	}
	return d, nil
}

// Schema reads information_schema.columns; rows are scanned with sqlx.
type Schema struct {
	q chain.Querier
}

var _ chain.BoundSchema = (*Schema)(nil)

// Bind reads the catalog through q, for example a transaction.
func (s *Schema) Bind(q chain.Querier) chain.SchemaSource { return &Schema{q: q} }

type columnRow struct {
	Name     string `db:"name"`
	Type     string `db:"type"`
	Nullable bool   `db:"nullable"`
	Key      bool   `db:"pk"`
	Identity bool   `db:"identity"`
}

const describeQuery = `
	SELECT column_name AS name,
	       data_type AS type,
	       is_nullable = 'YES' AS nullable,
	       column_key = 'PRI' AS pk,
	       extra LIKE '%auto_increment%' AS identity
	FROM information_schema.columns
	WHERE table_schema = coalesce(?, DATABASE()) AND table_name = ?
	ORDER BY ordinal_position`

func (s *Schema) Table(ctx context.Context, name string) (*chain.TableSchema, error) {
	var schema sql.NullString
	table := name
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		schema = sql.NullString{String: name[:i], Valid: true}
		table = name[i+1:]
	}

	rows, err := s.q.QueryContext(ctx, describeQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("mysql: describe %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []columnRow
	if err := sqlx.StructScan(rows, &cols); err != nil {
		return nil, fmt.Errorf("mysql: describe %s: %w", name, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", chain.ErrTableNotFound, name)
	}
	t := &chain.TableSchema{Name: name, Columns: make([]chain.ColumnSchema, len(cols))}
	for i, c := range cols {
		t.Columns[i] = chain.ColumnSchema{
			Name:       c.Name,
			Type:       c.Type,
			Nullable:   c.Nullable,
			PrimaryKey: c.Key,
			Identity:   c.Identity,
		}
	}
	return t, nil
}
