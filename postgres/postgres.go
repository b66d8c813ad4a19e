// Package postgres connects chain to PostgreSQL through github.com/lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	chain "github.com/sk8tz/Chain"
)

const DriverName = "postgres"

// sqlstate reported for a statement canceled on request.
const queryCanceled = "57014"

// Provider describes PostgreSQL.
type Provider struct{}

var _ chain.Provider = Provider{}

func (Provider) DriverName() string                 { return DriverName }
func (Provider) Placeholder() chain.Placeholder     { return chain.PlaceholderDollar }
func (Provider) QuoteIdentifier(name string) string { return chain.QuoteDouble(name) }
func (Provider) SupportsReturning() bool            { return true }
func (Provider) FileBased() bool                    { return false }

func (Provider) IsCanceled(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && string(pe.Code) == queryCanceled
}

func (Provider) Schema(q chain.Querier) chain.SchemaSource { return &Schema{q: q} }

// Open validates dsn (URL or key=value form), connects and pings.
func Open(ctx context.Context, dsn string, opts ...chain.Option) (*chain.DB, error) {
	conn, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidDataSource, err)
	}
	d, err := chain.New(sql.OpenDB(conn), Provider{}, opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("postgres: connect %q: %w", d.Name(), err)
	}
	return d, nil
}

// Schema reads information_schema.
type Schema struct {
	q chain.Querier
}

var _ chain.BoundSchema = (*Schema)(nil)

// Bind reads the catalog through q, for example a transaction.
func (s *Schema) Bind(q chain.Querier) chain.SchemaSource { return &Schema{q: q} }

func (s *Schema) Table(ctx context.Context, name string) (*chain.TableSchema, error) {
	schema, table := splitName(name)
	rows, err := s.q.QueryContext(ctx, `
		SELECT c.column_name,
		       c.data_type,
		       c.is_nullable = 'YES',
		       c.is_identity = 'YES' OR coalesce(c.column_default, '') LIKE 'nextval(%',
		       EXISTS (
		           SELECT 1
		           FROM information_schema.table_constraints tc
		           JOIN information_schema.key_column_usage k
		             ON k.constraint_name = tc.constraint_name
		            AND k.constraint_schema = tc.constraint_schema
		           WHERE tc.constraint_type = 'PRIMARY KEY'
		             AND tc.table_schema = c.table_schema
		             AND tc.table_name = c.table_name
		             AND k.column_name = c.column_name)
		FROM information_schema.columns c
		WHERE c.table_name = $1 AND c.table_schema = coalesce($2::text, current_schema())
		ORDER BY c.ordinal_position`, table, schema)
	if err != nil {
		return nil, fmt.Errorf("postgres: describe %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	t := &chain.TableSchema{Name: name}
	for rows.Next() {
		var c chain.ColumnSchema
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.Identity, &c.PrimaryKey); err != nil {
			return nil, fmt.Errorf("postgres: describe %s: %w", name, err)
		}
		t.Columns = append(t.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: describe %s: %w", name, err)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s", chain.ErrTableNotFound, name)
	}
	return t, nil
}

func splitName(name string) (schema sql.NullString, table string) {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return sql.NullString{String: name[:i], Valid: true}, name[i+1:]
	}
	return sql.NullString{}, name
}
