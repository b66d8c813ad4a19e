// Package duckdb connects chain to DuckDB through github.com/duckdb/duckdb-go.
// A DuckDB database is a single file; data sources get the reader/writer
// guard.
package duckdb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/duckdb/duckdb-go/v2"

	chain "github.com/sk8tz/Chain"
)

const DriverName = "duckdb"

// Provider describes DuckDB.
type Provider struct{}

var _ chain.Provider = Provider{}

func (Provider) DriverName() string                 { return DriverName }
func (Provider) Placeholder() chain.Placeholder     { return chain.PlaceholderQuestion }
func (Provider) QuoteIdentifier(name string) string { return chain.QuoteDouble(name) }
func (Provider) SupportsReturning() bool            { return true }
func (Provider) FileBased() bool                    { return true }

// IsCanceled recognizes DuckDB's interrupt error.
func (Provider) IsCanceled(err error) bool {
	var de *duckdb.Error
	return errors.As(err, &de) && de.Type == duckdb.ErrorTypeInterrupt
}

func (Provider) Schema(q chain.Querier) chain.SchemaSource { return &Schema{q: q} }

// Open opens the database file at path; an empty path is an in-memory
// database.
func Open(ctx context.Context, path string, opts ...chain.Option) (*chain.DB, error) {
	name := path
	if name == "" {
		name = "duckdb:memory"
	}
	opts = append([]chain.Option{chain.WithName(name)}, opts...)
	d, err := chain.Open(ctx, Provider{}, path, opts...)
	if err != nil {
		return nil, err
	}
	if path == "" {
		d.Handle().SetMaxOpenConns(1)
	}
	return d, nil
}

// Schema reads information_schema and duckdb_constraints().
type Schema struct {
	q chain.Querier
}

var _ chain.BoundSchema = (*Schema)(nil)

// Bind reads the catalog through q, for example a transaction.
func (s *Schema) Bind(q chain.Querier) chain.SchemaSource { return &Schema{q: q} }

func (s *Schema) Table(ctx context.Context, name string) (*chain.TableSchema, error) {
	schema, table := splitName(name)
	rows, err := s.q.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES', coalesce(column_default, '')
		FROM information_schema.columns
		WHERE table_name = ? AND table_schema = coalesce(CAST(? AS VARCHAR), current_schema())
		ORDER BY ordinal_position`, table, schema)
	if err != nil {
		return nil, fmt.Errorf("duckdb: describe %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	t := &chain.TableSchema{Name: name}
	for rows.Next() {
		var (
			c   chain.ColumnSchema
			def string
		)
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &def); err != nil {
			return nil, fmt.Errorf("duckdb: describe %s: %w", name, err)
		}
		c.Identity = strings.HasPrefix(strings.ToLower(def), "nextval(")
		t.Columns = append(t.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("duckdb: describe %s: %w", name, err)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s", chain.ErrTableNotFound, name)
	}

	keys, err := s.primaryKey(ctx, schema, table)
	if err != nil {
		return nil, fmt.Errorf("duckdb: describe %s: %w", name, err)
	}
	for i := range t.Columns {
		if _, ok := keys[strings.ToLower(t.Columns[i].Name)]; ok {
			t.Columns[i].PrimaryKey = true
		}
	}
	return t, nil
}

func (s *Schema) primaryKey(ctx context.Context, schema any, table string) (map[string]struct{}, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT unnest(constraint_column_names)
		FROM duckdb_constraints()
		WHERE constraint_type = 'PRIMARY KEY' AND table_name = ?
		  AND schema_name = coalesce(CAST(? AS VARCHAR), current_schema())`, table, schema)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	keys := make(map[string]struct{})
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		keys[strings.ToLower(col)] = struct{}{}
	}
	return keys, rows.Err()
}

// splitName separates "schema.table"; schema is nil when absent.
func splitName(name string) (schema any, table string) {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i], name[i+1:]
	}
	return nil, name
}
