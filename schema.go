package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
)

// ColumnSchema describes one column of a table or view.
type ColumnSchema struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
	Identity   bool
}

// TableSchema describes a table or view.
type TableSchema struct {
	Name    string
	Columns []ColumnSchema
}

// Column looks a column up case-insensitively.
func (t *TableSchema) Column(name string) (ColumnSchema, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

// PrimaryKeys returns the primary key columns in table order.
func (t *TableSchema) PrimaryKeys() []ColumnSchema {
	var out []ColumnSchema
	for _, c := range t.Columns {
		if c.PrimaryKey {
			out = append(out, c)
		}
	}
	return out
}

// IdentityColumns returns the columns the database generates on insert.
func (t *TableSchema) IdentityColumns() []ColumnSchema {
	var out []ColumnSchema
	for _, c := range t.Columns {
		if c.Identity {
			out = append(out, c)
		}
	}
	return out
}

// ColumnNames lists the columns in declaration order.
func (t *TableSchema) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// SchemaSource looks table and view definitions up by name.
type SchemaSource interface {
	Table(ctx context.Context, name string) (*TableSchema, error)
}

// BoundSchema is a SchemaSource that reads the catalog through a
// connection. Bind returns the same source reading through q; a Tx uses it
// so lookups run on the transaction's own connection.
type BoundSchema interface {
	SchemaSource
	Bind(q Querier) SchemaSource
}

func bindSchema(s SchemaSource, q Querier) SchemaSource {
	if b, ok := s.(BoundSchema); ok {
		return b.Bind(q)
	}
	return s
}

// StaticSchema is a SchemaSource backed by a map. Keys are matched
// case-insensitively.
type StaticSchema map[string]*TableSchema

func (s StaticSchema) Table(_ context.Context, name string) (*TableSchema, error) {
	if t, ok := s[name]; ok {
		return t, nil
	}
	for k, t := range s {
		if strings.EqualFold(k, name) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
}

// CachedSchema keeps the most recently used table definitions of another
// source in memory.
type CachedSchema struct {
	src   SchemaSource
	store *tableCache
}

type tableCache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

var _ BoundSchema = (*CachedSchema)(nil)

// NewCachedSchema caches up to maxEntries tables; zero means no limit.
func NewCachedSchema(src SchemaSource, maxEntries int) *CachedSchema {
	return &CachedSchema{src: src, store: &tableCache{lru: lru.New(maxEntries)}}
}

func (c *CachedSchema) Table(ctx context.Context, name string) (*TableSchema, error) {
	key := strings.ToLower(name)
	c.store.mu.Lock()
	if v, ok := c.store.lru.Get(key); ok {
		c.store.mu.Unlock()
		return v.(*TableSchema), nil
	}
	c.store.mu.Unlock()

	t, err := c.src.Table(ctx, name)
	if err != nil {
		return nil, err
	}
	c.store.mu.Lock()
	c.store.lru.Add(key, t)
	c.store.mu.Unlock()
	return t, nil
}

// Bind returns a view whose misses read through q. Cached entries are
// shared with c.
func (c *CachedSchema) Bind(q Querier) SchemaSource {
	return &CachedSchema{src: bindSchema(c.src, q), store: c.store}
}

// Invalidate drops one table, or everything when name is empty.
func (c *CachedSchema) Invalidate(name string) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if name == "" {
		c.store.lru.Clear()
		return
	}
	c.store.lru.Remove(strings.ToLower(name))
}
