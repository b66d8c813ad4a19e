package chain

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// CommandBuilder is the root of a chain. It turns a column selection into
// an ExecutionToken.
type CommandBuilder interface {
	DataSource() DataSource

	// Prepare builds a fresh token. Builders that need table metadata look it
	// up here, so a schema error surfaces on first execution.
	Prepare(ctx context.Context, cols ColumnSelection) (*ExecutionToken, error)

	// Err reports an error detected when the builder was created.
	Err() error
}

func checkDataSource(ds DataSource) error {
	if ds == nil {
		return fmt.Errorf("%w: nil data source", ErrInvalidDataSource)
	}
	if v := reflect.ValueOf(ds); v.Kind() == reflect.Pointer && v.IsNil() {
		return fmt.Errorf("%w: nil data source", ErrInvalidDataSource)
	}
	return nil
}

// ---------------- raw SQL ----------------

// SQLCommand runs caller-written SQL.
type SQLCommand struct {
	ds      DataSource
	text    string
	args    []any
	lock    LockMode
	lockSet bool
	err     error
}

// SQL builds a command from raw text. A single struct or map argument binds
// :name parameters; otherwise args are positional. "?" placeholders are
// rewritten to the provider's style.
//
// The lock mode is guessed from the leading keyword: SELECT, WITH, EXPLAIN,
// SHOW, DESCRIBE and PRAGMA read, everything else writes. Use ReadOnly or
// WithLockMode when the guess is wrong.
//
//	n, err := chain.ToRowsAffected(db.SQL(`DELETE FROM users WHERE id = ?`, 7)).Execute(nil)
func SQL(ds DataSource, text string, args ...any) *SQLCommand {
	c := &SQLCommand{ds: ds, text: text, args: args}
	if err := checkDataSource(ds); err != nil {
		c.err = err
	} else if strings.TrimSpace(text) == "" {
		c.err = fmt.Errorf("%w: empty command text", ErrInvalidLink)
	}
	return c
}

// ReadOnly marks the command as a reader.
func (c *SQLCommand) ReadOnly() *SQLCommand { return c.WithLockMode(LockRead) }

// WithLockMode overrides the guessed lock mode.
func (c *SQLCommand) WithLockMode(m LockMode) *SQLCommand {
	c.lock, c.lockSet = m, true
	return c
}

func (c *SQLCommand) DataSource() DataSource { return c.ds }
func (c *SQLCommand) Err() error             { return c.err }

// Prepare ignores the column selection; the text decides what is returned.
func (c *SQLCommand) Prepare(_ context.Context, _ ColumnSelection) (*ExecutionToken, error) {
	if c.err != nil {
		return nil, c.err
	}
	text, args, err := Rebind(c.text, c.ds.Provider().Placeholder(), c.args...)
	if err != nil {
		return nil, err
	}
	lock := c.lock
	if !c.lockSet {
		lock = guessLockMode(c.text)
	}
	return NewExecutionToken(c.ds.Name(), TokenSpec{
		Operation:  "SQL",
		Text:       text,
		Kind:       CommandText,
		Lock:       lock,
		Parameters: positional(args),
	}), nil
}

func guessLockMode(text string) LockMode {
	switch leadingKeyword(text) {
	case "WITH":
		// common table expressions may modify data, in the CTE list or
		// in the main statement
		if containsKeyword(text, "INSERT", "UPDATE", "DELETE", "MERGE", "REPLACE", "UPSERT") {
			return LockWrite
		}
		return LockRead
	case "SELECT", "EXPLAIN", "SHOW", "DESCRIBE", "DESC", "PRAGMA", "VALUES":
		return LockRead
	default:
		return LockWrite
	}
}

// ---------------- stored procedure ----------------

// ProcedureCommand calls a stored procedure.
type ProcedureCommand struct {
	ds   DataSource
	name string
	args []any
	err  error
}

// Procedure calls name with positional arguments.
func Procedure(ds DataSource, name string, args ...any) *ProcedureCommand {
	c := &ProcedureCommand{ds: ds, name: name, args: args}
	if err := checkDataSource(ds); err != nil {
		c.err = err
	} else if name == "" {
		c.err = fmt.Errorf("%w: empty procedure name", ErrInvalidLink)
	}
	return c
}

func (c *ProcedureCommand) DataSource() DataSource { return c.ds }
func (c *ProcedureCommand) Err() error             { return c.err }

func (c *ProcedureCommand) Prepare(_ context.Context, _ ColumnSelection) (*ExecutionToken, error) {
	if c.err != nil {
		return nil, c.err
	}
	p := c.ds.Provider()
	marks := make([]string, len(c.args))
	for i := range marks {
		marks[i] = p.Placeholder().Format(i + 1)
	}
	return NewExecutionToken(c.ds.Name(), TokenSpec{
		Operation:  "Procedure",
		Text:       "CALL " + p.QuoteIdentifier(c.name) + "(" + strings.Join(marks, ", ") + ")",
		Kind:       CommandProcedure,
		Lock:       LockWrite,
		Parameters: positional(c.args),
	}), nil
}

// ---------------- SELECT from a table ----------------

// FromCommand reads from a table or view.
type FromCommand struct {
	ds     DataSource
	table  string
	filter any
	order  []string
	limit  int
	err    error
}

// From selects from table. Which columns are fetched is decided by the
// materializer that terminates the chain.
func From(ds DataSource, table string) *FromCommand {
	c := &FromCommand{ds: ds, table: table}
	if err := checkDataSource(ds); err != nil {
		c.err = err
	} else if table == "" {
		c.err = fmt.Errorf("%w: empty table name", ErrInvalidLink)
	}
	return c
}

// Where filters by equality on every key of a map[string]any, or on every
// field of a struct that names a column. A nil value matches NULL.
func (c *FromCommand) Where(filter any) *FromCommand {
	if filter != nil && !looksBindable(filter) {
		c.err = fmt.Errorf("%w: filter %T", ErrUnsupportedArg, filter)
	}
	c.filter = filter
	return c
}

// OrderBy sorts by the given columns; a trailing " DESC" or " ASC" is kept.
func (c *FromCommand) OrderBy(cols ...string) *FromCommand {
	c.order = append(c.order, cols...)
	return c
}

// Limit caps the number of rows; zero means no limit.
func (c *FromCommand) Limit(n int) *FromCommand {
	c.limit = n
	return c
}

func (c *FromCommand) DataSource() DataSource { return c.ds }
func (c *FromCommand) Err() error             { return c.err }

func (c *FromCommand) Prepare(ctx context.Context, cols ColumnSelection) (*ExecutionToken, error) {
	if c.err != nil {
		return nil, c.err
	}
	if cols.IsNone() {
		return nil, fmt.Errorf("%w: a select needs at least one column", ErrNoColumns)
	}
	ts, err := c.ds.Schema().Table(ctx, c.table)
	if err != nil {
		return nil, err
	}
	selected, err := cols.Resolve(ts)
	if err != nil {
		return nil, err
	}

	p := c.ds.Provider()
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, col := range selected {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.QuoteIdentifier(col.Name))
	}
	b.WriteString(" FROM ")
	b.WriteString(p.QuoteIdentifier(c.table))

	var args []any
	if c.filter != nil {
		where, wargs, err := equalityFilter(ts, c.filter, p)
		if err != nil {
			return nil, err
		}
		if where != "" {
			b.WriteString(" WHERE ")
			b.WriteString(where)
			args = wargs
		}
	}
	if len(c.order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range c.order {
			if i > 0 {
				b.WriteString(", ")
			}
			col, dir := splitOrder(o)
			if _, ok := ts.Column(col); !ok {
				return nil, fmt.Errorf("chain: %s has no column %q to order by", ts.Name, col)
			}
			b.WriteString(p.QuoteIdentifier(col))
			b.WriteString(dir)
		}
	}
	if c.limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(c.limit))
	}

	text, err := rewritePlaceholders(b.String(), p.Placeholder())
	if err != nil {
		return nil, err
	}
	return NewExecutionToken(c.ds.Name(), TokenSpec{
		Operation:  "From",
		Text:       text,
		Kind:       CommandText,
		Lock:       LockRead,
		Parameters: positional(args),
	}), nil
}

func splitOrder(s string) (col, dir string) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, ' '); i > 0 {
		switch strings.ToUpper(s[i+1:]) {
		case "DESC":
			return strings.TrimSpace(s[:i]), " DESC"
		case "ASC":
			return strings.TrimSpace(s[:i]), " ASC"
		}
	}
	return s, ""
}

// equalityFilter renders "a = ? AND b IS NULL" in table column order. Map
// keys must all be columns; struct fields that are not columns are skipped.
func equalityFilter(ts *TableSchema, filter any, p Provider) (string, []any, error) {
	vals, err := paramLookup(filter)
	if err != nil {
		return "", nil, err
	}
	if isMapValue(filter) {
		keys := make([]string, 0, len(vals))
		for k := range vals {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := ts.Column(k); !ok {
				return "", nil, fmt.Errorf("chain: %s has no column %q to filter on", ts.Name, k)
			}
		}
	}

	var (
		parts []string
		args  []any
	)
	for _, col := range ts.Columns {
		v, ok := vals[normalizeColAscii(col.Name)]
		if !ok {
			continue
		}
		if v == nil {
			parts = append(parts, p.QuoteIdentifier(col.Name)+" IS NULL")
			continue
		}
		parts = append(parts, p.QuoteIdentifier(col.Name)+" = ?")
		args = append(args, v)
	}
	return strings.Join(parts, " AND "), args, nil
}

func isMapValue(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Map
}

// ---------------- INSERT ----------------

// InsertCommand inserts one row.
type InsertCommand struct {
	ds     DataSource
	table  string
	values any
	err    error
}

// Insert writes values, a struct or map[string]any, into table. Keys that
// are not columns and identity columns are skipped. The materializer's
// column selection becomes a RETURNING clause; NoColumns omits it.
func Insert(ds DataSource, table string, values any) *InsertCommand {
	c := &InsertCommand{ds: ds, table: table, values: values}
	if err := checkDataSource(ds); err != nil {
		c.err = err
		return c
	}
	switch {
	case table == "":
		c.err = fmt.Errorf("%w: empty table name", ErrInvalidLink)
	case !looksBindable(values):
		c.err = fmt.Errorf("%w: values %T", ErrUnsupportedArg, values)
	}
	return c
}

func (c *InsertCommand) DataSource() DataSource { return c.ds }
func (c *InsertCommand) Err() error             { return c.err }

func (c *InsertCommand) Prepare(ctx context.Context, cols ColumnSelection) (*ExecutionToken, error) {
	if c.err != nil {
		return nil, c.err
	}
	ts, err := c.ds.Schema().Table(ctx, c.table)
	if err != nil {
		return nil, err
	}
	vals, err := paramLookup(c.values)
	if err != nil {
		return nil, err
	}

	p := c.ds.Provider()
	var (
		names []string
		marks []string
		args  []any
	)
	for _, col := range ts.Columns {
		if col.Identity {
			continue
		}
		v, ok := vals[normalizeColAscii(col.Name)]
		if !ok {
			continue
		}
		names = append(names, p.QuoteIdentifier(col.Name))
		marks = append(marks, "?")
		args = append(args, v)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no values match the columns of %s", ErrNoColumns, ts.Name)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(p.QuoteIdentifier(c.table))
	b.WriteString(" (")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(marks, ", "))
	b.WriteString(")")

	if !cols.IsNone() {
		if !p.SupportsReturning() {
			return nil, fmt.Errorf("%w: %s", ErrReturningUnsupported, p.DriverName())
		}
		ret, err := cols.Resolve(ts)
		if err != nil {
			return nil, err
		}
		b.WriteString(" RETURNING ")
		for i, col := range ret {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.QuoteIdentifier(col.Name))
		}
	}

	text, err := rewritePlaceholders(b.String(), p.Placeholder())
	if err != nil {
		return nil, err
	}
	return NewExecutionToken(c.ds.Name(), TokenSpec{
		Operation:  "Insert",
		Text:       text,
		Kind:       CommandText,
		Lock:       LockWrite,
		Parameters: positional(args),
	}), nil
}

// ---------------- data source shortcuts ----------------

func (d *DB) SQL(text string, args ...any) *SQLCommand {
	return SQL(d, text, args...)
}

func (d *DB) Procedure(name string, args ...any) *ProcedureCommand {
	return Procedure(d, name, args...)
}

func (d *DB) From(table string) *FromCommand {
	return From(d, table)
}

func (d *DB) Insert(table string, values any) *InsertCommand {
	return Insert(d, table, values)
}

func (t *Tx) SQL(text string, args ...any) *SQLCommand {
	return SQL(t, text, args...)
}

func (t *Tx) Procedure(name string, args ...any) *ProcedureCommand {
	return Procedure(t, name, args...)
}

func (t *Tx) From(table string) *FromCommand {
	return From(t, table)
}

func (t *Tx) Insert(table string, values any) *InsertCommand {
	return Insert(t, table, values)
}
