package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	chain "github.com/sk8tz/Chain"
)

type person struct {
	ID    int64  `db:"id"`
	Name  string `db:"name"`
	Email string `db:"email"`
}

func openTemp(t *testing.T) *chain.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.db")
	d, err := Open(context.Background(), path, chain.WithSuppressGlobalEvents(true))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if _, err := chain.ToNonQuery(d.SQL(`CREATE TABLE people (
		id    INTEGER PRIMARY KEY,
		name  TEXT NOT NULL,
		email TEXT
	)`)).Execute(nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	return d
}

func TestOpen(t *testing.T) {
	if _, err := Open(context.Background(), ""); !errors.Is(err, chain.ErrInvalidDataSource) {
		t.Fatalf("empty path: %v", err)
	}
	d := openTemp(t)
	if d.Guard() == nil {
		t.Fatal("sqlite data sources are guarded")
	}
	if filepath.Base(d.Name()) != "chain.db" {
		t.Fatalf("name %q", d.Name())
	}
}

func TestDSN(t *testing.T) {
	if got := dsn(":memory:"); got != ":memory:" {
		t.Fatal(got)
	}
	if got := dsn("a.db?mode=ro"); got != "a.db?mode=ro" {
		t.Fatal(got)
	}
	if got := dsn("a.db"); got != "a.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)" {
		t.Fatal(got)
	}
}

func TestSchema(t *testing.T) {
	d := openTemp(t)
	ts, err := d.Schema().Table(context.Background(), "people")
	if err != nil {
		t.Fatal(err)
	}
	if got := ts.ColumnNames(); len(got) != 3 || got[0] != "id" || got[2] != "email" {
		t.Fatalf("columns %v", got)
	}
	id, _ := ts.Column("id")
	if !id.PrimaryKey || !id.Identity {
		t.Fatalf("rowid alias %+v", id)
	}
	name, _ := ts.Column("name")
	if name.Nullable {
		t.Fatal("name is NOT NULL")
	}
	if _, err := d.Schema().Table(context.Background(), "ghost"); !errors.Is(err, chain.ErrTableNotFound) {
		t.Fatalf("ghost: %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	d := openTemp(t)

	id, err := chain.ToScalar[int64](d.Insert("people", person{Name: "ann", Email: "ann@x"})).Execute(nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != 1 {
		t.Fatalf("id %d", id)
	}
	if _, err := chain.ToRowsAffected(d.Insert("people", map[string]any{"name": "bob"})).Execute(nil); err != nil {
		t.Fatalf("insert map: %v", err)
	}

	people, err := chain.ToCollection[person](d.From("people").OrderBy("name")).Execute(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(people) != 2 || people[0].Name != "ann" || people[1].Name != "bob" || people[1].Email != "" {
		t.Fatalf("people %+v", people)
	}

	bob, err := chain.ToObject[person](d.From("people").Where(map[string]any{"name": "bob"})).Execute(nil)
	if err != nil || bob.ID != 2 {
		t.Fatalf("bob %+v err=%v", bob, err)
	}

	n, err := chain.ToRowsAffected(d.SQL(`UPDATE people SET email = ? WHERE id = ?`, "bob@x", bob.ID)).Execute(nil)
	if err != nil || n != 1 {
		t.Fatalf("update n=%d err=%v", n, err)
	}
}

func TestTransaction(t *testing.T) {
	d := openTemp(t)
	ctx := context.Background()

	tx, err := d.Begin(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := chain.ToNonQuery(tx.Insert("people", person{Name: "tmp"})).Execute(nil); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	n, err := chain.ToScalar[int64](d.SQL(`SELECT count(*) FROM people`)).Execute(nil)
	if err != nil || n != 0 {
		t.Fatalf("count=%d err=%v", n, err)
	}
}

func TestCancelSurfacesAsCancellation(t *testing.T) {
	d := openTemp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := chain.ToScalar[int64](d.SQL(`
		WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n)
		SELECT count(*) FROM n`)).ExecuteContext(ctx, nil)
	if !chain.IsCanceled(err) {
		t.Fatalf("want cancellation, got %v", err)
	}
}

func TestProvider(t *testing.T) {
	var p Provider
	if p.IsCanceled(errors.New("SQLITE_INTERRUPT")) || p.IsCanceled(nil) {
		t.Fatal("only driver errors are recognized")
	}
	if p.QuoteIdentifier("main.people") != `"main"."people"` {
		t.Fatal(p.QuoteIdentifier("main.people"))
	}
	if !p.FileBased() || !p.SupportsReturning() || p.DriverName() != "sqlite" {
		t.Fatal("provider capabilities")
	}
}

func TestMemoryTransactionUsesItsConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := Open(ctx, ":memory:", chain.WithSuppressGlobalEvents(true))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if _, err := chain.ToNonQuery(d.SQL(`CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT)`)).ExecuteContext(ctx, nil); err != nil {
		t.Fatal(err)
	}

	tx, err := d.Begin(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	// the pool has one connection and the transaction holds it
	if _, err := chain.ToRowsAffected(tx.Insert("people", map[string]any{"name": "ann"})).ExecuteContext(ctx, nil); err != nil {
		t.Fatalf("insert in tx: %v", err)
	}
	people, err := chain.ToCollection[person](tx.From("people")).ExecuteContext(ctx, nil)
	if err != nil {
		t.Fatalf("select in tx: %v", err)
	}
	if len(people) != 1 || people[0].Name != "ann" {
		t.Fatalf("people %+v", people)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	n, err := chain.ToScalar[int64](d.SQL(`SELECT count(*) FROM people`)).ExecuteContext(ctx, nil)
	if err != nil || n != 1 {
		t.Fatalf("count=%d err=%v", n, err)
	}
}
