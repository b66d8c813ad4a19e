/*
Package chain is a small execution layer over database/sql. A command is
built, optionally decorated, and terminated by a materializer that decides
what the caller gets back; the resulting chain runs as one deferred
operation against a data source.

# Overview

	users, err := chain.ToCollection[User](db.From("users").Where(map[string]any{"active": true})).
		ExecuteContext(ctx, nil)

A chain has three kinds of links:

  - a command builder (SQL, Procedure, From, Insert) renders the command text
    and parameters into an ExecutionToken;
  - a materializer (ToRowsAffected, ToTable, ToRow, ToScalar, ToObject,
    ToCollection, ToConstructed, ToConstructedWithRows) tells the builder
    which columns it needs and converts the raw result;
  - appenders (WithTimeout, WithTokenHook, WithRetry, WithCache, WithLogger)
    wrap a materializer and observe or repeat its execution. SQL and
    DataSource always come from the builder unchanged.

Construction problems (a nil data source, an unknown constructor signature)
are kept in the chain and reported by Err and by Execute before any I/O.

# Data sources

DB wraps a *sql.DB and a Provider. Every command goes through DataSource
Execute, which raises a started event, runs the command and raises exactly
one of finished, error or canceled. Handlers subscribe on the data source's
Events or on GlobalEvents. Failures come back as *ExecutionError carrying
the command text and parameters; a failure that coincides with the caller's
context being done is a *CanceledError instead, which matches
context.Canceled or context.DeadlineExceeded with errors.Is.

Engines that store data in a single file (SQLite, DuckDB) get a reader/writer
guard: reads share it, writes hold it alone, and a transaction holds it from
Begin until Commit or Rollback. Other engines rely on the connection pool.

# Mapping rules

  - Fields bind by `db:"name"` first; otherwise case-insensitive field name.
  - Nested structs can be flattened with `db:",inline"`; `db:"-"` is skipped.
  - If a field implements sql.Scanner, its Scan method receives the driver value.
  - NULL becomes nil for pointers, slices, maps and interfaces, and the zero
    value for everything else unless NullIsError is configured.
  - Extra columns are ignored; missing columns leave the zero value unless
    strict mode is on.
  - Types whose pointer implements ChangeTracker get AcceptChanges after
    population.

Types without settable fields can be built through constructors registered
with RegisterConstructor; parameters bind to columns by name.

# Performance

Type metadata and per-column-set plans are built on first use and cached in
a process-wide, concurrency-safe map. A result is read into a Table while
the data source holds its lock and mapped afterwards.

# Providers

GenericProvider works with any driver. The sqlite, duckdb, mysql and
postgres subpackages add cancellation detection and live schema lookup for
their engines; columnar materializes results as Apache Arrow tables.
*/
package chain
