package chain

import "strings"

// Provider describes what the host needs to know about a database engine.
// Dialect generation beyond identifier quoting and placeholders belongs to
// the provider packages.
type Provider interface {
	// DriverName is the database/sql driver name used by Open.
	DriverName() string

	// Placeholder is the positional parameter style of the engine.
	Placeholder() Placeholder

	// QuoteIdentifier quotes a table or column name.
	QuoteIdentifier(name string) string

	// SupportsReturning reports whether INSERT ... RETURNING is available.
	SupportsReturning() bool

	// FileBased reports whether the engine needs the host's reader/writer
	// guard instead of relying on the connection pool.
	FileBased() bool

	// IsCanceled reports whether err is the engine's native way of saying a
	// command was interrupted.
	IsCanceled(err error) bool

	// Schema returns the metadata source reading the catalog through q.
	Schema(q Querier) SchemaSource
}

// GenericProvider serves any database/sql driver without engine-specific
// behavior. It has no live schema source; set Tables to supply one.
type GenericProvider struct {
	Driver    string
	Style     Placeholder
	Returning bool
	Embedded  bool
	Tables    SchemaSource
}

func (p GenericProvider) DriverName() string                 { return p.Driver }
func (p GenericProvider) Placeholder() Placeholder           { return p.Style }
func (p GenericProvider) QuoteIdentifier(name string) string { return QuoteDouble(name) }
func (p GenericProvider) SupportsReturning() bool            { return p.Returning }
func (p GenericProvider) FileBased() bool                    { return p.Embedded }
func (p GenericProvider) IsCanceled(error) bool              { return false }

// Schema returns Tables, or an empty StaticSchema when Tables is nil.
func (p GenericProvider) Schema(Querier) SchemaSource {
	if p.Tables == nil {
		return StaticSchema{}
	}
	return p.Tables
}

// QuoteDouble quotes an identifier with double quotes, doubling embedded
// quotes. Dotted names are quoted per part.
func QuoteDouble(name string) string { return quoteParts(name, '"') }

// QuoteBacktick is QuoteDouble for MySQL-style identifiers.
func QuoteBacktick(name string) string { return quoteParts(name, '`') }

func quoteParts(name string, q byte) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		s := string(q)
		parts[i] = s + strings.ReplaceAll(p, s, s+s) + s
	}
	return strings.Join(parts, ".")
}
