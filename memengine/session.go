package memengine

import (
	"context"

	wire "github.com/akiban/pgwire"
)

// session is the opaque per-connection handle memengine hands back from its
// SessionFactory. It carries nothing beyond the database name requested at
// startup: the engine has no per-connection mutable state of its own.
type session struct {
	database string
}

// Engine bundles a Catalog with the Parser/Compiler pair that resolve
// against it, and exposes a SessionFactory suitable for wire.WithSessionFactory.
type Engine struct {
	Catalog  *Catalog
	Parser   *Parser
	Compiler *Compiler
}

// NewEngine constructs an Engine around catalog.
func NewEngine(catalog *Catalog) *Engine {
	return &Engine{
		Catalog:  catalog,
		Parser:   NewParser(),
		Compiler: NewCompiler(catalog),
	}
}

// SessionFactory returns a wire.SessionFactory bound to this engine. Every
// connection shares the same Parser/Compiler/Catalog; only the opaque
// session value differs per connection.
func (e *Engine) SessionFactory() wire.SessionFactory {
	return func(ctx context.Context, database string) (wire.Session, wire.Parser, wire.Compiler, error) {
		return &session{database: database}, e.Parser, e.Compiler, nil
	}
}

// Transactions is a no-op wire.TransactionService: the in-memory engine has
// no durable state to roll back, so Begin/Commit/Rollback are all trivially
// successful. It exists so a connection wired with WithTransactions(...)
// exercises the Sync-boundary bracketing machinery end to end.
type Transactions struct{}

var _ wire.TransactionService = Transactions{}

func (Transactions) Begin(ctx context.Context, s wire.Session) error    { return nil }
func (Transactions) Commit(ctx context.Context, s wire.Session) error   { return nil }
func (Transactions) Rollback(ctx context.Context, s wire.Session) error { return nil }
