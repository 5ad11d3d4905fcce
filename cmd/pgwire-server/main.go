// Command pgwire-server runs a Postgres v3 wire-protocol server backed by
// the memengine reference SQL engine. It plays the role the teacher
// project's examples/ directory plays: the one place allowed to wire the
// abstract protocol core to a concrete collaborator implementation.
package main

import (
	"flag"
	"log/slog"
	"os"

	wire "github.com/akiban/pgwire"
	"github.com/akiban/pgwire/memengine"
	"github.com/lib/pq/oid"
	"github.com/shopspring/decimal"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5432", "address to listen on")
	flag.Parse()

	logger := slog.Default()
	catalog := seedCatalog()
	engine := memengine.NewEngine(catalog)

	srv, err := wire.NewServer(
		wire.WithSessionFactory(engine.SessionFactory()),
		wire.WithAuth(wire.ClearTextPassword()),
		wire.WithTransactions(memengine.Transactions{}),
	)
	if err != nil {
		logger.Error("failed to construct server", "err", err)
		os.Exit(1)
	}

	logger.Info("pgwire server listening", slog.String("addr", *addr))
	if err := srv.ListenAndServe(*addr); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

// seedCatalog registers the handful of illustrative tables the server
// answers queries against, mirroring the fixed in-memory dataset the
// teacher's own example handlers return.
func seedCatalog() *memengine.Catalog {
	catalog := memengine.NewCatalog()

	catalog.Register(&memengine.Table{
		Name: "members",
		Columns: []memengine.Column{
			{Name: "name", Oid: oid.T_text},
			{Name: "member", Oid: oid.T_bool},
			{Name: "age", Oid: oid.T_int4},
		},
		Rows: [][]any{
			{"John", true, int32(29)},
			{"Marry", false, int32(21)},
		},
	})

	catalog.Register(&memengine.Table{
		Name: "accounts",
		Columns: []memengine.Column{
			{Name: "id", Oid: oid.T_int4},
			{Name: "balance", Oid: oid.T_numeric},
		},
		Rows: [][]any{
			{int32(1), decimal.RequireFromString("104.50")},
			{int32(2), decimal.RequireFromString("-12.25")},
		},
	})

	return catalog
}
