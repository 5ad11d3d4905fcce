package memengine_test

import (
	"context"
	"net"
	"testing"

	wire "github.com/akiban/pgwire"
	"github.com/akiban/pgwire/memengine"
	"github.com/akiban/pgwire/pkg/buffer"
	"github.com/akiban/pgwire/pkg/types"
	"github.com/lib/pq/oid"
	"github.com/neilotoole/slogt"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine() *memengine.Engine {
	catalog := memengine.NewCatalog()
	catalog.Register(&memengine.Table{
		Name: "widgets",
		Columns: []memengine.Column{
			{Name: "id", Oid: oid.T_int4},
			{Name: "name", Oid: oid.T_text},
			{Name: "price", Oid: oid.T_numeric},
		},
		Rows: [][]any{
			{int32(1), "bolt", decimal.RequireFromString("1.50")},
			{int32(2), "nut", decimal.RequireFromString("0.75")},
		},
	})

	return memengine.NewEngine(catalog)
}

// compile is a small helper that drives Parser -> Compiler exactly as the
// connection layer would for a single-statement simple query.
func compile(t *testing.T, engine *memengine.Engine, sql string) wire.Statement {
	t.Helper()

	trees, err := engine.Parser.Parse(context.Background(), sql)
	require.NoError(t, err)
	require.Len(t, trees, 1)
	require.True(t, trees[0].IsSelect())

	stmt, err := engine.Compiler.Compile(context.Background(), trees[0], nil)
	require.NoError(t, err)

	return stmt
}

func TestStatementSendRowDescription(t *testing.T) {
	engine := newEngine()
	stmt := compile(t, engine, "SELECT id, name, price FROM widgets")

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	logger := slogt.New(t)
	fr := wire.NewFramer(logger, server, 0)

	go func() {
		_ = stmt.SendRowDescription(context.Background(), fr, nil)
	}()

	reader := buffer.NewReader(logger, client, 0)
	typ, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerRowDescription, types.ServerMessage(typ))

	count, err := reader.GetUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(3), count)

	name, err := reader.GetString()
	require.NoError(t, err)
	assert.Equal(t, "id", name)
}

func TestStatementExecuteWritesEveryRow(t *testing.T) {
	engine := newEngine()
	stmt := compile(t, engine, "SELECT name FROM widgets")

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	logger := slogt.New(t)
	fr := wire.NewFramer(logger, server, 0)

	done := make(chan struct{})
	var rows int64
	var execErr error

	go func() {
		defer close(done)
		rows, execErr = stmt.Execute(context.Background(), fr, nil, -1)
	}()

	reader := buffer.NewReader(logger, client, 0)

	for i := 0; i < 2; i++ {
		typ, _, err := reader.ReadTypedMsg()
		require.NoError(t, err)
		assert.Equal(t, types.ServerDataRow, types.ServerMessage(typ))
	}

	<-done
	require.NoError(t, execErr)
	assert.Equal(t, int64(2), rows)
}

func TestBoundPortalFiltersOnWhereClause(t *testing.T) {
	engine := newEngine()

	trees, err := engine.Parser.Parse(context.Background(), "SELECT name FROM widgets WHERE id = $1")
	require.NoError(t, err)
	require.Len(t, trees, 1)

	stmt, err := engine.Compiler.Compile(context.Background(), trees[0], nil)
	require.NoError(t, err)
	require.Equal(t, []uint32{uint32(oid.T_int4)}, stmt.ParameterOids())

	portal, err := stmt.GetBoundRequest(context.Background(), [][]byte{[]byte("2")}, nil, false)
	require.NoError(t, err)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	logger := slogt.New(t)
	fr := wire.NewFramer(logger, server, 0)

	done := make(chan struct{})
	var rows int64
	var execErr error

	go func() {
		defer close(done)
		rows, execErr = portal.Execute(context.Background(), fr, nil, -1)
	}()

	reader := buffer.NewReader(logger, client, 0)
	typ, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerDataRow, types.ServerMessage(typ))

	<-done
	require.NoError(t, execErr)
	assert.Equal(t, int64(1), rows)
}

func TestParserRejectsNonSelect(t *testing.T) {
	engine := newEngine()
	trees, err := engine.Parser.Parse(context.Background(), "DELETE FROM widgets")
	require.NoError(t, err)
	require.Len(t, trees, 1)
	assert.False(t, trees[0].IsSelect())
}

func TestCompilerRejectsUnknownTable(t *testing.T) {
	engine := newEngine()
	trees, err := engine.Parser.Parse(context.Background(), "SELECT * FROM ghosts")
	require.NoError(t, err)
	require.Len(t, trees, 1)

	_, err = engine.Compiler.Compile(context.Background(), trees[0], nil)
	assert.Error(t, err)
}
