package wire_test

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	wire "github.com/akiban/pgwire"
	"github.com/akiban/pgwire/memengine"
	"github.com/akiban/pgwire/pkg/mock"
	"github.com/akiban/pgwire/pkg/types"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEngine seeds a small catalog exercised by every scenario below.
func testEngine() *memengine.Engine {
	catalog := memengine.NewCatalog()
	catalog.Register(&memengine.Table{
		Name: "items",
		Columns: []memengine.Column{
			{Name: "name", Oid: oid.T_text},
		},
		Rows: [][]any{
			{"widget"},
			{"gadget"},
		},
	})

	return memengine.NewEngine(catalog)
}

// dialServer starts a Server backed by engine on a loopback listener and
// returns a live client connection to it, already past the TCP handshake but
// before the Postgres startup exchange.
func dialServer(t *testing.T, engine *memengine.Engine, options ...wire.OptionFn) net.Conn {
	t.Helper()

	conn, _ := dialServerAddr(t, engine, options...)
	return conn
}

// dialServerAddr is dialServer plus the listener address, for tests that
// need to open a second connection to the same server.
func dialServerAddr(t *testing.T, engine *memengine.Engine, options ...wire.OptionFn) (net.Conn, string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	opts := append([]wire.OptionFn{
		wire.WithSessionFactory(engine.SessionFactory()),
		wire.WithAuth(wire.ClearTextPassword()),
	}, options...)
	srv, err := wire.NewServer(opts...)
	require.NoError(t, err)

	go srv.Serve(listener)
	t.Cleanup(func() { srv.Close() })

	addr := listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn, addr
}

// sendStartup writes an untyped startup-shaped frame carrying the given
// key/value properties.
func sendStartup(t *testing.T, conn net.Conn, params map[string]string) {
	t.Helper()

	var body bytes.Buffer
	var version [4]byte
	binary.BigEndian.PutUint32(version[:], uint32(types.Version30))
	body.Write(version[:])

	for k, v := range params {
		body.WriteString(k)
		body.WriteByte(0)
		body.WriteString(v)
		body.WriteByte(0)
	}
	body.WriteByte(0)

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(body.Len()+4))

	_, err := conn.Write(length[:])
	require.NoError(t, err)
	_, err = conn.Write(body.Bytes())
	require.NoError(t, err)
}

// expectHandshake performs the cleartext-password exchange (§8 scenario 1)
// and then reads the messages the server writes once authentication
// succeeds, returning the (pid, secret) from BackendKeyData.
func expectHandshake(t *testing.T, conn net.Conn, reader *mock.Reader) (pid, secret int32) {
	t.Helper()

	typ, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerAuth, typ)
	status, err := reader.GetInt32()
	require.NoError(t, err)
	require.Equal(t, int32(3), status) // AuthenticationCleartextPassword

	writer := mock.NewWriter(t, conn)
	writer.Start(types.ClientPassword)
	writer.AddString("whatever")
	writer.AddNullTerminate()
	require.NoError(t, writer.End())

	typ, _, err = reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerAuth, typ)
	status, err = reader.GetInt32()
	require.NoError(t, err)
	require.Equal(t, int32(0), status) // AuthenticationOk

	for i := 0; i < 4; i++ {
		typ, _, err := reader.ReadTypedMsg()
		require.NoError(t, err)
		assert.Equal(t, types.ServerParameterStatus, typ)

		_, err = reader.GetString()
		require.NoError(t, err)
		_, err = reader.GetString()
		require.NoError(t, err)
	}

	typ, _, err = reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerBackendKeyData, typ)
	pid, err = reader.GetInt32()
	require.NoError(t, err)
	secret, err = reader.GetInt32()
	require.NoError(t, err)

	expectReadyForQuery(t, reader)
	return pid, secret
}

func expectReadyForQuery(t *testing.T, reader *mock.Reader) {
	t.Helper()

	typ, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerReady, typ)

	status, err := reader.GetBytes(1)
	require.NoError(t, err)
	assert.Equal(t, byte(types.ServerIdle), status[0])
}

func expectCommandComplete(t *testing.T, reader *mock.Reader, tag string) {
	t.Helper()

	typ, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerCommandComplete, typ)

	got, err := reader.GetString()
	require.NoError(t, err)
	assert.Equal(t, tag, got)
}

// expectErrorResponse reads an ErrorResponse frame and returns its fields
// keyed by the single-byte field tag.
func expectErrorResponse(t *testing.T, reader *mock.Reader) map[byte]string {
	t.Helper()

	typ, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerErrorResponse, typ)

	fields := make(map[byte]string)
	for {
		b, err := reader.GetBytes(1)
		require.NoError(t, err)
		if b[0] == 0 {
			return fields
		}

		v, err := reader.GetString()
		require.NoError(t, err)
		fields[b[0]] = v
	}
}

func TestHandshakeAndSimpleQuery(t *testing.T) {
	conn := dialServer(t, testEngine())
	reader := mock.NewReader(t, conn)

	sendStartup(t, conn, map[string]string{"user": "tester", "database": "test"})
	expectHandshake(t, conn, reader)

	writer := mock.NewWriter(t, conn)
	writer.Start(types.ClientSimpleQuery)
	writer.AddString("SELECT name FROM items")
	writer.AddNullTerminate()
	require.NoError(t, writer.End())

	typ, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerRowDescription, typ)

	count, err := reader.GetUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), count)

	for i := 0; i < 2; i++ {
		typ, _, err := reader.ReadTypedMsg()
		require.NoError(t, err)
		assert.Equal(t, types.ServerDataRow, typ)
	}

	expectCommandComplete(t, reader, "SELECT")
	expectReadyForQuery(t, reader)
}

func TestSimpleQueryODBCProbeShortCircuits(t *testing.T) {
	conn := dialServer(t, testEngine())
	reader := mock.NewReader(t, conn)

	sendStartup(t, conn, map[string]string{"user": "tester"})
	expectHandshake(t, conn, reader)

	writer := mock.NewWriter(t, conn)
	writer.Start(types.ClientSimpleQuery)
	writer.AddString("select oid, typbasetype from pg_type where typname = 'lo'")
	writer.AddNullTerminate()
	require.NoError(t, writer.End())

	expectCommandComplete(t, reader, "SELECT")
	expectReadyForQuery(t, reader)
}

func TestExtendedQueryHappyPath(t *testing.T) {
	conn := dialServer(t, testEngine())
	reader := mock.NewReader(t, conn)

	sendStartup(t, conn, map[string]string{"user": "tester"})
	expectHandshake(t, conn, reader)

	writer := mock.NewWriter(t, conn)

	writer.Start(types.ClientParse)
	writer.AddString("")
	writer.AddNullTerminate()
	writer.AddString("SELECT name FROM items")
	writer.AddNullTerminate()
	writer.AddInt16(0)
	require.NoError(t, writer.End())

	typ, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerParseComplete, typ)

	writer.Start(types.ClientBind)
	writer.AddString("")
	writer.AddNullTerminate()
	writer.AddString("")
	writer.AddNullTerminate()
	writer.AddInt16(0)
	writer.AddInt16(0)
	writer.AddInt16(0)
	require.NoError(t, writer.End())

	typ, _, err = reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerBindComplete, typ)

	writer.Start(types.ClientDescribe)
	writer.AddByte(byte(types.DescribePortal))
	writer.AddString("")
	writer.AddNullTerminate()
	require.NoError(t, writer.End())

	typ, _, err = reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerRowDescription, typ)
	count, err := reader.GetUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), count)

	writer.Start(types.ClientExecute)
	writer.AddString("")
	writer.AddNullTerminate()
	writer.AddInt32(0)
	require.NoError(t, writer.End())

	for i := 0; i < 2; i++ {
		typ, _, err := reader.ReadTypedMsg()
		require.NoError(t, err)
		assert.Equal(t, types.ServerDataRow, typ)
	}

	expectCommandComplete(t, reader, "SELECT")

	writer.Start(types.ClientSync)
	require.NoError(t, writer.End())

	expectReadyForQuery(t, reader)
}

func TestExtendedQueryNonSelectEntersSkipUntilSync(t *testing.T) {
	conn := dialServer(t, testEngine())
	reader := mock.NewReader(t, conn)

	sendStartup(t, conn, map[string]string{"user": "tester"})
	expectHandshake(t, conn, reader)

	writer := mock.NewWriter(t, conn)

	writer.Start(types.ClientParse)
	writer.AddString("")
	writer.AddNullTerminate()
	writer.AddString("DELETE FROM items")
	writer.AddNullTerminate()
	writer.AddInt16(0)
	require.NoError(t, writer.End())

	fields := expectErrorResponse(t, reader)
	assert.Equal(t, "ERROR", fields['S'])

	// A Bind sent before the next Sync is silently dropped.
	writer.Start(types.ClientBind)
	writer.AddString("")
	writer.AddNullTerminate()
	writer.AddString("")
	writer.AddNullTerminate()
	writer.AddInt16(0)
	writer.AddInt16(0)
	writer.AddInt16(0)
	require.NoError(t, writer.End())

	writer.Start(types.ClientSync)
	require.NoError(t, writer.End())

	expectReadyForQuery(t, reader)
}

func TestBindRejectsBinaryParameterFormat(t *testing.T) {
	conn := dialServer(t, testEngine())
	reader := mock.NewReader(t, conn)

	sendStartup(t, conn, map[string]string{"user": "tester"})
	expectHandshake(t, conn, reader)

	writer := mock.NewWriter(t, conn)

	writer.Start(types.ClientParse)
	writer.AddString("")
	writer.AddNullTerminate()
	writer.AddString("SELECT name FROM items WHERE name = $1")
	writer.AddNullTerminate()
	writer.AddInt16(1)
	writer.AddInt32(int32(oid.T_text))
	require.NoError(t, writer.End())

	typ, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ServerParseComplete, typ)

	writer.Start(types.ClientBind)
	writer.AddString("")
	writer.AddNullTerminate()
	writer.AddString("")
	writer.AddNullTerminate()
	writer.AddInt16(1)
	writer.AddInt16(int16(wire.BinaryFormat))
	writer.AddInt16(1)
	writer.AddInt32(6)
	writer.AddString("widget")
	writer.AddInt16(0)
	require.NoError(t, writer.End())

	fields := expectErrorResponse(t, reader)
	assert.Equal(t, "Don't know how to parse binary format.", fields['M'])

	writer.Start(types.ClientSync)
	require.NoError(t, writer.End())

	expectReadyForQuery(t, reader)
}

func TestCancelRequestSignalsTargetConnection(t *testing.T) {
	engine := testEngine()
	conn, addr := dialServerAddr(t, engine)
	reader := mock.NewReader(t, conn)

	sendStartup(t, conn, map[string]string{"user": "tester"})
	pid, secret := expectHandshake(t, conn, reader)

	// Cancellation is carried on its own short-lived connection, per the
	// out-of-band (pid, secret) design: it is never sent on the target's own
	// socket.
	cancelConn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer cancelConn.Close()

	var body bytes.Buffer
	var version [4]byte
	binary.BigEndian.PutUint32(version[:], uint32(types.VersionCancel))
	body.Write(version[:])
	var pidBuf, secretBuf [4]byte
	binary.BigEndian.PutUint32(pidBuf[:], uint32(pid))
	binary.BigEndian.PutUint32(secretBuf[:], uint32(secret))
	body.Write(pidBuf[:])
	body.Write(secretBuf[:])

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(body.Len()+4))
	_, err = cancelConn.Write(length[:])
	require.NoError(t, err)
	_, err = cancelConn.Write(body.Bytes())
	require.NoError(t, err)
	require.NoError(t, cancelConn.Close())

	// Give the cancel request a moment to reach the server and flip the
	// target's cancel flag before the next frame is dispatched.
	time.Sleep(50 * time.Millisecond)

	writer := mock.NewWriter(t, conn)
	writer.Start(types.ClientSimpleQuery)
	writer.AddString("SELECT name FROM items")
	writer.AddNullTerminate()
	require.NoError(t, writer.End())

	fields := expectErrorResponse(t, reader)
	assert.Equal(t, "query execution canceled", fields['M'])
	expectReadyForQuery(t, reader)
}

// TestOutboundErrorResponseDecodesWithPgproto3 validates that an
// ErrorResponse frame this server writes is byte-for-byte a real Postgres
// ErrorResponse by decoding it with pgx's own wire-protocol decoder, rather
// than only with this repository's own reader.
func TestOutboundErrorResponseDecodesWithPgproto3(t *testing.T) {
	conn := dialServer(t, testEngine())
	reader := mock.NewReader(t, conn)

	sendStartup(t, conn, map[string]string{"user": "tester"})
	expectHandshake(t, conn, reader)

	writer := mock.NewWriter(t, conn)
	writer.Start(types.ClientParse)
	writer.AddString("")
	writer.AddNullTerminate()
	writer.AddString("DELETE FROM items")
	writer.AddNullTerminate()
	writer.AddInt16(0)
	require.NoError(t, writer.End())

	typ, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerErrorResponse, typ)

	var decoded pgproto3.ErrorResponse
	require.NoError(t, decoded.Decode(reader.Msg))
	assert.Equal(t, "ERROR", decoded.Severity)
	assert.NotEmpty(t, decoded.Message)

	writer.Start(types.ClientSync)
	require.NoError(t, writer.End())
	expectReadyForQuery(t, reader)
}
