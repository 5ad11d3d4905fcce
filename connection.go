package wire

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	pgerror "github.com/akiban/pgwire/errors"
	"github.com/akiban/pgwire/pkg/types"
)

// errorMode is the per-frame scratch value the dispatcher uses to decide how
// to react to a handler error. It is never persisted across frames.
type errorMode int

const (
	errModeNone errorMode = iota
	errModeSimple
	errModeExtended
)

// errorModeFor returns the error mode a given inbound frame type is
// dispatched under, per the frame/error-mode table in the state machine.
func errorModeFor(t types.ClientMessage) errorMode {
	switch t {
	case types.ClientSimpleQuery:
		return errModeSimple
	case types.ClientParse, types.ClientBind, types.ClientDescribe, types.ClientExecute:
		return errModeExtended
	default:
		return errModeNone
	}
}

// Connection is the per-client state machine: handshake, dispatch, prepared
// statement/portal registries, error framing, and skip-until-sync recovery.
// A Connection is owned exclusively by the goroutine running its dispatch
// loop; the only field ever touched from another goroutine is fr's cancel
// flag.
type Connection struct {
	srv    *Server
	logger *slog.Logger
	fr     *Framer
	done   chan struct{}

	pid    int32
	secret int32

	startupProperties map[string]string
	session           Session
	parser            Parser
	compiler          Compiler

	statements StatementRegistry
	portals    PortalRegistry

	ignoreUntilSync bool
}

// run drives the connection through Startup, Authenticating and the dispatch
// loop until it closes. The returned error is nil for an orderly close
// (EOF/Terminate) and non-nil for anything else.
func (c *Connection) run(ctx context.Context) error {
	defer close(c.done)
	defer c.srv.removeConnection(c.pid)
	defer c.fr.Conn().Close()

	c.logger.Debug("accepted connection", slog.String("addr", c.fr.Conn().RemoteAddr().String()))

	version, err := c.fr.ReadVersion()
	if err != nil {
		return err
	}

	version, err = c.handleSSLNegotiation(version)
	if err != nil {
		return err
	}

	if version == types.VersionCancel {
		c.logger.Debug("received cancel request")
		return c.handleCancelRequest()
	}

	if err := c.readStartupMessage(ctx); err != nil {
		return err
	}

	if err := c.authenticate(ctx); err != nil {
		return err
	}

	if txn := c.srv.Transactions; txn != nil {
		if err := txn.Begin(ctx, c.session); err != nil {
			return err
		}
	}

	c.logger.Debug("connection ready", slog.Int("pid", int(c.pid)))
	return c.dispatch(ctx)
}

// stop closes the underlying socket to unblock any pending read, then waits
// a bounded time for the dispatch loop to exit on its own. On timeout the
// goroutine is abandoned; its resources are reclaimed once the socket EOFs.
func (c *Connection) stop() {
	c.fr.Conn().Close()

	select {
	case <-c.done:
	case <-time.After(500 * time.Millisecond):
	}
}

// dispatch is the Idle-state read loop: one inbound frame in, zero or more
// outbound frames out, repeated until EOF, Terminate, or a fatal error.
func (c *Connection) dispatch(ctx context.Context) error {
	for {
		t, _, err := c.fr.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if c.ignoreUntilSync {
			switch t {
			case types.ClientSync:
				c.ignoreUntilSync = false
				if txn := c.srv.Transactions; txn != nil {
					if err := txn.Rollback(ctx, c.session); err != nil {
						return err
					}
				}
				if err := c.writeReadyForQuery(); err != nil {
					return err
				}
			case types.ClientTerminate:
				return c.terminate(ctx)
			}
			continue
		}

		c.logger.Debug("<- read message", slog.String("type", t.String()))

		mode := errorModeFor(t)

		if c.fr.Canceled() {
			c.fr.SetCancel(false)
			if err := c.handleFrameError(errQueryCanceled, mode); err != nil {
				return err
			}
			continue
		}

		var herr error
		switch t {
		case types.ClientSimpleQuery:
			herr = c.handleSimpleQuery(ctx)
		case types.ClientParse:
			herr = c.handleParse(ctx)
		case types.ClientBind:
			herr = c.handleBind(ctx)
		case types.ClientDescribe:
			herr = c.handleDescribe(ctx)
		case types.ClientExecute:
			herr = c.handleExecute(ctx)
		case types.ClientClose:
			herr = c.handleClose(ctx)
		case types.ClientSync:
			herr = c.handleSync(ctx)
		case types.ClientTerminate:
			return c.terminate(ctx)
		case types.ClientFlush:
			// no-op: every outbound frame above is already flushed as it is
			// written, so there is nothing buffered to flush here.
		default:
			herr = errUnimplementedMessageType(byte(t))
		}

		if herr == nil {
			continue
		}

		if err := c.handleFrameError(herr, mode); err != nil {
			return err
		}
	}
}

// handleFrameError reports err to the client, if a response is still
// possible, and applies the error-mode rule: Simple resumes with
// ReadyForQuery, Extended enters skip-until-sync, none tears the connection
// down. A FATAL-severity err (raised only by the buffer layer on a corrupted
// frame boundary) skips the response entirely since none is possible.
func (c *Connection) handleFrameError(err error, mode errorMode) error {
	if pgerror.GetSeverity(err) == pgerror.LevelFatal {
		return err
	}

	if writeErr := writeErrorResponse(c.fr.Writer(), err); writeErr != nil {
		return writeErr
	}

	switch mode {
	case errModeSimple:
		return c.writeReadyForQuery()
	case errModeExtended:
		c.ignoreUntilSync = true
		return nil
	default:
		return err
	}
}

// handleSimpleQuery implements the `Q` simple-query sub-protocol.
func (c *Connection) handleSimpleQuery(ctx context.Context) error {
	sql, err := c.fr.Reader().GetString()
	if err != nil {
		return err
	}

	// The ODBC driver probes the catalog for a large-object type on connect;
	// short-circuit it rather than requiring the compiler to understand it.
	if sql == "select oid, typbasetype from pg_type where typname = 'lo'" {
		if err := c.writeCommandComplete("SELECT"); err != nil {
			return err
		}
		return c.writeReadyForQuery()
	}

	trees, err := c.parser.Parse(ctx, sql)
	if err != nil {
		return err
	}

	for _, tree := range trees {
		if !tree.IsSelect() {
			return errNotSelect
		}

		stmt, err := c.compiler.Compile(ctx, tree, nil)
		if err != nil {
			return err
		}

		if err := stmt.SendRowDescription(ctx, c.fr, nil); err != nil {
			return err
		}

		if _, err := stmt.Execute(ctx, c.fr, c.session, -1); err != nil {
			return err
		}

		if err := c.writeCommandComplete("SELECT"); err != nil {
			return err
		}
	}

	return c.writeReadyForQuery()
}

// handleParse implements the `P` parse message: compile sql with the given
// parameter OID hints and register the result under stmtName.
func (c *Connection) handleParse(ctx context.Context) error {
	stmtName, err := c.fr.Reader().GetString()
	if err != nil {
		return err
	}

	sql, err := c.fr.Reader().GetString()
	if err != nil {
		return err
	}

	nparams, err := c.fr.Reader().GetUint16()
	if err != nil {
		return err
	}

	oids := make([]uint32, nparams)
	for i := range oids {
		oids[i], err = c.fr.Reader().GetUint32()
		if err != nil {
			return err
		}
	}

	trees, err := c.parser.Parse(ctx, sql)
	if err != nil {
		return err
	}

	switch len(trees) {
	case 0:
		return errNoStatement
	case 1:
	default:
		return errMultipleStatements
	}

	if !trees[0].IsSelect() {
		return errNotSelect
	}

	stmt, err := c.compiler.Compile(ctx, trees[0], oids)
	if err != nil {
		return err
	}

	c.statements.Set(stmtName, stmt)
	return c.writeParseComplete()
}

// handleBind implements the `B` bind message: decode parameter values and
// result-format flags and derive a BoundPortal from the named statement.
func (c *Connection) handleBind(ctx context.Context) error {
	portalName, err := c.fr.Reader().GetString()
	if err != nil {
		return err
	}

	stmtName, err := c.fr.Reader().GetString()
	if err != nil {
		return err
	}

	nParamFormats, err := c.fr.Reader().GetUint16()
	if err != nil {
		return err
	}

	paramFormats := make([]FormatCode, nParamFormats)
	for i := range paramFormats {
		v, err := c.fr.Reader().GetUint16()
		if err != nil {
			return err
		}
		paramFormats[i] = FormatCode(v)
	}

	nParams, err := c.fr.Reader().GetUint16()
	if err != nil {
		return err
	}

	params := make([][]byte, nParams)
	for i := 0; i < int(nParams); i++ {
		length, err := c.fr.Reader().GetInt32()
		if err != nil {
			return err
		}

		if length == -1 {
			params[i] = nil
			continue
		}

		if formatForParam(paramFormats, i) == BinaryFormat {
			return errBinaryFormat
		}

		b, err := c.fr.Reader().GetBytes(int(length))
		if err != nil {
			return err
		}

		params[i] = append([]byte(nil), b...)
	}

	nResultFormats, err := c.fr.Reader().GetUint16()
	if err != nil {
		return err
	}

	var resultsBinary []bool
	var defaultResultsBinary bool

	switch nResultFormats {
	case 0:
		// every result column defaults to text.
	case 1:
		v, err := c.fr.Reader().GetUint16()
		if err != nil {
			return err
		}
		defaultResultsBinary = FormatCode(v) == BinaryFormat
	default:
		resultsBinary = make([]bool, nResultFormats)
		for i := range resultsBinary {
			v, err := c.fr.Reader().GetUint16()
			if err != nil {
				return err
			}
			resultsBinary[i] = FormatCode(v) == BinaryFormat
		}
		defaultResultsBinary = resultsBinary[len(resultsBinary)-1]
	}

	stmt := c.statements.Get(stmtName)
	if stmt == nil {
		return errUnknownStatement(stmtName)
	}

	portal, err := stmt.GetBoundRequest(ctx, params, resultsBinary, defaultResultsBinary)
	if err != nil {
		return err
	}

	c.portals.Set(portalName, portal)
	return c.writeBindComplete()
}

// formatForParam resolves the wire format of parameter i given the format
// codes sent by Bind: none means all text, exactly one applies to every
// parameter, and more than one is indexed positionally.
func formatForParam(formats []FormatCode, i int) FormatCode {
	switch len(formats) {
	case 0:
		return TextFormat
	case 1:
		return formats[0]
	default:
		return formats[i]
	}
}

// handleDescribe implements the `D` describe message for both prepared
// statements and bound portals.
func (c *Connection) handleDescribe(ctx context.Context) error {
	src, err := c.fr.Reader().GetBytes(1)
	if err != nil {
		return err
	}

	name, err := c.fr.Reader().GetString()
	if err != nil {
		return err
	}

	switch types.DescribeMessage(src[0]) {
	case types.DescribeStatement:
		stmt := c.statements.Get(name)
		if stmt == nil {
			return errUnknownStatement(name)
		}

		return stmt.SendRowDescription(ctx, c.fr, nil)
	case types.DescribePortal:
		portal := c.portals.Get(name)
		if portal == nil {
			return errUnknownPortal(name)
		}

		return portal.SendRowDescription(ctx, c.fr)
	default:
		return errUnknownSourceByte(src[0])
	}
}

// handleExecute implements the `E` execute message: run the named portal,
// bounded by maxRows (0 or negative means unbounded).
func (c *Connection) handleExecute(ctx context.Context) error {
	portalName, err := c.fr.Reader().GetString()
	if err != nil {
		return err
	}

	maxRows, err := c.fr.Reader().GetInt32()
	if err != nil {
		return err
	}

	portal := c.portals.Get(portalName)
	if portal == nil {
		return errUnknownPortal(portalName)
	}

	if _, err := portal.Execute(ctx, c.fr, c.session, maxRows); err != nil {
		return err
	}

	return c.writeCommandComplete("SELECT")
}

// handleClose implements the `C` close message for both registries. Closing
// an absent name is a silent no-op.
func (c *Connection) handleClose(ctx context.Context) error {
	src, err := c.fr.Reader().GetBytes(1)
	if err != nil {
		return err
	}

	name, err := c.fr.Reader().GetString()
	if err != nil {
		return err
	}

	switch types.DescribeMessage(src[0]) {
	case types.DescribeStatement:
		c.statements.Close(name)
	case types.DescribePortal:
		c.portals.Close(name)
	default:
		return errUnknownSourceByte(src[0])
	}

	return c.writeCloseComplete()
}

// terminate runs the server's TerminateConn hook, if any, ahead of an
// orderly close triggered by a Terminate frame.
func (c *Connection) terminate(ctx context.Context) error {
	if c.srv.TerminateConn == nil {
		return nil
	}

	return c.srv.TerminateConn(ctx)
}

// handleSync implements the `S` sync message: commit the work done since the
// previous Sync (or connection start) and report readiness.
func (c *Connection) handleSync(ctx context.Context) error {
	if txn := c.srv.Transactions; txn != nil {
		if err := txn.Commit(ctx, c.session); err != nil {
			return err
		}
	}

	return c.writeReadyForQuery()
}

func (c *Connection) writeReadyForQuery() error {
	c.fr.BeginMessage(types.ServerReady)
	c.fr.Writer().AddByte(byte(types.ServerIdle))
	return c.fr.SendMessage()
}

func (c *Connection) writeCommandComplete(tag string) error {
	c.fr.BeginMessage(types.ServerCommandComplete)
	c.fr.Writer().AddString(tag)
	c.fr.Writer().AddNullTerminate()
	return c.fr.SendMessage()
}

func (c *Connection) writeParseComplete() error {
	c.fr.BeginMessage(types.ServerParseComplete)
	return c.fr.SendMessage()
}

func (c *Connection) writeBindComplete() error {
	c.fr.BeginMessage(types.ServerBindComplete)
	return c.fr.SendMessage()
}

func (c *Connection) writeCloseComplete() error {
	c.fr.BeginMessage(types.ServerCloseComplete)
	return c.fr.SendMessage()
}
