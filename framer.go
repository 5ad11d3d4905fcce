package wire

import (
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/akiban/pgwire/pkg/buffer"
	"github.com/akiban/pgwire/pkg/types"
)

// Framer reads and writes Postgres v3 frames over a single connection. It
// tracks the negotiated character encoding and an asynchronous cancel flag
// that a different connection may set on this one via the server's pid
// registry. A Framer is owned exclusively by the goroutine running its
// connection's dispatch loop; the cancel flag is the only field ever touched
// from another goroutine.
type Framer struct {
	logger   *slog.Logger
	conn     net.Conn
	reader   *buffer.Reader
	writer   *buffer.Writer
	encoding atomic.Value // string
	cancel   atomic.Bool
}

// NewFramer constructs a Framer around conn using bufferedMsgSize for the
// inbound read buffer (falling back to buffer.DefaultBufferSize when <= 0).
func NewFramer(logger *slog.Logger, conn net.Conn, bufferedMsgSize int) *Framer {
	fr := &Framer{
		logger: logger,
		conn:   conn,
		reader: buffer.NewReader(logger, conn, bufferedMsgSize),
		writer: buffer.NewWriter(logger, conn),
	}

	fr.encoding.Store("UTF8")
	return fr
}

// SetEncoding updates the character encoding used to decode/encode strings.
func (fr *Framer) SetEncoding(name string) {
	fr.encoding.Store(name)
}

// GetEncoding returns the currently negotiated character encoding.
func (fr *Framer) GetEncoding() string {
	return fr.encoding.Load().(string)
}

// SetCancel marks this connection as having an outstanding cancellation
// request. It is safe to call from any goroutine; the owning connection
// observes it at the next frame boundary.
func (fr *Framer) SetCancel(v bool) {
	fr.cancel.Store(v)
}

// Canceled reports whether a cancellation request has been observed for
// this connection since the last time it was cleared.
func (fr *Framer) Canceled() bool {
	return fr.cancel.Load()
}

// ReadVersion reads the 32-bit version code that leads an untyped (startup
// shaped) frame: an ordinary protocol version, VersionCancel, or
// VersionSSLRequest.
func (fr *Framer) ReadVersion() (types.Version, error) {
	_, err := fr.reader.ReadUntypedMsg()
	if err != nil {
		return 0, err
	}

	version, err := fr.reader.GetUint32()
	if err != nil {
		return 0, err
	}

	return types.Version(version), nil
}

// ReadFrame reads the type and length of the next typed frame. The frame
// body is left in fr.reader for consumption via the Get* accessors.
func (fr *Framer) ReadFrame() (types.ClientMessage, int, error) {
	return fr.reader.ReadTypedMsg()
}

// Reader exposes the underlying buffered reader for payload decoding.
func (fr *Framer) Reader() *buffer.Reader { return fr.reader }

// BeginMessage starts building an outbound frame of the given type.
func (fr *Framer) BeginMessage(t types.ServerMessage) { fr.writer.Start(t) }

// Writer exposes the underlying buffered writer for payload encoding.
func (fr *Framer) Writer() *buffer.Writer { return fr.writer }

// SendMessage flushes the frame currently under construction, back-patching
// its length prefix.
func (fr *Framer) SendMessage() error { return fr.writer.End() }

// UpgradeTLS swaps the framer's underlying transport, rebuilding the reader
// on top of the upgraded connection. Used after a successful StartTLS
// negotiation.
func (fr *Framer) UpgradeTLS(conn net.Conn, bufferedMsgSize int) {
	fr.conn = conn
	fr.reader = buffer.NewReader(fr.logger, conn, bufferedMsgSize)
}

// Conn returns the underlying net.Conn, primarily so the connection layer can
// close it or write the raw SSL negotiation byte.
func (fr *Framer) Conn() net.Conn { return fr.conn }
