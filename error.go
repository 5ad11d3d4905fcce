package wire

import (
	psqlerr "github.com/akiban/pgwire/errors"
	"github.com/akiban/pgwire/pkg/buffer"
	"github.com/akiban/pgwire/pkg/types"
)

// errFieldType represents the error fields.
type errFieldType byte

// http://www.postgresql.org/docs/current/static/protocol-error-fields.html
const (
	errFieldSeverity   errFieldType = 'S'
	errFieldMsgPrimary errFieldType = 'M'
	errFieldDetail     errFieldType = 'D'
	errFieldHint       errFieldType = 'H'
)

// writeErrorResponse writes an ErrorResponse frame for err. Fields S
// (severity) and M (message) are always present, followed by a trailing NUL
// field terminator. SQLSTATE (field C) is never emitted: the source behavior
// this server matches sets only a message, and clients that require a
// SQLSTATE are expected to degrade gracefully.
//
// Sending ReadyForQuery, if any, is the dispatcher's job — it depends on the
// error mode the frame was read under, not on the error itself.
func writeErrorResponse(writer *buffer.Writer, err error) error {
	desc := psqlerr.Flatten(err)

	writer.Start(types.ServerErrorResponse)

	writer.AddByte(byte(errFieldSeverity))
	writer.AddString(string(desc.Severity))
	writer.AddNullTerminate()

	writer.AddByte(byte(errFieldMsgPrimary))
	writer.AddString(desc.Message)
	writer.AddNullTerminate()

	if desc.Hint != "" {
		writer.AddByte(byte(errFieldHint))
		writer.AddString(desc.Hint)
		writer.AddNullTerminate()
	}

	if desc.Detail != "" {
		writer.AddByte(byte(errFieldDetail))
		writer.AddString(desc.Detail)
		writer.AddNullTerminate()
	}

	writer.AddNullTerminate()
	return writer.End()
}
