package wire

import (
	"errors"
	"fmt"

	"github.com/akiban/pgwire/codes"
	pgerror "github.com/akiban/pgwire/errors"
)

// errNotSelect is raised whenever a parsed statement is not a cursor node
// (a result-returning SELECT); this protocol core supports no other shape.
var errNotSelect = pgerror.WithCode(errors.New("Not a SELECT"), codes.FeatureNotSupported)

var errNoStatement = pgerror.WithCode(errors.New("no statement has been defined"), codes.Syntax)

var errMultipleStatements = pgerror.WithCode(errors.New("cannot insert multiple commands into a prepared statement"), codes.Syntax)

// errBinaryFormat's message matches the source behavior verbatim; clients
// that negotiate a binary parameter format are rejected outright.
var errBinaryFormat = pgerror.WithCode(errors.New("Don't know how to parse binary format."), codes.ProtocolViolation)

var errQueryCanceled = pgerror.WithSeverity(pgerror.WithCode(errors.New("query execution canceled"), codes.QueryCanceled), pgerror.LevelError)

func errUnknownStatement(name string) error {
	return pgerror.WithCode(fmt.Errorf("unknown statement: %q", name), codes.InvalidPreparedStatementDefinition)
}

func errUnknownPortal(name string) error {
	return pgerror.WithCode(fmt.Errorf("unknown portal: %q", name), codes.InvalidCursorName)
}

func errUnknownSourceByte(b byte) error {
	return pgerror.WithCode(fmt.Errorf("unknown describe source byte: %q", b), codes.ProtocolViolation)
}

func errUnimplementedMessageType(t byte) error {
	return pgerror.WithCode(fmt.Errorf("unimplemented client message type: %q", t), codes.ProtocolViolation)
}
