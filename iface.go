package wire

import "context"

// Session is an opaque per-connection handle created by a SessionFactory at
// the end of Startup. The protocol core never inspects its contents; it is
// threaded through to Statement.Execute and BoundPortal.Execute unchanged.
type Session interface{}

// ParseTree is an opaque parse result produced by a Parser. The protocol core
// only asks whether a parse tree is a cursor node (a result-returning SELECT);
// everything else about its shape is private to the Parser/Compiler pair.
type ParseTree interface {
	// IsSelect reports whether this parse tree is a cursor node, i.e. a
	// statement that returns rows. Simple query handling rejects any
	// statement for which this returns false.
	IsSelect() bool
}

// Parser turns SQL text into a list of parse trees. A single query string may
// contain more than one statement separated by semicolons; the extended query
// protocol requires exactly one.
type Parser interface {
	Parse(ctx context.Context, sql string) ([]ParseTree, error)
}

// Compiler turns a parse tree into an executable Statement. paramOids carries
// the client-supplied parameter type hints from a Parse message and may be
// nil or contain zero entries, meaning the types are left to the compiler to
// infer.
type Compiler interface {
	Compile(ctx context.Context, tree ParseTree, paramOids []uint32) (Statement, error)
}

// Statement is an opaque compiled query. It is stateless across executions:
// the same Statement can back any number of BoundPortals and can be executed
// directly by the simple query path.
type Statement interface {
	// SendRowDescription writes a RowDescription frame describing the columns
	// this statement returns, using formats (possibly nil, meaning text for
	// every column) for the wire format of each result column.
	SendRowDescription(ctx context.Context, fr *Framer, formats []FormatCode) error

	// Execute runs the statement against session, writing zero or more
	// DataRow frames, and returns the number of rows produced. maxRows < 0
	// means unbounded; per the extended query protocol maxRows == 0 also
	// means unbounded.
	Execute(ctx context.Context, fr *Framer, session Session, maxRows int32) (rows int64, err error)

	// ParameterOids returns the object IDs of the parameters this statement
	// expects, in positional order. The protocol core never calls it and
	// never sends a ParameterDescription frame.
	ParameterOids() []uint32

	// GetBoundRequest clones this statement into a BoundPortal using the
	// given parameter values (nil entry means SQL NULL) and the result
	// column format flags negotiated by Bind.
	GetBoundRequest(ctx context.Context, params [][]byte, resultsBinary []bool, defaultResultsBinary bool) (BoundPortal, error)
}

// BoundPortal is a Statement bound to concrete parameter values and result
// formats. Execute may be called at most once per Execute frame it serves;
// a portal may be addressed by repeated Describe/Execute pairs.
type BoundPortal interface {
	SendRowDescription(ctx context.Context, fr *Framer) error
	Execute(ctx context.Context, fr *Framer, session Session, maxRows int32) (rows int64, err error)
}

// SchemaProvider resolves catalog/schema state for a database name. It is
// consumed by a Compiler implementation; the protocol core never calls it
// directly, but a SessionFactory commonly closes over one to build the
// Compiler it hands back for a connection.
type SchemaProvider interface {
	Schema(ctx context.Context, database string) (any, error)
}

// TransactionService brackets the work done between Sync boundaries. The
// connection calls Begin once a session is constructed and Commit/Rollback
// around Sync according to whether the preceding extended-query sequence
// errored. A nil TransactionService is treated as a no-op.
type TransactionService interface {
	Begin(ctx context.Context, session Session) error
	Commit(ctx context.Context, session Session) error
	Rollback(ctx context.Context, session Session) error
}

// SessionFactory constructs the session, parser and compiler for a newly
// authenticated connection, given the "database" startup property.
type SessionFactory func(ctx context.Context, database string) (Session, Parser, Compiler, error)
