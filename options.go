package wire

import "crypto/tls"

// OptionFn is the functional options pattern used to configure a Server.
type OptionFn func(*Server)

// WithAuth sets the authentication strategy used to authenticate connecting
// clients. Defaults to an unconditional accept when not set.
func WithAuth(strategy AuthStrategy) OptionFn {
	return func(srv *Server) {
		srv.Auth = strategy
	}
}

// WithSessionFactory sets the factory used to construct a Session, Parser and
// Compiler once a connection authenticates.
func WithSessionFactory(factory SessionFactory) OptionFn {
	return func(srv *Server) {
		srv.Session = factory
	}
}

// WithTransactions sets the TransactionService bracketing Sync boundaries.
// Defaults to a no-op when not set.
func WithTransactions(svc TransactionService) OptionFn {
	return func(srv *Server) {
		srv.Transactions = svc
	}
}

// WithBufferedMsgSize overrides the per-connection inbound read buffer size.
func WithBufferedMsgSize(size int) OptionFn {
	return func(srv *Server) {
		srv.BufferedMsgSize = size
	}
}

// WithTLSConfig enables opportunistic TLS upgrades using the given config.
// Clients that do not request TLS are still served over plain TCP.
func WithTLSConfig(config *tls.Config) OptionFn {
	return func(srv *Server) {
		srv.TLSConfig = config
	}
}

// WithTerminateConn registers a hook invoked when a connection receives a
// Terminate frame, before the socket is closed.
func WithTerminateConn(fn CloseFn) OptionFn {
	return func(srv *Server) {
		srv.TerminateConn = fn
	}
}
