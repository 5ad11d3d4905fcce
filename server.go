package wire

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// CloseFn is invoked with a connection-scoped context at a point in a
// connection's lifecycle, such as Terminate receipt.
type CloseFn func(ctx context.Context) error

// ListenAndServe opens a new Postgres server on address using the given
// session factory and default configuration.
func ListenAndServe(address string, factory SessionFactory) error {
	srv, err := NewServer(WithSessionFactory(factory))
	if err != nil {
		return err
	}

	return srv.ListenAndServe(address)
}

// NewServer constructs a new Postgres wire-protocol server. A SessionFactory
// must be supplied, either directly or via WithSessionFactory.
func NewServer(options ...OptionFn) (*Server, error) {
	srv := &Server{
		logger:      slog.Default(),
		closer:      make(chan struct{}),
		connections: make(map[int32]*Connection),
	}

	for _, option := range options {
		option(srv)
	}

	if srv.Session == nil {
		return nil, errors.New("pgwire: a SessionFactory is required (see WithSessionFactory)")
	}

	return srv, nil
}

// Server listens for Postgres v3 connections and dispatches each to its own
// Connection. The only state shared across connection goroutines is the
// pid -> Connection registry below, which backs out-of-band cancellation.
type Server struct {
	logger  *slog.Logger
	closing atomic.Bool
	group   errgroup.Group
	closer  chan struct{}

	mu          sync.Mutex
	connections map[int32]*Connection
	nextPID     int32

	Auth            AuthStrategy
	Session         SessionFactory
	Transactions    TransactionService
	BufferedMsgSize int
	TLSConfig       *tls.Config
	TerminateConn   CloseFn
}

// ListenAndServe opens a new Postgres server on the given address.
func (srv *Server) ListenAndServe(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	return srv.Serve(listener)
}

// Serve accepts and serves incoming Postgres connections on listener until
// the server is closed. The listener is closed as part of a graceful
// shutdown.
func (srv *Server) Serve(listener net.Listener) error {
	defer srv.logger.Info("closing server")
	srv.logger.Info("serving incoming connections", slog.String("addr", listener.Addr().String()))

	srv.group.Go(func() error {
		<-srv.closer
		return listener.Close()
	})

	for {
		conn, err := listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			break
		}

		if err != nil {
			return err
		}

		c := srv.newConnection(conn)
		srv.group.Go(func() error {
			ctx := context.Background()
			if err := c.run(ctx); err != nil {
				srv.logger.Error("connection closed with error", "pid", c.pid, "err", err)
			}
			return nil
		})
	}

	return srv.group.Wait()
}

// Close gracefully shuts the server down: the listener is closed, then every
// live connection is asked to stop, each stop waiting at most 500ms for its
// goroutine to exit. Close then waits for the listener goroutine and every
// connection goroutine to return; it does not abandon a connection goroutine
// that is still running.
func (srv *Server) Close() error {
	if srv.closing.Swap(true) {
		return nil
	}

	close(srv.closer)

	srv.mu.Lock()
	conns := make([]*Connection, 0, len(srv.connections))
	for _, c := range srv.connections {
		conns = append(conns, c)
	}
	srv.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			c.stop()
		}(c)
	}
	wg.Wait()

	return srv.group.Wait()
}

// newConnection wraps conn in a Connection and registers it under a freshly
// allocated (pid, secret) pair before a single frame has been read, so the
// pid -> Connection map reflects every live connection from the moment it
// is accepted.
func (srv *Server) newConnection(conn net.Conn) *Connection {
	c := &Connection{
		srv:    srv,
		logger: srv.logger,
		fr:     NewFramer(srv.logger, conn, srv.BufferedMsgSize),
		done:   make(chan struct{}),
	}

	srv.register(c)
	return c
}

// register allocates a monotonic pid and a random secret for c and adds it
// to the connection registry.
func (srv *Server) register(c *Connection) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	pid := srv.nextPID
	for {
		pid++
		if _, exists := srv.connections[pid]; !exists {
			break
		}
	}

	srv.nextPID = pid
	c.pid = pid
	c.secret = rand.Int31()
	srv.connections[pid] = c
}

// removeConnection drops pid from the registry. Safe to call more than once;
// a missing pid is a no-op.
func (srv *Server) removeConnection(pid int32) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	delete(srv.connections, pid)
}

// getConnection returns the live connection registered under pid, or nil.
func (srv *Server) getConnection(pid int32) *Connection {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.connections[pid]
}
