package session

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/cyberinferno/netsession/conntable"
	"github.com/cyberinferno/netsession/frame"
	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/registry"
	"github.com/cyberinferno/netsession/transport"
	"github.com/cyberinferno/netsession/wire"
)

// Server is a session accepting many incoming connections into a
// capacity-bounded table.
type Server struct {
	e       engine
	cfg     ServerConfig
	handler ServerHandler
	table   *conntable.Table
	addr    string
	created bool
	closed  bool
}

var _ registry.Origin = (*Server)(nil)

// NewServer creates a server session. Nothing is bound until Create.
//
// When handler does not register frame.ClientDisconnect, the server installs
// a handler that disconnects the sending connection.
//
// Parameters:
//   - cfg: Server configuration (e.g. from DefaultServerConfig)
//   - handler: Message handlers and admission policy
//
// Returns:
//   - A new *Server in the Uninitialized state
//   - ErrDuplicateInstance if cfg.Guard already holds an active server, or a
//     configuration error
func NewServer(cfg ServerConfig, handler ServerHandler) (*Server, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}

	e, err := newEngine(registry.RoleServer, cfg.Logger, handler.Handlers(), cfg.DuplicatePolicy, cfg.ReliableWindowSize)
	if err != nil {
		return nil, err
	}

	s := &Server{
		e:       e,
		cfg:     cfg,
		handler: handler,
	}

	if _, ok := e.messages.Resolve(frame.ClientDisconnect); !ok {
		if err := e.messages.Register(frame.ClientDisconnect, s.handleClientDisconnect); err != nil {
			return nil, err
		}
	}

	if !cfg.Guard.acquire(registry.RoleServer) {
		e.log.Error("server session already active, discarding new instance")
		return nil, ErrDuplicateInstance
	}

	return s, nil
}

func (s *Server) handleClientDisconnect(_ registry.Origin, conn transport.Conn, _ *wire.Reader) {
	s.e.log.Info("client requested disconnect", logger.Field{Key: "conn", Value: conn.ID()})
	_ = s.Disconnect(conn)
}

// Role implements registry.Origin.
func (s *Server) Role() registry.Role {
	return registry.RoleServer
}

// Registry returns the server's message registry for late registrations.
func (s *Server) Registry() *registry.Registry {
	return s.e.messages
}

// Lifecycle returns the session lifecycle state.
func (s *Server) Lifecycle() Lifecycle {
	return s.e.lifecycle
}

// Create binds and starts listening on port across cfg.ListenHost.
//
// Parameters:
//   - port: Port to bind
//   - maxConnections: Capacity of the connection table
//
// Returns:
//   - ErrAlreadyCreated if the server was already created
//   - An error wrapping ErrBindFailed and the transport cause if bind or
//     listen failed; the server then stays idle
func (s *Server) Create(port uint16, maxConnections int) error {
	if s.closed {
		return ErrClosed
	}

	if s.created {
		return ErrAlreadyCreated
	}

	if err := s.e.open(s.cfg.Transport); err != nil {
		s.e.log.Error("failed to create transport", logger.Field{Key: "error", Value: err})
		return err
	}

	addr := net.JoinHostPort(s.cfg.ListenHost, strconv.Itoa(int(port)))
	err := s.e.driver.Bind(addr)
	if err == nil {
		err = s.e.driver.Listen()
	}

	if err != nil {
		s.e.log.Error("failed to bind",
			logger.Field{Key: "addr", Value: addr},
			logger.Field{Key: "status", Value: int(transport.StatusOf(err))},
			logger.Field{Key: "error", Value: err},
		)
		s.e.release()
		return fmt.Errorf("%w: %s: %w", ErrBindFailed, addr, err)
	}

	s.addr = s.e.driver.LocalAddr()
	s.table = conntable.New(maxConnections, s.handler)
	s.created = true
	s.e.log.Info("listening",
		logger.Field{Key: "addr", Value: s.addr},
		logger.Field{Key: "max_connections", Value: maxConnections},
	)
	return nil
}

// Tick flushes the transport, sweeps stale connections, accepts new ones and
// processes every pending event of each live connection. It never fails;
// problems are logged.
func (s *Server) Tick(ctx context.Context) {
	if s.e.driver == nil || s.table == nil {
		return
	}

	if !s.e.flush(ctx) {
		return
	}

	if n := s.table.SweepStale(); n > 0 {
		s.e.log.Debug("swept stale connections", logger.Field{Key: "count", Value: n})
	}

	s.accept()

	s.table.ForEachLive(func(conn transport.Conn) {
		s.e.drain(s, conn, nil, s.onDisconnect)
	})
}

func (s *Server) accept() {
	for s.e.driver != nil {
		conn, ok := s.e.driver.Accept()
		if !ok {
			return
		}

		if s.table.Add(conn) {
			s.e.log.Info("accepted connection",
				logger.Field{Key: "conn", Value: conn.ID()},
				logger.Field{Key: "remote", Value: conn.RemoteAddr()},
			)
			continue
		}

		s.e.log.Warn("connection refused",
			logger.Field{Key: "conn", Value: conn.ID()},
			logger.Field{Key: "remote", Value: conn.RemoteAddr()},
			logger.Field{Key: "connections", Value: s.table.Len()},
		)
		if err := s.e.driver.Disconnect(conn); err != nil {
			s.e.log.Warn("transport disconnect failed", logger.Field{Key: "error", Value: err})
		}
	}
}

// onDisconnect leaves the entry in place; the next tick's sweep removes it.
func (s *Server) onDisconnect(conn transport.Conn) {
	s.e.log.Info("client disconnected", logger.Field{Key: "conn", Value: conn.ID()})
}

// SendTo sends a frame of type t to conn on the reliable pipeline. It
// implements registry.Origin, so handlers can reply through it.
//
// Returns:
//   - ErrNotStarted before a successful Create
//   - ErrUnknownConnection if conn is not in the table
//   - The transport's send error otherwise
func (s *Server) SendTo(conn transport.Conn, t frame.MessageType, write registry.PayloadWriter) error {
	if s.e.driver == nil || s.table == nil {
		return ErrNotStarted
	}

	if !s.table.Contains(conn) {
		return ErrUnknownConnection
	}

	return s.e.send(conn, t, write)
}

// Broadcast sends a frame of type t to every live connection.
//
// Returns:
//   - The number of connections the frame was queued for
func (s *Server) Broadcast(t frame.MessageType, write registry.PayloadWriter) int {
	if s.e.driver == nil || s.table == nil {
		return 0
	}

	sent := 0
	s.table.ForEachLive(func(conn transport.Conn) {
		if s.e.send(conn, t, write) == nil {
			sent++
		}
	})

	return sent
}

// Disconnect closes conn at the transport. The table entry is removed by the
// next tick's sweep.
func (s *Server) Disconnect(conn transport.Conn) error {
	if s.e.driver == nil || s.table == nil {
		return ErrNotStarted
	}

	if !s.table.Contains(conn) {
		return ErrUnknownConnection
	}

	return s.e.driver.Disconnect(conn)
}

// Connections returns a snapshot of the connection table.
func (s *Server) Connections() []transport.Conn {
	if s.table == nil {
		return nil
	}

	return s.table.Snapshot()
}

// Len returns the number of table entries, including ones awaiting the sweep.
func (s *Server) Len() int {
	if s.table == nil {
		return 0
	}

	return s.table.Len()
}

// Addr returns the bound address, or "" before Create.
func (s *Server) Addr() string {
	return s.addr
}

// Close flushes pending sends, disconnects every connection, clears the
// table, releases the driver and frees the guard slot. The server cannot be
// reused.
func (s *Server) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}

	s.e.lifecycle = ShuttingDown
	var err error
	if s.e.driver != nil {
		if err = s.e.driver.Flush(ctx); err != nil {
			s.e.log.Error("flush before close failed", logger.Field{Key: "error", Value: err})
		}

		for _, conn := range s.table.Snapshot() {
			_ = s.e.driver.Disconnect(conn)
		}
	}

	if s.table != nil {
		s.table.Clear()
	}

	s.e.release()
	s.closed = true
	s.cfg.Guard.release(registry.RoleServer)
	s.e.log.Info("server closed")
	return err
}
