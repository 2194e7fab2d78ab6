package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/cyberinferno/netsession/frame"
	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/registry"
	"github.com/cyberinferno/netsession/transport"
)

// ClientState is the state of a client's single connection.
type ClientState uint8

const (
	ClientUninitialized ClientState = iota // No connection
	ClientConnecting                       // Connect requested, waiting for the transport
	ClientConnected                        // Handshake sent, messages flow
)

// String returns a human-readable name for the client state.
func (s ClientState) String() string {
	switch s {
	case ClientUninitialized:
		return "Uninitialized"
	case ClientConnecting:
		return "Connecting"
	case ClientConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Client is a session with exactly one outgoing connection.
type Client struct {
	e       engine
	cfg     ClientConfig
	handler ClientHandler
	conn    transport.Conn
	state   ClientState
	closed  bool
}

var _ registry.Origin = (*Client)(nil)

// NewClient creates a client session. No transport is created until Connect.
//
// Parameters:
//   - cfg: Client configuration (e.g. from DefaultClientConfig)
//   - handler: Message handlers and handshake payload producer
//
// Returns:
//   - A new *Client in the Uninitialized state
//   - ErrDuplicateInstance if cfg.Guard already holds an active client, or a
//     configuration error
func NewClient(cfg ClientConfig, handler ClientHandler) (*Client, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}

	e, err := newEngine(registry.RoleClient, cfg.Logger, handler.Handlers(), cfg.DuplicatePolicy, cfg.ReliableWindowSize)
	if err != nil {
		return nil, err
	}

	if !cfg.Guard.acquire(registry.RoleClient) {
		e.log.Error("client session already active, discarding new instance")
		return nil, ErrDuplicateInstance
	}

	return &Client{
		e:       e,
		cfg:     cfg,
		handler: handler,
	}, nil
}

// Role implements registry.Origin.
func (c *Client) Role() registry.Role {
	return registry.RoleClient
}

// Registry returns the client's message registry for late registrations.
func (c *Client) Registry() *registry.Registry {
	return c.e.messages
}

// State returns the connection state.
func (c *Client) State() ClientState {
	return c.state
}

// Lifecycle returns the session lifecycle state.
func (c *Client) Lifecycle() Lifecycle {
	return c.e.lifecycle
}

// Conn returns the current connection handle, or nil.
func (c *Client) Conn() transport.Conn {
	return c.conn
}

// Connect creates the transport driver and issues an asynchronous connect
// request. Completion is observed by a later Tick.
//
// Parameters:
//   - address: Server host; must not be empty
//   - port: Server port
//
// Returns:
//   - ErrEmptyAddress if address is empty (nothing else happens)
//   - ErrAlreadyConnected if a connection is pending or established
//   - An error if the transport could not be created or refused the request
func (c *Client) Connect(address string, port uint16) error {
	if c.closed {
		return ErrClosed
	}

	if strings.TrimSpace(address) == "" {
		c.e.log.Error("server address is empty, connect ignored")
		return ErrEmptyAddress
	}

	if c.state != ClientUninitialized {
		return ErrAlreadyConnected
	}

	if err := c.e.open(c.cfg.Transport); err != nil {
		c.e.log.Error("failed to create transport", logger.Field{Key: "error", Value: err})
		return err
	}

	addr := net.JoinHostPort(address, strconv.Itoa(int(port)))
	conn, err := c.e.driver.Connect(addr)
	if err != nil {
		c.e.log.Error("connect request failed",
			logger.Field{Key: "addr", Value: addr},
			logger.Field{Key: "status", Value: int(transport.StatusOf(err))},
			logger.Field{Key: "error", Value: err},
		)
		c.e.release()
		return fmt.Errorf("session: connect %s: %w", addr, err)
	}

	c.conn = conn
	c.state = ClientConnecting
	c.e.log.Info("connecting", logger.Field{Key: "addr", Value: addr})
	return nil
}

// Tick flushes the transport and processes every pending event of the
// connection. It never fails; problems are logged.
func (c *Client) Tick(ctx context.Context) {
	if c.e.driver == nil || c.conn == nil {
		return
	}

	if !c.e.flush(ctx) {
		return
	}

	c.e.drain(c, c.conn, c.onConnect, c.onDisconnect)
}

func (c *Client) onConnect(conn transport.Conn) {
	c.state = ClientConnected
	c.e.log.Info("connected", logger.Field{Key: "conn", Value: conn.ID()})

	// A failed handshake is reported by send and not retried.
	_ = c.e.send(conn, frame.HandshakeServer, c.handler.WriteHandshake)
}

func (c *Client) onDisconnect(conn transport.Conn) {
	c.e.log.Info("disconnected by transport", logger.Field{Key: "conn", Value: conn.ID()})
	c.reset()
}

func (c *Client) reset() {
	c.e.release()
	c.conn = nil
	c.state = ClientUninitialized
}

// Send sends a frame of type t to the server on the reliable pipeline. The
// frame goes out on the next Tick or Disconnect.
//
// Parameters:
//   - t: The message type
//   - write: Writes the payload; nil for none
//
// Returns:
//   - ErrNotConnected unless connected, or the transport's send error
func (c *Client) Send(t frame.MessageType, write registry.PayloadWriter) error {
	if c.state != ClientConnected {
		return ErrNotConnected
	}

	return c.e.send(c.conn, t, write)
}

// SendTo implements registry.Origin. conn must be the client's connection.
func (c *Client) SendTo(conn transport.Conn, t frame.MessageType, write registry.PayloadWriter) error {
	if conn == nil || c.conn == nil || conn.ID() != c.conn.ID() {
		return ErrNotConnected
	}

	return c.Send(t, write)
}

// Disconnect tears the connection down synchronously. When connected, a
// ClientDisconnect frame is sent and the transport flushed before the driver
// is released, so the server is told first. A pending connection is dropped
// silently. Without a connection this is a no-op.
//
// Returns:
//   - The send or flush error, if notifying the server failed
func (c *Client) Disconnect(ctx context.Context) error {
	switch c.state {
	case ClientConnected:
		conn := c.conn
		sendErr := c.e.send(conn, frame.ClientDisconnect, nil)
		flushErr := c.e.driver.Flush(ctx)
		if flushErr != nil {
			c.e.log.Error("flush before disconnect failed", logger.Field{Key: "error", Value: flushErr})
		}

		if err := c.e.driver.Disconnect(conn); err != nil {
			c.e.log.Warn("transport disconnect failed", logger.Field{Key: "error", Value: err})
		}

		c.reset()
		c.e.log.Info("disconnected", logger.Field{Key: "conn", Value: conn.ID()})
		return errors.Join(sendErr, flushErr)
	case ClientConnecting:
		if err := c.e.driver.Disconnect(c.conn); err != nil {
			c.e.log.Warn("transport disconnect failed", logger.Field{Key: "error", Value: err})
		}

		c.reset()
		c.e.log.Info("pending connection abandoned")
		return nil
	default:
		return nil
	}
}

// Close disconnects if needed, releases every transport resource and frees
// the guard slot. The client cannot be reused.
func (c *Client) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}

	c.e.lifecycle = ShuttingDown
	err := c.Disconnect(ctx)
	c.e.release()
	c.closed = true
	c.cfg.Guard.release(registry.RoleClient)
	return err
}
