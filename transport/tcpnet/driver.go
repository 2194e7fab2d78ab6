// Package tcpnet is a transport over TCP streams. Every datagram travels as
// a 4-byte little-endian length prefix followed by its body, so the stream
// gives the reliable-ordered delivery all pipelines ask for.
//
// Socket I/O runs on goroutines owned by an errgroup: one accept loop per
// listening driver, one dial per Connect and one read loop per connection.
// They only stage accepts and events; Flush publishes what was staged to the
// tick-visible queues and writes the queued sends.
package tcpnet

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/netsession/idgenerator"
	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/safemap"
	"github.com/cyberinferno/netsession/transport"
	"github.com/cyberinferno/netsession/wire"
	"golang.org/x/sync/errgroup"
)

// Driver implements transport.Driver over TCP.
type Driver struct {
	cfg    Config
	log    logger.Logger
	ids    *idgenerator.IdGenerator
	conns  *safemap.SafeMap[uint32, *conn]
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	ln        net.Listener
	listening bool
	closed    bool
	pipelines []transport.PipelineConfig
	staged    []*conn
	accepts   []*conn
}

var _ transport.Driver = (*Driver)(nil)

// NewDriver creates an unbound driver.
//
// Parameters:
//   - cfg: Driver settings (e.g. from DefaultConfig)
//
// Returns:
//   - A new *Driver; call Close to stop its goroutines
func NewDriver(cfg Config) *Driver {
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = DefaultMaxPacketSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &Driver{
		cfg:       cfg,
		log:       logger.Or(cfg.Logger),
		ids:       idgenerator.NewIdGenerator(0),
		conns:     safemap.NewSafeMap[uint32, *conn](),
		group:     group,
		ctx:       ctx,
		cancel:    cancel,
		pipelines: []transport.PipelineConfig{{}},
	}
}

// Factory returns a transport.Factory producing drivers with cfg.
func Factory(cfg Config) transport.Factory {
	return func() (transport.Driver, error) {
		return NewDriver(cfg), nil
	}
}

// Bind opens the listening socket on addr. Inbound connections are not
// accepted until Listen.
func (d *Driver) Bind(addr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return transport.NewStatusError("bind", transport.StatusDriverClosed, nil)
	}

	if d.ln != nil {
		return transport.NewStatusError("bind", transport.StatusAddressInUse, errors.New("already bound"))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return transport.NewStatusError("bind", transport.StatusAddressInUse, err)
	}

	d.ln = ln
	return nil
}

// Listen starts the accept loop.
func (d *Driver) Listen() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return transport.NewStatusError("listen", transport.StatusDriverClosed, nil)
	}

	if d.ln == nil {
		return transport.NewStatusError("listen", transport.StatusNotBound, nil)
	}

	if d.listening {
		return nil
	}

	d.listening = true
	ln := d.ln
	d.group.Go(func() error {
		return d.acceptLoop(ln)
	})
	return nil
}

// LocalAddr implements transport.Driver. It reports the listener address,
// including the port picked for ":0".
func (d *Driver) LocalAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ln == nil {
		return ""
	}

	return d.ln.Addr().String()
}

// CreatePipeline implements transport.Driver. Every pipeline is reliable
// and ordered on a stream socket.
func (d *Driver) CreatePipeline(cfg transport.PipelineConfig) (transport.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pipelines) > 255 {
		return transport.NullPipeline, transport.NewStatusError("create pipeline", transport.StatusInvalidPipeline, nil)
	}

	d.pipelines = append(d.pipelines, cfg)
	return transport.Pipeline(len(d.pipelines) - 1), nil
}

// Connect dials addr in the background. The outcome is a Connect or
// Disconnect event visible after a Flush.
func (d *Driver) Connect(addr string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, transport.NewStatusError("connect", transport.StatusDriverClosed, nil)
	}

	c := &conn{
		id:     d.ids.Id(),
		owner:  d,
		remote: addr,
		state:  transport.Connecting,
	}
	d.conns.Store(c.id, c)
	d.group.Go(func() error {
		return d.dial(c)
	})
	return c, nil
}

func (d *Driver) dial(c *conn) error {
	dialer := net.Dialer{Timeout: d.cfg.ConnectTimeout}
	nc, err := dialer.DialContext(d.ctx, "tcp", c.remote)
	if err != nil {
		d.log.Debug("dial failed",
			logger.Field{Key: "conn", Value: c.id},
			logger.Field{Key: "remote", Value: c.remote},
			logger.Field{Key: "error", Value: err},
		)
		d.stage(c, event{kind: transport.Disconnect})
		return nil
	}

	d.mu.Lock()
	if d.closed || c.state == transport.Disconnected {
		d.mu.Unlock()
		_ = nc.Close()
		return nil
	}

	c.nc = nc
	c.staged = append(c.staged, event{kind: transport.Connect})
	d.mu.Unlock()

	return c.readLoop(nc, d.cfg.MaxPacketSize)
}

func (d *Driver) acceptLoop(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if d.isClosed() {
				return nil
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}

			d.log.Error("accept failed", logger.Field{Key: "error", Value: err})
			return nil
		}

		c := &conn{
			id:     d.ids.Id(),
			owner:  d,
			remote: nc.RemoteAddr().String(),
			nc:     nc,
			state:  transport.Connected,
		}

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			_ = nc.Close()
			return nil
		}

		d.conns.Store(c.id, c)
		d.staged = append(d.staged, c)
		d.group.Go(func() error {
			return c.readLoop(nc, d.cfg.MaxPacketSize)
		})
		d.mu.Unlock()
	}
}

// stage queues ev for c until the next Flush. It reports false when the
// connection or the driver is already closed and ev was dropped.
func (d *Driver) stage(c *conn, ev event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || c.state == transport.Disconnected {
		return false
	}

	c.staged = append(c.staged, ev)
	return true
}

func (d *Driver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Accept implements transport.Driver.
func (d *Driver) Accept() (transport.Conn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || len(d.accepts) == 0 {
		return nil, false
	}

	c := d.accepts[0]
	d.accepts = d.accepts[1:]
	return c, true
}

type pendingWrite struct {
	c    *conn
	nc   net.Conn
	data []byte
}

// Flush publishes staged accepts and events, then writes every queued send.
// A connection whose write fails is closed; its read loop reports the
// Disconnect.
func (d *Driver) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return transport.NewStatusError("flush", transport.StatusDriverClosed, nil)
	}

	d.accepts = append(d.accepts, d.staged...)
	d.staged = nil

	var writes []pendingWrite
	d.conns.Range(func(_ uint32, c *conn) bool {
		for _, ev := range c.staged {
			if ev.kind == transport.Connect {
				c.state = transport.Connected
			}
			c.events = append(c.events, ev)
		}
		c.staged = nil

		if len(c.outbox) > 0 && c.nc != nil && c.state == transport.Connected {
			writes = append(writes, pendingWrite{c: c, nc: c.nc, data: encode(c.outbox)})
		}
		c.outbox = nil
		return true
	})
	d.mu.Unlock()

	for _, w := range writes {
		if err := d.write(ctx, w); err != nil {
			d.log.Warn("write failed",
				logger.Field{Key: "conn", Value: w.c.id},
				logger.Field{Key: "remote", Value: w.c.remote},
				logger.Field{Key: "error", Value: err},
			)
			_ = w.nc.Close()
		}
	}

	return nil
}

func (d *Driver) write(ctx context.Context, w pendingWrite) error {
	deadline := time.Time{}
	if d.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(d.cfg.WriteTimeout)
	}

	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}

	if err := w.nc.SetWriteDeadline(deadline); err != nil {
		return err
	}

	_, err := w.nc.Write(w.data)
	return err
}

func (d *Driver) own(c transport.Conn) (*conn, bool) {
	tc, ok := c.(*conn)
	if !ok || tc == nil || tc.owner != d {
		return nil, false
	}

	return tc, true
}

// PopEvent implements transport.Driver.
func (d *Driver) PopEvent(c transport.Conn) (transport.EventKind, *wire.Reader) {
	tc, ok := d.own(c)
	if !ok {
		return transport.Empty, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || len(tc.events) == 0 {
		return transport.Empty, nil
	}

	ev := tc.events[0]
	tc.events = tc.events[1:]

	switch ev.kind {
	case transport.Data:
		return transport.Data, wire.NewReader(ev.data)
	case transport.Disconnect:
		d.drop(tc)
	}

	return ev.kind, nil
}

// drop marks tc disconnected and closes its socket. Caller must hold d.mu.
func (d *Driver) drop(tc *conn) {
	tc.state = transport.Disconnected
	tc.events = nil
	tc.staged = nil
	tc.outbox = nil
	if tc.nc != nil {
		_ = tc.nc.Close()
	}

	d.conns.Delete(tc.id)
}

// BeginSend implements transport.Driver.
func (d *Driver) BeginSend(p transport.Pipeline, c transport.Conn) (*transport.Outgoing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, transport.NewStatusError("begin send", transport.StatusDriverClosed, nil)
	}

	if int(p) >= len(d.pipelines) {
		return nil, transport.NewStatusError("begin send", transport.StatusInvalidPipeline, nil)
	}

	tc, ok := d.own(c)
	if !ok || tc.state != transport.Connected {
		return nil, transport.NewStatusError("begin send", transport.StatusInvalidConnection, nil)
	}

	return &transport.Outgoing{
		Writer:   wire.NewWriter(d.cfg.PayloadCapacity),
		Conn:     c,
		Pipeline: p,
	}, nil
}

// EndSend implements transport.Driver. The datagram is written on the next
// Flush.
func (d *Driver) EndSend(o *transport.Outgoing) error {
	if o == nil || o.Writer == nil {
		return transport.NewStatusError("end send", transport.StatusInvalidConnection, nil)
	}

	if o.Failed() || uint32(o.Len()) > d.cfg.MaxPacketSize {
		return transport.NewStatusError("end send", transport.StatusPayloadTooLarge, nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return transport.NewStatusError("end send", transport.StatusDriverClosed, nil)
	}

	tc, ok := d.own(o.Conn)
	if !ok || tc.state != transport.Connected {
		return transport.NewStatusError("end send", transport.StatusInvalidConnection, nil)
	}

	data := make([]byte, o.Len())
	copy(data, o.Bytes())
	tc.outbox = append(tc.outbox, data)
	return nil
}

// Disconnect closes c immediately. Sends still queued for c are discarded;
// flush before disconnecting to deliver them.
func (d *Driver) Disconnect(c transport.Conn) error {
	tc, ok := d.own(c)
	if !ok {
		return transport.NewStatusError("disconnect", transport.StatusInvalidConnection, nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if tc.state == transport.Disconnected {
		return nil
	}

	d.drop(tc)
	return nil
}

// Close stops the listener, closes every connection and waits for the
// driver goroutines to exit.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}

	d.closed = true
	if d.ln != nil {
		_ = d.ln.Close()
	}

	d.conns.Range(func(_ uint32, c *conn) bool {
		d.drop(c)
		return true
	})
	d.staged = nil
	d.accepts = nil
	d.mu.Unlock()

	d.cancel()
	return d.group.Wait()
}
