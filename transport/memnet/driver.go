package memnet

import (
	"context"
	"errors"

	"github.com/cyberinferno/netsession/transport"
	"github.com/cyberinferno/netsession/wire"
)

// Driver implements transport.Driver on a Network.
type Driver struct {
	net       *Network
	name      string
	addr      string
	listening bool
	closed    bool
	pipelines []transport.PipelineConfig
	conns     map[uint32]*conn
	dials     []*conn
	staged    []*conn
	accepts   []*conn
	sendFail  transport.Status
	bindErr   error
}

var _ transport.Driver = (*Driver)(nil)

// FailSends makes every following BeginSend fail with status. Pass
// transport.StatusOK to restore normal sends.
func (d *Driver) FailSends(status transport.Status) {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()
	d.sendFail = status
}

// FailBind makes the next Bind calls fail with err. Pass nil to restore.
func (d *Driver) FailBind(err error) {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()
	d.bindErr = err
}

// Pipelines returns the configurations registered with CreatePipeline,
// including the implicit NullPipeline at index 0.
func (d *Driver) Pipelines() []transport.PipelineConfig {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()

	out := make([]transport.PipelineConfig, len(d.pipelines))
	copy(out, d.pipelines)
	return out
}

// Closed reports whether Close has been called.
func (d *Driver) Closed() bool {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()
	return d.closed
}

// Bind implements transport.Driver. Rebinding moves the driver to addr.
func (d *Driver) Bind(addr string) error {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()

	if d.closed {
		return transport.NewStatusError("bind", transport.StatusDriverClosed, nil)
	}

	if d.bindErr != nil {
		return transport.NewStatusError("bind", transport.StatusAddressInUse, d.bindErr)
	}

	if other, ok := d.net.listeners[addr]; ok && other != d {
		return transport.NewStatusError("bind", transport.StatusAddressInUse, errors.New(addr))
	}

	if d.addr != "" {
		delete(d.net.listeners, d.addr)
	}

	d.addr = addr
	d.name = addr
	d.net.listeners[addr] = d
	return nil
}

// Listen implements transport.Driver. Dials to the bound address are
// accepted from the next Flush on.
func (d *Driver) Listen() error {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()

	if d.closed {
		return transport.NewStatusError("listen", transport.StatusDriverClosed, nil)
	}

	if d.addr == "" {
		return transport.NewStatusError("listen", transport.StatusNotBound, nil)
	}

	d.listening = true
	return nil
}

// LocalAddr implements transport.Driver.
func (d *Driver) LocalAddr() string {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()
	return d.addr
}

// CreatePipeline implements transport.Driver.
func (d *Driver) CreatePipeline(cfg transport.PipelineConfig) (transport.Pipeline, error) {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()

	if len(d.pipelines) > 255 {
		return transport.NullPipeline, transport.NewStatusError("create pipeline", transport.StatusInvalidPipeline, nil)
	}

	d.pipelines = append(d.pipelines, cfg)
	return transport.Pipeline(len(d.pipelines) - 1), nil
}

// Connect implements transport.Driver. The dial resolves on the next Flush.
func (d *Driver) Connect(addr string) (transport.Conn, error) {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()

	if d.closed {
		return nil, transport.NewStatusError("connect", transport.StatusDriverClosed, nil)
	}

	c := &conn{
		id:     d.net.ids.Id(),
		owner:  d,
		remote: addr,
		state:  transport.Connecting,
	}
	d.conns[c.id] = c
	d.dials = append(d.dials, c)
	return c, nil
}

// Accept implements transport.Driver.
func (d *Driver) Accept() (transport.Conn, bool) {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()

	if d.closed || len(d.accepts) == 0 {
		return nil, false
	}

	c := d.accepts[0]
	d.accepts = d.accepts[1:]
	return c, true
}

// Flush resolves pending dials, hands queued packets to peers and publishes
// everything peers handed to this driver since the last Flush.
func (d *Driver) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.net.mu.Lock()
	defer d.net.mu.Unlock()

	if d.closed {
		return transport.NewStatusError("flush", transport.StatusDriverClosed, nil)
	}

	for _, c := range d.dials {
		if c.state != transport.Connecting {
			continue
		}

		listener := d.net.lookup(c.remote)
		if listener == nil || listener.closed {
			c.state = transport.Disconnected
			c.events = append(c.events, event{kind: transport.Disconnect})
			continue
		}

		sc := &conn{
			id:     d.net.ids.Id(),
			owner:  listener,
			peer:   c,
			remote: d.name,
			state:  transport.Connected,
		}
		listener.conns[sc.id] = sc
		listener.staged = append(listener.staged, sc)

		c.peer = sc
		c.state = transport.Connected
		c.events = append(c.events, event{kind: transport.Connect})
	}
	d.dials = nil

	for _, c := range d.conns {
		for _, p := range c.outbox {
			if c.peer == nil || !c.peer.live() {
				continue
			}

			c.peer.staged = append(c.peer.staged, event{kind: transport.Data, data: p.Data})
			d.net.delivered = append(d.net.delivered, p)
		}
		c.outbox = nil
	}

	d.accepts = append(d.accepts, d.staged...)
	d.staged = nil
	for _, c := range d.conns {
		c.events = append(c.events, c.staged...)
		c.staged = nil
	}

	return nil
}

func (d *Driver) own(c transport.Conn) (*conn, bool) {
	mc, ok := c.(*conn)
	if !ok || mc == nil || mc.owner != d {
		return nil, false
	}

	return mc, true
}

// PopEvent implements transport.Driver. Popping a Disconnect forgets the
// connection.
func (d *Driver) PopEvent(c transport.Conn) (transport.EventKind, *wire.Reader) {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()

	mc, ok := d.own(c)
	if !ok || d.closed || len(mc.events) == 0 {
		return transport.Empty, nil
	}

	ev := mc.events[0]
	mc.events = mc.events[1:]

	switch ev.kind {
	case transport.Data:
		return transport.Data, wire.NewReader(ev.data)
	case transport.Disconnect:
		mc.state = transport.Disconnected
		mc.events = nil
		delete(d.conns, mc.id)
	}

	return ev.kind, nil
}

// BeginSend implements transport.Driver.
func (d *Driver) BeginSend(p transport.Pipeline, c transport.Conn) (*transport.Outgoing, error) {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()

	if d.closed {
		return nil, transport.NewStatusError("begin send", transport.StatusDriverClosed, nil)
	}

	if d.sendFail != transport.StatusOK {
		return nil, transport.NewStatusError("begin send", d.sendFail, nil)
	}

	if int(p) >= len(d.pipelines) {
		return nil, transport.NewStatusError("begin send", transport.StatusInvalidPipeline, nil)
	}

	mc, ok := d.own(c)
	if !ok || mc.state != transport.Connected {
		return nil, transport.NewStatusError("begin send", transport.StatusInvalidConnection, nil)
	}

	return &transport.Outgoing{
		Writer:   wire.NewWriter(d.net.capacity),
		Conn:     c,
		Pipeline: p,
	}, nil
}

// EndSend implements transport.Driver. The packet is queued in the
// connection's outbox until the next Flush.
func (d *Driver) EndSend(o *transport.Outgoing) error {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()

	if o == nil || o.Writer == nil {
		return transport.NewStatusError("end send", transport.StatusInvalidConnection, nil)
	}

	if o.Failed() {
		return transport.NewStatusError("end send", transport.StatusPayloadTooLarge, nil)
	}

	if d.closed {
		return transport.NewStatusError("end send", transport.StatusDriverClosed, nil)
	}

	mc, ok := d.own(o.Conn)
	if !ok || mc.state != transport.Connected {
		return transport.NewStatusError("end send", transport.StatusInvalidConnection, nil)
	}

	data := make([]byte, o.Len())
	copy(data, o.Bytes())
	to := uint32(0)
	if mc.peer != nil {
		to = mc.peer.id
	}

	mc.outbox = append(mc.outbox, Packet{From: mc.id, To: to, Pipeline: o.Pipeline, Data: data})
	return nil
}

// Disconnect implements transport.Driver. The peer sees a Disconnect event
// after its next Flush.
func (d *Driver) Disconnect(c transport.Conn) error {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()

	mc, ok := d.own(c)
	if !ok {
		return transport.NewStatusError("disconnect", transport.StatusInvalidConnection, nil)
	}

	if mc.state == transport.Disconnected {
		return nil
	}

	mc.notifyPeerClosed()
	mc.state = transport.Disconnected
	mc.outbox = nil
	mc.events = nil
	delete(d.conns, mc.id)
	return nil
}

// Close implements transport.Driver. Peers of every open connection are
// notified and the bound address is freed.
func (d *Driver) Close() error {
	d.net.mu.Lock()
	defer d.net.mu.Unlock()

	if d.closed {
		return nil
	}

	for _, c := range d.conns {
		c.notifyPeerClosed()
		c.state = transport.Disconnected
	}

	if d.addr != "" && d.net.listeners[d.addr] == d {
		delete(d.net.listeners, d.addr)
	}

	d.closed = true
	d.conns = nil
	d.dials = nil
	d.staged = nil
	d.accepts = nil
	return nil
}
