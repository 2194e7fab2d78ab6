// Package memnet is an in-process transport. Drivers created from the same
// Network reach each other by address without touching the operating system,
// which makes session behaviour deterministic: nothing moves between drivers
// except inside Flush.
//
// Delivery rules:
//   - Connect requests resolve on the dialing driver's next Flush.
//   - EndSend queues a packet; the sender's Flush hands it to the peer.
//   - The peer sees handed-over packets, accepts and disconnects after its
//     own next Flush.
package memnet

import (
	"fmt"
	"net"
	"sync"

	"github.com/cyberinferno/netsession/idgenerator"
	"github.com/cyberinferno/netsession/transport"
	"github.com/cyberinferno/netsession/wire"
)

// Packet is a datagram that left a driver during Flush.
type Packet struct {
	From     uint32
	To       uint32
	Pipeline transport.Pipeline
	Data     []byte
}

// Network is the shared medium for a set of drivers.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Driver
	ids       *idgenerator.IdGenerator
	drivers   int
	capacity  int
	delivered []Packet
}

// NewNetwork returns an empty Network whose drivers accept payloads up to
// wire.DefaultCapacity bytes.
func NewNetwork() *Network {
	return &Network{
		listeners: make(map[string]*Driver),
		ids:       idgenerator.NewIdGenerator(0),
		capacity:  wire.DefaultCapacity,
	}
}

// SetPayloadCapacity changes the send capacity of writers handed out by
// BeginSend. Zero means unbounded.
func (n *Network) SetPayloadCapacity(capacity int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.capacity = capacity
}

// Factory returns a transport.Factory producing drivers on this network.
func (n *Network) Factory() transport.Factory {
	return func() (transport.Driver, error) {
		return n.NewDriver(), nil
	}
}

// NewDriver creates an unbound driver on this network.
func (n *Network) NewDriver() *Driver {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.drivers++
	return &Driver{
		net:       n,
		name:      fmt.Sprintf("mem%d:0", n.drivers),
		pipelines: []transport.PipelineConfig{{}},
		conns:     make(map[uint32]*conn),
	}
}

// Delivered returns every packet handed to a peer so far, in order.
func (n *Network) Delivered() []Packet {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Packet, len(n.delivered))
	copy(out, n.delivered)
	return out
}

// ClearDelivered forgets the delivery log.
func (n *Network) ClearDelivered() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = nil
}

// lookup resolves addr to a listening driver. A listener bound to a wildcard
// host matches any host on the same port. Caller must hold n.mu.
func (n *Network) lookup(addr string) *Driver {
	if d, ok := n.listeners[addr]; ok && d.listening {
		return d
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil
	}

	for _, host := range []string{"", "0.0.0.0", "::"} {
		if d, ok := n.listeners[net.JoinHostPort(host, port)]; ok && d.listening {
			return d
		}
	}

	return nil
}

type event struct {
	kind transport.EventKind
	data []byte
}

type conn struct {
	id     uint32
	owner  *Driver
	peer   *conn
	remote string
	state  transport.State
	staged []event
	events []event
	outbox []Packet
}

// ID implements transport.Conn.
func (c *conn) ID() uint32 {
	return c.id
}

// RemoteAddr implements transport.Conn.
func (c *conn) RemoteAddr() string {
	return c.remote
}

// State implements transport.Conn.
func (c *conn) State() transport.State {
	c.owner.net.mu.Lock()
	defer c.owner.net.mu.Unlock()
	return c.state
}

// IsLive implements transport.Conn.
func (c *conn) IsLive() bool {
	c.owner.net.mu.Lock()
	defer c.owner.net.mu.Unlock()
	return c.live()
}

// live is IsLive for callers already holding the network lock.
func (c *conn) live() bool {
	return c.state != transport.Disconnected && !c.owner.closed
}

// String implements fmt.Stringer.
func (c *conn) String() string {
	return fmt.Sprintf("memconn#%d(%s)", c.id, c.remote)
}

// notifyPeerClosed stages a Disconnect on the peer. Caller must hold n.mu.
func (c *conn) notifyPeerClosed() {
	if c.peer != nil && c.peer.live() {
		c.peer.staged = append(c.peer.staged, event{kind: transport.Disconnect})
	}
}
