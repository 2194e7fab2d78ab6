package tcpnet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/transport"
)

const lengthPrefixSize = 4

type event struct {
	kind transport.EventKind
	data []byte
}

// conn is one TCP stream carrying length-prefixed datagrams. Every field
// except id, owner and remote is guarded by owner.mu.
type conn struct {
	id     uint32
	owner  *Driver
	remote string
	nc     net.Conn
	state  transport.State
	staged []event
	events []event
	outbox [][]byte
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
	c.owner.mu.Lock()
	defer c.owner.mu.Unlock()
	return c.state
}

// IsLive implements transport.Conn.
func (c *conn) IsLive() bool {
	c.owner.mu.Lock()
	defer c.owner.mu.Unlock()
	return c.state != transport.Disconnected && !c.owner.closed
}

// String implements fmt.Stringer.
func (c *conn) String() string {
	return fmt.Sprintf("tcpconn#%d(%s)", c.id, c.remote)
}

// readLoop reads datagrams until the stream fails and stages them as Data
// events. A 4-byte little-endian length prefix precedes every datagram.
// Zero-length datagrams are skipped.
func (c *conn) readLoop(nc net.Conn, max uint32) error {
	d := c.owner
	for {
		var buf bytes.Buffer
		if _, err := io.CopyN(&buf, nc, lengthPrefixSize); err != nil {
			c.lost(nc, err)
			return nil
		}

		dataLength := binary.LittleEndian.Uint32(buf.Bytes())
		if dataLength == 0 {
			continue
		}

		if dataLength > max {
			c.lost(nc, fmt.Errorf("datagram of %d bytes exceeds limit of %d", dataLength, max))
			return nil
		}

		packet := make([]byte, dataLength)
		if _, err := io.ReadFull(nc, packet); err != nil {
			c.lost(nc, err)
			return nil
		}

		d.stage(c, event{kind: transport.Data, data: packet})
	}
}

// lost closes a failed stream and tells the tick side, unless the
// connection was already closed locally.
func (c *conn) lost(nc net.Conn, err error) {
	d := c.owner
	_ = nc.Close()

	if d.stage(c, event{kind: transport.Disconnect}) && !errors.Is(err, io.EOF) {
		d.log.Debug("connection lost",
			logger.Field{Key: "conn", Value: c.id},
			logger.Field{Key: "remote", Value: c.remote},
			logger.Field{Key: "error", Value: err},
		)
	}
}

// encode prepends the length prefix to every queued datagram.
func encode(packets [][]byte) []byte {
	size := 0
	for _, p := range packets {
		size += lengthPrefixSize + len(p)
	}

	out := make([]byte, 0, size)
	for _, p := range packets {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(p)))
		out = append(out, p...)
	}

	return out
}
