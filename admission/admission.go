// Package admission provides ready-made admission policies for server
// sessions. Every policy implements conntable.Policy: Admit decides whether an
// accepted connection may join the connection table and OnRemove undoes any
// bookkeeping once it leaves.
package admission

import (
	"sync/atomic"

	"github.com/cyberinferno/netsession/conntable"
	"github.com/cyberinferno/netsession/transport"
)

// AllowAll admits every connection.
type AllowAll struct{}

var _ conntable.Policy = AllowAll{}

// Admit implements conntable.Policy.
func (AllowAll) Admit(transport.Conn) bool { return true }

// OnRemove implements conntable.Policy.
func (AllowAll) OnRemove(transport.Conn) {}

// Counter admits connections while fewer than Max are counted and keeps a
// live count, the usual player-count bookkeeping of a game server.
type Counter struct {
	max   int64
	count atomic.Int64
}

// NewCounter creates a Counter admitting at most max concurrent connections.
func NewCounter(max int) *Counter {
	return &Counter{max: int64(max)}
}

// Admit implements conntable.Policy. It refuses once Max connections are counted.
func (c *Counter) Admit(transport.Conn) bool {
	for {
		cur := c.count.Load()
		if cur >= c.max {
			return false
		}

		if c.count.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// OnRemove implements conntable.Policy. The count never drops below zero.
func (c *Counter) OnRemove(transport.Conn) {
	for {
		cur := c.count.Load()
		if cur <= 0 {
			return
		}

		if c.count.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Count returns the number of admitted, not yet removed connections.
func (c *Counter) Count() int {
	return int(c.count.Load())
}

// Chain admits a connection only if every policy admits it. When a later
// policy refuses, the earlier ones get OnRemove so their bookkeeping stays
// balanced. OnRemove runs in reverse order.
type Chain []conntable.Policy

// Admit implements conntable.Policy.
func (ch Chain) Admit(conn transport.Conn) bool {
	for i, p := range ch {
		if p.Admit(conn) {
			continue
		}

		for j := i - 1; j >= 0; j-- {
			ch[j].OnRemove(conn)
		}

		return false
	}

	return true
}

// OnRemove implements conntable.Policy.
func (ch Chain) OnRemove(conn transport.Conn) {
	for i := len(ch) - 1; i >= 0; i-- {
		ch[i].OnRemove(conn)
	}
}
