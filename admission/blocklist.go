package admission

import (
	"strings"

	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/safeset"
	"github.com/cyberinferno/netsession/transport"
)

// Blocklist refuses connections whose remote host is listed. Hosts can be
// added and removed while the server is ticking.
type Blocklist struct {
	hosts *safeset.SafeSet[string]
	log   logger.Logger
}

// NewBlocklist creates a Blocklist refusing hosts. Blank entries are ignored.
func NewBlocklist(log logger.Logger, hosts ...string) *Blocklist {
	b := &Blocklist{hosts: safeset.NewSafeSet[string](), log: logger.Or(log)}
	for _, h := range hosts {
		b.Block(h)
	}

	return b
}

// Block adds host to the list.
func (b *Blocklist) Block(host string) {
	if host = strings.TrimSpace(host); host != "" {
		b.hosts.Add(host)
	}
}

// Unblock removes host from the list.
func (b *Blocklist) Unblock(host string) {
	b.hosts.Remove(strings.TrimSpace(host))
}

// Blocked reports whether host is listed.
func (b *Blocklist) Blocked(host string) bool {
	return b.hosts.Contains(host)
}

// Len returns the number of listed hosts.
func (b *Blocklist) Len() int {
	return b.hosts.Len()
}

// Admit implements conntable.Policy. It refuses connections from listed hosts.
func (b *Blocklist) Admit(conn transport.Conn) bool {
	host := hostOf(conn)
	if !b.hosts.Contains(host) {
		return true
	}

	b.log.Warn("connection from blocked host", logger.Field{Key: "host", Value: host})
	return false
}

// OnRemove implements conntable.Policy.
func (b *Blocklist) OnRemove(transport.Conn) {}
