package session

import (
	"sync/atomic"

	"github.com/cyberinferno/netsession/registry"
)

// Guard enforces "at most one active client and one active server" for the
// sessions sharing it. The zero value is ready to use. Sessions claim their
// slot on construction and release it on Close.
type Guard struct {
	client atomic.Bool
	server atomic.Bool
}

func (g *Guard) slot(role registry.Role) *atomic.Bool {
	if role == registry.RoleServer {
		return &g.server
	}

	return &g.client
}

func (g *Guard) acquire(role registry.Role) bool {
	if g == nil {
		return true
	}

	return g.slot(role).CompareAndSwap(false, true)
}

func (g *Guard) release(role registry.Role) {
	if g == nil {
		return
	}

	g.slot(role).Store(false)
}

// Active reports whether a session of role currently holds the guard.
func (g *Guard) Active(role registry.Role) bool {
	if g == nil {
		return false
	}

	return g.slot(role).Load()
}
