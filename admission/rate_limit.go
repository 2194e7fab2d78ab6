package admission

import (
	"net"
	"time"

	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/transport"
	"github.com/patrickmn/go-cache"
)

// RateLimit admits at most perHost connections from the same remote host
// within a window that starts at the host's first attempt. Counters live in
// an in-memory go-cache and expire on their own, so a host that stops
// reconnecting is forgotten.
type RateLimit struct {
	perHost int
	window  time.Duration
	hits    *cache.Cache
	log     logger.Logger
}

// DefaultRateLimitWindow replaces a non-positive window given to
// NewRateLimit, since go-cache never expires zero-duration entries.
const DefaultRateLimitWindow = time.Minute

// NewRateLimit creates a RateLimit policy.
//
// Parameters:
//   - perHost: Connections allowed per host within window
//   - window: Length of the counting window; <= 0 uses DefaultRateLimitWindow
//   - log: Logger for rejections; nil discards
//
// Returns:
//   - A new *RateLimit
func NewRateLimit(perHost int, window time.Duration, log logger.Logger) *RateLimit {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}

	return &RateLimit{
		perHost: perHost,
		window:  window,
		hits:    cache.New(window, 2*window),
		log:     logger.Or(log),
	}
}

func hostOf(conn transport.Conn) string {
	addr := conn.RemoteAddr()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return host
}

// Window returns the length of the counting window.
func (r *RateLimit) Window() time.Duration {
	return r.window
}

// Admit implements conntable.Policy. It counts the attempt against the
// remote host and refuses once the host exceeds perHost in the window.
func (r *RateLimit) Admit(conn transport.Conn) bool {
	host := hostOf(conn)

	if err := r.hits.Add(host, 1, r.window); err == nil {
		return r.perHost >= 1
	}

	n, err := r.hits.IncrementInt(host, 1)
	if err != nil {
		// Expired between Add and Increment.
		r.hits.Set(host, 1, r.window)
		n = 1
	}

	if n > r.perHost {
		r.log.Warn("connection rate limited",
			logger.Field{Key: "host", Value: host},
			logger.Field{Key: "attempts", Value: n},
		)
		return false
	}

	return true
}

// OnRemove is a no-op: attempts count against the window even after the
// connection is gone.
func (r *RateLimit) OnRemove(transport.Conn) {}

// Attempts returns the number of attempts counted for host in the current
// window.
func (r *RateLimit) Attempts(host string) int {
	v, ok := r.hits.Get(host)
	if !ok {
		return 0
	}

	n, _ := v.(int)
	return n
}
