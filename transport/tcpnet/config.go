package tcpnet

import (
	"time"

	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/wire"
)

// DefaultMaxPacketSize is the largest datagram body accepted from the wire.
const DefaultMaxPacketSize = 16 * 1024 * 1024

// Config holds configuration for a TCP driver.
type Config struct {
	// ConnectTimeout is the max duration for establishing a new connection.
	ConnectTimeout time.Duration
	// WriteTimeout is the max duration for writing one flush worth of
	// datagrams to a connection; 0 means no timeout.
	WriteTimeout time.Duration
	// MaxPacketSize is the largest datagram body read or sent. A peer that
	// announces a larger one is disconnected.
	MaxPacketSize uint32
	// PayloadCapacity bounds the writer handed out by BeginSend; 0 means
	// unbounded.
	PayloadCapacity int
	// Logger receives I/O diagnostics from the driver goroutines; nil
	// discards them.
	Logger logger.Logger
}

// DefaultConfig returns a Config with default values.
//
// Returns:
//   - A Config with defaults: ConnectTimeout 10s, WriteTimeout 10s,
//     MaxPacketSize 16 MiB, PayloadCapacity wire.DefaultCapacity.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  10 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxPacketSize:   DefaultMaxPacketSize,
		PayloadCapacity: wire.DefaultCapacity,
	}
}
