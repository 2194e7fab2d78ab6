package session

import (
	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/registry"
	"github.com/cyberinferno/netsession/transport"
)

// DefaultReliableWindowSize is the number of in-flight packets on the
// reliable-ordered pipeline when a config does not set one.
const DefaultReliableWindowSize = 32

// ClientConfig holds configuration for a client session.
type ClientConfig struct {
	// Transport creates the driver on Connect. Required.
	Transport transport.Factory
	// Logger receives diagnostics; nil discards them.
	Logger logger.Logger
	// Guard, when set, limits the process to one live client per guard.
	Guard *Guard
	// ReliableWindowSize configures the reliable-ordered pipeline.
	ReliableWindowSize int
	// DuplicatePolicy governs handler registration after construction.
	DuplicatePolicy registry.DuplicatePolicy
}

// DefaultClientConfig returns a ClientConfig with default values for the
// given transport factory.
//
// Parameters:
//   - factory: Creates the transport driver on Connect
//
// Returns:
//   - A ClientConfig with ReliableWindowSize 32 and duplicate registrations rejected
func DefaultClientConfig(factory transport.Factory) ClientConfig {
	return ClientConfig{
		Transport:          factory,
		ReliableWindowSize: DefaultReliableWindowSize,
		DuplicatePolicy:    registry.RejectDuplicates,
	}
}

// ServerConfig holds configuration for a server session.
type ServerConfig struct {
	// Transport creates the driver on Create. Required.
	Transport transport.Factory
	// Logger receives diagnostics; nil discards them.
	Logger logger.Logger
	// Guard, when set, limits the process to one live server per guard.
	Guard *Guard
	// ListenHost is the host part of the bind address; empty binds all
	// interfaces.
	ListenHost string
	// ReliableWindowSize configures the reliable-ordered pipeline.
	ReliableWindowSize int
	// DuplicatePolicy governs handler registration after construction.
	DuplicatePolicy registry.DuplicatePolicy
}

// DefaultServerConfig returns a ServerConfig with default values for the
// given transport factory.
//
// Parameters:
//   - factory: Creates the transport driver on Create
//
// Returns:
//   - A ServerConfig binding all interfaces with ReliableWindowSize 32
func DefaultServerConfig(factory transport.Factory) ServerConfig {
	return ServerConfig{
		Transport:          factory,
		ReliableWindowSize: DefaultReliableWindowSize,
		DuplicatePolicy:    registry.RejectDuplicates,
	}
}

func windowOrDefault(n int) int {
	if n <= 0 {
		return DefaultReliableWindowSize
	}

	return n
}
