// Package transport defines the contract between the session engine and the
// packet transport beneath it. A Driver owns connections and performs the
// actual I/O, possibly on its own goroutines; the engine only observes it
// between Flush calls, during which the driver's visible state is stable.
package transport

import (
	"context"
	"fmt"

	"github.com/cyberinferno/netsession/wire"
)

// EventKind classifies an event popped from a connection's queue.
type EventKind uint8

const (
	Empty      EventKind = iota // No more events this tick
	Connect                     // Outgoing connection established
	Data                        // One datagram received
	Disconnect                  // Connection closed by the peer or the transport
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case Empty:
		return "Empty"
	case Connect:
		return "Connect"
	case Data:
		return "Data"
	case Disconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// State is the transport-level state of a connection.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns a human-readable name for the connection state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Conn is an opaque connection handle issued by a Driver. The session layer
// holds handles but never owns the underlying resource.
type Conn interface {
	// ID returns the driver-assigned id. Ids are never 0.
	ID() uint32

	// RemoteAddr returns the peer address as "host:port".
	RemoteAddr() string

	// State returns the current connection state.
	State() State

	// IsLive reports whether the handle still refers to a connecting or
	// connected peer on an open driver.
	IsLive() bool
}

// Pipeline selects a delivery mode created with Driver.CreatePipeline.
type Pipeline uint8

// NullPipeline is unreliable, unordered delivery and always exists.
const NullPipeline Pipeline = 0

// PipelineConfig describes a delivery pipeline.
type PipelineConfig struct {
	// ReliableSequenced requests in-order, retransmitted delivery.
	ReliableSequenced bool
	// WindowSize is the number of in-flight reliable packets.
	WindowSize int
}

// Outgoing is a send in progress: write the payload through the embedded
// Writer and hand it back with Driver.EndSend.
type Outgoing struct {
	*wire.Writer
	Conn     Conn
	Pipeline Pipeline
}

// Driver is the transport collaborator.
type Driver interface {
	// Bind reserves a local endpoint ("host:port").
	Bind(addr string) error

	// Listen starts accepting inbound connections on the bound endpoint.
	Listen() error

	// LocalAddr returns the bound address, or "" when not bound.
	LocalAddr() string

	// CreatePipeline registers a delivery pipeline.
	CreatePipeline(cfg PipelineConfig) (Pipeline, error)

	// Connect issues an asynchronous connect request. Completion is reported
	// as a Connect event after a later Flush.
	Connect(addr string) (Conn, error)

	// Accept returns the next pending inbound connection, if any.
	Accept() (Conn, bool)

	// Flush performs pending transport work and blocks until it completes.
	Flush(ctx context.Context) error

	// PopEvent returns the next event for c. Data events come with a reader
	// over the datagram; other kinds return a nil reader.
	PopEvent(c Conn) (EventKind, *wire.Reader)

	// BeginSend starts a send to c on pipeline p.
	BeginSend(p Pipeline, c Conn) (*Outgoing, error)

	// EndSend queues a send started with BeginSend. Queued sends go out on
	// the next Flush.
	EndSend(o *Outgoing) error

	// Disconnect closes c. The peer observes a Disconnect event.
	Disconnect(c Conn) error

	// Close releases the driver and every connection it owns.
	Close() error
}

// Factory creates a fresh Driver. Sessions call it from Connect/Create.
type Factory func() (Driver, error)

// Status is a numeric transport failure cause.
type Status int

const (
	StatusOK                Status = 0
	StatusInvalidConnection Status = -1
	StatusDriverClosed      Status = -2
	StatusPayloadTooLarge   Status = -3
	StatusNotBound          Status = -4
	StatusUnreachable       Status = -5
	StatusInvalidPipeline   Status = -6
	StatusAddressInUse      Status = -7
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidConnection:
		return "InvalidConnection"
	case StatusDriverClosed:
		return "DriverClosed"
	case StatusPayloadTooLarge:
		return "PayloadTooLarge"
	case StatusNotBound:
		return "NotBound"
	case StatusUnreachable:
		return "Unreachable"
	case StatusInvalidPipeline:
		return "InvalidPipeline"
	case StatusAddressInUse:
		return "AddressInUse"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}
