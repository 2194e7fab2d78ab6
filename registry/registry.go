// Package registry maps message types to handlers and dispatches decoded
// frames to them. It performs no networking and can be exercised with
// synthetic handlers and connections.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cyberinferno/netsession/frame"
	"github.com/cyberinferno/netsession/safemap"
	"github.com/cyberinferno/netsession/transport"
	"github.com/cyberinferno/netsession/wire"
)

var (
	ErrNilHandler         = errors.New("registry: nil handler")
	ErrDuplicateHandler   = errors.New("registry: handler already registered")
	ErrUnknownMessageType = errors.New("registry: unsupported message type")
	ErrHandlerPanic       = errors.New("registry: handler panicked")
)

// Role identifies which side of a session received a message.
type Role uint8

const (
	RoleClient Role = iota + 1
	RoleServer
)

// String returns a human-readable name for the role.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// PayloadWriter fills the payload of an outgoing frame.
type PayloadWriter func(w *wire.Writer)

// Origin is the session a message arrived on. Handlers use it to reply.
type Origin interface {
	// Role reports whether the receiving session is a client or a server.
	Role() Role

	// SendTo sends a frame of type t to conn on the session's reliable
	// pipeline. write may be nil for an empty payload.
	SendTo(conn transport.Conn, t frame.MessageType, write PayloadWriter) error
}

// Handler processes one frame. payload is positioned just after the type tag
// and is only valid for the duration of the call.
type Handler func(origin Origin, conn transport.Conn, payload *wire.Reader)

// DuplicatePolicy decides what Register does when a type already has a
// handler.
type DuplicatePolicy uint8

const (
	// RejectDuplicates keeps the first handler and returns ErrDuplicateHandler.
	RejectDuplicates DuplicatePolicy = iota
	// ReplaceDuplicates overwrites the previous handler.
	ReplaceDuplicates
)

// Registry is a message type to handler table. It is safe for concurrent use,
// though sessions only touch it from their tick goroutine.
type Registry struct {
	handlers *safemap.SafeMap[frame.MessageType, Handler]
	policy   DuplicatePolicy
}

// New creates an empty Registry with the given duplicate policy.
func New(policy DuplicatePolicy) *Registry {
	return &Registry{
		handlers: safemap.NewSafeMap[frame.MessageType, Handler](),
		policy:   policy,
	}
}

// FromMap creates a Registry holding every entry of handlers.
//
// Parameters:
//   - handlers: The type to handler mapping to register
//   - policy: Duplicate policy for later Register calls
//
// Returns:
//   - The populated Registry
//   - ErrNilHandler if any entry is nil
func FromMap(handlers map[frame.MessageType]Handler, policy DuplicatePolicy) (*Registry, error) {
	r := New(policy)
	for t, h := range handlers {
		if err := r.Register(t, h); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Register adds a handler for t, following the registry's DuplicatePolicy.
//
// Parameters:
//   - t: The message type to handle
//   - h: The handler to invoke for frames of type t
//
// Returns:
//   - ErrNilHandler if h is nil
//   - ErrDuplicateHandler if t is taken and the policy rejects duplicates
func (r *Registry) Register(t frame.MessageType, h Handler) error {
	if h == nil {
		return fmt.Errorf("%w for %s", ErrNilHandler, t)
	}

	if r.policy == ReplaceDuplicates {
		r.handlers.Store(t, h)
		return nil
	}

	if _, loaded := r.handlers.LoadOrStore(t, h); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, t)
	}

	return nil
}

// Replace sets the handler for t regardless of policy.
func (r *Registry) Replace(t frame.MessageType, h Handler) error {
	if h == nil {
		return fmt.Errorf("%w for %s", ErrNilHandler, t)
	}

	r.handlers.Store(t, h)
	return nil
}

// Resolve returns the handler for t.
func (r *Registry) Resolve(t frame.MessageType) (Handler, bool) {
	return r.handlers.Load(t)
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	return r.handlers.Len()
}

// Types returns the registered types in ascending order.
func (r *Registry) Types() []frame.MessageType {
	var out []frame.MessageType
	r.handlers.Range(func(t frame.MessageType, _ Handler) bool {
		out = append(out, t)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch invokes the handler for t synchronously on the calling goroutine.
// A panicking handler is recovered and reported as ErrHandlerPanic.
//
// Parameters:
//   - origin: The receiving session
//   - conn: The connection the frame arrived on
//   - t: The decoded message type
//   - payload: Reader positioned at the payload
//
// Returns:
//   - ErrUnknownMessageType if no handler is registered for t
//   - ErrHandlerPanic if the handler panicked
func (r *Registry) Dispatch(origin Origin, conn transport.Conn, t frame.MessageType, payload *wire.Reader) (err error) {
	h, ok := r.handlers.Load(t)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessageType, t)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, t, rec)
		}
	}()

	h(origin, conn, payload)
	return nil
}
