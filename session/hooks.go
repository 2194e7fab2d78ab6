package session

import (
	"github.com/cyberinferno/netsession/conntable"
	"github.com/cyberinferno/netsession/frame"
	"github.com/cyberinferno/netsession/registry"
	"github.com/cyberinferno/netsession/transport"
	"github.com/cyberinferno/netsession/wire"
)

// ClientHandler supplies the application side of a client session.
type ClientHandler interface {
	// Handlers returns the message handlers to register at construction.
	Handlers() map[frame.MessageType]registry.Handler

	// WriteHandshake writes the payload of the HandshakeServer frame sent as
	// soon as the transport reports the connection established.
	WriteHandshake(w *wire.Writer)
}

// ServerHandler supplies the application side of a server session: its
// message handlers plus the admission policy for the connection table.
type ServerHandler interface {
	Handlers() map[frame.MessageType]registry.Handler
	conntable.Policy
}

// ClientHooks implements ClientHandler from plain values.
type ClientHooks struct {
	Messages  map[frame.MessageType]registry.Handler
	Handshake registry.PayloadWriter
}

// Handlers implements ClientHandler.
func (h ClientHooks) Handlers() map[frame.MessageType]registry.Handler {
	return h.Messages
}

// WriteHandshake implements ClientHandler. A nil Handshake sends an empty payload.
func (h ClientHooks) WriteHandshake(w *wire.Writer) {
	if h.Handshake != nil {
		h.Handshake(w)
	}
}

// ServerHooks implements ServerHandler from plain values. A nil Policy
// admits every connection.
type ServerHooks struct {
	Messages map[frame.MessageType]registry.Handler
	Policy   conntable.Policy
}

// Handlers implements ServerHandler.
func (h ServerHooks) Handlers() map[frame.MessageType]registry.Handler {
	return h.Messages
}

// Admit implements conntable.Policy.
func (h ServerHooks) Admit(conn transport.Conn) bool {
	if h.Policy == nil {
		return true
	}

	return h.Policy.Admit(conn)
}

// OnRemove implements conntable.Policy.
func (h ServerHooks) OnRemove(conn transport.Conn) {
	if h.Policy != nil {
		h.Policy.OnRemove(conn)
	}
}
