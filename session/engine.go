// Package session implements the client and server roles of the session
// layer. Both share one engine: every Tick flushes the transport, drains each
// connection's event queue and routes Data events through the frame codec and
// the message registry.
//
// Sessions are single-threaded. Tick, Connect, Create, Send and Disconnect
// must be called from the goroutine that drives the tick loop; handlers run
// synchronously on that goroutine.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyberinferno/netsession/frame"
	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/registry"
	"github.com/cyberinferno/netsession/transport"
	"github.com/cyberinferno/netsession/wire"
)

// Lifecycle is the coarse state of a session.
type Lifecycle uint8

const (
	Uninitialized Lifecycle = iota // No transport driver
	Active                         // Driver created, ticks do work
	ShuttingDown                   // Close called
)

// String returns a human-readable name for the lifecycle state.
func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "Uninitialized"
	case Active:
		return "Active"
	case ShuttingDown:
		return "ShuttingDown"
	default:
		return "Unknown"
	}
}

type engine struct {
	role      registry.Role
	log       logger.Logger
	messages  *registry.Registry
	driver    transport.Driver
	reliable  transport.Pipeline
	window    int
	lifecycle Lifecycle
}

func newEngine(role registry.Role, log logger.Logger, handlers map[frame.MessageType]registry.Handler,
	policy registry.DuplicatePolicy, window int) (engine, error) {
	messages, err := registry.FromMap(handlers, policy)
	if err != nil {
		return engine{}, err
	}

	return engine{
		role:     role,
		log:      logger.Or(log).With(logger.Field{Key: "role", Value: role.String()}),
		messages: messages,
		window:   windowOrDefault(window),
	}, nil
}

// open creates the driver and its reliable-ordered pipeline.
func (e *engine) open(factory transport.Factory) error {
	driver, err := factory()
	if err != nil {
		return fmt.Errorf("session: create transport: %w", err)
	}

	pipeline, err := driver.CreatePipeline(transport.PipelineConfig{
		ReliableSequenced: true,
		WindowSize:        e.window,
	})
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("session: create reliable pipeline: %w", err)
	}

	e.driver = driver
	e.reliable = pipeline
	if e.lifecycle != ShuttingDown {
		e.lifecycle = Active
	}

	return nil
}

// release disposes of the driver. Safe to call without one.
func (e *engine) release() {
	if e.driver == nil {
		return
	}

	if err := e.driver.Close(); err != nil {
		e.log.Warn("transport close failed", logger.Field{Key: "error", Value: err})
	}

	e.driver = nil
	if e.lifecycle != ShuttingDown {
		e.lifecycle = Uninitialized
	}
}

// flush runs the transport's pending work. It reports whether the tick
// should continue.
func (e *engine) flush(ctx context.Context) bool {
	if err := e.driver.Flush(ctx); err != nil {
		e.log.Error("transport flush failed",
			logger.Field{Key: "status", Value: int(transport.StatusOf(err))},
			logger.Field{Key: "error", Value: err},
		)
		return false
	}

	return true
}

// drain pops events for conn until the queue is empty, a Disconnect arrives,
// or a handler replaces or releases the driver.
func (e *engine) drain(origin registry.Origin, conn transport.Conn,
	onConnect func(transport.Conn), onDisconnect func(transport.Conn)) {
	driver := e.driver
	for e.driver == driver && driver != nil {
		kind, payload := driver.PopEvent(conn)
		switch kind {
		case transport.Empty:
			return
		case transport.Connect:
			if onConnect == nil {
				e.log.Debug("ignoring connect event", logger.Field{Key: "conn", Value: conn.ID()})
				continue
			}
			onConnect(conn)
		case transport.Data:
			e.dispatch(origin, conn, payload)
		case transport.Disconnect:
			onDisconnect(conn)
			return
		default:
			e.log.Warn("unknown transport event", logger.Field{Key: "kind", Value: kind.String()})
			return
		}
	}
}

// dispatch decodes one datagram and hands it to the registered handler.
// Failures are logged and the frame is dropped; the connection stays up.
func (e *engine) dispatch(origin registry.Origin, conn transport.Conn, payload *wire.Reader) {
	t, err := frame.Decode(payload)
	if err != nil {
		e.log.Warn("dropping malformed frame",
			logger.Field{Key: "conn", Value: conn.ID()},
			logger.Field{Key: "error", Value: err},
		)
		return
	}

	err = e.messages.Dispatch(origin, conn, t, payload)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrUnknownMessageType):
		e.log.Warn("unsupported message type",
			logger.Field{Key: "conn", Value: conn.ID()},
			logger.Field{Key: "type", Value: uint32(t)},
		)
	default:
		e.log.Error("message handler failed",
			logger.Field{Key: "conn", Value: conn.ID()},
			logger.Field{Key: "type", Value: t.String()},
			logger.Field{Key: "error", Value: err},
		)
	}
}

// send frames and queues one message on the reliable pipeline. A failure is
// logged with its numeric status and the frame is dropped.
func (e *engine) send(conn transport.Conn, t frame.MessageType, write registry.PayloadWriter) error {
	out, err := e.driver.BeginSend(e.reliable, conn)
	if err != nil {
		e.sendFailed(conn, t, err)
		return err
	}

	if err := frame.Encode(t, out.Writer); err != nil {
		err = transport.NewStatusError("encode", transport.StatusPayloadTooLarge, err)
		e.sendFailed(conn, t, err)
		return err
	}

	if write != nil {
		write(out.Writer)
	}

	if err := e.driver.EndSend(out); err != nil {
		e.sendFailed(conn, t, err)
		return err
	}

	return nil
}

func (e *engine) sendFailed(conn transport.Conn, t frame.MessageType, err error) {
	e.log.Error("send failed",
		logger.Field{Key: "conn", Value: conn.ID()},
		logger.Field{Key: "type", Value: t.String()},
		logger.Field{Key: "status", Value: int(transport.StatusOf(err))},
		logger.Field{Key: "error", Value: err},
	)
}
