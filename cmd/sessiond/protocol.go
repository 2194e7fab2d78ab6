package main

import (
	"time"

	"github.com/cyberinferno/netsession/admission"
	"github.com/cyberinferno/netsession/conntable"
	"github.com/cyberinferno/netsession/frame"
	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/registry"
	"github.com/cyberinferno/netsession/session"
	"github.com/cyberinferno/netsession/transport"
	"github.com/cyberinferno/netsession/wire"
)

// Application message types of the demo protocol.
const (
	msgPing frame.MessageType = frame.FirstApplicationType + iota
	msgPong
)

// serverHooks answers handshakes with a greeting and pings with pongs.
// counter reports the number of admitted connections in the join log.
func serverHooks(log logger.Logger, policy conntable.Policy, counter *admission.Counter) session.ServerHooks {
	return session.ServerHooks{
		Messages: map[frame.MessageType]registry.Handler{
			frame.HandshakeServer: func(origin registry.Origin, conn transport.Conn, payload *wire.Reader) {
				name, err := payload.ReadString()
				if err != nil {
					log.Warn("invalid handshake",
						logger.Field{Key: "conn", Value: conn.ID()},
						logger.Field{Key: "error", Value: err},
					)
					return
				}

				log.Info("client joined",
					logger.Field{Key: "conn", Value: conn.ID()},
					logger.Field{Key: "name", Value: name},
					logger.Field{Key: "connections", Value: counter.Count()},
				)
				_ = origin.SendTo(conn, frame.HandshakeServerResponse, func(w *wire.Writer) {
					w.WriteString("welcome " + name)
				})
			},
			msgPing: func(origin registry.Origin, conn transport.Conn, payload *wire.Reader) {
				seq, err := payload.ReadUint64()
				if err != nil {
					return
				}

				_ = origin.SendTo(conn, msgPong, func(w *wire.Writer) {
					w.WriteUint64(seq)
				})
			},
		},
		Policy: policy,
	}
}

// pinger is the client side of the demo protocol: it sends its name in the
// handshake, waits for the greeting and then pings at a fixed interval.
type pinger struct {
	log      logger.Logger
	name     string
	interval time.Duration
	welcomed bool
	seq      uint64
	sent     map[uint64]time.Time
	pongs    int
	lastPing time.Time
}

func newPinger(log logger.Logger, name string, interval time.Duration) *pinger {
	return &pinger{
		log:      log,
		name:     name,
		interval: interval,
		sent:     make(map[uint64]time.Time),
	}
}

func (p *pinger) hooks() session.ClientHooks {
	return session.ClientHooks{
		Messages: map[frame.MessageType]registry.Handler{
			frame.HandshakeServerResponse: func(_ registry.Origin, _ transport.Conn, payload *wire.Reader) {
				greeting, err := payload.ReadString()
				if err != nil {
					p.log.Warn("invalid handshake response", logger.Field{Key: "error", Value: err})
					return
				}

				p.welcomed = true
				p.log.Info("handshake complete", logger.Field{Key: "greeting", Value: greeting})
			},
			msgPong: func(_ registry.Origin, _ transport.Conn, payload *wire.Reader) {
				seq, err := payload.ReadUint64()
				if err != nil {
					return
				}

				sentAt, ok := p.sent[seq]
				if !ok {
					return
				}

				delete(p.sent, seq)
				p.pongs++
				p.log.Debug("pong",
					logger.Field{Key: "seq", Value: seq},
					logger.Field{Key: "rtt", Value: time.Since(sentAt).String()},
				)
			},
		},
		Handshake: func(w *wire.Writer) {
			w.WriteString(p.name)
		},
	}
}

// maybePing sends the next ping once the handshake completed and the
// interval elapsed.
func (p *pinger) maybePing(c *session.Client, now time.Time) {
	if !p.welcomed || c.State() != session.ClientConnected {
		return
	}

	if !p.lastPing.IsZero() && now.Sub(p.lastPing) < p.interval {
		return
	}

	p.seq++
	seq := p.seq
	if err := c.Send(msgPing, func(w *wire.Writer) { w.WriteUint64(seq) }); err != nil {
		return
	}

	p.sent[seq] = now
	p.lastPing = now
}

// reset forgets per-connection state after a disconnect.
func (p *pinger) reset() {
	p.welcomed = false
	p.lastPing = time.Time{}
	clear(p.sent)
}
