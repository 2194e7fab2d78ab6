package session

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cyberinferno/netsession/frame"
	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/registry"
	"github.com/cyberinferno/netsession/transport"
	"github.com/cyberinferno/netsession/transport/memnet"
	"github.com/cyberinferno/netsession/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testPort = 7000
	ping     = frame.FirstApplicationType
	pong     = frame.FirstApplicationType + 1
)

type logRecorder struct {
	buf bytes.Buffer
}

func (r *logRecorder) newLogger() logger.Logger {
	return logger.NewWriterLogger(&r.buf, "test", zerolog.DebugLevel)
}

func (r *logRecorder) entries(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(r.buf.String()), "\n") {
		if line == "" {
			continue
		}

		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}

	return out
}

// count returns the number of entries with the given level and message.
func (r *logRecorder) count(t *testing.T, level, msg string) int {
	t.Helper()
	n := 0
	for _, e := range r.entries(t) {
		if e["level"] == level && e["message"] == msg {
			n++
		}
	}

	return n
}

func (r *logRecorder) find(t *testing.T, level, msg string) map[string]any {
	t.Helper()
	for _, e := range r.entries(t) {
		if e["level"] == level && e["message"] == msg {
			return e
		}
	}

	return nil
}

type recordingPolicy struct {
	admitted []uint32
	removed  []uint32
	refuse   bool
}

func (p *recordingPolicy) Admit(conn transport.Conn) bool {
	if p.refuse {
		return false
	}

	p.admitted = append(p.admitted, conn.ID())
	return true
}

func (p *recordingPolicy) OnRemove(conn transport.Conn) {
	p.removed = append(p.removed, conn.ID())
}

type received struct {
	conn    uint32
	payload []byte
}

type inbox struct {
	byType map[frame.MessageType][]received
}

func newInbox() *inbox {
	return &inbox{byType: make(map[frame.MessageType][]received)}
}

func (in *inbox) handler(t frame.MessageType) registry.Handler {
	return func(_ registry.Origin, conn transport.Conn, payload *wire.Reader) {
		data, _ := payload.ReadBytes(payload.Remaining())
		in.byType[t] = append(in.byType[t], received{conn: conn.ID(), payload: data})
	}
}

func (in *inbox) of(t frame.MessageType) []received {
	return in.byType[t]
}

type ticker interface {
	Tick(ctx context.Context)
}

// pump ticks every session once per round, in the given order.
func pump(rounds int, sessions ...ticker) {
	ctx := context.Background()
	for i := 0; i < rounds; i++ {
		for _, s := range sessions {
			s.Tick(ctx)
		}
	}
}

func writeString(s string) registry.PayloadWriter {
	return func(w *wire.Writer) {
		w.WriteString(s)
	}
}

// delivered returns the decoded frames handed between drivers so far.
func delivered(t *testing.T, n *memnet.Network) []frame.Frame {
	t.Helper()
	var out []frame.Frame
	for _, p := range n.Delivered() {
		f, err := frame.Unmarshal(p.Data)
		if err != nil {
			continue
		}
		out = append(out, f)
	}

	return out
}

func countFrames(frames []frame.Frame, t frame.MessageType) int {
	n := 0
	for _, f := range frames {
		if f.Type == t {
			n++
		}
	}

	return n
}

func memDriver(t *testing.T, d transport.Driver) *memnet.Driver {
	t.Helper()
	md, ok := d.(*memnet.Driver)
	require.True(t, ok, "driver is %T", d)
	return md
}

type fixture struct {
	network *memnet.Network
	logs    *logRecorder
	server  *Server
	policy  *recordingPolicy
	srvIn   *inbox
}

// newFixture starts a server on testPort with room for max connections.
// Handlers for ping and HandshakeServer record into srvIn.
func newFixture(t *testing.T, max int) *fixture {
	t.Helper()
	f := &fixture{
		network: memnet.NewNetwork(),
		logs:    &logRecorder{},
		policy:  &recordingPolicy{},
		srvIn:   newInbox(),
	}

	cfg := DefaultServerConfig(f.network.Factory())
	cfg.Logger = f.logs.newLogger()
	srv, err := NewServer(cfg, ServerHooks{
		Messages: map[frame.MessageType]registry.Handler{
			frame.HandshakeServer: f.srvIn.handler(frame.HandshakeServer),
			ping:                  f.srvIn.handler(ping),
		},
		Policy: f.policy,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Create(testPort, max))
	f.server = srv
	return f
}

// client returns a client connected to the fixture's server. Handlers record
// into the returned inbox.
func (f *fixture) client(t *testing.T, handshake string) (*Client, *inbox) {
	t.Helper()
	in := newInbox()
	cfg := DefaultClientConfig(f.network.Factory())
	cfg.Logger = f.logs.newLogger()
	c, err := NewClient(cfg, ClientHooks{
		Messages: map[frame.MessageType]registry.Handler{
			frame.HandshakeServerResponse: in.handler(frame.HandshakeServerResponse),
			frame.ServerMessage:           in.handler(frame.ServerMessage),
			pong:                          in.handler(pong),
		},
		Handshake: writeString(handshake),
	})
	require.NoError(t, err)
	require.NoError(t, c.Connect("127.0.0.1", testPort))
	return c, in
}
