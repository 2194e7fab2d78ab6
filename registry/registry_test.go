package registry

import (
	"testing"

	"github.com/cyberinferno/netsession/frame"
	"github.com/cyberinferno/netsession/transport"
	"github.com/cyberinferno/netsession/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pingServer = frame.FirstApplicationType

type fakeOrigin struct {
	role Role
	sent []frame.MessageType
}

func (o *fakeOrigin) Role() Role {
	return o.role
}

func (o *fakeOrigin) SendTo(_ transport.Conn, t frame.MessageType, _ PayloadWriter) error {
	o.sent = append(o.sent, t)
	return nil
}

type fakeConn struct{ id uint32 }

func (c fakeConn) ID() uint32 { return c.id }
func (c fakeConn) RemoteAddr() string { return "test:0" }
func (c fakeConn) State() transport.State { return transport.Connected }
func (c fakeConn) IsLive() bool { return true }

func TestRegistry_Register_Resolve(t *testing.T) {
	r := New(RejectDuplicates)
	_, ok := r.Resolve(pingServer)
	assert.False(t, ok)

	require.NoError(t, r.Register(pingServer, func(Origin, transport.Conn, *wire.Reader) {}))
	h, ok := r.Resolve(pingServer)
	assert.True(t, ok)
	assert.NotNil(t, h)
	assert.Equal(t, 1, r.Len())

	t.Run("nil handler", func(t *testing.T) {
		assert.ErrorIs(t, r.Register(frame.ServerMessage, nil), ErrNilHandler)
		assert.ErrorIs(t, r.Replace(frame.ServerMessage, nil), ErrNilHandler)
	})
}

func TestRegistry_duplicatePolicy(t *testing.T) {
	var calls []string
	first := func(Origin, transport.Conn, *wire.Reader) { calls = append(calls, "first") }
	second := func(Origin, transport.Conn, *wire.Reader) { calls = append(calls, "second") }

	t.Run("reject keeps the first handler", func(t *testing.T) {
		calls = nil
		r := New(RejectDuplicates)
		require.NoError(t, r.Register(pingServer, first))
		assert.ErrorIs(t, r.Register(pingServer, second), ErrDuplicateHandler)

		require.NoError(t, r.Dispatch(&fakeOrigin{}, fakeConn{1}, pingServer, wire.NewReader(nil)))
		assert.Equal(t, []string{"first"}, calls)
	})

	t.Run("replace overwrites", func(t *testing.T) {
		calls = nil
		r := New(ReplaceDuplicates)
		require.NoError(t, r.Register(pingServer, first))
		require.NoError(t, r.Register(pingServer, second))

		require.NoError(t, r.Dispatch(&fakeOrigin{}, fakeConn{1}, pingServer, wire.NewReader(nil)))
		assert.Equal(t, []string{"second"}, calls)
	})

	t.Run("explicit Replace ignores the policy", func(t *testing.T) {
		calls = nil
		r := New(RejectDuplicates)
		require.NoError(t, r.Register(pingServer, first))
		require.NoError(t, r.Replace(pingServer, second))

		require.NoError(t, r.Dispatch(&fakeOrigin{}, fakeConn{1}, pingServer, wire.NewReader(nil)))
		assert.Equal(t, []string{"second"}, calls)
	})
}

func TestRegistry_Dispatch(t *testing.T) {
	t.Run("handler receives origin, connection and payload", func(t *testing.T) {
		r := New(RejectDuplicates)
		origin := &fakeOrigin{role: RoleServer}
		var gotConn transport.Conn
		var gotPayload []byte
		require.NoError(t, r.Register(pingServer, func(o Origin, c transport.Conn, p *wire.Reader) {
			gotConn = c
			gotPayload = p.Rest()
			_ = o.SendTo(c, pingServer+1, nil)
		}))

		err := r.Dispatch(origin, fakeConn{7}, pingServer, wire.NewReader([]byte{1, 2}))
		require.NoError(t, err)
		assert.Equal(t, uint32(7), gotConn.ID())
		assert.Equal(t, []byte{1, 2}, gotPayload)
		assert.Equal(t, []frame.MessageType{pingServer + 1}, origin.sent)
	})

	t.Run("zero byte payload", func(t *testing.T) {
		r := New(RejectDuplicates)
		invoked := false
		require.NoError(t, r.Register(pingServer, func(_ Origin, _ transport.Conn, p *wire.Reader) {
			invoked = true
			assert.Equal(t, 0, p.Remaining())
		}))

		require.NoError(t, r.Dispatch(&fakeOrigin{}, fakeConn{1}, pingServer, wire.NewReader([]byte{})))
		assert.True(t, invoked)
	})

	t.Run("unknown type", func(t *testing.T) {
		r := New(RejectDuplicates)
		err := r.Dispatch(&fakeOrigin{}, fakeConn{1}, frame.MessageType(9999), wire.NewReader(nil))
		assert.ErrorIs(t, err, ErrUnknownMessageType)
		assert.Contains(t, err.Error(), "9999")
	})

	t.Run("panic is contained", func(t *testing.T) {
		r := New(RejectDuplicates)
		require.NoError(t, r.Register(pingServer, func(Origin, transport.Conn, *wire.Reader) {
			panic("bad payload")
		}))

		err := r.Dispatch(&fakeOrigin{}, fakeConn{1}, pingServer, wire.NewReader(nil))
		assert.ErrorIs(t, err, ErrHandlerPanic)
		assert.Contains(t, err.Error(), "bad payload")
	})
}

func TestFromMap(t *testing.T) {
	noop := func(Origin, transport.Conn, *wire.Reader) {}
	r, err := FromMap(map[frame.MessageType]Handler{
		frame.ServerMessage:   noop,
		frame.HandshakeServer: noop,
		pingServer:            noop,
	}, RejectDuplicates)
	require.NoError(t, err)
	assert.Equal(t, []frame.MessageType{frame.HandshakeServer, frame.ServerMessage, pingServer}, r.Types())

	_, err = FromMap(map[frame.MessageType]Handler{pingServer: nil}, RejectDuplicates)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "client", RoleClient.String())
	assert.Equal(t, "server", RoleServer.String())
	assert.Equal(t, "unknown", Role(0).String())
}
