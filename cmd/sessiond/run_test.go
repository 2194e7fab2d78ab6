package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyberinferno/netsession/admission"
	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/session"
	"github.com/cyberinferno/netsession/transport/memnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan struct{})

	go func() {
		defer close(done)
		tickLoop(ctx, time.Millisecond, func(context.Context, time.Time) {
			ticks.Add(1)
		})
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick loop did not stop")
	}
}

func TestAdmissionPolicy(t *testing.T) {
	t.Run("counter only", func(t *testing.T) {
		policy, counter, cleanup := admissionPolicy(ServerSettings{MaxConnections: 2}, logger.NewNopLogger())
		defer cleanup()
		require.Len(t, policy, 1)
		assert.Same(t, counter, policy.(admission.Chain)[0])
	})

	t.Run("blocklist runs first", func(t *testing.T) {
		policy, counter, cleanup := admissionPolicy(ServerSettings{
			MaxConnections: 2,
			BlockedHosts:   []string{"10.0.0.9"},
		}, logger.NewNopLogger())
		defer cleanup()
		chain := policy.(admission.Chain)
		require.Len(t, chain, 2)
		assert.IsType(t, &admission.Blocklist{}, chain[0])
		assert.Same(t, counter, chain[1])
	})

	t.Run("rate limit and redis", func(t *testing.T) {
		policy, _, cleanup := admissionPolicy(ServerSettings{
			MaxConnections:   2,
			RateLimitPerHost: 1,
			RateLimitWindow:  time.Minute,
			RedisAddr:        "127.0.0.1:1",
			RedisKey:         "test",
			RedisMax:         5,
		}, logger.NewNopLogger())
		chain := policy.(admission.Chain)
		require.Len(t, chain, 3)
		assert.IsType(t, &admission.RateLimit{}, chain[1])
		assert.IsType(t, &admission.RedisCounter{}, chain[2])
		assert.NoError(t, cleanup())
	})
}

func TestProtocol(t *testing.T) {
	network := memnet.NewNetwork()
	log := logger.NewNopLogger()
	policy, counter, cleanup := admissionPolicy(ServerSettings{MaxConnections: 4}, log)
	defer cleanup()

	server, err := session.NewServer(session.DefaultServerConfig(network.Factory()), serverHooks(log, policy, counter))
	require.NoError(t, err)
	require.NoError(t, server.Create(7777, 4))

	p := newPinger(log, "probe", 10*time.Millisecond)
	client, err := session.NewClient(session.DefaultClientConfig(network.Factory()), p.hooks())
	require.NoError(t, err)
	require.NoError(t, client.Connect("127.0.0.1", 7777))

	ctx := context.Background()
	now := time.Unix(1000, 0)
	step := func() {
		client.Tick(ctx)
		server.Tick(ctx)
		p.maybePing(client, now)
		now = now.Add(5 * time.Millisecond)
	}

	for i := 0; i < 4 && !p.welcomed; i++ {
		step()
	}
	require.True(t, p.welcomed)
	assert.Equal(t, 1, counter.Count())

	for i := 0; i < 10; i++ {
		step()
	}
	assert.Positive(t, p.pongs)
	assert.LessOrEqual(t, p.pongs, int(p.seq))
	assert.Len(t, p.sent, int(p.seq)-p.pongs)

	p.reset()
	assert.False(t, p.welcomed)
	assert.Empty(t, p.sent)

	require.NoError(t, client.Close(ctx))
	require.NoError(t, server.Close(ctx))
	assert.Equal(t, 0, counter.Count())
}
