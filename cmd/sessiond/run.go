package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberinferno/netsession/admission"
	"github.com/cyberinferno/netsession/conntable"
	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/session"
	"github.com/cyberinferno/netsession/transport"
	"github.com/redis/go-redis/v9"
)

// tickLoop calls tick every interval until ctx is done.
func tickLoop(ctx context.Context, interval time.Duration, tick func(ctx context.Context, now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tick(ctx, now)
		}
	}
}

// admissionPolicy builds the server's admission chain from the settings.
// The returned cleanup releases the Redis client, if any.
func admissionPolicy(cfg ServerSettings, log logger.Logger) (conntable.Policy, *admission.Counter, func() error) {
	counter := admission.NewCounter(cfg.MaxConnections)
	var chain admission.Chain
	if len(cfg.BlockedHosts) > 0 {
		chain = append(chain, admission.NewBlocklist(log, cfg.BlockedHosts...))
	}
	chain = append(chain, counter)
	cleanup := func() error { return nil }

	if cfg.RateLimitPerHost > 0 {
		chain = append(chain, admission.NewRateLimit(cfg.RateLimitPerHost, cfg.RateLimitWindow, log))
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		chain = append(chain, admission.NewRedisCounter(client, cfg.RedisKey, cfg.RedisMax, log))
		cleanup = client.Close
	}

	return chain, counter, cleanup
}

// runServer creates a server session on factory and ticks it until ctx is
// done.
func runServer(ctx context.Context, cfg Config, factory transport.Factory, log logger.Logger) error {
	policy, counter, cleanup := admissionPolicy(cfg.Server, log)
	defer func() {
		if err := cleanup(); err != nil {
			log.Warn("failed to close redis client", logger.Field{Key: "error", Value: err})
		}
	}()

	scfg := session.DefaultServerConfig(factory)
	scfg.Logger = log
	scfg.ListenHost = cfg.Server.ListenHost
	server, err := session.NewServer(scfg, serverHooks(log, policy, counter))
	if err != nil {
		return fmt.Errorf("create server session: %w", err)
	}

	if err := server.Create(cfg.Server.Port, cfg.Server.MaxConnections); err != nil {
		_ = server.Close(context.Background())
		return err
	}

	tickLoop(ctx, cfg.TickInterval, func(ctx context.Context, _ time.Time) {
		server.Tick(ctx)
	})

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Transport.WriteTimeout+time.Second)
	defer cancel()
	return server.Close(closeCtx)
}

// runClient connects a client session on factory, pings the server and
// ticks until ctx is done or the server goes away.
func runClient(ctx context.Context, cfg Config, factory transport.Factory, log logger.Logger) error {
	p := newPinger(log, cfg.Client.Name, cfg.Client.PingInterval)

	ccfg := session.DefaultClientConfig(factory)
	ccfg.Logger = log
	client, err := session.NewClient(ccfg, p.hooks())
	if err != nil {
		return fmt.Errorf("create client session: %w", err)
	}

	if err := client.Connect(cfg.Client.Address, cfg.Client.Port); err != nil {
		_ = client.Close(context.Background())
		return err
	}

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()

	var lost bool
	tickLoop(loopCtx, cfg.TickInterval, func(ctx context.Context, now time.Time) {
		client.Tick(ctx)
		if client.State() == session.ClientUninitialized {
			lost = true
			p.reset()
			stop()
			return
		}

		p.maybePing(client, now)
	})

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Transport.WriteTimeout+time.Second)
	defer cancel()
	if err := client.Close(closeCtx); err != nil {
		return err
	}

	if lost && ctx.Err() == nil {
		return fmt.Errorf("connection to %s:%d lost", cfg.Client.Address, cfg.Client.Port)
	}

	return nil
}
