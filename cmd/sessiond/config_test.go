package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessiond.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := loadConfig("")
		require.NoError(t, err)
		assert.Equal(t, defaultConfig(), cfg)
	})

	t.Run("overrides only defined keys", func(t *testing.T) {
		path := writeConfig(t, `
log_level = "debug"
tick_interval = "5ms"

[transport]
connect_timeout = "3s"
max_packet_size = 4096

[server]
port = 9000
max_connections = 4
rate_limit_per_host = 2
rate_limit_window = "30s"
redis_addr = "localhost:6379"
redis_key = "  "
redis_max = 100
blocked_hosts = ["10.0.0.9", "10.0.0.10"]

[client]
address = " example.net "
name = "probe"
ping_interval = "250ms"
`)
		cfg, err := loadConfig(path)
		require.NoError(t, err)

		def := defaultConfig()
		assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
		assert.Equal(t, 5*time.Millisecond, cfg.TickInterval)
		assert.Equal(t, 3*time.Second, cfg.Transport.ConnectTimeout)
		assert.Equal(t, def.Transport.WriteTimeout, cfg.Transport.WriteTimeout)
		assert.Equal(t, uint32(4096), cfg.Transport.MaxPacketSize)
		assert.Equal(t, def.Transport.PayloadCapacity, cfg.Transport.PayloadCapacity)

		assert.Equal(t, "", cfg.Server.ListenHost)
		assert.Equal(t, uint16(9000), cfg.Server.Port)
		assert.Equal(t, 4, cfg.Server.MaxConnections)
		assert.Equal(t, 2, cfg.Server.RateLimitPerHost)
		assert.Equal(t, 30*time.Second, cfg.Server.RateLimitWindow)
		assert.Equal(t, "localhost:6379", cfg.Server.RedisAddr)
		assert.Equal(t, def.Server.RedisKey, cfg.Server.RedisKey)
		assert.Equal(t, 100, cfg.Server.RedisMax)
		assert.Equal(t, []string{"10.0.0.9", "10.0.0.10"}, cfg.Server.BlockedHosts)

		assert.Equal(t, "example.net", cfg.Client.Address)
		assert.Equal(t, def.Client.Port, cfg.Client.Port)
		assert.Equal(t, "probe", cfg.Client.Name)
		assert.Equal(t, 250*time.Millisecond, cfg.Client.PingInterval)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"bad duration", `tick_interval = "soon"`},
			{"bad level", `log_level = "loud"`},
			{"unknown key", `[server]
prot = 1`},
			{"non positive tick", `tick_interval = "0s"`},
			{"zero rate limit window", `[server]
rate_limit_per_host = 3
rate_limit_window = "0s"`},
			{"negative rate limit window", `[server]
rate_limit_per_host = 3
rate_limit_window = "-1m"`},
			{"invalid toml", `port = `},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := loadConfig(writeConfig(t, tt.body))
				assert.Error(t, err)
			})
		}
	})

	t.Run("zero window without a rate limit", func(t *testing.T) {
		cfg, err := loadConfig(writeConfig(t, `[server]
rate_limit_window = "0s"`))
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), cfg.Server.RateLimitWindow)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestResolveConfig(t *testing.T) {
	path := writeConfig(t, `
[client]
address = "10.0.0.1"
port = 9000
`)

	root := newRootCmd()
	client, _, err := root.Find([]string{"client"})
	require.NoError(t, err)
	require.NoError(t, client.ParseFlags([]string{"--config", path, "--port", "9100", "--log-level", "warn"}))

	cfg, err := resolveConfig(client)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", cfg.Client.Address)
	assert.Equal(t, uint16(9100), cfg.Client.Port)
	assert.Equal(t, zerolog.WarnLevel, cfg.LogLevel)
	assert.Equal(t, "sessiond", cfg.Client.Name)
}
