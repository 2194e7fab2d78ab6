package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cyberinferno/netsession/transport/tcpnet"
	"github.com/rs/zerolog"
)

// Config is the resolved configuration of the demo binary.
type Config struct {
	LogLevel     zerolog.Level
	TickInterval time.Duration
	Transport    tcpnet.Config
	Server       ServerSettings
	Client       ClientSettings
}

// ServerSettings configures the server subcommand.
type ServerSettings struct {
	ListenHost     string
	Port           uint16
	MaxConnections int
	// RateLimitPerHost caps connection attempts per remote host within
	// RateLimitWindow; 0 disables the limit.
	RateLimitPerHost int
	RateLimitWindow  time.Duration
	// RedisAddr enables a connection cap shared through Redis.
	RedisAddr string
	RedisKey  string
	RedisMax  int
	// BlockedHosts are refused before any other policy runs.
	BlockedHosts []string
}

// ClientSettings configures the client subcommand.
type ClientSettings struct {
	Address      string
	Port         uint16
	Name         string
	PingInterval time.Duration
}

type fileConfig struct {
	LogLevel     string `toml:"log_level"`
	TickInterval string `toml:"tick_interval"`

	Transport struct {
		ConnectTimeout  string `toml:"connect_timeout"`
		WriteTimeout    string `toml:"write_timeout"`
		MaxPacketSize   uint32 `toml:"max_packet_size"`
		PayloadCapacity int    `toml:"payload_capacity"`
	} `toml:"transport"`

	Server struct {
		ListenHost       string   `toml:"listen_host"`
		Port             uint16   `toml:"port"`
		MaxConnections   int      `toml:"max_connections"`
		RateLimitPerHost int      `toml:"rate_limit_per_host"`
		RateLimitWindow  string   `toml:"rate_limit_window"`
		RedisAddr        string   `toml:"redis_addr"`
		RedisKey         string   `toml:"redis_key"`
		RedisMax         int      `toml:"redis_max"`
		BlockedHosts     []string `toml:"blocked_hosts"`
	} `toml:"server"`

	Client struct {
		Address      string `toml:"address"`
		Port         uint16 `toml:"port"`
		Name         string `toml:"name"`
		PingInterval string `toml:"ping_interval"`
	} `toml:"client"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:     zerolog.InfoLevel,
		TickInterval: 16 * time.Millisecond,
		Transport:    tcpnet.DefaultConfig(),
		Server: ServerSettings{
			Port:            7777,
			MaxConnections:  64,
			RateLimitWindow: time.Minute,
			RedisKey:        "sessiond:connections",
		},
		Client: ClientSettings{
			Address:      "127.0.0.1",
			Port:         7777,
			Name:         "sessiond",
			PingInterval: time.Second,
		},
	}
}

// loadConfig layers the TOML file at path over the defaults. An empty path
// yields the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load sessiond config: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load sessiond config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("log_level") {
		level, err := zerolog.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return Config{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = level
	}

	if err := setDuration(meta, &cfg.TickInterval, raw.TickInterval, "tick_interval"); err != nil {
		return Config{}, err
	}

	if err := setDuration(meta, &cfg.Transport.ConnectTimeout, raw.Transport.ConnectTimeout, "transport", "connect_timeout"); err != nil {
		return Config{}, err
	}

	if err := setDuration(meta, &cfg.Transport.WriteTimeout, raw.Transport.WriteTimeout, "transport", "write_timeout"); err != nil {
		return Config{}, err
	}

	if meta.IsDefined("transport", "max_packet_size") {
		cfg.Transport.MaxPacketSize = raw.Transport.MaxPacketSize
	}

	if meta.IsDefined("transport", "payload_capacity") {
		cfg.Transport.PayloadCapacity = raw.Transport.PayloadCapacity
	}

	if meta.IsDefined("server", "listen_host") {
		cfg.Server.ListenHost = strings.TrimSpace(raw.Server.ListenHost)
	}

	if meta.IsDefined("server", "port") {
		cfg.Server.Port = raw.Server.Port
	}

	if meta.IsDefined("server", "max_connections") {
		cfg.Server.MaxConnections = raw.Server.MaxConnections
	}

	if meta.IsDefined("server", "rate_limit_per_host") {
		cfg.Server.RateLimitPerHost = raw.Server.RateLimitPerHost
	}

	if err := setDuration(meta, &cfg.Server.RateLimitWindow, raw.Server.RateLimitWindow, "server", "rate_limit_window"); err != nil {
		return Config{}, err
	}

	if meta.IsDefined("server", "redis_addr") {
		cfg.Server.RedisAddr = strings.TrimSpace(raw.Server.RedisAddr)
	}

	if meta.IsDefined("server", "redis_key") {
		if key := strings.TrimSpace(raw.Server.RedisKey); key != "" {
			cfg.Server.RedisKey = key
		}
	}

	if meta.IsDefined("server", "redis_max") {
		cfg.Server.RedisMax = raw.Server.RedisMax
	}

	if meta.IsDefined("server", "blocked_hosts") {
		cfg.Server.BlockedHosts = raw.Server.BlockedHosts
	}

	if meta.IsDefined("client", "address") {
		cfg.Client.Address = strings.TrimSpace(raw.Client.Address)
	}

	if meta.IsDefined("client", "port") {
		cfg.Client.Port = raw.Client.Port
	}

	if meta.IsDefined("client", "name") {
		cfg.Client.Name = strings.TrimSpace(raw.Client.Name)
	}

	if err := setDuration(meta, &cfg.Client.PingInterval, raw.Client.PingInterval, "client", "ping_interval"); err != nil {
		return Config{}, err
	}

	if cfg.Server.RateLimitPerHost > 0 && cfg.Server.RateLimitWindow <= 0 {
		return Config{}, fmt.Errorf("rate_limit_window must be positive when rate_limit_per_host is set, got %s", cfg.Server.RateLimitWindow)
	}

	if cfg.TickInterval <= 0 {
		return Config{}, fmt.Errorf("tick_interval must be positive, got %s", cfg.TickInterval)
	}

	return cfg, nil
}

func setDuration(meta toml.MetaData, dst *time.Duration, value string, key ...string) error {
	if !meta.IsDefined(key...) {
		return nil
	}

	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
	}

	*dst = d
	return nil
}
