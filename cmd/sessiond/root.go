package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/transport"
	"github.com/cyberinferno/netsession/transport/tcpnet"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const serviceName = "sessiond"

type runner func(ctx context.Context, cfg Config, factory transport.Factory, log logger.Logger) error

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Run a session-layer server or client over TCP",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to a TOML config file")
	root.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")

	server := &cobra.Command{
		Use:   "server",
		Short: "Accept clients and answer pings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, runServer)
		},
	}
	server.Flags().Uint16P("port", "p", 0, "port to listen on")
	server.Flags().Int("max-connections", 0, "connection table capacity")

	client := &cobra.Command{
		Use:   "client",
		Short: "Connect to a server and ping it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, runClient)
		},
	}
	client.Flags().StringP("address", "a", "", "server host")
	client.Flags().Uint16P("port", "p", 0, "server port")
	client.Flags().String("name", "", "name sent in the handshake")

	root.AddCommand(server, client)
	return root
}

// resolveConfig loads the config file and applies the flags the user set.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		text, _ := flags.GetString("log-level")
		level, err := zerolog.ParseLevel(text)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = level
	}

	switch cmd.Name() {
	case "server":
		if flags.Changed("port") {
			cfg.Server.Port, _ = flags.GetUint16("port")
		}
		if flags.Changed("max-connections") {
			cfg.Server.MaxConnections, _ = flags.GetInt("max-connections")
		}
	case "client":
		if flags.Changed("address") {
			cfg.Client.Address, _ = flags.GetString("address")
		}
		if flags.Changed("port") {
			cfg.Client.Port, _ = flags.GetUint16("port")
		}
		if flags.Changed("name") {
			cfg.Client.Name, _ = flags.GetString("name")
		}
	}

	return cfg, nil
}

func execute(cmd *cobra.Command, fn runner) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	log := logger.NewConsoleLogger(serviceName, cfg.LogLevel).With(logger.Field{Key: "command", Value: cmd.Name()})
	defer log.Close()

	tcp := cfg.Transport
	tcp.Logger = log
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, cfg, tcpnet.Factory(tcp), log); err != nil {
		log.Error("exiting", logger.Field{Key: "error", Value: err})
		return err
	}

	log.Info("stopped")
	return nil
}
