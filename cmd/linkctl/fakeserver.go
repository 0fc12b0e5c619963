package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/boardlink/internal/config"
	"github.com/danmuck/boardlink/internal/observability"
	"github.com/danmuck/boardlink/internal/testutil/fakeserver"
	"github.com/danmuck/boardlink/internal/transport"
	"github.com/spf13/cobra"
)

func fakeServerCmd() *cobra.Command {
	defaults := config.DefaultFakeServerConfig()
	var (
		configPath string
		addr       string
		kind       string
		obfuscate  bool
		silent     bool
	)
	cmd := &cobra.Command{
		Use:   "fake-server",
		Short: "Run a minimal local game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultFakeServerConfig()
			if configPath != "" {
				loaded, err := config.LoadFakeServerConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("transport") {
				cfg.Transport = kind
			}
			if cmd.Flags().Changed("obfuscate") {
				cfg.Obfuscate = obfuscate
			}
			if cmd.Flags().Changed("silent") {
				cfg.Silent = silent
			}
			if err := config.ValidateFakeServerConfig(cfg); err != nil {
				return err
			}
			return runFakeServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "fake server config file")
	cmd.Flags().StringVar(&addr, "addr", defaults.Addr, "listen address")
	cmd.Flags().StringVar(&kind, "transport", defaults.Transport, "tcp or websocket")
	cmd.Flags().BoolVar(&obfuscate, "obfuscate", defaults.Obfuscate, "offer stream obfuscation")
	cmd.Flags().BoolVar(&silent, "silent", false, "do not echo tagged commands")
	return cmd
}

func runFakeServer(parent context.Context, cfg config.FakeServerConfig) error {
	logger := observability.InitLogger("linkctl-fake-server")

	fsCfg := fakeserver.Config{
		Addr:             cfg.Addr,
		Handshake:        cfg.Handshake(time.Now()),
		WithPasswordFlag: true,
		Silent:           cfg.Silent,
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := transport.ServerTLSConfig(cfg.SessionTLS())
		if err != nil {
			return err
		}
		fsCfg.TLS = tlsCfg
	}

	start := fakeserver.Start
	if cfg.TransportKind() == transport.KindWebSocket {
		start = fakeserver.StartWebSocket
	}
	srv, err := start(fsCfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	logger.Info().
		Str("addr", srv.HostPort()).
		Str("transport", string(cfg.TransportKind())).
		Int("feature_version", cfg.FeatureVersion).
		Bool("obfuscate", cfg.Obfuscate).
		Bool("tls", cfg.TLS.Enabled).
		Msg("fake server listening")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info().Msg("fake server stopping")
	return nil
}
