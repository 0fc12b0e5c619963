package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/boardlink/internal/config"
	"github.com/danmuck/boardlink/internal/logging"
	"github.com/danmuck/boardlink/internal/observability"
	"github.com/danmuck/boardlink/internal/protocol/session"
	"github.com/danmuck/boardlink/internal/statusapi"
	"github.com/danmuck/boardlink/internal/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func connectCmd() *cobra.Command {
	var (
		configPath   string
		overridePath string
		host         string
		port         int
		stdin        bool
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a game server and keep the session alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClientConfig(configPath)
			if err != nil {
				return err
			}
			if overridePath != "" {
				if cfg, err = applyOverrides(cfg, overridePath); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := config.ValidateClientConfig(cfg); err != nil {
				return err
			}
			var input io.Reader
			if stdin {
				input = cmd.InOrStdin()
			}
			return runConnect(cmd.Context(), cfg, input)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "boardlink.toml", "client config file")
	cmd.Flags().StringVar(&overridePath, "override", "", "partial config file applied over --config")
	cmd.Flags().StringVar(&host, "host", "", "server host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "server port (overrides config)")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "send each line read from stdin as a command")
	return cmd
}

func runConnect(parent context.Context, cfg config.ClientConfig, input io.Reader) error {
	logger := observability.InitLogger("linkctl")
	if lvl, ok := logging.ParseLevel(cfg.Log.Level); ok {
		zerolog.SetGlobalLevel(lvl)
	}

	opts, err := cfg.TransportOptions()
	if err != nil {
		return err
	}
	opts.OnDeficit = func() {
		observability.RecordQueueDeficit(cfg.ClientID)
	}
	factory, err := transport.NewFactory(cfg.TransportKind(), opts)
	if err != nil {
		return err
	}
	m, err := session.NewManager(session.ManagerConfig{
		ClientID: cfg.ClientID,
		Session:  opts.Session,
		Factory:  factory,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if strings.TrimSpace(cfg.Status.Addr) != "" {
		api := statusapi.New(statusapi.Config{
			ClientID:    cfg.ClientID,
			Addr:        cfg.Status.Addr,
			Token:       cfg.Status.Token,
			CorsOrigins: cfg.Status.CorsOrigins,
		}, m)
		go func() {
			if err := api.Serve(ctx); err != nil {
				logger.Error().Err(err).Msg("status api stopped")
				cancel()
			}
		}()
	}
	if input != nil {
		go pumpCommands(ctx, m, input, logger)
	}

	logger.Info().
		Str("client", cfg.ClientID).
		Str("server", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("transport", string(cfg.TransportKind())).
		Msg("connecting")
	m.Connect(cfg.SessionIdentity(), cfg.Server.Host, cfg.Server.Port)

	runner := session.NewRunner(m, func(tag, line string) {
		logger.Info().Str("tag", tag).Str("line", line).Msg("in")
	})
	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info().Str("summary", m.StateSummary()).Msg("session closed")
		return nil
	}
	if errors.Is(err, session.ErrReconnectDisabled) {
		logger.Error().Str("error", m.ErrString()).Msg("server refused the session")
	}
	return err
}

// pumpCommands sends every non-blank input line as a command.
func pumpCommands(ctx context.Context, m *session.Manager, input io.Reader, logger zerolog.Logger) {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := m.SendMessage(line, false); err != nil {
			logger.Warn().Err(err).Str("line", line).Msg("send failed")
		}
	}
}
