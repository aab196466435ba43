package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dalnet/cardinal/internal/config"
	"github.com/dalnet/cardinal/internal/irc"
	"github.com/dalnet/cardinal/internal/logging"
	"github.com/dalnet/cardinal/internal/observability"
	"github.com/dalnet/cardinal/internal/plugin"
	"github.com/dalnet/cardinal/internal/plugin/lua"
	"github.com/dalnet/cardinal/internal/plugins/admin"
	"github.com/dalnet/cardinal/internal/plugins/help"
	"github.com/dalnet/cardinal/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// NewRootCmd creates the cardinal command.
func NewRootCmd() *cobra.Command {
	var (
		configFile string
		pidFile    string
	)

	cmd := &cobra.Command{
		Use:   "cardinal",
		Short: "Cardinal - a plugin-driven IRC bot",
		Long: `Cardinal connects to one IRC server, joins the configured channels
and hands messages and events to Lua and built-in plugins.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return oops.In("cli").With("config", configFile).Wrapf(err, "load configuration")
			}
			return run(cmd.Context(), cfg, pidFile)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "./config.yaml", "config file path")
	flags.StringVar(&pidFile, "pidfile", "", "write the process id to this file")
	flags.String("server", "", "IRC server hostname")
	flags.Int("port", 0, "IRC server port (default 6667)")
	flags.String("nick", "", "bot nickname")
	flags.StringSlice("channels", nil, "channels to join")
	flags.StringSlice("plugins", nil, "plugins to load at sign-on")
	flags.String("data-dir", "", "directory for the database and plugin data (default ./data)")
	flags.String("plugin-dir", "", "directory containing plugin folders (default ./plugins)")
	flags.String("log-level", "", "log level (default info)")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, pidFile string) error {
	logger, err := logging.Setup(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	if err != nil {
		return oops.In("cli").Wrapf(err, "configure logging")
	}
	log.Logger = logger

	if pidFile != "" {
		if err := writePIDFile(pidFile); err != nil {
			log.Warn().Err(err).Str("path", pidFile).Msg("could not write pid file")
		} else {
			defer removePIDFile(pidFile)
		}
	}

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return oops.In("cli").With("data_dir", cfg.DataDir).Wrapf(err, "open storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close storage")
		}
	}()

	builtins := plugin.NewBuiltins()
	client := irc.NewClient(cfg,
		irc.WithLoaders(lua.NewLoader(lua.WithCallTimeout(cfg.PluginTimeout)), builtins),
		irc.WithBlacklistStore(store),
		irc.WithDataDirs(store.PluginDir),
	)
	builtins.Register(admin.Name, admin.New(client, cfg.Owners, admin.WithAuditor(store)))
	builtins.Register(help.Name, help.New(client))

	if cfg.MetricsAddr != "" {
		metrics := observability.NewServer(cfg.MetricsAddr, func() bool {
			return client.Registry() != nil
		})
		if _, err := metrics.Start(); err != nil {
			return oops.In("cli").With("metrics_addr", cfg.MetricsAddr).Wrapf(err, "start metrics server")
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metrics.Stop(stopCtx); err != nil {
				log.Error().Err(err).Msg("failed to stop metrics server")
			}
		}()
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			log.Info().Msg("received shutdown signal")
			client.Quit("Received SIGINT.")
		case <-done:
		}
	}()

	log.Info().Str("server", cfg.Address()).Str("nick", cfg.Nick).Msg("connecting")
	if err := client.Run(ctx); err != nil {
		return oops.In("cli").With("server", cfg.Address()).Wrap(err)
	}
	return nil
}
