package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/buslink/internal/link"
	"github.com/danmuck/buslink/internal/observability"
	"github.com/danmuck/buslink/internal/store"
)

type rootFlags struct {
	home        string
	configPath  string
	metricsAddr string
}

// app is the per-invocation wiring shared by subcommands.
type app struct {
	cfg     clientConfig
	store   *store.FileStore
	console *console
	metrics *http.Server
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	a := &app{}

	root := &cobra.Command{
		Use:           "buslink",
		Short:         "Pair with a node through a relay and exchange messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, flags)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.shutdown()
		},
	}

	root.PersistentFlags().StringVar(&flags.home, "home", "", "state dir (default ~/.buslink)")
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default <home>/config.toml)")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	root.AddCommand(
		connectCmd(a),
		resumeCmd(a),
		sendCmd(a),
		statusCmd(a),
		enablePushCmd(a),
		initConfigCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, flags *rootFlags) error {
	observability.InitLogger("buslink")

	home := expandHome(flags.home)
	if home == "" {
		dir, err := defaultHome()
		if err != nil {
			return err
		}
		home = dir
	}
	cfg, err := resolveClientConfig(flags.configPath, home)
	if err != nil {
		return err
	}
	if flags.home != "" {
		cfg.Home = home
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return err
	}

	a.cfg = cfg
	a.store = store.NewFileStore(cfg.Home)
	a.console = newConsole(cmd.OutOrStdout())

	if flags.metricsAddr != "" {
		a.metrics = serveMetrics(flags.metricsAddr)
	}
	log.Debug().Str("home", cfg.Home).Msg("buslink.setup")
	return nil
}

func (a *app) orchestrator() *link.Orchestrator {
	return link.New(link.Options{
		Config:   a.cfg.Session,
		Store:    a.store,
		Listener: a.console,
		Platform: link.HeadlessPlatform{},
	})
}

func (a *app) shutdown() {
	if a.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = a.metrics.Shutdown(ctx)
}

func serveMetrics(addr string) *http.Server {
	observability.RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("buslink.metrics serve failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("buslink.metrics listening")
	return srv
}
