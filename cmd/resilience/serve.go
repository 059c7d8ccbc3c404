package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/config"
	"github.com/hallucifix/go-resilience/metrics"
	"github.com/hallucifix/go-resilience/snapshot"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	addr             string
	snapshotInterval time.Duration
	ready            chan<- net.Addr
}

func newServeCmd(a *app) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Build the stack and serve its Prometheus metrics",
		Long: `Build every component described by the configuration and expose their
statistics on /metrics. With a snapshot driver, the cache is saved every
--snapshot-interval and once more on shutdown.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.Log.Level = a.logLevel
			}
			return serve(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":9090", "metrics listen address")
	cmd.Flags().DurationVar(&opts.snapshotInterval, "snapshot-interval", 5*time.Minute, "how often to save the cache, 0 to save only on shutdown")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, opts serveOptions) error {
	stack, err := config.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()
	log := stack.Log.WithPrefix("[serve]")

	reg := metrics.NewRegistry(metrics.DefaultNamespace, metrics.Sources{
		Cache:     stack.Cache,
		Dedup:     stack.Dedup,
		Optimizer: stack.Optimizer,
		Recovery:  stack.Recovery,
		Executor:  stack.Executor,
	})
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", opts.addr)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- server.Serve(ln) }()
	log.Info("serving metrics on %s", ln.Addr())
	if opts.ready != nil {
		opts.ready <- ln.Addr()
	}

	save := func(ctx context.Context) {
		if stack.Store == nil {
			return
		}
		n, err := snapshot.SaveCache(ctx, stack.Store, cfg.Snapshot.Name, stack.Cache)
		if err != nil {
			log.Error("error saving snapshot: %s", err)
			return
		}
		log.Debug("saved %d cache entries to snapshot %s", n, cfg.Snapshot.Name)
	}

	var tick <-chan time.Time
	if stack.Store != nil && opts.snapshotInterval > 0 {
		ticker := time.NewTicker(opts.snapshotInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			save(ctx)
		case err := <-errc:
			return errors.Wrap(err, "metrics server")
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			save(shutdownCtx)
			if err := server.Shutdown(shutdownCtx); err != nil {
				return errors.Wrap(err, "shutting down metrics server")
			}
			log.Info("stopped")
			return nil
		}
	}
}
