package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dex-gocopy/internal/chain"
	"dex-gocopy/internal/config"
	"dex-gocopy/internal/logging"
	"dex-gocopy/internal/observability"
	"dex-gocopy/internal/swapparse"
	"dex-gocopy/internal/txtrack"
)

var (
	configPath  string
	logLevel    string
	metricsAddr string
	chainID     uint64
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := &cobra.Command{
		Use:           "gocopy",
		Short:         "Follow donor wallets' router swaps and plan mirror trades",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9102)")
	root.PersistentFlags().Uint64Var(&chainID, "chain", 0, "Chain id to use (default: the only configured chain)")

	root.AddCommand(
		balanceCmd(a),
		trackCmd(a),
		awaitCmd(a),
		parseCmd(a),
		planCmd(a),
		routeCmd(a),
		watchCmd(a),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		a.close()
		os.Exit(1)
	}
}

// app holds what the subcommands share. Chain resources are built lazily so
// offline commands (route, plan from files) never dial.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	metrics *observability.Metrics
	pools   *chain.Pools
	cache   txtrack.OutcomeCache
	closers []func() error
}

func (a *app) init() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, err := logging.Init(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	a.pools = chain.NewPools()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics("gocopy", reg)
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler(reg))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
		a.closers = append(a.closers, srv.Close)
		log.WithField("addr", metricsAddr).Info("serving metrics")
	}
	return nil
}

func (a *app) close() {
	if a.pools != nil {
		a.pools.Close()
		a.pools = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.log != nil {
			a.log.WithError(err).Warn("close failed")
		}
	}
	a.closers = nil
}

// client returns a pooled client for the selected chain, dialing lazily.
func (a *app) client() (config.Chain, *chain.PooledClient, error) {
	ch, err := a.cfg.Chain(chainID)
	if err != nil {
		return config.Chain{}, nil, err
	}
	if p, ok := a.pools.Get(ch.ID); ok {
		return ch, p.Client(), nil
	}
	dial := chain.EthDialer(ch.RPCURL, chain.DialOptions{Logger: a.log, Metrics: a.metrics})
	p := chain.NewPool(ch.ID, ch.PoolSize, dial, a.metrics)
	if err := a.pools.Register(p); err != nil {
		return config.Chain{}, nil, err
	}
	return ch, p.Client(), nil
}

func (a *app) tracker(client chain.Client) (*txtrack.Tracker, error) {
	if a.cache == nil {
		if dir := a.cfg.Store.OutcomeCacheDir; dir != "" {
			bc, err := txtrack.OpenBadgerCache(dir)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, bc.Close)
			a.cache = bc
		} else {
			a.cache = txtrack.NewMemoryCache()
		}
	}
	t := a.cfg.Tracker
	return txtrack.New(client,
		txtrack.WithCache(a.cache),
		txtrack.WithLogger(a.log),
		txtrack.WithMetrics(a.metrics),
		txtrack.WithReadRetries(t.ReadRetries, t.ReadRetryDelay),
	), nil
}

func (a *app) parser(ch config.Chain) (*swapparse.Parser, error) {
	return swapparse.NewParser(swapparse.Config{
		Router:        ch.Router,
		WrappedNative: ch.WrappedNative,
		Logger:        a.log,
		Metrics:       a.metrics,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
