package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bud42069/AT-1000/internal/api"
	"github.com/bud42069/AT-1000/internal/config"
	"github.com/bud42069/AT-1000/internal/execution"
	"github.com/bud42069/AT-1000/internal/metrics"
	"github.com/bud42069/AT-1000/internal/pipeline"
	sig "github.com/bud42069/AT-1000/internal/signal"
	"github.com/bud42069/AT-1000/internal/sink"
)

const staleSignalAge = time.Minute

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Stream trades, generate signals and execute them in one process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return trade(ctx, cfg, log, true)
		},
	}
}

func newEngineCmd(opts *rootOptions) *cobra.Command {
	var signalsPath string
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Execute signals appended to the signals file by a separate generator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if signalsPath != "" {
				cfg.Signals.Path = signalsPath
			}
			ctx, cancel := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return trade(ctx, cfg, log, false)
		},
	}
	cmd.Flags().StringVar(&signalsPath, "signals", "", "override signals.path")
	return cmd
}

// trade wires feed, engine, api and metrics. With generate unset, signals are tailed from
// the signals file and ticks only drive fills and repricing.
func trade(ctx context.Context, cfg *config.Config, log zerolog.Logger, generate bool) error {
	var cl closers
	defer cl.close(log)

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		cl.add(srv.Close)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	kit, err := buildVenue(ctx, cfg, log)
	if err != nil {
		return err
	}
	evSink, activity, bus, err := buildEventSinks(cfg, &cl)
	if err != nil {
		return err
	}
	guards := guardSource(cfg)
	engine := execution.NewEngine(engineConfig(cfg), kit.venue, guards, evSink, log.With().Str("component", "engine").Logger())

	runnerOpts := []pipeline.Option{pipeline.WithRepriceTolerance(cfg.Engine.RepriceToleranceBps)}
	var signals chan sig.Event
	if generate {
		file, err := sink.NewJSONL[sig.Event](cfg.Signals.Path, cfg.App.Rotation)
		if err != nil {
			return err
		}
		cl.add(file.Close)
		runnerOpts = append(runnerOpts, pipeline.WithGenerator(signalParams(cfg), file))
	} else {
		signals = make(chan sig.Event, 64)
	}
	runner := pipeline.NewRunner(engine, kit.fills, kit.equity, log.With().Str("component", "pipeline").Logger(), runnerOpts...)
	server := api.New(engine, guards, cfg.Guards.Thresholds, activity, bus, log)

	g, ctx := errgroup.WithContext(ctx)
	ticks := make(chan sig.Tick, cfg.Feed.TickBufferSize)
	feed := newFeed(cfg, log)
	g.Go(func() error { return feed.Run(ctx, ticks) })
	if signals != nil {
		g.Go(func() error {
			defer close(signals)
			return followSignals(ctx, cfg.Signals.Path, signals, log)
		})
	}
	g.Go(func() error { return serveHTTP(ctx, cfg.API.Addr, server.Router(), log) })
	g.Go(func() error { return runner.Run(ctx, ticks, signals) })

	log.Info().Str("venue", cfg.Engine.Venue).Str("symbol", cfg.Engine.Symbol).Bool("generate", generate).Msg("engine started")
	err = g.Wait()
	log.Info().Msg("shutting down")
	return ignoreCanceled(err)
}

// followSignals tails path, creating it when absent so the engine can start before the
// generator. Signals older than staleSignalAge at startup are skipped.
func followSignals(ctx context.Context, path string, out chan<- sig.Event, log zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return err
	}
	_ = f.Close()

	since := time.Now().Add(-staleSignalAge)
	return sink.Follow(ctx, path, 0,
		func(ev sig.Event) {
			if ev.Time().Before(since) {
				log.Debug().Int64("ts", ev.Ts).Str("signal", string(ev.Signal)).Msg("skipping stale signal")
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		},
		func(line []byte, err error) {
			log.Warn().Err(err).Bytes("line", line).Msg("skipping malformed signal")
		},
	)
}
