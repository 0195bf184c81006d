package main

import (
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bud42069/AT-1000/internal/metrics"
	sig "github.com/bud42069/AT-1000/internal/signal"
	"github.com/bud42069/AT-1000/internal/sink"
	"github.com/bud42069/AT-1000/internal/strategy"
)

func newSignalsCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Generate signals only, appending them to the signals file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if out != "" {
				cfg.Signals.Path = out
			}

			if cfg.App.MetricsAddr != "" {
				srv := metrics.Serve(cfg.App.MetricsAddr)
				defer srv.Close()
			}
			file, err := sink.NewJSONL[sig.Event](cfg.Signals.Path, cfg.App.Rotation)
			if err != nil {
				return err
			}
			defer file.Close()

			ctx, cancel := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			gen := strategy.NewGenerator(signalParams(cfg), file, log.With().Str("component", "signals").Logger())
			ticks := make(chan sig.Tick, cfg.Feed.TickBufferSize)
			feed := newFeed(cfg, log)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return feed.Run(ctx, ticks) })
			g.Go(func() error {
				defer gen.Flush()
				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case tk := <-ticks:
						gen.IngestTick(tk)
					}
				}
			})

			log.Info().Str("symbol", cfg.Feed.Symbol).Str("path", cfg.Signals.Path).Msg("signal generator started")
			err = g.Wait()
			log.Info().Int("bars", len(gen.Bars())).Msg("shutting down")
			return ignoreCanceled(err)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "override signals.path")
	return cmd
}
