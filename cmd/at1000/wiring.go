package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bud42069/AT-1000/internal/config"
	"github.com/bud42069/AT-1000/internal/dex/drift"
	"github.com/bud42069/AT-1000/internal/events"
	"github.com/bud42069/AT-1000/internal/exchange"
	"github.com/bud42069/AT-1000/internal/execution"
	"github.com/bud42069/AT-1000/internal/guard"
	"github.com/bud42069/AT-1000/internal/journal"
	"github.com/bud42069/AT-1000/internal/paper"
	"github.com/bud42069/AT-1000/internal/pipeline"
	"github.com/bud42069/AT-1000/internal/sink"
	"github.com/bud42069/AT-1000/internal/strategy"
)

// closers runs cleanup in reverse registration order.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close(log zerolog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}
}

// ignoreCanceled treats shutdown by signal as success.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newFeed(cfg *config.Config, log zerolog.Logger) *exchange.Feed {
	return exchange.NewFeed(cfg.Feed.Provider, []string{cfg.Feed.Symbol}, log.With().Str("component", "feed").Logger(),
		exchange.WithPollInterval(cfg.Feed.StubInterval),
		exchange.WithBinanceURL(cfg.Feed.BinanceURL),
		exchange.WithBackoff(cfg.Feed.ReconnectMin, cfg.Feed.ReconnectMax),
	)
}

func signalParams(cfg *config.Config) strategy.Params {
	return strategy.Params{
		Symbol:         cfg.Feed.Symbol,
		HistorySize:    cfg.Signals.HistorySize,
		VolMultiplier:  cfg.Signals.VolMultiplier,
		StopMultiplier: cfg.Signals.StopMultiplier,
		TPMultipliers:  cfg.Signals.TPMultipliers,
		Leverage:       cfg.Signals.Leverage,
	}
}

func engineConfig(cfg *config.Config) execution.Config {
	return execution.Config{
		Symbol:            cfg.Engine.Symbol,
		MaxLeverage:       cfg.Engine.MaxLeverage,
		RiskFraction:      cfg.Engine.RiskFraction,
		FeeBps:            cfg.Engine.FeeBps,
		MaxAttempts:       cfg.Engine.MaxAttempts,
		MaintenanceMargin: cfg.Engine.MaintenanceMargin,
		CallTimeout:       cfg.Engine.CallTimeout,
		Guards:            cfg.Guards.Thresholds,
	}
}

func guardSource(cfg *config.Config) guard.Source {
	if cfg.Guards.Source == "http" {
		return guard.NewHTTPSource(cfg.Guards.BaseURL, cfg.Guards.Timeout)
	}
	return guard.StaticSource{Snap: cfg.Guards.Static}
}

func driftClient(cfg *config.Config) (*drift.Client, error) {
	tick, err := decimal.NewFromString(cfg.Drift.TickSize)
	if err != nil {
		return nil, fmt.Errorf("drift tick size: %w", err)
	}
	step, err := decimal.NewFromString(cfg.Drift.StepSize)
	if err != nil {
		return nil, fmt.Errorf("drift step size: %w", err)
	}
	market := drift.Market{Index: cfg.Drift.MarketIndex, TickSize: tick, StepSize: step}
	return drift.NewClient(cfg.Drift.GatewayURL, market, cfg.Drift.RateLimit), nil
}

// signedDriftClient attaches the delegate signer and checks it can pay fees.
func signedDriftClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*drift.Client, error) {
	client, err := driftClient(cfg)
	if err != nil {
		return nil, err
	}
	key, err := drift.LoadDelegateKey(cfg.Wallet.KeyEnv)
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	client.WithRPC(cfg.Drift.RpcURL, key.PublicKey())
	if cfg.Drift.MinLamports > 0 {
		lamports, err := client.CheckSigner(ctx, cfg.Drift.MinLamports)
		if err != nil {
			return nil, err
		}
		log.Info().Str("signer", key.PublicKey().String()).Uint64("lamports", lamports).Msg("delegate signer funded")
	}
	return client, nil
}

type venueKit struct {
	venue  execution.Venue
	fills  pipeline.FillSource
	equity pipeline.Equity
}

func buildVenue(ctx context.Context, cfg *config.Config, log zerolog.Logger) (venueKit, error) {
	switch cfg.Engine.Venue {
	case "paper":
		account := paper.NewAccount(cfg.Paper.StartingCollateral, cfg.Paper.MaxPositionPerSymbol, cfg.Paper.FeeBps)
		v := paper.NewVenue(cfg.Engine.Symbol, account)
		log.Info().Float64("collateral", account.StartingCollateral()).Msg("paper venue ready")
		return venueKit{venue: v, fills: pipeline.PaperFills(v), equity: pipeline.PaperEquity(account, cfg.Engine.Symbol)}, nil
	case "drift":
		client, err := signedDriftClient(ctx, cfg, log)
		if err != nil {
			return venueKit{}, err
		}
		log.Info().Str("gateway", client.Base).Int("market", cfg.Drift.MarketIndex).Msg("drift venue ready")
		return venueKit{venue: client, fills: pipeline.DriftFills(client, 2*time.Second), equity: pipeline.DriftEquity(client)}, nil
	default:
		return venueKit{}, fmt.Errorf("unknown venue %q", cfg.Engine.Venue)
	}
}

// buildEventSinks fans lifecycle events out to the JSONL log, the optional journal, the
// activity ring and the websocket bus.
func buildEventSinks(cfg *config.Config, cl *closers) (events.Multi, *events.Activity, *events.Bus, error) {
	file, err := sink.NewJSONL[events.Event](cfg.Engine.EventsPath, cfg.App.Rotation)
	if err != nil {
		return nil, nil, nil, err
	}
	cl.add(file.Close)

	activity := events.NewActivity(cfg.API.ActivityLimit)
	bus := events.NewBus()
	out := events.Multi{file, activity, bus}
	if cfg.Engine.JournalPath != "" {
		j, err := journal.Open(cfg.Engine.JournalPath)
		if err != nil {
			return nil, nil, nil, err
		}
		cl.add(j.Close)
		out = append(out, j)
	}
	return out, activity, bus, nil
}

// serveHTTP runs handler on addr until ctx ends.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Msg("api up")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
