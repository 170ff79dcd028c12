package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"spread-trader/internal/config"
	apperrors "spread-trader/internal/errors"
	"spread-trader/internal/ledger"
	"spread-trader/internal/market"
	"spread-trader/internal/models"
)

// Result is the outcome of a finished run: the closed trades, the equity
// curve sampled once per trading day, and the final ledger snapshot.
type Result struct {
	Mode           models.RunMode
	InitialCapital float64
	Trades         []models.TradeRecord
	Curve          []EquityPoint
	Final          ledger.Snapshot
	From, To       time.Time
}

// Backtest replays a historical observation source through the core cycle
// synchronously. Fills are simulated in-line, so the whole run is a single
// goroutine and two runs over the same data produce identical results.
type Backtest struct {
	core   *Core
	source market.Source
	logger zerolog.Logger
	loc    *time.Location
}

// NewBacktest wires a replay source into the core cycle.
func NewBacktest(core *Core, source market.Source, logger zerolog.Logger) *Backtest {
	return &Backtest{
		core:   core,
		source: source,
		logger: logger,
		loc:    core.gate.Location(),
	}
}

// SyntheticChains returns a ChainProvider that builds a model-priced chain
// around the spot at the nearest weekly expiry. Used when no recorded chain
// data exists for the replay range.
func SyntheticChains(cfg *config.Config, expiries []time.Time) ChainProvider {
	return func(ctx context.Context, underlying string, now time.Time, spot float64) (*models.OptionChain, error) {
		expiry, ok := market.NearestExpiry(expiries, now)
		if !ok {
			return nil, apperrors.NewFeedError("chain", underlying, "no future expiry for date", apperrors.ErrDataNotFound)
		}
		return market.SyntheticChain(underlying, spot, expiry, cfg.Strategy.StrikeStep, cfg.Strategy.LotSize), nil
	}
}

// Run replays the source to exhaustion, then tears down any open exposure
// and returns the final result.
func (b *Backtest) Run(ctx context.Context) (*Result, error) {
	defer b.source.Close()

	var (
		first, last time.Time
		lastDay     time.Time
	)

	for {
		obs, err := b.source.Next(ctx)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrEndOfStream) {
				break
			}
			return nil, apperrors.Wrap(err, "reading observation")
		}

		if first.IsZero() {
			first = obs.Timestamp
		}
		last = obs.Timestamp

		// One equity sample per trading day, taken on day rollover.
		if !lastDay.IsZero() && !sameDay(lastDay, obs.Timestamp, b.loc) {
			b.core.RecordEquity(lastDay)
		}
		lastDay = obs.Timestamp

		if err := b.core.Observe(ctx, obs); err != nil {
			return nil, err
		}
	}

	if err := b.core.Teardown(ctx); err != nil {
		return nil, err
	}

	result := &Result{
		Mode:           b.core.state.Mode,
		InitialCapital: b.core.state.InitialCapital,
		Trades:         b.core.Trades(),
		Curve:          b.core.Curve(),
		Final:          b.core.Snapshot(),
		From:           first,
		To:             last,
	}

	b.logger.Info().
		Int("trades", len(result.Trades)).
		Float64("final_equity", result.Final.Equity).
		Msg("Backtest complete")
	return result, nil
}
