// Package engine drives the observation -> decision -> execution cycle. The
// same core runs in every mode; only the observation source and the executor
// behind the order manager differ, so backtest, paper, and live runs share
// byte-identical decision logic.
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
	"spread-trader/internal/orders"
	"spread-trader/internal/session"
	"spread-trader/internal/store"
	"spread-trader/internal/strategy"
)

// ChainProvider resolves the option chain for an underlying at a point in
// time. Backtests synthesize one around the spot; live runs ask the broker.
type ChainProvider func(ctx context.Context, underlying string, now time.Time, spot float64) (*models.OptionChain, error)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time   time.Time
	Equity float64
}

// Core is the mode-agnostic decision cycle. It owns the RunState: all
// mutation happens on the caller's single loop goroutine, never concurrently.
type Core struct {
	cfg     *config.Config
	gate    *session.Gate
	strat   strategy.Strategy
	manager *orders.Manager
	chains  ChainProvider
	journal store.DataStore // nil disables the trade journal
	logger  zerolog.Logger

	state     *models.RunState
	marks     map[string]float64
	spot      float64
	lastSpot  time.Time
	gapped    bool
	journaled map[string]bool

	trades []models.TradeRecord
	curve  []EquityPoint
	model  market.PriceModel
	sink   MarkSink
}

// MarkSink receives the mark table after every update, before any decision
// executes against it. The simulator implements it to price fills.
type MarkSink interface {
	SetMarks(spot float64, marks map[string]float64)
}

// NewCore assembles the decision cycle around a fresh run state.
func NewCore(cfg *config.Config, gate *session.Gate, strat strategy.Strategy, manager *orders.Manager, chains ChainProvider, journal store.DataStore, logger zerolog.Logger) *Core {
	return &Core{
		cfg:       cfg,
		gate:      gate,
		strat:     strat,
		manager:   manager,
		chains:    chains,
		journal:   journal,
		logger:    logger,
		state:     models.NewRunState(cfg.Mode(), cfg.Strategy.Capital),
		marks:     make(map[string]float64),
		journaled: make(map[string]bool),
	}
}

// SetMarkSink registers a consumer of fresh marks, typically the simulator.
func (c *Core) SetMarkSink(sink MarkSink) { c.sink = sink }

// State exposes the run state for read-only inspection between cycles.
func (c *Core) State() *models.RunState { return c.state }

// Marks exposes the current mark table, for the simulator and diagnostics.
func (c *Core) Marks() (float64, map[string]float64) { return c.spot, c.marks }

// Trades returns the journaled trade records so far.
func (c *Core) Trades() []models.TradeRecord { return c.trades }

// Curve returns the equity samples recorded so far.
func (c *Core) Curve() []EquityPoint { return c.curve }

// Observe runs one full cycle for an observation: update marks, detect data
// gaps, enforce the square-off deadline, evaluate the strategy, and execute
// its decision. Fills from synchronous executors are applied inside the
// manager before Observe returns.
func (c *Core) Observe(ctx context.Context, obs models.Observation) error {
	c.state.Now = obs.Timestamp
	c.updateMarks(obs)

	// Fill-timeout sweep before any new decision.
	c.manager.CheckTimeouts(ctx, c.state, obs.Timestamp)

	// The square-off deadline is unconditional: it fires even during a data
	// gap, because holding exposure past it is the worse failure.
	if c.gate.PastExit(obs.Timestamp) {
		if err := c.forceClose(ctx, models.ExitReasonForced); err != nil {
			return err
		}
	}

	if obs.InstrumentID == c.cfg.Strategy.Underlying && !c.gapped {
		if err := c.decide(ctx, obs); err != nil {
			return err
		}
	}

	return c.settle(ctx, obs.Timestamp)
}

func (c *Core) updateMarks(obs models.Observation) {
	c.marks[obs.InstrumentID] = obs.LastPrice

	if obs.InstrumentID != c.cfg.Strategy.Underlying {
		return
	}

	// Gap detection on the underlying cadence. A stale stream must not
	// produce decisions from old prices; evaluation resumes on the first
	// fresh observation.
	cadence := c.cfg.Execution.ExpectedCadence
	if !c.lastSpot.IsZero() && cadence > 0 && sameDay(c.lastSpot, obs.Timestamp, c.gate.Location()) {
		if gap := obs.Timestamp.Sub(c.lastSpot); gap > 2*cadence {
			c.logger.Warn().
				Dur("gap", gap).
				Time("last", c.lastSpot).
				Msg("Observation gap detected, pausing evaluation for this cycle")
			c.gapped = true
		} else {
			c.gapped = false
		}
	} else {
		c.gapped = false
	}
	c.lastSpot = obs.Timestamp
	c.spot = obs.LastPrice

	// Reprice open legs from the model where no traded quote exists, so
	// stop rules and the ledger always see a usable mark.
	for _, g := range c.state.Open {
		for _, l := range g.Legs {
			if _, ok := c.marks[l.Instrument.Symbol]; !ok || c.state.Mode == models.ModeBacktest {
				c.marks[l.Instrument.Symbol] = c.model.Premium(l.Instrument, c.spot, obs.Timestamp)
			}
		}
	}

	if c.sink != nil {
		c.sink.SetMarks(c.spot, c.marks)
	}
}

func (c *Core) decide(ctx context.Context, obs models.Observation) error {
	var chain *models.OptionChain
	if c.chains != nil {
		var err error
		chain, err = c.chains(ctx, c.cfg.Strategy.Underlying, obs.Timestamp, obs.LastPrice)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Option chain unavailable, entries disabled this cycle")
		}
	}

	decision := c.strat.Evaluate(strategy.EvalContext{
		Observation: obs,
		State:       c.state,
		Session:     c.gate.State(obs.Timestamp),
		Chain:       chain,
		Marks:       c.marks,
	})

	switch decision.Kind {
	case models.DecideEnter:
		if decision.Enter == nil {
			return nil
		}
		_, err := c.manager.Submit(ctx, c.state, decision.Enter, obs.Timestamp)
		return err

	case models.DecideExit:
		group := c.state.GroupByID(decision.GroupID)
		if group == nil {
			return apperrors.NewGroupError(decision.GroupID, "", "exit", "decision names unknown group", apperrors.ErrGroupNotFound)
		}
		return c.manager.SubmitExit(ctx, c.state, group, decision.Reason, obs.Timestamp)
	}
	return nil
}

// ApplyFill routes one asynchronous fill through the manager.
func (c *Core) ApplyFill(ctx context.Context, fill models.FillEvent) error {
	if err := c.manager.OnFillEvent(ctx, c.state, fill, c.state.Now); err != nil {
		return err
	}
	return c.settle(ctx, c.state.Now)
}

// ApplyReject routes one asynchronous rejection through the manager.
func (c *Core) ApplyReject(ctx context.Context, legID, reason string) error {
	if err := c.manager.OnLegRejected(ctx, c.state, legID, reason, c.state.Now); err != nil {
		return err
	}
	return c.settle(ctx, c.state.Now)
}

// forceClose squares off every open group with exposure.
func (c *Core) forceClose(ctx context.Context, reason models.ExitReason) error {
	for _, g := range snapshotGroups(c.state.Open) {
		if !g.Open() || len(g.ExitLegs) > 0 {
			continue
		}
		if err := c.manager.SubmitExit(ctx, c.state, g, reason, c.state.Now); err != nil {
			return err
		}
	}
	return nil
}

// Teardown closes all exposure at shutdown and records the final equity.
func (c *Core) Teardown(ctx context.Context) error {
	c.manager.CheckTimeouts(ctx, c.state, c.state.Now)
	if err := c.forceClose(ctx, models.ExitReasonRunTeardown); err != nil {
		return err
	}
	snap := c.snapshot(c.state.Now)
	c.curve = append(c.curve, EquityPoint{Time: c.state.Now, Equity: snap.Equity})
	return c.checkInvariant(snap)
}

// settle journals newly closed groups and verifies the ledger invariant.
func (c *Core) settle(ctx context.Context, now time.Time) error {
	for _, g := range c.state.Closed {
		if c.journaled[g.ID] {
			continue
		}
		c.journaled[g.ID] = true
		rec := models.TradeFromGroup(g, c.state.Mode)
		c.trades = append(c.trades, rec)
		if c.journal != nil {
			if err := c.journal.LogTrade(ctx, &rec); err != nil {
				c.logger.Error().Err(err).Str("group_id", g.ID).Msg("Failed to journal trade")
			}
		}
	}
	return c.checkInvariant(c.snapshot(now))
}

// RecordEquity appends an equity-curve sample at the given time.
func (c *Core) RecordEquity(now time.Time) {
	snap := c.snapshot(now)
	c.curve = append(c.curve, EquityPoint{Time: now, Equity: snap.Equity})
}

// Snapshot returns the current derived P&L view.
func (c *Core) Snapshot() ledger.Snapshot {
	return c.snapshot(c.state.Now)
}

func (c *Core) snapshot(now time.Time) ledger.Snapshot {
	return ledger.Recompute(c.state, now, c.price)
}

func (c *Core) price(inst models.Instrument) (float64, bool) {
	if p, ok := c.marks[inst.Symbol]; ok {
		return p, true
	}
	if inst.IsOption() && c.spot > 0 {
		return c.model.Premium(inst, c.spot, c.state.Now), true
	}
	return 0, false
}

func (c *Core) checkInvariant(snap ledger.Snapshot) error {
	if snap.InvariantHolds(c.state) {
		return nil
	}
	delta := c.state.CapitalUsedDelta(snap.OpenMarkValue)
	c.logger.Error().
		Float64("realized", snap.Realized).
		Float64("unrealized", snap.Unrealized).
		Float64("capital_delta", delta).
		Msg("Ledger invariant violated")
	return apperrors.Wrapf(apperrors.ErrReconciliationMismatch,
		"ledger invariant: realized %.4f + unrealized %.4f != capital delta %.4f",
		snap.Realized, snap.Unrealized, delta)
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func snapshotGroups(groups []*models.OrderGroup) []*models.OrderGroup {
	out := make([]*models.OrderGroup, len(groups))
	copy(out, groups)
	return out
}
