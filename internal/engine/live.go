package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"spread-trader/internal/broker"
	apperrors "spread-trader/internal/errors"
	"spread-trader/internal/execution"
	"spread-trader/internal/market"
	"spread-trader/internal/models"
)

// liveEvent is the single merged event stream of a live or paper run.
// Observations, fills, and rejections all arrive here so the run state has
// exactly one writer goroutine.
type liveEvent struct {
	obs    *models.Observation
	fill   *models.FillEvent
	reject *execution.LegReject
	err    error
	done   bool
}

// Runner drives paper and live runs: real-time observations in, decisions
// and asynchronous fills merged through one loop.
type Runner struct {
	core    *Core
	source  market.Source
	adapter *execution.LiveAdapter // nil in paper mode
	logger  zerolog.Logger

	events chan liveEvent
	done   chan struct{}
	sweep  time.Duration
	grace  time.Duration
}

// NewRunner wires a streaming source into the core cycle. The adapter is nil
// for paper runs, where the simulator fills synchronously.
func NewRunner(core *Core, source market.Source, adapter *execution.LiveAdapter, logger zerolog.Logger) *Runner {
	return &Runner{
		core:    core,
		source:  source,
		adapter: adapter,
		logger:  logger,
		events:  make(chan liveEvent, 256),
		done:    make(chan struct{}),
		sweep:   5 * time.Second,
		grace:   15 * time.Second,
	}
}

// OnOrderUpdate is the broker order-update callback. It runs on the ticker's
// goroutine and only translates and forwards; all state mutation happens on
// the run loop.
func (r *Runner) OnOrderUpdate(update broker.OrderUpdate) {
	if r.adapter == nil {
		return
	}
	fill, reject, err := r.adapter.Translate(update)
	switch {
	case err != nil:
		// An update we cannot attribute means our view of open orders has
		// diverged from the broker's. Trading on a diverged view risks real
		// capital, so this is fatal.
		r.send(liveEvent{err: err})
	case fill != nil:
		r.send(liveEvent{fill: fill})
	case reject != nil:
		r.send(liveEvent{reject: reject})
	}
}

// send forwards an event to the run loop unless the run has already finished.
// A finished run has no consumer, so an unconditional send would wedge the
// ticker callback goroutine once the buffer fills during shutdown.
func (r *Runner) send(ev liveEvent) {
	select {
	case r.events <- ev:
	case <-r.done:
		if ev.fill != nil || ev.reject != nil {
			r.logger.Warn().Msg("Run loop stopped, dropping order update")
		}
	}
}

// Run consumes the source until the context is cancelled, then closes all
// exposure and drains in-flight fills before returning.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	// Closed after teardown so producers stop blocking; teardown itself still
	// drains fills from the buffer first.
	defer close(r.done)

	if r.adapter != nil {
		if err := r.adapter.Resume(ctx); err != nil {
			return nil, err
		}
	}

	go r.readSource(ctx)

	sweep := time.NewTicker(r.sweep)
	defer sweep.Stop()

	var first, last time.Time
	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case <-sweep.C:
			now := time.Now().In(r.core.gate.Location())
			r.core.state.Now = now
			r.core.manager.CheckTimeouts(ctx, r.core.state, now)
			if err := r.core.settle(ctx, now); err != nil {
				runErr = err
				break loop
			}

		case ev := <-r.events:
			if ev.done {
				break loop
			}
			if err := r.dispatch(ctx, ev); err != nil {
				runErr = err
				break loop
			}
			if ev.obs != nil {
				if first.IsZero() {
					first = ev.obs.Timestamp
				}
				last = ev.obs.Timestamp
			}
		}
	}

	if err := r.teardown(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return nil, runErr
	}

	return &Result{
		Mode:           r.core.state.Mode,
		InitialCapital: r.core.state.InitialCapital,
		Trades:         r.core.Trades(),
		Curve:          r.core.Curve(),
		Final:          r.core.Snapshot(),
		From:           first,
		To:             last,
	}, nil
}

func (r *Runner) dispatch(ctx context.Context, ev liveEvent) error {
	switch {
	case ev.err != nil:
		return ev.err
	case ev.obs != nil:
		return r.core.Observe(ctx, *ev.obs)
	case ev.fill != nil:
		if err := r.core.ApplyFill(ctx, *ev.fill); err != nil {
			return err
		}
		r.forgetIfTerminal(ctx, ev.fill.LegID)
		return nil
	case ev.reject != nil:
		if err := r.core.ApplyReject(ctx, ev.reject.LegID, ev.reject.Reason); err != nil {
			return err
		}
		r.forgetIfTerminal(ctx, ev.reject.LegID)
		return nil
	}
	return nil
}

func (r *Runner) readSource(ctx context.Context) {
	for {
		obs, err := r.source.Next(ctx)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrEndOfStream) || ctx.Err() != nil {
				r.send(liveEvent{done: true})
				return
			}
			r.send(liveEvent{err: apperrors.Wrap(err, "reading observation")})
			return
		}
		r.send(liveEvent{obs: &obs})
	}
}

// teardown closes open exposure with fresh orders, then drains fills for a
// bounded grace period so live closing orders can confirm.
func (r *Runner) teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	r.core.state.Now = time.Now().In(r.core.gate.Location())
	if err := r.core.Teardown(ctx); err != nil {
		return err
	}

	if r.adapter == nil || len(r.core.state.Open) == 0 {
		return nil
	}

	r.logger.Info().Int("open_groups", len(r.core.state.Open)).Msg("Draining in-flight fills before shutdown")
	deadline := time.NewTimer(r.grace)
	defer deadline.Stop()
	for {
		select {
		case <-deadline.C:
			r.logger.Warn().Int("open_groups", len(r.core.state.Open)).Msg("Shutdown grace elapsed with unconfirmed closes")
			return nil
		case ev := <-r.events:
			if ev.fill == nil {
				continue
			}
			if err := r.core.ApplyFill(ctx, *ev.fill); err != nil {
				return err
			}
			r.forgetIfTerminal(ctx, ev.fill.LegID)
			if len(r.core.state.Open) == 0 {
				return nil
			}
		}
	}
}

func (r *Runner) forgetIfTerminal(ctx context.Context, legID string) {
	if r.adapter == nil {
		return
	}
	for _, groups := range [][]*models.OrderGroup{r.core.state.Open, r.core.state.Closed} {
		for _, g := range groups {
			if l := g.LegByID(legID); l != nil {
				if l.Status.Terminal() {
					r.adapter.Forget(ctx, l)
				}
				return
			}
		}
	}
}
