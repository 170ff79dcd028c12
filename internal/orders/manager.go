// Package orders turns strategy decisions into correlated leg orders and
// owns the multi-leg group lifecycle: all-or-nothing activation, fill
// timeouts, and unwinding of partial exposure.
package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spread-trader/internal/config"
	apperrors "spread-trader/internal/errors"
	"spread-trader/internal/logging"
	"spread-trader/internal/models"
)

// Executor submits and cancels individual leg orders. The simulator returns
// fills synchronously from SubmitLeg; the live adapter returns none and
// delivers them later through the engine's event queue. Either way every
// fill is applied through OnFillEvent, one entry point for one state
// transition.
type Executor interface {
	SubmitLeg(ctx context.Context, group *models.OrderGroup, leg *models.Leg) ([]models.FillEvent, error)
	CancelLeg(ctx context.Context, leg *models.Leg) error
}

// Manager enforces order-group semantics over a RunState. It holds no state
// of its own: the RunState is threaded through every call and mutated only
// from the engine's single writer loop.
type Manager struct {
	exec   Executor
	cfg    config.ExecutionConfig
	logger zerolog.Logger
}

// NewManager creates an order manager.
func NewManager(exec Executor, cfg config.ExecutionConfig, logger zerolog.Logger) *Manager {
	return &Manager{exec: exec, cfg: cfg, logger: logger}
}

// Submit opens a new order group for an entry decision. Legs are submitted
// in fixed order, buy before sell, so the long protection exists before the
// short leg. Synchronous fills are applied before the next leg goes out, so
// a later rejection always sees the true filled exposure.
func (m *Manager) Submit(ctx context.Context, state *models.RunState, spec *models.EnterSpec, now time.Time) (*models.OrderGroup, error) {
	qty := spec.Lots * spec.LotSize

	group := &models.OrderGroup{
		ID:          uuid.NewString(),
		StrategyTag: spec.StrategyTag,
		Underlying:  spec.Underlying,
		Status:      models.GroupPending,
		Lots:        spec.Lots,
		LotSize:     spec.LotSize,
		CreatedAt:   now,
	}

	group.Legs = []*models.Leg{
		{
			ID:            uuid.NewString(),
			Instrument:    spec.BuyLeg,
			Side:          models.OrderSideBuy,
			Quantity:      qty,
			IntendedPrice: spec.BuyPremium,
			Status:        models.LegPending,
		},
		{
			ID:            uuid.NewString(),
			Instrument:    spec.SellLeg,
			Side:          models.OrderSideSell,
			Quantity:      qty,
			IntendedPrice: spec.SellPremium,
			Status:        models.LegPending,
		},
	}

	state.Open = append(state.Open, group)
	logging.LogGroup(m.logger, group.ID, string(group.Status), "submitted")

	for _, leg := range group.Legs {
		if err := m.submitLeg(ctx, state, group, leg, now); err != nil {
			m.logger.Warn().Err(err).Str("leg_id", leg.ID).Msg("Leg submission rejected")
			leg.Status = models.LegRejected
			leg.RejectReason = err.Error()
			if ferr := m.failGroup(ctx, state, group, err.Error(), now); ferr != nil {
				return group, ferr
			}
			return group, nil
		}
	}

	return group, nil
}

// SubmitExit issues closing orders for every filled entry leg of a group, in
// reverse submission order so the short leg is covered first.
func (m *Manager) SubmitExit(ctx context.Context, state *models.RunState, group *models.OrderGroup, reason models.ExitReason, now time.Time) error {
	if len(group.ExitLegs) > 0 {
		// Exit already in flight; never double-close.
		return nil
	}

	logging.LogGroup(m.logger, group.ID, string(group.Status), "exit: "+string(reason))

	var exits []*models.Leg
	for i := len(group.Legs) - 1; i >= 0; i-- {
		entry := group.Legs[i]
		if entry.FilledQty == 0 {
			continue
		}
		exits = append(exits, &models.Leg{
			ID:         uuid.NewString(),
			Instrument: entry.Instrument,
			Side:       entry.Side.Opposite(),
			Quantity:   entry.FilledQty,
			Status:     models.LegPending,
		})
	}

	if len(exits) == 0 {
		// Nothing ever filled; close the book entry directly.
		m.finalize(state, group, now)
		return nil
	}

	group.ExitLegs = append(group.ExitLegs, exits...)
	for _, leg := range exits {
		if err := m.submitLeg(ctx, state, group, leg, now); err != nil {
			return apperrors.NewGroupError(group.ID, leg.ID, "exit", "submitting closing leg", err)
		}
	}

	return nil
}

// submitLeg sends one leg to the executor and applies any synchronous fills.
func (m *Manager) submitLeg(ctx context.Context, state *models.RunState, group *models.OrderGroup, leg *models.Leg, now time.Time) error {
	leg.Status = models.LegSubmitted
	leg.SubmittedAt = now

	fills, err := m.exec.SubmitLeg(ctx, group, leg)
	if err != nil {
		return err
	}
	for _, fill := range fills {
		if ferr := m.OnFillEvent(ctx, state, fill, now); ferr != nil {
			return ferr
		}
	}
	return nil
}

// OnFillEvent applies a fill to its leg. Application is idempotent: the
// event quantity is the cumulative filled quantity for the leg, so a replay
// of an already-applied event changes nothing.
func (m *Manager) OnFillEvent(ctx context.Context, state *models.RunState, fill models.FillEvent, now time.Time) error {
	group, leg := findLeg(state, fill.LegID)
	if leg == nil {
		return apperrors.NewGroupError("", fill.LegID, "fill", "no such leg", apperrors.ErrGroupNotFound)
	}

	lateFill := leg.Status.Terminal() && leg.Status != models.LegFilled

	if fill.Quantity <= leg.FilledQty {
		return nil // replay
	}

	delta := fill.Quantity - leg.FilledQty
	leg.FilledQty = fill.Quantity
	leg.FillPrice = fill.Price
	leg.FillTime = fill.Timestamp
	if fill.BrokerOrderID != "" {
		leg.BrokerOrderID = fill.BrokerOrderID
	}

	// Premium cash moves on every incremental fill.
	amount := fill.Price * float64(delta)
	if leg.Side == models.OrderSideBuy {
		state.CapitalAvailable -= amount
	} else {
		state.CapitalAvailable += amount
	}

	if lateFill {
		// Fill after cancel/reject: the contracts are real, but the leg
		// stays cancelled. A late fill on an entry leg adds exposure, so
		// flatten the delta with a reverse order; on a closing leg it
		// reduces exposure and only needs counting.
		m.logger.Warn().Str("leg_id", leg.ID).Str("status", string(leg.Status)).Int("contracts", delta).Msg("Fill arrived after terminal status")
		if containsLeg(group.Legs, leg) {
			unwind := &models.Leg{
				ID:         uuid.NewString(),
				Instrument: leg.Instrument,
				Side:       leg.Side.Opposite(),
				Quantity:   delta,
				Status:     models.LegPending,
			}
			group.ExitLegs = append(group.ExitLegs, unwind)
			if err := m.submitLeg(ctx, state, group, unwind, now); err != nil {
				return apperrors.NewGroupError(group.ID, unwind.ID, "unwind", "flattening late fill", err)
			}
		}
		m.advance(state, group, now)
		return nil
	}

	if leg.FilledQty >= leg.Quantity {
		leg.Status = models.LegFilled
		// Flat fee charged once per completed order.
		group.Brokerage += m.cfg.BrokeragePerOrder
		state.CapitalAvailable -= m.cfg.BrokeragePerOrder
		logging.LogFill(m.logger, leg.ID, leg.Instrument.Symbol, string(leg.Side), leg.FilledQty, leg.FillPrice)
	} else {
		leg.Status = models.LegPartiallyFilled
	}

	m.advance(state, group, now)
	return nil
}

// OnLegRejected handles an asynchronous broker rejection.
func (m *Manager) OnLegRejected(ctx context.Context, state *models.RunState, legID, reason string, now time.Time) error {
	group, leg := findLeg(state, legID)
	if leg == nil {
		return apperrors.NewGroupError("", legID, "reject", "no such leg", apperrors.ErrGroupNotFound)
	}

	leg.Status = models.LegRejected
	leg.RejectReason = reason

	if containsLeg(group.ExitLegs, leg) {
		// A dead closing order leaves exposure open; resubmitting is the
		// only safe response, bounded by the exit-window force rule.
		return m.resubmitExit(ctx, state, group, leg, now)
	}

	return m.failGroup(ctx, state, group, reason, now)
}

// resubmitExit replaces a cancelled or rejected closing leg with a fresh
// order for whatever quantity is still open. The dead leg stays on the group
// when it carries fills so their cash flow remains accounted.
func (m *Manager) resubmitExit(ctx context.Context, state *models.RunState, group *models.OrderGroup, leg *models.Leg, now time.Time) error {
	remaining := leg.Remaining()
	if leg.FilledQty == 0 {
		group.ExitLegs = removeLeg(group.ExitLegs, leg)
	}
	if remaining <= 0 {
		m.advance(state, group, now)
		return nil
	}

	retry := &models.Leg{
		ID:         uuid.NewString(),
		Instrument: leg.Instrument,
		Side:       leg.Side,
		Quantity:   remaining,
		Status:     models.LegPending,
	}
	group.ExitLegs = append(group.ExitLegs, retry)
	return m.submitLeg(ctx, state, group, retry, now)
}

// CheckTimeouts cancels legs whose fill confirmation exceeded the budget and
// unwinds their groups.
func (m *Manager) CheckTimeouts(ctx context.Context, state *models.RunState, now time.Time) {
	for _, group := range snapshotGroups(state.Open) {
		for _, leg := range append(append([]*models.Leg{}, group.Legs...), group.ExitLegs...) {
			if leg.Status != models.LegSubmitted && leg.Status != models.LegPartiallyFilled {
				continue
			}
			if now.Sub(leg.SubmittedAt) < m.cfg.FillTimeout {
				continue
			}

			m.logger.Warn().
				Str("group_id", group.ID).
				Str("leg_id", leg.ID).
				Dur("waited", now.Sub(leg.SubmittedAt)).
				Msg("Fill timeout, cancelling leg")

			if err := m.exec.CancelLeg(ctx, leg); err != nil {
				m.logger.Error().Err(err).Str("leg_id", leg.ID).Msg("Cancel failed")
			}
			leg.Status = models.LegCancelled

			if containsLeg(group.Legs, leg) {
				if err := m.failGroup(ctx, state, group, apperrors.ErrFillTimeout.Error(), now); err != nil {
					m.logger.Error().Err(err).Str("group_id", group.ID).Msg("Unwind failed")
				}
			} else {
				// A timed-out closing leg leaves exposure open; retry the
				// close for the unfilled remainder.
				if err := m.resubmitExit(ctx, state, group, leg, now); err != nil {
					m.logger.Error().Err(err).Str("group_id", group.ID).Msg("Exit retry failed")
				}
			}
		}
	}
}

// failGroup transitions a group to Failed and unwinds every filled entry
// leg by issuing reverse closing orders, including the leg that triggered the
// failure. A leg that partially filled before timing out or being rejected
// still holds real contracts. Partial multi-leg exposure is never left open.
func (m *Manager) failGroup(ctx context.Context, state *models.RunState, group *models.OrderGroup, reason string, now time.Time) error {
	group.Status = models.GroupFailed
	group.FailReason = reason
	logging.LogGroup(m.logger, group.ID, string(group.Status), reason)

	for _, leg := range group.Legs {
		switch leg.Status {
		case models.LegSubmitted, models.LegPartiallyFilled:
			if err := m.exec.CancelLeg(ctx, leg); err != nil {
				m.logger.Error().Err(err).Str("leg_id", leg.ID).Msg("Cancel failed during unwind")
			}
			leg.Status = models.LegCancelled
		case models.LegPending:
			leg.Status = models.LegCancelled
		}
	}

	var unwinds []*models.Leg
	for i := len(group.Legs) - 1; i >= 0; i-- {
		entry := group.Legs[i]
		if entry.FilledQty == 0 {
			continue
		}
		unwinds = append(unwinds, &models.Leg{
			ID:         uuid.NewString(),
			Instrument: entry.Instrument,
			Side:       entry.Side.Opposite(),
			Quantity:   entry.FilledQty,
			Status:     models.LegPending,
		})
	}

	group.ExitLegs = append(group.ExitLegs, unwinds...)
	for _, unwind := range unwinds {
		if err := m.submitLeg(ctx, state, group, unwind, now); err != nil {
			return apperrors.NewGroupError(group.ID, unwind.ID, "unwind", "submitting reverse leg", err)
		}
	}

	m.maybeArchive(state, group, now)
	return nil
}

// advance recomputes a group's status from its legs after a fill.
func (m *Manager) advance(state *models.RunState, group *models.OrderGroup, now time.Time) {
	switch group.Status {
	case models.GroupPending:
		if group.AllEntryFilled() {
			group.Status = models.GroupActive
			logging.LogGroup(m.logger, group.ID, string(group.Status), "all legs filled")
		}
	case models.GroupActive:
		if len(group.ExitLegs) > 0 && group.AllExitFilled() {
			group.Status = models.GroupCompleted
			m.finalize(state, group, now)
		}
	case models.GroupFailed:
		m.maybeArchive(state, group, now)
	}
}

// maybeArchive archives a failed group once its unwind legs have settled.
func (m *Manager) maybeArchive(state *models.RunState, group *models.OrderGroup, now time.Time) {
	if group.Status != models.GroupFailed {
		return
	}
	for _, leg := range group.ExitLegs {
		if !leg.Status.Terminal() {
			return
		}
	}
	m.finalize(state, group, now)
}

func (m *Manager) finalize(state *models.RunState, group *models.OrderGroup, now time.Time) {
	if !group.ClosedAt.IsZero() {
		return // already archived
	}
	if group.Status == models.GroupPending || group.Status == models.GroupActive {
		group.Status = models.GroupCompleted
	}
	group.ClosedAt = now
	state.Archive(group)
	logging.LogGroup(m.logger, group.ID, string(group.Status), "archived")
}

func findLeg(state *models.RunState, legID string) (*models.OrderGroup, *models.Leg) {
	for _, g := range state.Open {
		if l := g.LegByID(legID); l != nil {
			return g, l
		}
	}
	for _, g := range state.Closed {
		if l := g.LegByID(legID); l != nil {
			return g, l
		}
	}
	return nil, nil
}

func containsLeg(legs []*models.Leg, leg *models.Leg) bool {
	for _, l := range legs {
		if l.ID == leg.ID {
			return true
		}
	}
	return false
}

func removeLeg(legs []*models.Leg, leg *models.Leg) []*models.Leg {
	out := legs[:0]
	for _, l := range legs {
		if l.ID != leg.ID {
			out = append(out, l)
		}
	}
	return out
}

func snapshotGroups(groups []*models.OrderGroup) []*models.OrderGroup {
	out := make([]*models.OrderGroup, len(groups))
	copy(out, groups)
	return out
}
