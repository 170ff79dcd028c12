package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"spread-trader/internal/config"
	"spread-trader/internal/models"
	"spread-trader/internal/orders"
)

// priceExec fills every leg immediately at a scripted per-symbol price,
// falling back to the leg's intended price.
type priceExec struct {
	prices map[string]float64
}

func (e *priceExec) SubmitLeg(ctx context.Context, group *models.OrderGroup, leg *models.Leg) ([]models.FillEvent, error) {
	price, ok := e.prices[leg.Instrument.Symbol]
	if !ok {
		price = leg.IntendedPrice
	}
	return []models.FillEvent{{
		LegID:     leg.ID,
		Price:     price,
		Quantity:  leg.Quantity,
		Timestamp: leg.SubmittedAt,
	}}, nil
}

func (e *priceExec) CancelLeg(ctx context.Context, leg *models.Leg) error { return nil }

func spreadSpec(buyPrem, sellPrem float64, lots int) *models.EnterSpec {
	return &models.EnterSpec{
		StrategyTag: "bull-call-spread",
		Underlying:  "NIFTY",
		BuyLeg:      models.Instrument{Symbol: "NIFTY-22000-CE", OptionType: models.OptionCall, Strike: 22000},
		SellLeg:     models.Instrument{Symbol: "NIFTY-22300-CE", OptionType: models.OptionCall, Strike: 22300},
		Lots:        lots,
		LotSize:     75,
		BuyPremium:  buyPrem,
		SellPremium: sellPrem,
	}
}

func markPrice(marks map[string]float64) PriceFunc {
	return func(inst models.Instrument) (float64, bool) {
		p, ok := marks[inst.Symbol]
		return p, ok
	}
}

func TestInvariantHoldsUnderRandomFills(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(1702)

	properties := gopter.NewProperties(parameters)

	properties.Property("realized plus unrealized equals capital delta with open exposure", prop.ForAll(
		func(buyPrem, sellPrem, markBuy, markSell float64, lots int) bool {
			exec := &priceExec{prices: map[string]float64{}}
			m := orders.NewManager(exec, config.Default().Execution, zerolog.Nop())
			state := models.NewRunState(models.ModeBacktest, 1_000_000)
			now := time.Now()

			if _, err := m.Submit(context.Background(), state, spreadSpec(buyPrem, sellPrem, lots), now); err != nil {
				return false
			}

			marks := map[string]float64{
				"NIFTY-22000-CE": markBuy,
				"NIFTY-22300-CE": markSell,
			}
			snap := Recompute(state, now, markPrice(marks))
			return snap.InvariantHolds(state)
		},
		gen.Float64Range(1, 500),
		gen.Float64Range(1, 500),
		gen.Float64Range(0, 600),
		gen.Float64Range(0, 600),
		gen.IntRange(1, 5),
	))

	properties.Property("invariant survives a full round trip at arbitrary exit prices", prop.ForAll(
		func(buyPrem, sellPrem, exitBuy, exitSell float64) bool {
			exec := &priceExec{prices: map[string]float64{}}
			m := orders.NewManager(exec, config.Default().Execution, zerolog.Nop())
			state := models.NewRunState(models.ModeBacktest, 1_000_000)
			now := time.Now()

			group, err := m.Submit(context.Background(), state, spreadSpec(buyPrem, sellPrem, 1), now)
			if err != nil {
				return false
			}

			exec.prices["NIFTY-22000-CE"] = exitBuy
			exec.prices["NIFTY-22300-CE"] = exitSell
			if err := m.SubmitExit(context.Background(), state, group, models.ExitReasonWindow, now.Add(time.Hour)); err != nil {
				return false
			}

			snap := Recompute(state, now.Add(time.Hour), markPrice(nil))
			return snap.InvariantHolds(state) &&
				snap.OpenGroups == 0 &&
				snap.Unrealized == 0
		},
		gen.Float64Range(1, 500),
		gen.Float64Range(1, 500),
		gen.Float64Range(0.05, 600),
		gen.Float64Range(0.05, 600),
	))

	properties.TestingRun(t)
}

func TestRealizedMatchesRoundTrip(t *testing.T) {
	exec := &priceExec{prices: map[string]float64{
		"NIFTY-22000-CE": 30,
		"NIFTY-22300-CE": 10,
	}}
	m := orders.NewManager(exec, config.Default().Execution, zerolog.Nop())
	state := models.NewRunState(models.ModeBacktest, 100000)
	now := time.Now()

	group, err := m.Submit(context.Background(), state, spreadSpec(30, 10, 1), now)
	require.NoError(t, err)

	// Spread widens: long leg up to 45, short leg up to 20.
	exec.prices["NIFTY-22000-CE"] = 45
	exec.prices["NIFTY-22300-CE"] = 20
	require.NoError(t, m.SubmitExit(context.Background(), state, group, models.ExitReasonWindow, now.Add(time.Hour)))

	snap := Recompute(state, now.Add(time.Hour), markPrice(nil))

	// Entry debit 20, exit credit 25, 75 contracts, four orders of fees.
	wantRealized := (25.0-20.0)*75 - 4*20
	require.InDelta(t, wantRealized, snap.Realized, 1e-9)
	require.Zero(t, snap.Unrealized)
	require.Zero(t, snap.OpenMarkValue)
	require.InDelta(t, 100000+wantRealized, snap.Equity, 1e-9)
	require.True(t, snap.InvariantHolds(state))
}

func TestUnrealizedTracksMarks(t *testing.T) {
	exec := &priceExec{prices: map[string]float64{
		"NIFTY-22000-CE": 30,
		"NIFTY-22300-CE": 10,
	}}
	m := orders.NewManager(exec, config.Default().Execution, zerolog.Nop())
	state := models.NewRunState(models.ModeBacktest, 100000)
	now := time.Now()

	_, err := m.Submit(context.Background(), state, spreadSpec(30, 10, 1), now)
	require.NoError(t, err)

	marks := map[string]float64{
		"NIFTY-22000-CE": 40,
		"NIFTY-22300-CE": 15,
	}
	snap := Recompute(state, now, markPrice(marks))

	// Long 75 at mark 40, short 75 at mark 15.
	require.InDelta(t, (40.0-15.0)*75, snap.OpenMarkValue, 1e-9)
	// Mark value plus entry cash flow minus fees.
	require.InDelta(t, (40.0-15.0)*75-(30.0-10.0)*75-2*20, snap.Unrealized, 1e-9)
	require.True(t, snap.InvariantHolds(state))
}

func TestMarkFallsBackToFillPrice(t *testing.T) {
	exec := &priceExec{prices: map[string]float64{
		"NIFTY-22000-CE": 30,
		"NIFTY-22300-CE": 10,
	}}
	m := orders.NewManager(exec, config.Default().Execution, zerolog.Nop())
	state := models.NewRunState(models.ModeBacktest, 100000)
	now := time.Now()

	_, err := m.Submit(context.Background(), state, spreadSpec(30, 10, 1), now)
	require.NoError(t, err)

	noPrices := func(models.Instrument) (float64, bool) { return 0, false }
	snap := Recompute(state, now, noPrices)

	// Marked at fill prices the premium washes out; only fees show.
	require.InDelta(t, -2*20.0, snap.Unrealized, 1e-9)
	require.True(t, snap.InvariantHolds(state))
}

func TestPositionsNetAndSorted(t *testing.T) {
	exec := &priceExec{prices: map[string]float64{
		"NIFTY-22000-CE": 30,
		"NIFTY-22300-CE": 10,
	}}
	m := orders.NewManager(exec, config.Default().Execution, zerolog.Nop())
	state := models.NewRunState(models.ModeBacktest, 100000)
	now := time.Now()

	_, err := m.Submit(context.Background(), state, spreadSpec(30, 10, 2), now)
	require.NoError(t, err)

	snap := Recompute(state, now, markPrice(nil))
	require.Len(t, snap.Positions, 2)
	require.Equal(t, "NIFTY-22000-CE", snap.Positions[0].Instrument.Symbol)
	require.Equal(t, 150, snap.Positions[0].NetQuantity)
	require.Equal(t, "NIFTY-22300-CE", snap.Positions[1].Instrument.Symbol)
	require.Equal(t, -150, snap.Positions[1].NetQuantity)
}

func TestInvariantDetectsDrift(t *testing.T) {
	exec := &priceExec{prices: map[string]float64{
		"NIFTY-22000-CE": 30,
		"NIFTY-22300-CE": 10,
	}}
	m := orders.NewManager(exec, config.Default().Execution, zerolog.Nop())
	state := models.NewRunState(models.ModeBacktest, 100000)
	now := time.Now()

	_, err := m.Submit(context.Background(), state, spreadSpec(30, 10, 1), now)
	require.NoError(t, err)

	snap := Recompute(state, now, markPrice(nil))
	require.True(t, snap.InvariantHolds(state))

	// A dropped fill shows up as a capital mismatch.
	state.CapitalAvailable += 100
	snap = Recompute(state, now, markPrice(nil))
	require.False(t, snap.InvariantHolds(state))
}
