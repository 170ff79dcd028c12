package orders

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"spread-trader/internal/config"
	apperrors "spread-trader/internal/errors"
	"spread-trader/internal/models"
)

// fakeExecutor scripts per-symbol behavior: fill immediately, fill partially,
// stay pending, or reject.
type fakeExecutor struct {
	fillPrice map[string]float64 // symbol -> immediate fill price
	reject    map[string]bool    // symbol -> synchronous rejection
	partial   map[string]int     // symbol -> one partial fill of this many, then silence
	pending   map[string]int     // symbol -> submissions left unfilled before fills resume
	cancelled []string
	submitted []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		fillPrice: make(map[string]float64),
		reject:    make(map[string]bool),
		partial:   make(map[string]int),
		pending:   make(map[string]int),
	}
}

func (f *fakeExecutor) SubmitLeg(ctx context.Context, group *models.OrderGroup, leg *models.Leg) ([]models.FillEvent, error) {
	sym := leg.Instrument.Symbol
	f.submitted = append(f.submitted, sym)
	if f.reject[sym] {
		return nil, apperrors.ErrLegRejected
	}
	if n := f.pending[sym]; n > 0 {
		f.pending[sym] = n - 1
		return nil, nil
	}
	price, ok := f.fillPrice[sym]
	if !ok {
		return nil, nil // stays submitted, fills never arrive
	}
	qty := leg.Quantity
	if p, ok := f.partial[sym]; ok {
		delete(f.partial, sym)
		qty = p
	}
	return []models.FillEvent{{
		LegID:     leg.ID,
		Price:     price,
		Quantity:  qty,
		Timestamp: leg.SubmittedAt,
	}}, nil
}

func (f *fakeExecutor) CancelLeg(ctx context.Context, leg *models.Leg) error {
	f.cancelled = append(f.cancelled, leg.ID)
	return nil
}

func testSpec() *models.EnterSpec {
	return &models.EnterSpec{
		StrategyTag: "bull-call-spread",
		Underlying:  "NIFTY",
		BuyLeg:      models.Instrument{Symbol: "BUY-CE", OptionType: models.OptionCall, Strike: 22000},
		SellLeg:     models.Instrument{Symbol: "SELL-CE", OptionType: models.OptionCall, Strike: 22300},
		Lots:        1,
		LotSize:     75,
		BuyPremium:  30,
		SellPremium: 10,
	}
}

func testManager(exec Executor) *Manager {
	cfg := config.Default().Execution
	return NewManager(exec, cfg, zerolog.Nop())
}

func TestSubmitActivatesOnAllLegsFilled(t *testing.T) {
	exec := newFakeExecutor()
	exec.fillPrice["BUY-CE"] = 30.5
	exec.fillPrice["SELL-CE"] = 9.5

	m := testManager(exec)
	state := models.NewRunState(models.ModeBacktest, 100000)
	now := time.Now()

	group, err := m.Submit(context.Background(), state, testSpec(), now)
	require.NoError(t, err)

	// Buy leg is always submitted before the sell leg.
	require.Equal(t, []string{"BUY-CE", "SELL-CE"}, exec.submitted)

	require.Equal(t, models.GroupActive, group.Status)
	require.True(t, group.AllEntryFilled())

	// Capital moved by the net debit plus two orders of brokerage.
	wantCapital := 100000.0 - (30.5-9.5)*75 - 2*20
	require.InDelta(t, wantCapital, state.CapitalAvailable, 1e-9)
}

func TestGroupNeverActiveWithPartialLegs(t *testing.T) {
	exec := newFakeExecutor()
	exec.fillPrice["BUY-CE"] = 30.5
	// Sell leg never fills.

	m := testManager(exec)
	state := models.NewRunState(models.ModeBacktest, 100000)

	group, err := m.Submit(context.Background(), state, testSpec(), time.Now())
	require.NoError(t, err)

	require.Equal(t, models.GroupPending, group.Status)
	require.False(t, group.AllEntryFilled())
}

func TestRejectionUnwindsFilledLeg(t *testing.T) {
	exec := newFakeExecutor()
	// Buy leg fills, sell leg rejects; the unwind order on the buy symbol
	// fills at the same price.
	exec.fillPrice["BUY-CE"] = 30
	exec.reject["SELL-CE"] = true

	m := testManager(exec)
	state := models.NewRunState(models.ModeBacktest, 100000)

	group, err := m.Submit(context.Background(), state, testSpec(), time.Now())
	require.NoError(t, err)

	require.Equal(t, models.GroupFailed, group.Status)
	require.NotEmpty(t, group.ExitLegs, "filled buy leg must be unwound")

	unwind := group.ExitLegs[0]
	require.Equal(t, models.OrderSideSell, unwind.Side)
	require.Equal(t, "BUY-CE", unwind.Instrument.Symbol)
	require.Equal(t, 75, unwind.Quantity)

	// Unwind filled synchronously, so the group is archived, never Active.
	require.Empty(t, state.Open)
	require.Len(t, state.Closed, 1)

	// Premium round-tripped at the same price; only two orders of brokerage
	// are lost.
	require.InDelta(t, 100000-2*20, state.CapitalAvailable, 1e-9)
}

func TestFillTimeoutCancelsAndUnwinds(t *testing.T) {
	exec := newFakeExecutor()
	exec.fillPrice["BUY-CE"] = 30
	// Sell leg stays pending past the timeout.

	m := testManager(exec)
	state := models.NewRunState(models.ModeBacktest, 100000)
	start := time.Now()

	group, err := m.Submit(context.Background(), state, testSpec(), start)
	require.NoError(t, err)
	require.Equal(t, models.GroupPending, group.Status)

	late := start.Add(config.Default().Execution.FillTimeout + time.Second)
	m.CheckTimeouts(context.Background(), state, late)

	require.Equal(t, models.GroupFailed, group.Status)
	require.NotEmpty(t, exec.cancelled, "timed-out leg must be cancelled")
	require.NotEmpty(t, group.ExitLegs, "filled buy leg must be unwound")
	require.Len(t, state.Closed, 1)
}

func TestFillApplicationIsIdempotent(t *testing.T) {
	exec := newFakeExecutor()
	m := testManager(exec)
	state := models.NewRunState(models.ModeBacktest, 100000)
	now := time.Now()

	group, err := m.Submit(context.Background(), state, testSpec(), now)
	require.NoError(t, err)

	fill := models.FillEvent{
		LegID:     group.Legs[0].ID,
		Price:     30,
		Quantity:  75,
		Timestamp: now,
	}
	require.NoError(t, m.OnFillEvent(context.Background(), state, fill, now))
	capitalAfterFirst := state.CapitalAvailable
	qtyAfterFirst := group.Legs[0].FilledQty

	// Replay of the same cumulative fill changes nothing.
	require.NoError(t, m.OnFillEvent(context.Background(), state, fill, now))
	require.Equal(t, capitalAfterFirst, state.CapitalAvailable)
	require.Equal(t, qtyAfterFirst, group.Legs[0].FilledQty)
}

func TestIncrementalFillsAccumulate(t *testing.T) {
	exec := newFakeExecutor()
	m := testManager(exec)
	state := models.NewRunState(models.ModeBacktest, 100000)
	now := time.Now()

	group, err := m.Submit(context.Background(), state, testSpec(), now)
	require.NoError(t, err)
	leg := group.Legs[0]

	for _, cumulative := range []int{25, 50, 75} {
		fill := models.FillEvent{LegID: leg.ID, Price: 30, Quantity: cumulative, Timestamp: now}
		require.NoError(t, m.OnFillEvent(context.Background(), state, fill, now))
	}

	require.Equal(t, 75, leg.FilledQty)
	require.Equal(t, models.LegFilled, leg.Status)
	// Brokerage charged once, on completion, not per partial fill.
	require.InDelta(t, 100000-30*75-20, state.CapitalAvailable, 1e-9)
}

func TestSubmitExitClosesGroup(t *testing.T) {
	exec := newFakeExecutor()
	exec.fillPrice["BUY-CE"] = 30
	exec.fillPrice["SELL-CE"] = 10

	m := testManager(exec)
	state := models.NewRunState(models.ModeBacktest, 100000)
	now := time.Now()

	group, err := m.Submit(context.Background(), state, testSpec(), now)
	require.NoError(t, err)
	require.Equal(t, models.GroupActive, group.Status)

	later := now.Add(5 * time.Hour)
	require.NoError(t, m.SubmitExit(context.Background(), state, group, models.ExitReasonWindow, later))

	require.Equal(t, models.GroupCompleted, group.Status)
	require.True(t, group.AllExitFilled())
	require.Len(t, state.Closed, 1)
	require.Empty(t, state.Open)

	// Short leg is covered first on the way out.
	require.Equal(t, []string{"BUY-CE", "SELL-CE", "SELL-CE", "BUY-CE"}, exec.submitted)

	// Flat round trip pays only the four orders of brokerage.
	require.InDelta(t, 100000-4*20, state.CapitalAvailable, 1e-9)
	require.InDelta(t, -4*20.0, group.CashFlow()-group.Brokerage, 1e-9)
}

func TestSubmitExitIsIdempotent(t *testing.T) {
	exec := newFakeExecutor()
	exec.fillPrice["BUY-CE"] = 30
	exec.fillPrice["SELL-CE"] = 10

	m := testManager(exec)
	state := models.NewRunState(models.ModeBacktest, 100000)
	now := time.Now()

	group, err := m.Submit(context.Background(), state, testSpec(), now)
	require.NoError(t, err)

	require.NoError(t, m.SubmitExit(context.Background(), state, group, models.ExitReasonWindow, now))
	ordersAfterExit := len(exec.submitted)

	require.NoError(t, m.SubmitExit(context.Background(), state, group, models.ExitReasonForced, now))
	require.Len(t, exec.submitted, ordersAfterExit, "a second exit must not double-close")
}

func TestTimeoutAfterPartialFillUnwindsExposure(t *testing.T) {
	exec := newFakeExecutor()
	exec.fillPrice["BUY-CE"] = 30
	exec.fillPrice["SELL-CE"] = 10
	// Sell leg fills 25 of 75, then goes silent until the timeout.
	exec.partial["SELL-CE"] = 25

	m := testManager(exec)
	state := models.NewRunState(models.ModeBacktest, 100000)
	start := time.Now()

	group, err := m.Submit(context.Background(), state, testSpec(), start)
	require.NoError(t, err)
	require.Equal(t, models.GroupPending, group.Status)
	require.Equal(t, 25, group.Legs[1].FilledQty)

	late := start.Add(config.Default().Execution.FillTimeout + time.Second)
	m.CheckTimeouts(context.Background(), state, late)

	require.Equal(t, models.GroupFailed, group.Status)
	require.Equal(t, models.LegCancelled, group.Legs[1].Status)

	// Both entry legs held contracts, so both get reverse orders, the
	// partially filled one for exactly its filled quantity.
	require.Len(t, group.ExitLegs, 2)
	require.Equal(t, "SELL-CE", group.ExitLegs[0].Instrument.Symbol)
	require.Equal(t, models.OrderSideBuy, group.ExitLegs[0].Side)
	require.Equal(t, 25, group.ExitLegs[0].Quantity)
	require.Equal(t, "BUY-CE", group.ExitLegs[1].Instrument.Symbol)
	require.Equal(t, 75, group.ExitLegs[1].Quantity)

	require.Zero(t, netContracts(group, "BUY-CE"))
	require.Zero(t, netContracts(group, "SELL-CE"))
	require.Len(t, state.Closed, 1)
	require.Empty(t, state.Open)

	// Premiums round-trip at the same prices; three completed orders of
	// brokerage are lost (the cancelled sell never completed).
	require.InDelta(t, 100000-3*20, state.CapitalAvailable, 1e-9)
}

func TestExitTimeoutResubmitsClosingLegs(t *testing.T) {
	exec := newFakeExecutor()
	exec.fillPrice["BUY-CE"] = 30
	exec.fillPrice["SELL-CE"] = 10

	m := testManager(exec)
	state := models.NewRunState(models.ModeBacktest, 100000)
	now := time.Now()

	group, err := m.Submit(context.Background(), state, testSpec(), now)
	require.NoError(t, err)
	require.Equal(t, models.GroupActive, group.Status)

	// The first closing order per symbol goes unanswered.
	exec.pending["BUY-CE"] = 1
	exec.pending["SELL-CE"] = 1

	exitAt := now.Add(5 * time.Hour)
	require.NoError(t, m.SubmitExit(context.Background(), state, group, models.ExitReasonWindow, exitAt))
	require.Equal(t, models.GroupActive, group.Status)
	ordersBefore := len(exec.submitted)

	late := exitAt.Add(config.Default().Execution.FillTimeout + time.Second)
	m.CheckTimeouts(context.Background(), state, late)

	// Each timed-out closing leg is cancelled and replaced by a fresh order
	// that fills, so the group still closes.
	require.Len(t, exec.submitted, ordersBefore+2)
	require.Equal(t, models.GroupCompleted, group.Status)
	require.Zero(t, netContracts(group, "BUY-CE"))
	require.Zero(t, netContracts(group, "SELL-CE"))
	require.Len(t, state.Closed, 1)
	require.Empty(t, state.Open)

	// Flat round trip again pays four completed orders of brokerage.
	require.InDelta(t, 100000-4*20, state.CapitalAvailable, 1e-9)
}

func TestLateFillOnCancelledLegIsFlattened(t *testing.T) {
	exec := newFakeExecutor()
	exec.fillPrice["BUY-CE"] = 30
	// Sell leg never answers, so the timeout fails the group.

	m := testManager(exec)
	state := models.NewRunState(models.ModeBacktest, 100000)
	start := time.Now()

	group, err := m.Submit(context.Background(), state, testSpec(), start)
	require.NoError(t, err)

	late := start.Add(config.Default().Execution.FillTimeout + time.Second)
	m.CheckTimeouts(context.Background(), state, late)
	require.Equal(t, models.GroupFailed, group.Status)
	require.Len(t, state.Closed, 1)

	sellLeg := group.Legs[1]
	require.Equal(t, models.LegCancelled, sellLeg.Status)

	// The cancel raced a real fill at the broker. The contracts count, the
	// leg stays cancelled, and a reverse order flattens them.
	exec.fillPrice["SELL-CE"] = 10
	capitalBefore := state.CapitalAvailable
	exits := len(group.ExitLegs)
	lateFill := models.FillEvent{LegID: sellLeg.ID, Price: 10, Quantity: 25, Timestamp: late}
	require.NoError(t, m.OnFillEvent(context.Background(), state, lateFill, late))

	require.Equal(t, models.LegCancelled, sellLeg.Status)
	require.Equal(t, 25, sellLeg.FilledQty)
	require.Len(t, group.ExitLegs, exits+1)

	flatten := group.ExitLegs[len(group.ExitLegs)-1]
	require.Equal(t, "SELL-CE", flatten.Instrument.Symbol)
	require.Equal(t, models.OrderSideBuy, flatten.Side)
	require.Equal(t, 25, flatten.Quantity)
	require.Equal(t, models.LegFilled, flatten.Status)

	require.Zero(t, netContracts(group, "SELL-CE"))
	// Premium in and out at the same price; one order of brokerage for the
	// flattening order.
	require.InDelta(t, capitalBefore-20, state.CapitalAvailable, 1e-9)
}

// netContracts sums signed filled quantity for one symbol across entry and
// closing legs. Zero means flat.
func netContracts(group *models.OrderGroup, symbol string) int {
	var net int
	for _, legs := range [][]*models.Leg{group.Legs, group.ExitLegs} {
		for _, l := range legs {
			if l.Instrument.Symbol != symbol {
				continue
			}
			if l.Side == models.OrderSideBuy {
				net += l.FilledQty
			} else {
				net -= l.FilledQty
			}
		}
	}
	return net
}
