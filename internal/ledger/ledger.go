// Package ledger recomputes positions and P&L from order-group state. It
// never carries state of its own: every snapshot is derived fresh from the
// RunState and the current marks, so P&L can never drift out of sync with
// fills.
package ledger

import (
	"math"
	"sort"
	"time"

	"spread-trader/internal/models"
)

// PriceFunc resolves the current mark for an instrument. A false return
// means no price is available and the last fill price is used instead.
type PriceFunc func(inst models.Instrument) (float64, bool)

// Snapshot is the derived P&L view at one instant.
type Snapshot struct {
	Time             time.Time
	InitialCapital   float64
	CapitalAvailable float64
	Realized         float64 // closed groups: premium cash flow minus fees
	Unrealized       float64 // open groups: mark value plus cash flow so far
	OpenMarkValue    float64 // liquidation value of open net positions
	Equity           float64 // CapitalAvailable + OpenMarkValue
	Positions        []models.Position
	OpenGroups       int
	ClosedGroups     int
}

// invariantTolerance absorbs float accumulation noise across thousands of
// fills; any real accounting bug exceeds it by orders of magnitude.
const invariantTolerance = 1e-6

// Recompute derives a full snapshot from the run state. Realized P&L comes
// from closed groups, unrealized from marking open net positions; the two
// always reconcile against the capital delta.
func Recompute(state *models.RunState, now time.Time, price PriceFunc) Snapshot {
	snap := Snapshot{
		Time:             now,
		InitialCapital:   state.InitialCapital,
		CapitalAvailable: state.CapitalAvailable,
		OpenGroups:       len(state.Open),
		ClosedGroups:     len(state.Closed),
	}

	for _, g := range state.Closed {
		snap.Realized += g.CashFlow() - g.Brokerage
	}

	book := make(map[string]*models.Position)
	for _, g := range state.Open {
		groupValue := accumulate(book, g, price)
		snap.OpenMarkValue += groupValue
		snap.Unrealized += groupValue + g.CashFlow() - g.Brokerage
	}

	snap.Equity = snap.CapitalAvailable + snap.OpenMarkValue
	snap.Positions = flatten(book)
	return snap
}

// InvariantHolds verifies realized + unrealized == capital-used delta. Both
// sides are derived from the same fills through different paths, so a
// mismatch means a fill was double-counted or dropped.
func (s Snapshot) InvariantHolds(state *models.RunState) bool {
	delta := state.CapitalUsedDelta(s.OpenMarkValue)
	return math.Abs(s.Realized+s.Unrealized-delta) <= invariantTolerance*scale(delta)
}

func scale(v float64) float64 {
	if a := math.Abs(v); a > 1 {
		return a
	}
	return 1
}

// accumulate folds one group's filled legs into the position book and
// returns the group's net mark value.
func accumulate(book map[string]*models.Position, g *models.OrderGroup, price PriceFunc) float64 {
	var value float64
	for _, legs := range [][]*models.Leg{g.Legs, g.ExitLegs} {
		for _, l := range legs {
			if l.FilledQty == 0 {
				continue
			}
			pos, ok := book[l.Instrument.Symbol]
			if !ok {
				pos = &models.Position{Instrument: l.Instrument}
				book[l.Instrument.Symbol] = pos
			}

			qty := l.FilledQty
			if l.Side == models.OrderSideSell {
				qty = -qty
			}
			pos.NetQuantity += qty

			mark, ok := price(l.Instrument)
			if !ok {
				mark = l.FillPrice
			}
			pos.MarkPrice = mark
			value += mark * float64(qty)
		}
	}
	return value
}

func flatten(book map[string]*models.Position) []models.Position {
	out := make([]models.Position, 0, len(book))
	for _, p := range book {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instrument.Symbol < out[j].Instrument.Symbol
	})
	return out
}
