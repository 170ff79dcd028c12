package models

import (
	"time"
)

// LegStatus represents the lifecycle state of a single leg order.
type LegStatus string

const (
	LegPending         LegStatus = "PENDING"
	LegSubmitted       LegStatus = "SUBMITTED"
	LegFilled          LegStatus = "FILLED"
	LegPartiallyFilled LegStatus = "PARTIALLY_FILLED"
	LegRejected        LegStatus = "REJECTED"
	LegCancelled       LegStatus = "CANCELLED"
)

// Terminal reports whether no further fill events are expected for the leg.
func (s LegStatus) Terminal() bool {
	switch s {
	case LegFilled, LegRejected, LegCancelled:
		return true
	}
	return false
}

// GroupStatus represents the lifecycle state of a multi-leg order group.
type GroupStatus string

const (
	GroupPending   GroupStatus = "PENDING"
	GroupActive    GroupStatus = "ACTIVE"
	GroupCompleted GroupStatus = "COMPLETED"
	GroupFailed    GroupStatus = "FAILED"
)

// Leg is one constituent order of a multi-leg group. A leg is owned
// exclusively by its parent OrderGroup and is only mutated through the
// OrderManager's fill-event path.
type Leg struct {
	ID            string
	Instrument    Instrument
	Side          OrderSide
	Quantity      int // contracts (lots * lot size)
	IntendedPrice float64
	Status        LegStatus
	FillPrice     float64
	FilledQty     int
	FillTime      time.Time
	BrokerOrderID string
	SubmittedAt   time.Time
	RejectReason  string
}

// Remaining returns the unfilled contract count.
func (l *Leg) Remaining() int {
	return l.Quantity - l.FilledQty
}

// OrderGroup is a correlated set of leg orders with all-or-nothing
// semantics: the group becomes Active only when every entry leg is Filled,
// and a rejected or timed-out leg fails the group and unwinds any fills.
type OrderGroup struct {
	ID          string
	StrategyTag string
	Underlying  string
	Legs        []*Leg // entry legs, in submission order
	ExitLegs    []*Leg // closing legs, populated on exit or unwind
	Status      GroupStatus
	Lots        int
	LotSize     int
	Brokerage   float64 // cumulative flat fees charged so far
	CreatedAt   time.Time
	ClosedAt    time.Time
	FailReason  string
}

// AllEntryFilled reports whether every entry leg has fully filled.
func (g *OrderGroup) AllEntryFilled() bool {
	for _, l := range g.Legs {
		if l.Status != LegFilled {
			return false
		}
	}
	return len(g.Legs) > 0
}

// AllExitFilled reports whether the closing legs have settled and cover the
// full filled entry quantity. A cancelled closing leg may hold partial fills
// that a retry leg topped up, so this counts quantities rather than requiring
// every closing leg to end Filled.
func (g *OrderGroup) AllExitFilled() bool {
	if len(g.ExitLegs) == 0 {
		return false
	}
	var opened, closed int
	for _, l := range g.Legs {
		opened += l.FilledQty
	}
	for _, l := range g.ExitLegs {
		if !l.Status.Terminal() {
			return false
		}
		closed += l.FilledQty
	}
	return closed >= opened
}

// LegByID returns the entry or exit leg with the given ID.
func (g *OrderGroup) LegByID(id string) *Leg {
	for _, l := range g.Legs {
		if l.ID == id {
			return l
		}
	}
	for _, l := range g.ExitLegs {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// EntryNetDebit returns the per-contract net debit paid at entry: the sum of
// filled buy prices minus filled sell prices across entry legs.
func (g *OrderGroup) EntryNetDebit() float64 {
	var debit float64
	for _, l := range g.Legs {
		if l.Status != LegFilled {
			continue
		}
		if l.Side == OrderSideBuy {
			debit += l.FillPrice
		} else {
			debit -= l.FillPrice
		}
	}
	return debit
}

// ExitNetCredit returns the per-contract credit received when closing: the
// sum of closing sell prices minus closing buy prices.
func (g *OrderGroup) ExitNetCredit() float64 {
	var credit float64
	for _, l := range g.ExitLegs {
		if l.Status != LegFilled {
			continue
		}
		if l.Side == OrderSideSell {
			credit += l.FillPrice
		} else {
			credit -= l.FillPrice
		}
	}
	return credit
}

// CashFlow returns the signed premium cash flow of all filled legs, entry and
// exit: sells add, buys subtract, weighted by filled quantity. For a fully
// closed group, CashFlow minus Brokerage is the realized P&L; the sum handles
// partially filled unwinds correctly.
func (g *OrderGroup) CashFlow() float64 {
	var flow float64
	for _, legs := range [][]*Leg{g.Legs, g.ExitLegs} {
		for _, l := range legs {
			if l.FilledQty == 0 {
				continue
			}
			amount := l.FillPrice * float64(l.FilledQty)
			if l.Side == OrderSideSell {
				flow += amount
			} else {
				flow -= amount
			}
		}
	}
	return flow
}

// Open reports whether the group still has market exposure.
func (g *OrderGroup) Open() bool {
	return g.Status == GroupPending || g.Status == GroupActive
}

// FillEvent is a fill confirmation for one leg, regardless of origin: the
// simulator delivers it synchronously, the live adapter translates broker
// callbacks into it. Replays of the same event must not double-count.
type FillEvent struct {
	LegID         string
	BrokerOrderID string
	Price         float64
	Quantity      int
	Timestamp     time.Time
}
