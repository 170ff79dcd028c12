package models

import "time"

// Position is a materialized view over one instrument's filled legs. It is
// never mutated directly: the ledger recomputes it from OrderGroup state on
// every observation, which eliminates update-ordering bugs.
type Position struct {
	Instrument    Instrument
	NetQuantity   int // positive long, negative short
	AveragePrice  float64
	MarkPrice     float64
	UnrealizedPnL float64
	RealizedPnL   float64
}

// RunState is the single source of truth for one strategy run. It has a
// single owner: only the engine loop mutates it, never two decision cycles
// concurrently.
type RunState struct {
	Mode             RunMode
	Now              time.Time // simulated timestamp in backtest, wall clock otherwise
	InitialCapital   float64
	CapitalAvailable float64
	Open             []*OrderGroup
	Closed           []*OrderGroup
}

// NewRunState creates a run state with the full capital available.
func NewRunState(mode RunMode, capital float64) *RunState {
	return &RunState{
		Mode:             mode,
		InitialCapital:   capital,
		CapitalAvailable: capital,
	}
}

// ActiveGroup returns the open group carrying the strategy tag, or nil.
// At most one open group per tag exists at any time.
func (s *RunState) ActiveGroup(tag string) *OrderGroup {
	for _, g := range s.Open {
		if g.StrategyTag == tag && g.Open() {
			return g
		}
	}
	return nil
}

// GroupByID searches open then closed groups.
func (s *RunState) GroupByID(id string) *OrderGroup {
	for _, g := range s.Open {
		if g.ID == id {
			return g
		}
	}
	for _, g := range s.Closed {
		if g.ID == id {
			return g
		}
	}
	return nil
}

// Archive moves a group from the open set to the closed history.
func (s *RunState) Archive(group *OrderGroup) {
	for i, g := range s.Open {
		if g.ID == group.ID {
			s.Open = append(s.Open[:i], s.Open[i+1:]...)
			break
		}
	}
	s.Closed = append(s.Closed, group)
}

// CapitalUsedDelta is the signed change in equity since run start, counting
// open positions at their current mark value. The ledger invariant asserts
// realized + unrealized equals this at every recomputation.
func (s *RunState) CapitalUsedDelta(openMarkValue float64) float64 {
	return s.CapitalAvailable + openMarkValue - s.InitialCapital
}
