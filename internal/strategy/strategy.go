// Package strategy implements the entry/exit decision logic. The engine is a
// pure function of its inputs: given identical observation and state
// sequences it produces identical decisions in every run mode, which is what
// makes backtest results predictive of live behavior.
package strategy

import (
	"time"

	"spread-trader/internal/models"
	"spread-trader/internal/session"
)

// EvalContext carries everything one evaluation may read. The engine loop
// assembles it deterministically; Evaluate never reaches outside it.
type EvalContext struct {
	Observation models.Observation
	State       *models.RunState
	Session     session.State
	// Chain is the listed option chain for the underlying at the nearest
	// future expiry; nil when unavailable (entry is then impossible).
	Chain *models.OptionChain
	// Marks holds the last observed or modeled price per instrument symbol,
	// used by stop rules.
	Marks map[string]float64
}

// Strategy evaluates one observation against the current run state.
type Strategy interface {
	Tag() string
	Evaluate(ev EvalContext) models.Decision
	// Instruments returns the symbols the strategy needs observations for
	// beyond the underlying, i.e. its open legs.
	Instruments(state *models.RunState) []string
}

// StopRule is a pluggable early-exit condition checked while a group is
// Active, ahead of the exit window.
type StopRule interface {
	Name() string
	ShouldExit(group *models.OrderGroup, marks map[string]float64, now time.Time) bool
}

// MaxLossStop exits when the open spread's marked loss exceeds the given
// fraction of its entry net debit.
type MaxLossStop struct {
	LossFraction float64
}

// Name returns the rule name.
func (r MaxLossStop) Name() string { return "max_loss" }

// ShouldExit reports whether the marked loss breaches the threshold.
func (r MaxLossStop) ShouldExit(group *models.OrderGroup, marks map[string]float64, now time.Time) bool {
	if r.LossFraction <= 0 {
		return false
	}
	entryDebit := group.EntryNetDebit()
	if entryDebit <= 0 {
		return false
	}

	var markDebit float64
	for _, l := range group.Legs {
		mark, ok := marks[l.Instrument.Symbol]
		if !ok {
			// No mark for a leg yet: cannot evaluate the spread value.
			return false
		}
		if l.Side == models.OrderSideBuy {
			markDebit += mark
		} else {
			markDebit -= mark
		}
	}

	loss := entryDebit - markDebit
	return loss >= entryDebit*r.LossFraction
}
