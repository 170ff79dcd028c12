// Package session maps timestamps to trading-session state in the exchange
// timezone. The gate is deterministic and stateless so backtest and live runs
// classify identical timestamps identically.
package session

import (
	"time"

	"spread-trader/internal/config"
)

// State represents the trading-session phase of a timestamp.
type State string

const (
	PreOpen        State = "PRE_OPEN"
	EntryWindow    State = "ENTRY_WINDOW"
	RegularSession State = "REGULAR_SESSION"
	ExitWindow     State = "EXIT_WINDOW"
	PostClose      State = "POST_CLOSE"
)

// NSE regular session bounds.
var (
	marketOpen  = config.ClockTime{Hour: 9, Minute: 15}
	marketClose = config.ClockTime{Hour: 15, Minute: 30}
)

// Gate classifies timestamps against the configured entry and exit times.
//
// The entry window is nominally the single entry_time tick; because a sparse
// replay can miss that exact tick, the first observation within the configured
// tolerance after entry_time still classifies as EntryWindow. Exactly-once
// entry is the strategy's job (it refuses to enter twice per day); the gate
// only answers "could an entry happen now".
type Gate struct {
	loc       *time.Location
	entry     config.ClockTime
	exit      config.ClockTime
	tolerance time.Duration
}

// NewGate builds a gate from validated strategy configuration.
func NewGate(cfg *config.Config) (*Gate, error) {
	loc, err := time.LoadLocation(cfg.Strategy.Timezone)
	if err != nil {
		return nil, err
	}
	entry, err := config.ParseClock(cfg.Strategy.EntryTime)
	if err != nil {
		return nil, err
	}
	exit, err := config.ParseClock(cfg.Strategy.ExitTime)
	if err != nil {
		return nil, err
	}
	return &Gate{
		loc:       loc,
		entry:     entry,
		exit:      exit,
		tolerance: time.Duration(cfg.Execution.EntryToleranceSec) * time.Second,
	}, nil
}

// State returns the session phase of the timestamp.
func (g *Gate) State(t time.Time) State {
	local := t.In(g.loc)

	open := marketOpen.At(local, g.loc)
	closeAt := marketClose.At(local, g.loc)
	entryAt := g.entry.At(local, g.loc)
	exitAt := g.exit.At(local, g.loc)

	switch {
	case local.Before(open):
		return PreOpen
	case !local.Before(closeAt):
		return PostClose
	case !local.Before(exitAt):
		return ExitWindow
	case !local.Before(entryAt) && local.Before(entryAt.Add(g.tolerance)):
		return EntryWindow
	default:
		return RegularSession
	}
}

// TradingDay reports whether the date is a weekday. Exchange holidays are not
// modeled; the observation source simply produces no data on them.
func (g *Gate) TradingDay(t time.Time) bool {
	wd := t.In(g.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// ExitAt returns the forced-exit deadline for the timestamp's date.
func (g *Gate) ExitAt(t time.Time) time.Time {
	return g.exit.At(t.In(g.loc), g.loc)
}

// EntryAt returns the nominal entry tick for the timestamp's date.
func (g *Gate) EntryAt(t time.Time) time.Time {
	return g.entry.At(t.In(g.loc), g.loc)
}

// PastExit reports whether the timestamp is at or beyond the forced-exit
// deadline. Open legs past this point must be squared off unconditionally;
// running to completion with an open position is the failure this gate exists
// to prevent.
func (g *Gate) PastExit(t time.Time) bool {
	return !t.In(g.loc).Before(g.ExitAt(t))
}

// Location returns the exchange timezone.
func (g *Gate) Location() *time.Location {
	return g.loc
}
