package models

// DecisionKind discriminates the outcome of one strategy evaluation.
type DecisionKind string

const (
	DecideNoAction DecisionKind = "NO_ACTION"
	DecideEnter    DecisionKind = "ENTER"
	DecideExit     DecisionKind = "EXIT"
)

// ExitReason explains why an exit decision fired.
type ExitReason string

const (
	ExitReasonWindow      ExitReason = "exit_window"
	ExitReasonForced      ExitReason = "forced_square_off"
	ExitReasonStopRule    ExitReason = "stop_rule"
	ExitReasonRunTeardown ExitReason = "run_teardown"
)

// EnterSpec fully describes the spread to open. It is produced by the
// strategy and consumed by the order manager; everything needed to build the
// leg orders is resolved here so the decision is replayable.
type EnterSpec struct {
	StrategyTag string
	Underlying  string
	BuyLeg      Instrument
	SellLeg     Instrument
	Lots        int
	LotSize     int
	// Theoretical premiums at decision time, used as intended prices.
	BuyPremium  float64
	SellPremium float64
}

// NetDebit returns the expected per-contract debit of the spread.
func (e EnterSpec) NetDebit() float64 {
	return e.BuyPremium - e.SellPremium
}

// Decision is the outcome of one strategy evaluation. The strategy is a pure
// function: identical observation and state sequences yield identical
// decisions in every run mode.
type Decision struct {
	Kind    DecisionKind
	Enter   *EnterSpec // set when Kind == DecideEnter
	GroupID string     // set when Kind == DecideExit
	Reason  ExitReason // set when Kind == DecideExit
}

// NoAction is the zero decision.
var NoAction = Decision{Kind: DecideNoAction}
