package strategy

import (
	"time"

	"spread-trader/internal/config"
	"spread-trader/internal/market"
	"spread-trader/internal/models"
	"spread-trader/internal/session"
)

// BullCallSpread buys the ATM call and sells the call spread_width points
// higher, once per trading day inside the entry window, and closes the
// position in the exit window or on a stop rule.
type BullCallSpread struct {
	cfg    config.StrategyConfig
	exec   config.ExecutionConfig
	loc    *time.Location
	stops  []StopRule
	pricer market.PriceModel
}

// StrategyTag identifies this strategy's order groups.
const StrategyTag = "bull-call-spread"

// NewBullCallSpread builds the strategy from validated configuration.
func NewBullCallSpread(cfg *config.Config, stops ...StopRule) *BullCallSpread {
	return &BullCallSpread{
		cfg:   cfg.Strategy,
		exec:  cfg.Execution,
		loc:   cfg.Location(),
		stops: stops,
	}
}

// Tag returns the strategy tag.
func (s *BullCallSpread) Tag() string { return StrategyTag }

// Instruments returns the open leg symbols that need price marks.
func (s *BullCallSpread) Instruments(state *models.RunState) []string {
	var symbols []string
	for _, g := range state.Open {
		if g.StrategyTag != StrategyTag {
			continue
		}
		for _, l := range g.Legs {
			symbols = append(symbols, l.Instrument.Symbol)
		}
	}
	return symbols
}

// Evaluate implements the decision logic. Only observations of the
// underlying drive decisions; leg observations update marks upstream.
func (s *BullCallSpread) Evaluate(ev EvalContext) models.Decision {
	if ev.Observation.InstrumentID != s.cfg.Underlying {
		return models.NoAction
	}

	if group := ev.State.ActiveGroup(StrategyTag); group != nil {
		return s.evaluateExit(ev, group)
	}

	if ev.Session != session.EntryWindow {
		return models.NoAction
	}
	if s.enteredToday(ev.State, ev.Observation.Timestamp) {
		return models.NoAction
	}
	return s.evaluateEntry(ev)
}

func (s *BullCallSpread) evaluateExit(ev EvalContext, group *models.OrderGroup) models.Decision {
	if ev.Session == session.ExitWindow || ev.Session == session.PostClose {
		return models.Decision{Kind: models.DecideExit, GroupID: group.ID, Reason: models.ExitReasonWindow}
	}

	if group.Status == models.GroupActive {
		for _, rule := range s.stops {
			if rule.ShouldExit(group, ev.Marks, ev.Observation.Timestamp) {
				return models.Decision{Kind: models.DecideExit, GroupID: group.ID, Reason: models.ExitReasonStopRule}
			}
		}
	}

	return models.NoAction
}

func (s *BullCallSpread) evaluateEntry(ev EvalContext) models.Decision {
	spot := ev.Observation.LastPrice
	if spot <= 0 || ev.Chain == nil || len(ev.Chain.Strikes) == 0 {
		return models.NoAction
	}

	buyStrike := ev.Chain.StrikeNearest(spot)
	sellStrike, ok := nearestAbove(ev.Chain.Strikes, buyStrike, buyStrike+s.cfg.SpreadWidth)
	if !ok {
		return models.NoAction
	}

	buyLeg, ok := ev.Chain.Calls[buyStrike]
	if !ok {
		return models.NoAction
	}
	sellLeg, ok := ev.Chain.Calls[sellStrike]
	if !ok {
		return models.NoAction
	}

	buyPremium := s.markOrModel(ev, buyLeg, spot)
	sellPremium := s.markOrModel(ev, sellLeg, spot)

	lotSize := s.cfg.LotSize
	if buyLeg.LotSize > 0 {
		lotSize = buyLeg.LotSize
	}

	lots := MaxLots(SizingInput{
		Capital:           s.cfg.Capital,
		RiskPct:           s.cfg.RiskPct,
		SpreadWidth:       sellStrike - buyStrike,
		NetDebit:          buyPremium - sellPremium,
		LotSize:           lotSize,
		BrokeragePerOrder: s.exec.BrokeragePerOrder,
		OrdersPerTrip:     4, // two legs in, two legs out
	})
	if lots <= 0 {
		return models.NoAction
	}

	return models.Decision{
		Kind: models.DecideEnter,
		Enter: &models.EnterSpec{
			StrategyTag: StrategyTag,
			Underlying:  s.cfg.Underlying,
			BuyLeg:      buyLeg,
			SellLeg:     sellLeg,
			Lots:        lots,
			LotSize:     lotSize,
			BuyPremium:  buyPremium,
			SellPremium: sellPremium,
		},
	}
}

// markOrModel prefers an observed market price for the leg and falls back to
// the theoretical model when none has been seen yet.
func (s *BullCallSpread) markOrModel(ev EvalContext, inst models.Instrument, spot float64) float64 {
	if mark, ok := ev.Marks[inst.Symbol]; ok && mark > 0 {
		return mark
	}
	return s.pricer.Premium(inst, spot, ev.Observation.Timestamp)
}

// enteredToday reports whether a group with this tag was already created on
// the observation's trading day. Derived purely from run state so replays
// agree.
func (s *BullCallSpread) enteredToday(state *models.RunState, ts time.Time) bool {
	day := ts.In(s.loc)
	sameDay := func(t time.Time) bool {
		lt := t.In(s.loc)
		return lt.Year() == day.Year() && lt.YearDay() == day.YearDay()
	}
	for _, g := range state.Open {
		if g.StrategyTag == StrategyTag && sameDay(g.CreatedAt) {
			return true
		}
	}
	for _, g := range state.Closed {
		if g.StrategyTag == StrategyTag && sameDay(g.CreatedAt) {
			return true
		}
	}
	return false
}

// nearestAbove returns the strike above floor closest to target. Ties
// resolve to the lower strike.
func nearestAbove(strikes []float64, floor, target float64) (float64, bool) {
	var best float64
	found := false
	for _, s := range strikes {
		if s <= floor {
			continue
		}
		if !found || distance(s, target) < distance(best, target) {
			best, found = s, true
		}
	}
	return best, found
}

func distance(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
