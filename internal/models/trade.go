package models

import "time"

// TradeRecord summarizes one completed spread round trip for the journal and
// reports. It is derived from a closed OrderGroup.
type TradeRecord struct {
	GroupID     string     `csv:"group_id"`
	StrategyTag string     `csv:"strategy"`
	Underlying  string     `csv:"underlying"`
	Mode        string     `csv:"mode"`
	BuySymbol   string     `csv:"buy_symbol"`
	SellSymbol  string     `csv:"sell_symbol"`
	Lots        int        `csv:"lots"`
	LotSize     int        `csv:"lot_size"`
	EntryDebit  float64    `csv:"entry_debit"`
	ExitCredit  float64    `csv:"exit_credit"`
	Brokerage   float64    `csv:"brokerage"`
	RealizedPnL float64    `csv:"realized_pnl"`
	EntryTime   time.Time  `csv:"entry_time"`
	ExitTime    time.Time  `csv:"exit_time"`
	FailReason  string     `csv:"fail_reason"`
	Status      GroupStatus `csv:"status"`
}

// TradeFromGroup builds the journal record for a closed group.
func TradeFromGroup(g *OrderGroup, mode RunMode) TradeRecord {
	rec := TradeRecord{
		GroupID:     g.ID,
		StrategyTag: g.StrategyTag,
		Underlying:  g.Underlying,
		Mode:        string(mode),
		Lots:        g.Lots,
		LotSize:     g.LotSize,
		EntryDebit:  g.EntryNetDebit(),
		ExitCredit:  g.ExitNetCredit(),
		Brokerage:   g.Brokerage,
		EntryTime:   g.CreatedAt,
		ExitTime:    g.ClosedAt,
		FailReason:  g.FailReason,
		Status:      g.Status,
	}
	for _, l := range g.Legs {
		if l.Side == OrderSideBuy {
			rec.BuySymbol = l.Instrument.Symbol
		} else {
			rec.SellSymbol = l.Instrument.Symbol
		}
	}
	rec.RealizedPnL = g.CashFlow() - g.Brokerage
	return rec
}
