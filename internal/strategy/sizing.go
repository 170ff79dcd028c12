package strategy

import "math"

// SizingInput holds the position-sizing parameters for one spread entry.
type SizingInput struct {
	Capital           float64
	RiskPct           float64
	SpreadWidth       float64
	NetDebit          float64 // positive when premium is paid, negative when received
	LotSize           int
	BrokeragePerOrder float64
	OrdersPerTrip     int
}

// MaxLossPerUnit returns the worst-case loss per contract of a vertical
// spread. A debit spread loses at most the debit paid; a credit spread loses
// the width less the credit received.
func MaxLossPerUnit(width, netDebit float64) float64 {
	if netDebit > 0 {
		return netDebit
	}
	return width + netDebit
}

// MaxLots computes the largest lot count whose worst-case loss, including
// round-trip brokerage, stays within capital * risk_pct. Always rounds down:
// the configured risk is a ceiling, never exceeded.
func MaxLots(in SizingInput) int {
	if in.LotSize <= 0 {
		return 0
	}
	maxLoss := MaxLossPerUnit(in.SpreadWidth, in.NetDebit)
	if maxLoss <= 0 {
		return 0
	}

	riskBudget := in.Capital*in.RiskPct - in.BrokeragePerOrder*float64(in.OrdersPerTrip)
	perLotRisk := maxLoss * float64(in.LotSize)
	if riskBudget <= 0 || perLotRisk <= 0 {
		return 0
	}

	lots := int(math.Floor(riskBudget / perLotRisk))
	if lots < 0 {
		return 0
	}
	return lots
}
