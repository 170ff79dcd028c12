package strategy

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: the computed lot count never risks more than capital * risk_pct.
// Sizing always rounds down; the configured risk is a ceiling.
func TestProperty_MaxLotsNeverExceedsRiskBudget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(1702)

	properties := gopter.NewProperties(parameters)

	properties.Property("worst-case loss stays within the risk budget", prop.ForAll(
		func(capital, riskPct, width, netDebit float64, lotSize int) bool {
			in := SizingInput{
				Capital:           capital,
				RiskPct:           riskPct,
				SpreadWidth:       width,
				NetDebit:          netDebit,
				LotSize:           lotSize,
				BrokeragePerOrder: 20,
				OrdersPerTrip:     4,
			}
			lots := MaxLots(in)
			if lots < 0 {
				return false
			}
			if lots == 0 {
				return true
			}

			maxLoss := MaxLossPerUnit(width, netDebit)
			worstCase := maxLoss*float64(lotSize)*float64(lots) + 20*4
			return worstCase <= capital*riskPct+1e-9
		},
		gen.Float64Range(1000, 10_000_000),
		gen.Float64Range(0.001, 1),
		gen.Float64Range(50, 1000),
		gen.Float64Range(-500, 500),
		gen.IntRange(1, 500),
	))

	properties.Property("adding one lot would breach the budget", prop.ForAll(
		func(capital, riskPct, width, netDebit float64, lotSize int) bool {
			in := SizingInput{
				Capital:           capital,
				RiskPct:           riskPct,
				SpreadWidth:       width,
				NetDebit:          netDebit,
				LotSize:           lotSize,
				BrokeragePerOrder: 20,
				OrdersPerTrip:     4,
			}
			lots := MaxLots(in)
			maxLoss := MaxLossPerUnit(width, netDebit)
			if lots == 0 || maxLoss <= 0 {
				return true
			}

			oneMore := maxLoss*float64(lotSize)*float64(lots+1) + 20*4
			return oneMore > capital*riskPct
		},
		gen.Float64Range(1000, 10_000_000),
		gen.Float64Range(0.001, 1),
		gen.Float64Range(50, 1000),
		gen.Float64Range(-500, 500),
		gen.IntRange(1, 500),
	))

	properties.TestingRun(t)
}

func TestMaxLossPerUnit(t *testing.T) {
	tests := []struct {
		name     string
		width    float64
		netDebit float64
		want     float64
	}{
		{"debit spread loses the debit", 300, 20, 20},
		{"credit spread loses width minus credit", 300, -40, 260},
		{"zero-cost spread loses the width", 300, 0, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaxLossPerUnit(tt.width, tt.netDebit); got != tt.want {
				t.Errorf("MaxLossPerUnit(%v, %v) = %v, want %v", tt.width, tt.netDebit, got, tt.want)
			}
		})
	}
}

func TestMaxLots(t *testing.T) {
	// 100k capital at 2% risk leaves 2000; four orders of brokerage leave
	// 1920. A 20-point debit on lot size 75 risks 1500 per lot.
	in := SizingInput{
		Capital:           100000,
		RiskPct:           0.02,
		SpreadWidth:       300,
		NetDebit:          20,
		LotSize:           75,
		BrokeragePerOrder: 20,
		OrdersPerTrip:     4,
	}
	if got := MaxLots(in); got != 1 {
		t.Errorf("MaxLots = %d, want 1", got)
	}

	in.NetDebit = 30 // 2250 per lot exceeds the budget
	if got := MaxLots(in); got != 0 {
		t.Errorf("MaxLots with oversized debit = %d, want 0", got)
	}

	in.LotSize = 0
	if got := MaxLots(in); got != 0 {
		t.Errorf("MaxLots with zero lot size = %d, want 0", got)
	}
}
