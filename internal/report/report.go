// Package report computes run statistics and renders them for the terminal.
package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/gocarina/gocsv"
	"github.com/montanaflynn/stats"
	"github.com/olekukonko/tablewriter"

	"spread-trader/internal/engine"
	"spread-trader/internal/models"
	"spread-trader/pkg/utils"
)

// Summary holds the aggregate statistics of a finished run.
type Summary struct {
	Mode           models.RunMode
	From, To       time.Time
	InitialCapital float64
	FinalEquity    float64
	TotalPnL       float64
	ReturnPct      float64
	Trades         int
	Wins           int
	Losses         int
	WinRate        float64
	ProfitFactor   float64
	AvgWin         float64
	AvgLoss        float64
	MaxDrawdown    float64 // fraction of peak equity
	SharpeRatio    float64 // annualized from daily equity samples
	Failed         int     // groups that failed and were unwound
}

// Summarize computes the summary statistics for a run result.
func Summarize(result *engine.Result) Summary {
	s := Summary{
		Mode:           result.Mode,
		From:           result.From,
		To:             result.To,
		InitialCapital: result.InitialCapital,
		FinalEquity:    result.Final.Equity,
		Trades:         len(result.Trades),
	}
	s.TotalPnL = s.FinalEquity - s.InitialCapital
	if s.InitialCapital > 0 {
		s.ReturnPct = s.TotalPnL / s.InitialCapital * 100
	}

	var grossWin, grossLoss float64
	for _, t := range result.Trades {
		if t.Status == models.GroupFailed {
			s.Failed++
		}
		if t.RealizedPnL > 0 {
			s.Wins++
			grossWin += t.RealizedPnL
		} else if t.RealizedPnL < 0 {
			s.Losses++
			grossLoss += -t.RealizedPnL
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	if s.Wins > 0 {
		s.AvgWin = grossWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = grossLoss / float64(s.Losses)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossWin / grossLoss
	}

	s.MaxDrawdown = maxDrawdown(result.Curve)
	s.SharpeRatio = sharpe(result.Curve)
	return s
}

// maxDrawdown returns the largest peak-to-trough equity decline as a
// fraction of the peak.
func maxDrawdown(curve []engine.EquityPoint) float64 {
	var peak, worst float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe annualizes the mean daily return over its standard deviation,
// assuming 252 trading days and a zero risk-free rate.
func sharpe(curve []engine.EquityPoint) float64 {
	if len(curve) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean, err := stats.Mean(returns)
	if err != nil {
		return 0
	}
	sd, err := stats.StandardDeviation(returns)
	if err != nil || sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(252)
}

// Render writes the summary and the per-trade table to w.
func Render(w io.Writer, s Summary, trades []models.TradeRecord) {
	fmt.Fprintln(w)
	color.Cyan("📊 %s Run  %s → %s", s.Mode, s.From.Format("2006-01-02"), s.To.Format("2006-01-02"))
	fmt.Fprintln(w, "─────────────────────────────────────────")
	fmt.Fprintf(w, "%-18s %s\n", "Initial Capital:", utils.FormatIndianCurrency(s.InitialCapital))
	fmt.Fprintf(w, "%-18s %s\n", "Final Equity:", utils.FormatIndianCurrency(s.FinalEquity))
	fmt.Fprintf(w, "%-18s %s (%s)\n", "Total P&L:", utils.FormatPnL(s.TotalPnL), utils.FormatPercent(s.ReturnPct))
	fmt.Fprintf(w, "%-18s %d (%d wins / %d losses / %d failed)\n", "Trades:", s.Trades, s.Wins, s.Losses, s.Failed)
	fmt.Fprintf(w, "%-18s %.1f%%\n", "Win Rate:", s.WinRate)
	if s.ProfitFactor > 0 {
		fmt.Fprintf(w, "%-18s %.2f\n", "Profit Factor:", s.ProfitFactor)
	}
	fmt.Fprintf(w, "%-18s %.2f%%\n", "Max Drawdown:", s.MaxDrawdown*100)
	fmt.Fprintf(w, "%-18s %.2f\n", "Sharpe Ratio:", s.SharpeRatio)
	fmt.Fprintln(w)

	if len(trades) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Date", "Spread", "Lots", "Entry", "Exit", "Fees", "P&L", "Status"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetBorder(false)

	for _, t := range trades {
		table.Append([]string{
			t.EntryTime.Format("2006-01-02"),
			fmt.Sprintf("%s/%s", t.BuySymbol, t.SellSymbol),
			fmt.Sprintf("%d", t.Lots),
			fmt.Sprintf("%.2f", t.EntryDebit),
			fmt.Sprintf("%.2f", t.ExitCredit),
			fmt.Sprintf("%.0f", t.Brokerage),
			utils.FormatPnL(t.RealizedPnL),
			string(t.Status),
		})
	}
	table.Render()

	switch {
	case s.TotalPnL > 0:
		color.Green("✓ Net profit %s", utils.FormatPnL(s.TotalPnL))
	case s.TotalPnL < 0:
		color.Red("✗ Net loss %s", utils.FormatPnL(s.TotalPnL))
	}
	fmt.Fprintln(w)
}

// ExportCSV writes the trade journal to a CSV file.
func ExportCSV(path string, trades []models.TradeRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating trade export: %w", err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&trades, f); err != nil {
		return fmt.Errorf("writing trade export: %w", err)
	}
	return nil
}
