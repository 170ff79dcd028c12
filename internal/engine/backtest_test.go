package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"spread-trader/internal/config"
	"spread-trader/internal/execution"
	"spread-trader/internal/market"
	"spread-trader/internal/models"
	"spread-trader/internal/orders"
	"spread-trader/internal/session"
	"spread-trader/internal/strategy"
)

type candleProvider struct {
	series map[string][]models.Candle
}

func (p *candleProvider) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	return p.series[symbol], nil
}

// tradingDay builds one day of 1-minute candles at a constant spot, from
// 09:15 up to but not including the given end minute.
func tradingDay(day time.Time, spot float64, endHour, endMin int, skip func(t time.Time) bool) []models.Candle {
	start := time.Date(day.Year(), day.Month(), day.Day(), 9, 15, 0, 0, day.Location())
	end := time.Date(day.Year(), day.Month(), day.Day(), endHour, endMin, 0, 0, day.Location())

	var out []models.Candle
	for t := start; t.Before(end); t = t.Add(time.Minute) {
		if skip != nil && skip(t) {
			continue
		}
		out = append(out, models.Candle{Timestamp: t, Open: spot, High: spot, Low: spot, Close: spot})
	}
	return out
}

func newBacktestHarness(t *testing.T, candles []models.Candle) (*Backtest, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.Strategy.Mode = string(models.ModeBacktest)

	gate, err := session.NewGate(cfg)
	require.NoError(t, err)

	sim := execution.NewSimulator(cfg.Execution, &market.PriceModel{}, zerolog.Nop())
	manager := orders.NewManager(sim, cfg.Execution, zerolog.Nop())
	strat := strategy.NewBullCallSpread(cfg)

	provider := &candleProvider{series: map[string][]models.Candle{"NIFTY": candles}}
	from := candles[0].Timestamp
	to := candles[len(candles)-1].Timestamp
	source, err := market.NewHistoricalSource(context.Background(), provider, []string{"NIFTY"}, "1m", from, to)
	require.NoError(t, err)

	expiries := market.WeeklyExpiries(from, to, gate.Location())
	core := NewCore(cfg, gate, strat, manager, SyntheticChains(cfg, expiries), nil, zerolog.Nop())
	core.SetMarkSink(sim)

	return NewBacktest(core, source, zerolog.Nop()), cfg
}

func TestBacktestFullDayRoundTrip(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, loc) // Tuesday, expiry Thursday Jan 4

	bt, cfg := newBacktestHarness(t, tradingDay(day, 22013, 15, 30, nil))

	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	require.Equal(t, models.GroupCompleted, trade.Status)
	require.Equal(t, 1, trade.Lots)
	require.Equal(t, 75, trade.LotSize)

	// Flat spot all day: the model marks are unchanged between entry and
	// exit, so the round trip costs exactly the slippage on four orders plus
	// four orders of brokerage.
	slippage := 4 * cfg.Execution.SlippagePoints * 75
	brokerage := 4 * cfg.Execution.BrokeragePerOrder
	require.InDelta(t, -(slippage + brokerage), trade.RealizedPnL, 1e-9)

	// Entry lands inside the entry window, exit at the square-off deadline.
	require.Equal(t, 9, trade.EntryTime.In(loc).Hour())
	require.Equal(t, 25, trade.EntryTime.In(loc).Minute())
	require.Equal(t, 15, trade.ExitTime.In(loc).Hour())
	require.Equal(t, 20, trade.ExitTime.In(loc).Minute())

	require.Zero(t, result.Final.OpenGroups)
	require.InDelta(t, cfg.Strategy.Capital-(slippage+brokerage), result.Final.Equity, 1e-9)
	require.NotEmpty(t, result.Curve)
}

func TestBacktestReplayIsIdentical(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, loc)
	candles := tradingDay(day, 22013, 15, 30, nil)

	run := func() *Result {
		bt, _ := newBacktestHarness(t, candles)
		result, err := bt.Run(context.Background())
		require.NoError(t, err)
		return result
	}

	first, second := run(), run()

	require.Equal(t, len(first.Trades), len(second.Trades))
	for i := range first.Trades {
		require.Equal(t, first.Trades[i].RealizedPnL, second.Trades[i].RealizedPnL)
		require.Equal(t, first.Trades[i].EntryDebit, second.Trades[i].EntryDebit)
		require.Equal(t, first.Trades[i].ExitCredit, second.Trades[i].ExitCredit)
	}
	require.Equal(t, first.Final.Equity, second.Final.Equity)
	require.Equal(t, len(first.Curve), len(second.Curve))
}

func TestBacktestDataGapSuppressesEntry(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, loc)

	// Candles vanish over the whole entry window; the first observation after
	// the gap must not produce a decision from stale context.
	gap := func(ts time.Time) bool {
		m := ts.Hour()*60 + ts.Minute()
		return m >= 9*60+24 && m <= 9*60+26
	}
	bt, cfg := newBacktestHarness(t, tradingDay(day, 22013, 15, 30, gap))

	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	require.Empty(t, result.Trades)
	require.InDelta(t, cfg.Strategy.Capital, result.Final.Equity, 1e-9)
}

func TestBacktestTeardownClosesOpenExposure(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, loc)

	// Stream ends at 13:00 with the spread still open.
	bt, _ := newBacktestHarness(t, tradingDay(day, 22013, 13, 0, nil))

	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	require.Equal(t, models.GroupCompleted, result.Trades[0].Status)
	require.Zero(t, result.Final.OpenGroups)
}

func TestBacktestEquityCurveSamplesDaily(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	var candles []models.Candle
	for _, d := range []int{2, 3} { // Tuesday and Wednesday
		day := time.Date(2024, 1, d, 0, 0, 0, 0, loc)
		candles = append(candles, tradingDay(day, 22013, 15, 30, nil)...)
	}

	bt, _ := newBacktestHarness(t, candles)
	result, err := bt.Run(context.Background())
	require.NoError(t, err)

	// One rollover sample plus the final teardown sample.
	require.Len(t, result.Curve, 2)
	require.True(t, result.Curve[0].Time.Before(result.Curve[1].Time))
	require.Len(t, result.Trades, 2)
}
