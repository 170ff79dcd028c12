package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spread-trader/internal/engine"
	"spread-trader/internal/execution"
	"spread-trader/internal/market"
	"spread-trader/internal/models"
	"spread-trader/internal/orders"
	"spread-trader/internal/report"
	"spread-trader/internal/session"
	"spread-trader/internal/strategy"
)

func newBacktestCmd(app *App) *cobra.Command {
	var (
		fromDate  string
		toDate    string
		timeframe string
		export    string
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay historical candles through the strategy",
		Long: `Replay stored historical candles through the strategy with simulated
fills. Candles must be imported first with 'spread-trader data import'.

Option premiums are synthesized from the underlying spot, so only the
underlying's candles are required.`,
		Example: `  spread-trader backtest --from 2024-01-01 --to 2024-03-31
  spread-trader backtest --export trades.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("data store unavailable")
			}

			cfg := app.Config
			if fromDate == "" {
				fromDate = cfg.Backtest.FromDate
			}
			if toDate == "" {
				toDate = cfg.Backtest.ToDate
			}

			loc := cfg.Location()
			from, err := time.ParseInLocation("2006-01-02", fromDate, loc)
			if err != nil {
				return fmt.Errorf("invalid --from date %q: %w", fromDate, err)
			}
			to, err := time.ParseInLocation("2006-01-02", toDate, loc)
			if err != nil {
				return fmt.Errorf("invalid --to date %q: %w", toDate, err)
			}
			to = to.AddDate(0, 0, 1) // inclusive end date

			result, err := runBacktest(cmd.Context(), app, from, to, timeframe)
			if err != nil {
				return err
			}

			summary := report.Summarize(result)
			if output.IsJSON() {
				if err := output.JSON(summary); err != nil {
					return err
				}
			} else {
				report.Render(output.Writer(), summary, result.Trades)
			}

			if export != "" {
				if err := report.ExportCSV(export, result.Trades); err != nil {
					return err
				}
				output.Success("✓ Trades exported to %s", export)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fromDate, "from", "", "start date YYYY-MM-DD (default from config)")
	cmd.Flags().StringVar(&toDate, "to", "", "end date YYYY-MM-DD (default from config)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "1m", "candle timeframe to replay")
	cmd.Flags().StringVar(&export, "export", "", "write trade journal to CSV file")
	return cmd
}

// runBacktest assembles the replay pipeline and runs it to completion.
func runBacktest(ctx context.Context, app *App, from, to time.Time, timeframe string) (*engine.Result, error) {
	cfg := app.Config
	cfg.Strategy.Mode = string(models.ModeBacktest)

	gate, err := session.NewGate(cfg)
	if err != nil {
		return nil, err
	}

	source, err := market.NewHistoricalSource(ctx, app.Store, []string{cfg.Strategy.Underlying}, timeframe, from, to)
	if err != nil {
		return nil, err
	}

	sim := execution.NewSimulator(cfg.Execution, &market.PriceModel{}, app.Logger)
	manager := orders.NewManager(sim, cfg.Execution, app.Logger)
	strat := strategy.NewBullCallSpread(cfg)
	expiries := market.WeeklyExpiries(from, to, cfg.Location())
	chains := engine.SyntheticChains(cfg, expiries)

	core := engine.NewCore(cfg, gate, strat, manager, chains, app.Store, app.Logger)
	core.SetMarkSink(sim)

	return engine.NewBacktest(core, source, app.Logger).Run(ctx)
}
