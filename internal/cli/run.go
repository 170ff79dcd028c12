package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
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
	"spread-trader/pkg/utils"
)

func newRunCmd(app *App) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the strategy against live market data",
		Long: `Run the strategy against live market data, in paper mode (simulated
fills) or live mode (real Zerodha orders). Stop with Ctrl-C; open positions
are squared off before exit.`,
		Example: `  spread-trader run --mode paper
  spread-trader run --mode live`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := app.Config
			if mode != "" {
				cfg.Strategy.Mode = mode
			}

			runMode := cfg.Mode()
			if runMode != models.ModePaper && runMode != models.ModeLive {
				return fmt.Errorf("run requires --mode paper or live, got %q", cfg.Strategy.Mode)
			}
			if app.Broker == nil {
				return fmt.Errorf("broker not configured, set kite credentials in credentials.toml")
			}
			if app.Store == nil {
				return fmt.Errorf("data store unavailable")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Broker.Login(ctx); err != nil {
				return err
			}

			if !utils.IsMarketOpen(time.Now()) {
				output.Warning("Market is closed; next open %s", utils.NextMarketOpen(time.Now()).Format("Mon 2006-01-02 15:04"))
			}

			result, err := runLive(ctx, app, runMode)
			if err != nil {
				return err
			}

			summary := report.Summarize(result)
			if output.IsJSON() {
				return output.JSON(summary)
			}
			report.Render(output.Writer(), summary, result.Trades)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "run mode: paper or live (default from config)")
	return cmd
}

// runLive assembles the streaming pipeline and runs until interrupted.
func runLive(ctx context.Context, app *App, runMode models.RunMode) (*engine.Result, error) {
	cfg := app.Config
	logger := app.Logger

	gate, err := session.NewGate(cfg)
	if err != nil {
		return nil, err
	}

	// Load the instrument dump up front: the option chain, ticker tokens,
	// and order symbols all resolve against it.
	retry := utils.DefaultRetryConfig()
	if _, err := utils.RetryWithResult(ctx, retry, func() ([]models.Instrument, error) {
		return app.Broker.GetInstruments(ctx, models.NFO)
	}); err != nil {
		return nil, fmt.Errorf("loading NFO instruments: %w", err)
	}
	nseInstruments, err := utils.RetryWithResult(ctx, retry, func() ([]models.Instrument, error) {
		return app.Broker.GetInstruments(ctx, models.NSE)
	})
	if err != nil {
		return nil, fmt.Errorf("loading NSE instruments: %w", err)
	}

	indexToken, err := findIndexToken(nseInstruments, cfg.Strategy.Underlying)
	if err != nil {
		return nil, err
	}

	ticker, err := app.Broker.CreateTicker()
	if err != nil {
		return nil, err
	}
	ticker.RegisterSymbol(cfg.Strategy.Underlying, indexToken)

	if err := ticker.Connect(ctx); err != nil {
		return nil, err
	}
	if err := ticker.Subscribe([]string{cfg.Strategy.Underlying}); err != nil {
		return nil, err
	}

	source := market.NewLiveSource(ticker, market.DefaultLiveSourceConfig(), logger)

	now := time.Now().In(cfg.Location())
	expiries := market.WeeklyExpiries(now, now.AddDate(0, 0, 7), cfg.Location())
	chains := liveChains(app, cfg.Strategy.StrikeStep, cfg.Strategy.LotSize, expiries)

	var (
		executor orders.Executor
		adapter  *execution.LiveAdapter
		sim      *execution.Simulator
	)
	if runMode == models.ModeLive {
		adapter = execution.NewLiveAdapter(app.Broker, app.Store, "spread-trader", logger)
		executor = adapter
	} else {
		sim = execution.NewSimulator(cfg.Execution, &market.PriceModel{}, logger)
		executor = sim
	}

	manager := orders.NewManager(executor, cfg.Execution, logger)
	strat := strategy.NewBullCallSpread(cfg)
	core := engine.NewCore(cfg, gate, strat, manager, chains, app.Store, logger)
	if sim != nil {
		core.SetMarkSink(sim)
	}

	runner := engine.NewRunner(core, source, adapter, logger)
	if adapter != nil {
		ticker.OnOrderUpdate(runner.OnOrderUpdate)
	}

	logger.Info().Str("mode", string(runMode)).Str("underlying", cfg.Strategy.Underlying).Msg("Run started")
	return runner.Run(ctx)
}

// liveChains asks the broker for the listed chain at the nearest weekly
// expiry, falling back to a synthetic chain if the broker call fails.
func liveChains(app *App, strikeStep float64, lotSize int, expiries []time.Time) engine.ChainProvider {
	return func(ctx context.Context, underlying string, now time.Time, spot float64) (*models.OptionChain, error) {
		expiry, ok := market.NearestExpiry(expiries, now)
		if !ok {
			fresh := market.WeeklyExpiries(now, now.AddDate(0, 0, 7), now.Location())
			expiry, ok = market.NearestExpiry(fresh, now)
			if !ok {
				return nil, fmt.Errorf("no future weekly expiry for %s", now.Format("2006-01-02"))
			}
		}

		chain, err := app.Broker.GetOptionChain(ctx, underlying, expiry)
		if err != nil {
			app.Logger.Warn().Err(err).Msg("Broker chain unavailable, synthesizing")
			return market.SyntheticChain(underlying, spot, expiry, strikeStep, lotSize), nil
		}
		return chain, nil
	}
}

// findIndexToken resolves the spot index instrument token. Kite lists the
// NIFTY index as "NIFTY 50" and BANKNIFTY as "NIFTY BANK" on NSE.
func findIndexToken(instruments []models.Instrument, underlying string) (uint32, error) {
	names := map[string][]string{
		"NIFTY":     {"NIFTY 50"},
		"BANKNIFTY": {"NIFTY BANK"},
	}
	candidates := append(names[underlying], underlying)
	for _, name := range candidates {
		for _, inst := range instruments {
			if inst.Symbol == name {
				return inst.Token, nil
			}
		}
	}
	return 0, fmt.Errorf("index instrument for %s not found in NSE dump", underlying)
}
