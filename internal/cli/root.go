package cli

import (
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"spread-trader/internal/broker"
	"spread-trader/internal/config"
	"spread-trader/internal/logging"
	"spread-trader/internal/store"
	"spread-trader/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-06-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Broker broker.Broker
	Store  store.DataStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Credentials.Kite.APIKey != "" {
		app.Broker = broker.NewZerodhaBroker(broker.ZerodhaConfig{
			APIKey:    cfg.Credentials.Kite.APIKey,
			APISecret: cfg.Credentials.Kite.APISecret,
			UserID:    cfg.Credentials.Kite.UserID,
		})
		logger.Debug().Msg("Zerodha broker initialized")
	}

	dbPath := filepath.Join(config.DefaultConfigDir(), "trader.db")
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, some features may be unavailable")
	} else {
		app.Store = dataStore
	}

	rootCmd := &cobra.Command{
		Use:   "spread-trader",
		Short: "Options spread trading engine for Indian index derivatives",
		Long: `spread-trader runs a bull call spread strategy on NIFTY/BANKNIFTY weekly
options in three modes that share identical decision logic:

  backtest  replay historical candles with simulated fills
  paper     live market data with simulated fills
  live      live market data with real Zerodha orders

Use 'spread-trader help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/spread-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addAuthCommands(rootCmd, app)
	addDataCommands(rootCmd, app)
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newReportCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("spread-trader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Strategy")
	output.Printf("  Underlying:    %s\n", cfg.Strategy.Underlying)
	output.Printf("  Capital:       %s\n", utils.FormatIndianCurrency(cfg.Strategy.Capital))
	output.Printf("  Risk %%:        %.1f%%\n", cfg.Strategy.RiskPct*100)
	output.Printf("  Spread Width:  %.0f\n", cfg.Strategy.SpreadWidth)
	output.Printf("  Entry/Exit:    %s / %s %s\n", cfg.Strategy.EntryTime, cfg.Strategy.ExitTime, cfg.Strategy.Timezone)
	output.Printf("  Lot Size:      %d\n", cfg.Strategy.LotSize)
	output.Printf("  Mode:          %s\n", cfg.Strategy.Mode)
	output.Println()

	output.Bold("Execution")
	output.Printf("  Slippage:      %.2f pts\n", cfg.Execution.SlippagePoints)
	output.Printf("  Brokerage:     %s per order\n", utils.FormatIndianCurrency(cfg.Execution.BrokeragePerOrder))
	output.Printf("  Fill Timeout:  %s\n", cfg.Execution.FillTimeout)
	output.Printf("  Cadence:       %s\n", cfg.Execution.ExpectedCadence)
	output.Println()

	output.Bold("Backtest")
	output.Printf("  Range:         %s → %s\n", cfg.Backtest.FromDate, cfg.Backtest.ToDate)
}
