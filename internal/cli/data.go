package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spread-trader/pkg/utils"
)

// addDataCommands adds historical data management commands.
func addDataCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Historical candle data management",
	}
	cmd.AddCommand(newDataImportCmd(app))
	cmd.AddCommand(newDataShowCmd(app))
	rootCmd.AddCommand(cmd)
}

func newDataImportCmd(app *App) *cobra.Command {
	var (
		symbol    string
		timeframe string
	)

	cmd := &cobra.Command{
		Use:   "import <csv-file>",
		Short: "Import candles from a CSV file",
		Long: `Import candles from a CSV file into the local store. The file must
have a header row with timestamp,open,high,low,close,volume columns.`,
		Example: `  spread-trader data import nifty_1m.csv --symbol NIFTY --timeframe 1m`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("data store unavailable")
			}
			if symbol == "" {
				symbol = app.Config.Strategy.Underlying
			}

			count, err := app.Store.ImportCandlesCSV(cmd.Context(), symbol, timeframe, args[0])
			if err != nil {
				return err
			}
			output.Success("✓ Imported %s candles for %s (%s)", utils.FormatQuantity(int64(count)), symbol, timeframe)
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "instrument symbol (default: configured underlying)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "1m", "candle timeframe")
	return cmd
}

func newDataShowCmd(app *App) *cobra.Command {
	var (
		symbol    string
		timeframe string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show stored candle coverage for a symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("data store unavailable")
			}
			if symbol == "" {
				symbol = app.Config.Strategy.Underlying
			}

			// Wide range to cover everything stored.
			from := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
			to := time.Now().AddDate(1, 0, 0)
			candles, err := app.Store.GetCandles(cmd.Context(), symbol, timeframe, from, to)
			if err != nil {
				return err
			}
			if len(candles) == 0 {
				output.Warning("No candles stored for %s (%s)", symbol, timeframe)
				return nil
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":    symbol,
					"timeframe": timeframe,
					"count":     len(candles),
					"first":     candles[0].Timestamp,
					"last":      candles[len(candles)-1].Timestamp,
				})
			}
			output.Bold("%s (%s)", symbol, timeframe)
			output.Printf("  Candles: %s\n", utils.FormatQuantity(int64(len(candles))))
			output.Printf("  First:   %s\n", candles[0].Timestamp.Format("2006-01-02 15:04"))
			output.Printf("  Last:    %s\n", candles[len(candles)-1].Timestamp.Format("2006-01-02 15:04"))
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "instrument symbol (default: configured underlying)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "1m", "candle timeframe")
	return cmd
}
