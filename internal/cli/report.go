package cli

import (
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"spread-trader/internal/report"
	"spread-trader/internal/store"
	"spread-trader/pkg/utils"
)

func newReportCmd(app *App) *cobra.Command {
	var (
		mode      string
		fromDate  string
		toDate    string
		limit     int
		exportCSV string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the trade journal",
		Long:  "Show past trades from the journal, across all run modes.",
		Example: `  spread-trader report
  spread-trader report --mode live --from 2024-01-01
  spread-trader report --export trades.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("data store unavailable")
			}

			filter := store.TradeFilter{
				Underlying: app.Config.Strategy.Underlying,
				Mode:       mode,
				Limit:      limit,
			}
			if fromDate != "" {
				t, err := time.ParseInLocation("2006-01-02", fromDate, app.Config.Location())
				if err != nil {
					return fmt.Errorf("invalid --from date %q: %w", fromDate, err)
				}
				filter.StartDate = t
			}
			if toDate != "" {
				t, err := time.ParseInLocation("2006-01-02", toDate, app.Config.Location())
				if err != nil {
					return fmt.Errorf("invalid --to date %q: %w", toDate, err)
				}
				filter.EndDate = t.AddDate(0, 0, 1)
			}

			trades, err := app.Store.GetTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if exportCSV != "" {
				if err := report.ExportCSV(exportCSV, trades); err != nil {
					return err
				}
				output.Success("✓ %d trades exported to %s", len(trades), exportCSV)
				return nil
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Warning("No trades in the journal for the given filters")
				return nil
			}

			var total float64
			table := tablewriter.NewWriter(output.Writer())
			table.SetHeader([]string{"Date", "Mode", "Spread", "Lots", "P&L", "Status"})
			table.SetAlignment(tablewriter.ALIGN_RIGHT)
			table.SetBorder(false)
			for _, t := range trades {
				total += t.RealizedPnL
				table.Append([]string{
					t.EntryTime.Format("2006-01-02"),
					t.Mode,
					fmt.Sprintf("%s/%s", t.BuySymbol, t.SellSymbol),
					fmt.Sprintf("%d", t.Lots),
					utils.FormatPnL(t.RealizedPnL),
					string(t.Status),
				})
			}
			table.Render()
			output.Printf("\nTotal realized: %s across %d trades\n", utils.FormatPnL(total), len(trades))
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "filter by run mode: backtest, paper, live")
	cmd.Flags().StringVar(&fromDate, "from", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&toDate, "to", "", "end date YYYY-MM-DD")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum trades to show")
	cmd.Flags().StringVar(&exportCSV, "export", "", "write filtered trades to CSV file")
	return cmd
}
