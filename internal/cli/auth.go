package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spread-trader/internal/broker"
)

// addAuthCommands adds authentication commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newAuthCmd(app))
}

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Zerodha Kite Connect authentication",
	}
	cmd.AddCommand(newAuthLoginCmd(app))
	cmd.AddCommand(newAuthTokenCmd(app))
	cmd.AddCommand(newAuthStatusCmd(app))
	cmd.AddCommand(newAuthTOTPCmd(app))
	return cmd
}

func newAuthLoginCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Start the Kite Connect login flow",
		Long: `Start the Kite Connect login flow. Prints the login URL; after
completing it in a browser, finish with 'spread-trader auth token <request_token>'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Broker == nil {
				return fmt.Errorf("broker not configured, set kite credentials in credentials.toml")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			err := app.Broker.Login(ctx)
			if err == nil {
				output.Success("✓ Already authenticated")
				return nil
			}
			// The login error carries the URL to visit.
			output.Info("%v", err)
			return nil
		},
	}
}

func newAuthTokenCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "token <request_token>",
		Short: "Complete login with the request token from the browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			zb, ok := app.Broker.(*broker.ZerodhaBroker)
			if !ok {
				return fmt.Errorf("broker not configured, set kite credentials in credentials.toml")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := zb.CompleteLogin(ctx, args[0]); err != nil {
				output.Error("Login failed: %v", err)
				return err
			}
			output.Success("✓ Login successful, session saved")
			return nil
		},
	}
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Broker == nil {
				output.Warning("Broker not configured")
				return nil
			}
			authenticated := app.Broker.IsAuthenticated()
			if output.IsJSON() {
				return output.JSON(map[string]bool{"authenticated": authenticated})
			}
			if authenticated {
				output.Success("✓ Authenticated")
			} else {
				output.Warning("Not authenticated; run 'spread-trader auth login'")
			}
			return nil
		},
	}
}

func newAuthTOTPCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "totp",
		Short: "Print the current 2FA code from the configured TOTP secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			secret := app.Config.Credentials.Kite.TOTPSecret
			if secret == "" {
				return fmt.Errorf("no totp_secret configured in credentials.toml")
			}
			code, err := broker.GenerateTOTP(secret)
			if err != nil {
				return err
			}
			output.Println(code)
			return nil
		},
	}
}
