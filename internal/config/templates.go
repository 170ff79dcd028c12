package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# spread-trader configuration

[strategy]
underlying = "NIFTY"
capital = 100000.0
risk_pct = 0.02
spread_width = 300.0
entry_time = "09:25"
exit_time = "15:20"
timezone = "Asia/Kolkata"
mode = "paper"          # backtest, paper, live
strike_step = 50.0
lot_size = 75

[execution]
slippage_points = 0.5
brokerage_per_order = 20.0
fill_timeout = "30s"
entry_tolerance_sec = 120
expected_cadence = "1m"
partial_fills_enabled = false
liquidity_seed = 0
assumed_depth = 1800

[backtest]
from_date = "2025-01-01"
to_date = "2025-01-31"
data_dir = ""

[log]
level = "info"
console = true
file = true
`

const credentialsTemplate = `# spread-trader credentials
# Required for live and paper modes (market data). Keep this file private.

[kite]
api_key = ""
api_secret = ""
user_id = ""
totp_secret = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(configTemplate), 0600)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	path := filepath.Join(configDir, "credentials.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(credentialsTemplate), 0600)
}
