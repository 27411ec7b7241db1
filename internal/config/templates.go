package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Multibroker Configuration

[broker]
# Active broker: "sim" or "zerodha"
name = "sim"
# Seed broker for the simulated driver (optional, e.g. "zerodha")
seed_broker = ""

[trading]
# Default product type: INTRADAY, CNC, MARGIN
default_product = "INTRADAY"
# Default exchange: NSE, BSE
default_exchange = "NSE"
# Default order validity: DAY, IOC
default_validity = "DAY"

[simulation]
# Starting cash for the simulated account
initial_cash = 1000000.0
# Random seed for reproducible price paths
rand_seed = 42
# Stream replay candle interval
stream_interval = "1m"
# Replay speed in candles per second
stream_speed = 1.0
# Rolling replay window in minutes
history_minutes = 120
# Fixed replay date (YYYY-MM-DD), empty for a rolling window
simulate_date = ""

[logging]
# Log level: debug, info, warn, error
level = "info"
# Write to the console
console = true
# Write rotated log files
file = true
`

const credentialsTemplate = `# Multibroker Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[zerodha]
api_key = ""
api_secret = ""
user_id = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return fmt.Errorf("config file not found, created template at %s", path)
}

// CreateCredentialsTemplate writes a credentials template with restricted
// permissions. Called from the auth command, not from Load: the simulated
// broker runs without credentials.
func CreateCredentialsTemplate(configDir string) (string, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return "", fmt.Errorf("writing credentials template: %w", err)
	}
	return path, nil
}
