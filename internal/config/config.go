// Package config provides configuration management for the broker gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Broker      BrokerConfig     `mapstructure:"broker"`
	Trading     TradingConfig    `mapstructure:"trading"`
	Simulation  SimulationConfig `mapstructure:"simulation"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Credentials Credentials      `mapstructure:"-"` // Loaded separately
}

// BrokerConfig selects which broker the gateway fronts.
type BrokerConfig struct {
	Name       string `mapstructure:"name"`        // "sim", "zerodha"
	SeedBroker string `mapstructure:"seed_broker"` // optional seed for the simulated driver
}

// TradingConfig holds order defaults.
type TradingConfig struct {
	DefaultProduct  string `mapstructure:"default_product"`  // INTRADAY, CNC, MARGIN
	DefaultExchange string `mapstructure:"default_exchange"` // NSE, BSE
	DefaultValidity string `mapstructure:"default_validity"` // DAY, IOC
}

// SimulationConfig configures the simulated driver.
type SimulationConfig struct {
	InitialCash    float64 `mapstructure:"initial_cash"`
	RandSeed       int64   `mapstructure:"rand_seed"`
	StreamInterval string  `mapstructure:"stream_interval"`
	StreamSpeed    float64 `mapstructure:"stream_speed"`
	HistoryMinutes int     `mapstructure:"history_minutes"`
	SimulateDate   string  `mapstructure:"simulate_date"` // YYYY-MM-DD, empty for rolling window
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// Credentials holds broker API credentials.
type Credentials struct {
	Zerodha ZerodhaCredentials `mapstructure:"zerodha"`
}

// ZerodhaCredentials holds Zerodha Kite Connect credentials.
type ZerodhaCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	UserID    string `mapstructure:"user_id"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/multibroker"
	}
	return filepath.Join(home, ".config", "multibroker")
}

// DatabasePath returns the default location of the local store.
func DatabasePath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "multibroker.db")
}

// Load loads configuration from the specified directory. If configDir is
// empty, the default config directory is used. Missing files produce
// templates and an error telling the user where to fill them in.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("broker.name", "sim")
	v.SetDefault("trading.default_product", "INTRADAY")
	v.SetDefault("trading.default_exchange", "NSE")
	v.SetDefault("trading.default_validity", "DAY")
	v.SetDefault("simulation.initial_cash", 1_000_000.0)
	v.SetDefault("simulation.rand_seed", 42)
	v.SetDefault("simulation.stream_interval", "1m")
	v.SetDefault("simulation.stream_speed", 1.0)
	v.SetDefault("simulation.history_minutes", 120)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateConfig(configDir, name)
		}
		return err
	}
	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Credentials are optional for the simulated broker.
			return nil
		}
		return err
	}
	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		cfg.Credentials.Zerodha.APIKey = v
	}
	if v := os.Getenv("ZERODHA_API_SECRET"); v != "" {
		cfg.Credentials.Zerodha.APISecret = v
	}
	if v := os.Getenv("ZERODHA_USER_ID"); v != "" {
		cfg.Credentials.Zerodha.UserID = v
	}
	if v := os.Getenv("MULTIBROKER_BROKER"); v != "" {
		cfg.Broker.Name = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Trading.DefaultProduct {
	case "", "INTRADAY", "CNC", "MARGIN":
	default:
		return fmt.Errorf("invalid default_product: %s", c.Trading.DefaultProduct)
	}
	switch c.Trading.DefaultValidity {
	case "", "DAY", "IOC":
	default:
		return fmt.Errorf("invalid default_validity: %s", c.Trading.DefaultValidity)
	}
	if c.Simulation.InitialCash < 0 {
		return fmt.Errorf("initial_cash must be non-negative")
	}
	if c.Simulation.StreamSpeed < 0 {
		return fmt.Errorf("stream_speed must be non-negative")
	}
	if c.Simulation.HistoryMinutes < 0 {
		return fmt.Errorf("history_minutes must be non-negative")
	}
	return nil
}

// IsSimulated reports whether the selected broker is the simulated one.
func (c *Config) IsSimulated() bool {
	return c.Broker.Name == "" || c.Broker.Name == "sim"
}
