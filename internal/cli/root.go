// Package cli provides the command-line interface for the broker gateway.
package cli

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"multibroker/internal/broker"
	"multibroker/internal/config"
	"multibroker/internal/logging"
	"multibroker/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-01-01"
)

// App holds the application dependencies.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Gateway *broker.Gateway
	Store   store.DataStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Register the live driver when credentials are available. The sim
	// driver is always registered.
	if cfg.Credentials.Zerodha.APIKey != "" {
		broker.DefaultRegistry().Register("zerodha", func() (broker.Driver, error) {
			return broker.NewZerodhaDriver(broker.ZerodhaConfig{
				APIKey:    cfg.Credentials.Zerodha.APIKey,
				APISecret: cfg.Credentials.Zerodha.APISecret,
				UserID:    cfg.Credentials.Zerodha.UserID,
			}), nil
		})
		logger.Debug().Msg("Zerodha driver registered")
	}

	app.Gateway = buildGateway(cfg, logger)

	// Initialize SQLite store
	dbPath := config.DatabasePath("")
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, some features may be unavailable")
	} else {
		app.Store = dataStore
		logger.Debug().Str("path", dbPath).Msg("SQLite store initialized")
	}

	rootCmd := &cobra.Command{
		Use:   "multibroker",
		Short: "Multibroker - broker-agnostic trading gateway CLI",
		Long: `Multibroker is a broker-agnostic trading gateway for the Indian stock market.

It fronts multiple broker adapters behind one capability-aware interface.
The simulated broker is always available and needs no credentials; live
brokers are enabled by filling in credentials.toml.

Use 'multibroker help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Handle debug flag
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			if name, _ := cmd.Flags().GetString("broker"); name != "" && name != cfg.Broker.Name {
				cfg.Broker.Name = name
				app.Gateway = buildGateway(cfg, app.Logger)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/multibroker)")
	rootCmd.PersistentFlags().String("broker", "", "broker to use for this invocation (sim, zerodha)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	// Add all command groups
	addCoreCommands(rootCmd, app)
	addAuthCommands(rootCmd, app)
	addMarketDataCommands(rootCmd, app)
	addTradingCommands(rootCmd, app)
	addAccountCommands(rootCmd, app)
	addInstrumentCommands(rootCmd, app)

	return rootCmd
}

// buildGateway constructs the gateway for the configured broker. The sim
// driver is built directly so the simulation settings reach it; registered
// drivers come from the registry.
func buildGateway(cfg *config.Config, logger zerolog.Logger) *broker.Gateway {
	if cfg.IsSimulated() {
		var seed *broker.Gateway
		if cfg.Broker.SeedBroker != "" && cfg.Broker.SeedBroker != "sim" {
			if gw, err := broker.FromName(cfg.Broker.SeedBroker); err != nil {
				logger.Warn().Err(err).Str("seed", cfg.Broker.SeedBroker).Msg("Seed broker unavailable, simulating unseeded")
			} else {
				seed = gw
			}
		}
		driver := broker.NewSimDriver(broker.SimConfig{
			Seed:           seed,
			InitialCash:    cfg.Simulation.InitialCash,
			RandSeed:       cfg.Simulation.RandSeed,
			Interval:       cfg.Simulation.StreamInterval,
			Speed:          cfg.Simulation.StreamSpeed,
			HistoryMinutes: cfg.Simulation.HistoryMinutes,
		})
		gw := broker.New(driver, "sim")
		gw.SetLogger(logging.WithBroker(logger, "sim"))
		return gw
	}

	gw, err := broker.FromName(cfg.Broker.Name)
	if err != nil {
		logger.Warn().Err(err).Str("broker", cfg.Broker.Name).Msg("Broker unavailable, falling back to sim")
		gw = broker.New(broker.NewSimDriver(broker.SimConfig{}), "sim")
	}
	gw.SetLogger(logging.WithBroker(logger, gw.BrokerName()))
	return gw
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newBrokersCmd(app))
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
				output.Printf("Multibroker v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
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

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Broker")
	output.Printf("  Active:          %s\n", cfg.Broker.Name)
	if cfg.Broker.SeedBroker != "" {
		output.Printf("  Seed Broker:     %s\n", cfg.Broker.SeedBroker)
	}
	output.Println()

	output.Bold("Trading Defaults")
	output.Printf("  Product:         %s\n", cfg.Trading.DefaultProduct)
	output.Printf("  Exchange:        %s\n", cfg.Trading.DefaultExchange)
	output.Printf("  Validity:        %s\n", cfg.Trading.DefaultValidity)
	output.Println()

	output.Bold("Simulation")
	output.Printf("  Initial Cash:    %s\n", FormatIndianCurrency(cfg.Simulation.InitialCash))
	output.Printf("  Random Seed:     %d\n", cfg.Simulation.RandSeed)
	output.Printf("  Stream Interval: %s\n", cfg.Simulation.StreamInterval)
	output.Printf("  Stream Speed:    %.1f candles/s\n", cfg.Simulation.StreamSpeed)
	output.Printf("  History Window:  %d min\n", cfg.Simulation.HistoryMinutes)
	if cfg.Simulation.SimulateDate != "" {
		output.Printf("  Replay Date:     %s\n", cfg.Simulation.SimulateDate)
	}
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:           %s\n", cfg.Logging.Level)
	output.Printf("  Console:         %v\n", cfg.Logging.Console)
	output.Printf("  File:            %v\n", cfg.Logging.File)

	return nil
}

func newBrokersCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "brokers",
		Short: "List registered brokers and their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			names := broker.DefaultRegistry().Names()

			if output.IsJSON() {
				caps := make(map[string]broker.Capabilities, len(names))
				for _, name := range names {
					if d, err := broker.DefaultRegistry().Create(name); err == nil {
						caps[name] = d.Capabilities()
					}
				}
				return output.JSON(map[string]any{
					"active":  app.Gateway.BrokerName(),
					"brokers": caps,
				})
			}

			output.Bold("Registered Brokers")
			for _, name := range names {
				marker := " "
				if name == app.Gateway.BrokerName() {
					marker = output.Green("*")
				}
				d, err := broker.DefaultRegistry().Create(name)
				if err != nil {
					output.Printf("%s %-10s %s\n", marker, name, output.Red("unavailable: "+err.Error()))
					continue
				}
				output.Printf("%s %-10s %s\n", marker, name, capabilitySummary(d.Capabilities()))
			}
			output.Println()
			output.Dim("* active broker")
			return nil
		},
	}
}

func capabilitySummary(caps broker.Capabilities) string {
	var parts []string
	add := func(on bool, label string) {
		if on {
			parts = append(parts, label)
		}
	}
	add(caps.Historical, "history")
	add(caps.Quotes, "quotes")
	add(caps.PlaceOrder, "orders")
	add(caps.Websocket, "stream")
	add(caps.OrderWebsocket, "order-stream")
	add(caps.MasterContract, "instruments")
	add(caps.OptionChain, "chain")
	add(caps.GTT, "gtt")
	add(caps.BasketOrders, "basket")
	add(caps.MultilegOrder, "multileg")
	return strings.Join(parts, ", ")
}
