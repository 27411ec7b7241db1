// Package cli provides the command-line interface for the broker gateway.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"multibroker/internal/models"
	"multibroker/internal/store"
)

// addInstrumentCommands adds master contract commands.
func addInstrumentCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newInstrumentsCmd(app))
}

func newInstrumentsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instruments",
		Short: "Master contract management",
		Long: `Download and query the broker's instrument master contract.

Downloaded instruments are kept in the local store; 'list' and 'find'
read from the store and only hit the broker when it is empty.`,
	}

	cmd.AddCommand(newInstrumentsDownloadCmd(app))
	cmd.AddCommand(newInstrumentsListCmd(app))
	cmd.AddCommand(newInstrumentsFindCmd(app))

	return cmd
}

func newInstrumentsDownloadCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download the instrument master contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			if err := app.Gateway.DownloadInstruments(ctx); err != nil {
				output.Error("Download failed: %v", err)
				return err
			}

			instruments, err := app.Gateway.GetInstruments(ctx)
			if err != nil {
				output.Error("Failed to read instruments: %v", err)
				return err
			}

			if app.Store != nil {
				if err := app.Store.SaveInstruments(ctx, app.Gateway.BrokerName(), instruments); err != nil {
					output.Error("Failed to save instruments: %v", err)
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]any{
					"broker": app.Gateway.BrokerName(),
					"count":  len(instruments),
				})
			}
			output.Success("✓ Downloaded %d instruments from %s", len(instruments), app.Gateway.BrokerName())
			return nil
		},
	}
}

// loadInstruments reads instruments from the store, falling back to the
// broker when the store is empty or unavailable.
func loadInstruments(ctx context.Context, app *App, filter store.InstrumentFilter) ([]models.Instrument, error) {
	if app.Store != nil {
		instruments, err := app.Store.GetInstruments(ctx, app.Gateway.BrokerName(), filter)
		if err == nil && len(instruments) > 0 {
			return instruments, nil
		}
	}

	instruments, err := app.Gateway.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}
	// Apply the filter locally when serving from the broker.
	var out []models.Instrument
	for _, inst := range instruments {
		if filter.Exchange != "" && inst.Exchange != filter.Exchange {
			continue
		}
		if filter.Kind != "" && inst.Kind != filter.Kind {
			continue
		}
		if filter.Name != "" && !strings.Contains(strings.ToUpper(inst.Symbol), strings.ToUpper(filter.Name)) {
			continue
		}
		out = append(out, inst)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func newInstrumentsListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instruments",
		Example: `  multibroker instruments list --exchange NSE --limit 50
  multibroker instruments list --kind CE --name NIFTY`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			exchange, _ := cmd.Flags().GetString("exchange")
			kind, _ := cmd.Flags().GetString("kind")
			name, _ := cmd.Flags().GetString("name")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := store.InstrumentFilter{
				Exchange: models.Exchange(strings.ToUpper(exchange)),
				Kind:     strings.ToUpper(kind),
				Name:     strings.ToUpper(name),
				Limit:    limit,
			}

			instruments, err := loadInstruments(ctx, app, filter)
			if err != nil {
				output.Error("Failed to list instruments: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(instruments)
			}
			return displayInstruments(output, instruments)
		},
	}

	cmd.Flags().StringP("exchange", "e", "", "Filter by exchange")
	cmd.Flags().StringP("kind", "k", "", "Filter by kind (EQ, FUT, CE, PE)")
	cmd.Flags().StringP("name", "n", "", "Filter by symbol substring")
	cmd.Flags().IntP("limit", "l", 100, "Maximum rows")

	return cmd
}

func newInstrumentsFindCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "find <symbol>",
		Short:   "Find one instrument by exact symbol",
		Example: `  multibroker instruments find RELIANCE --exchange NSE`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			symbol := strings.ToUpper(args[0])
			exchange, _ := cmd.Flags().GetString("exchange")

			if app.Store == nil {
				output.Error("Local store unavailable, run 'instruments list --name %s' instead", symbol)
				return fmt.Errorf("local store unavailable")
			}

			inst, err := app.Store.FindInstrument(ctx, app.Gateway.BrokerName(),
				models.Exchange(strings.ToUpper(exchange)), symbol)
			if err != nil {
				output.Error("Lookup failed: %v", err)
				return err
			}
			if inst == nil {
				output.Error("Instrument %s:%s not found, run 'instruments download' first", exchange, symbol)
				return fmt.Errorf("instrument not found")
			}

			if output.IsJSON() {
				return output.JSON(inst)
			}

			output.Bold("%s:%s", inst.Exchange, inst.Symbol)
			output.Printf("  Name:      %s\n", inst.Name)
			output.Printf("  Token:     %d\n", inst.Token)
			output.Printf("  Kind:      %s\n", inst.Kind)
			output.Printf("  Segment:   %s\n", inst.Segment)
			output.Printf("  Lot Size:  %d\n", inst.LotSize)
			output.Printf("  Tick Size: %.2f\n", inst.TickSize)
			if !inst.Expiry.IsZero() {
				output.Printf("  Expiry:    %s\n", FormatDate(inst.Expiry))
			}
			if inst.Strike > 0 {
				output.Printf("  Strike:    %s\n", FormatPrice(inst.Strike))
			}
			return nil
		},
	}

	cmd.Flags().StringP("exchange", "e", "NSE", "Exchange")

	return cmd
}

func displayInstruments(output *Output, instruments []models.Instrument) error {
	output.Bold("Instruments")
	output.Printf("  %d rows\n\n", len(instruments))
	if len(instruments) == 0 {
		return nil
	}

	table := NewTable(output, "Symbol", "Exch", "Kind", "Name", "Lot", "Expiry")
	for _, inst := range instruments {
		expiry := "-"
		if !inst.Expiry.IsZero() {
			expiry = FormatDate(inst.Expiry)
		}
		table.AddRow(
			inst.Symbol,
			string(inst.Exchange),
			inst.Kind,
			TruncateString(inst.Name, 24),
			fmt.Sprintf("%d", inst.LotSize),
			expiry,
		)
	}
	table.Render()
	return nil
}
