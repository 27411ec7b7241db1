// Package cli provides the command-line interface for the broker gateway.
package cli

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// addAccountCommands adds funds, margin and profile commands.
func addAccountCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newFundsCmd(app))
	rootCmd.AddCommand(newMarginCmd(app))
	rootCmd.AddCommand(newProfileCmd(app))
}

func newFundsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "funds",
		Short: "Show account funds and margins",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			funds, err := app.Gateway.GetFunds(ctx)
			if err != nil {
				output.Error("Failed to get funds: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(funds)
			}

			output.Bold("Account Funds")
			output.Printf("  Available Cash: %s\n", output.BoldText(FormatIndianCurrency(funds.AvailableCash)))
			output.Printf("  Used Margin:    %s\n", FormatIndianCurrency(funds.UsedMargin))
			output.Printf("  Equity:         %s\n", FormatIndianCurrency(funds.Equity))
			output.Printf("  Net:            %s\n", FormatIndianCurrency(funds.Net))
			return nil
		},
	}
}

func newMarginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "margin <symbol>",
		Short: "Show the margin required for an order",
		Long: `Compute the margin required to place an order, without placing it.

With --span, the SPAN+exposure basket margin is computed instead of the
per-order requirement.`,
		Example: `  multibroker margin RELIANCE --qty 10
  multibroker margin NIFTY24DEC24000CE --qty 50 --exchange NFO --product MARGIN
  multibroker margin SBIN --qty 100 --span`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			req, err := orderRequestFromFlags(app, cmd, strings.ToUpper(args[0]))
			if err != nil {
				output.Error("%v", err)
				return err
			}
			span, _ := cmd.Flags().GetBool("span")

			orders := app.Gateway.NormalizeMarginOrders([]any{req})

			var result *marginDisplay
			if span {
				res, err := app.Gateway.GetSpanMargin(ctx, orders)
				if err != nil {
					output.Error("Failed to get span margin: %v", err)
					return err
				}
				result = &marginDisplay{Kind: "SPAN + Exposure", Total: res.Total, Available: res.Available}
			} else {
				res, err := app.Gateway.GetMarginsRequired(ctx, orders)
				if err != nil {
					output.Error("Failed to get margin: %v", err)
					return err
				}
				result = &marginDisplay{Kind: "Order Margin", Total: res.Total, NewOrder: res.NewOrder, Available: res.Available}
			}

			if output.IsJSON() {
				return output.JSON(result)
			}

			output.Bold("%s - %s", req.Symbol, result.Kind)
			output.Printf("  Required:  %s\n", output.BoldText(FormatIndianCurrency(result.Total)))
			if result.NewOrder > 0 && result.NewOrder != result.Total {
				output.Printf("  New Order: %s\n", FormatIndianCurrency(result.NewOrder))
			}
			if result.Available > 0 {
				output.Printf("  Available: %s\n", FormatIndianCurrency(result.Available))
				if result.Available < result.Total {
					output.Warning("  Insufficient funds, short by %s", FormatIndianCurrency(result.Total-result.Available))
				}
			}
			return nil
		},
	}

	addOrderFlags(cmd)
	cmd.Flags().Bool("span", false, "Compute SPAN+exposure basket margin")

	return cmd
}

// marginDisplay is the JSON shape of the margin command output.
type marginDisplay struct {
	Kind      string  `json:"kind"`
	Total     float64 `json:"total"`
	NewOrder  float64 `json:"new_order,omitempty"`
	Available float64 `json:"available,omitempty"`
}

func newProfileCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the broker account profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			profile, err := app.Gateway.GetProfile(ctx)
			if err != nil {
				output.Error("Failed to get profile: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(profile)
			}

			output.Bold("Profile (%s)", app.Gateway.BrokerName())
			for _, key := range sortedKeys(profile) {
				output.Printf("  %-14s %v\n", key+":", profile[key])
			}
			return nil
		},
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
