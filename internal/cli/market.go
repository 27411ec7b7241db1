// Package cli provides the command-line interface for the broker gateway.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"multibroker/internal/models"
	"multibroker/pkg/utils"
)

// addMarketDataCommands adds market data commands.
func addMarketDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newQuoteCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newChainCmd(app))
	rootCmd.AddCommand(newStreamCmd(app))
	rootCmd.AddCommand(newMarketCmd(app))
}

func newMarketCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "Show market session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			status := utils.GetMarketStatus()
			if output.IsJSON() {
				return output.JSON(map[string]any{
					"status":           string(status),
					"open":             utils.IsMarketOpen(),
					"next_open":        utils.GetNextMarketOpen(),
					"close":            utils.GetMarketClose(),
					"mis_square_off":   utils.GetMISSquareOffTime(),
					"time_until_close": utils.TimeUntilMarketClose().String(),
				})
			}

			output.Bold("Market Status")
			output.Printf("  %s\n", output.MarketStatus(string(status)))
			output.Println()
			if utils.IsMarketOpen() {
				output.Printf("  Closes in:       %s\n", FormatDuration(utils.TimeUntilMarketClose()))
				output.Printf("  MIS square-off:  %s (%s)\n",
					FormatTime(utils.GetMISSquareOffTime()),
					FormatDuration(utils.TimeUntilMISSquareOff()))
			} else {
				output.Printf("  Next open: %s\n", FormatDateTime(utils.GetNextMarketOpen()))
			}
			return nil
		},
	}
}

func newQuoteCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote <symbols...>",
		Short: "Get market quotes for one or more symbols",
		Long: `Fetch and display market quotes.

With one symbol the full quote is shown; with several, a table.`,
		Example: `  multibroker quote RELIANCE
  multibroker quote INFY --exchange BSE
  multibroker quote RELIANCE INFY TCS`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			exchange, _ := cmd.Flags().GetString("exchange")

			symbols := make([]string, len(args))
			for i, s := range args {
				sym := strings.ToUpper(s)
				if exchange != "" && !strings.Contains(sym, ":") {
					sym = exchange + ":" + sym
				}
				symbols[i] = sym
			}

			if len(symbols) == 1 {
				quote, err := app.Gateway.GetQuote(ctx, symbols[0])
				if err != nil {
					output.Error("Failed to get quote: %v", err)
					return err
				}
				if output.IsJSON() {
					return output.JSON(quote)
				}
				return displayQuote(output, quote)
			}

			quotes, err := app.Gateway.GetQuotes(ctx, symbols)
			if err != nil {
				output.Error("Failed to get quotes: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(quotes)
			}
			return displayQuoteTable(output, symbols, quotes)
		},
	}

	cmd.Flags().StringP("exchange", "e", "NSE", "Exchange (NSE, BSE, NFO, BFO, MCX, CDS)")

	return cmd
}

func displayQuote(output *Output, quote models.Quote) error {
	output.Bold("%s", quote.Symbol)
	output.Println()

	output.Printf("  LTP:    %s\n", output.BoldText(FormatPrice(quote.LastPrice)))
	if quote.Bid > 0 || quote.Ask > 0 {
		output.Printf("  %s\n", FormatBidAsk(quote.Bid, quote.Ask))
	}
	output.Printf("  Volume: %s\n", FormatVolume(quote.Volume))
	output.Println()
	output.Dim("  Updated: %s", FormatDateTime(quote.Timestamp))
	return nil
}

func displayQuoteTable(output *Output, symbols []string, quotes map[string]models.Quote) error {
	table := NewTable(output, "Symbol", "LTP", "Bid", "Ask", "Volume", "Time")
	for _, sym := range symbols {
		q, ok := quotes[sym]
		if !ok {
			table.AddRow(sym, "-", "-", "-", "-", "-")
			continue
		}
		table.AddRow(
			q.Symbol,
			FormatPrice(q.LastPrice),
			FormatPrice(q.Bid),
			FormatPrice(q.Ask),
			FormatVolume(q.Volume),
			FormatTime(q.Timestamp),
		)
	}
	table.Render()
	return nil
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <symbol>",
		Short: "Get historical OHLCV data",
		Long: `Fetch historical OHLCV (Open, High, Low, Close, Volume) data for a symbol.

Ranges wider than the broker allows per request are fetched in chunks and
stitched together. Fetched candles are cached locally; --cached reads the
local cache without touching the broker.`,
		Example: `  multibroker history RELIANCE
  multibroker history INFY --interval 15m --days 30
  multibroker history NIFTY50 --interval day --from 2024-01-01 --to 2024-12-31
  multibroker history RELIANCE --cached`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
			defer cancel()

			symbol := strings.ToUpper(args[0])
			interval, _ := cmd.Flags().GetString("interval")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			days, _ := cmd.Flags().GetInt("days")
			limit, _ := cmd.Flags().GetInt("limit")
			cached, _ := cmd.Flags().GetBool("cached")

			if to == "" {
				to = time.Now().Format("2006-01-02")
			}
			if from == "" {
				from = time.Now().AddDate(0, 0, -days).Format("2006-01-02")
			}

			var candles []models.Candle
			var err error
			if cached {
				if app.Store == nil {
					output.Error("Local store unavailable")
					return fmt.Errorf("local store unavailable")
				}
				fromT, toT := parseDateArg(from), parseDateArg(to).Add(24*time.Hour)
				candles, err = app.Store.GetCandles(ctx, symbol, interval, fromT, toT)
			} else {
				candles, err = app.Gateway.GetHistory(ctx, symbol, interval, from, to)
				if err == nil && app.Store != nil && len(candles) > 0 {
					if serr := app.Store.SaveCandles(ctx, symbol, interval, candles); serr != nil {
						app.Logger.Warn().Err(serr).Str("symbol", symbol).Msg("Failed to cache candles")
					}
				}
			}
			if err != nil {
				output.Error("Failed to get historical data: %v", err)
				return err
			}

			if limit > 0 && len(candles) > limit {
				candles = candles[len(candles)-limit:]
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":   symbol,
					"interval": interval,
					"from":     from,
					"to":       to,
					"count":    len(candles),
					"candles":  candles,
				})
			}

			source := SourceBroker
			switch {
			case cached:
				source = SourceLocal
			case app.Gateway.BrokerName() == "sim":
				source = SourceSim
			}
			output.SourceLine(source, "%s to %s", from, to)
			return displayCandles(output, symbol, interval, candles)
		},
	}

	cmd.Flags().StringP("interval", "i", "day", "Candle interval (1m, 5m, 15m, 60m, day)")
	cmd.Flags().String("from", "", "Start date (YYYY-MM-DD, default: --days ago)")
	cmd.Flags().String("to", "", "End date (YYYY-MM-DD, default: today)")
	cmd.Flags().IntP("days", "d", 30, "Days of history when --from is not given")
	cmd.Flags().IntP("limit", "l", 0, "Limit number of candles to display (0 for all)")
	cmd.Flags().Bool("cached", false, "Read from the local cache instead of the broker")

	return cmd
}

func parseDateArg(s string) time.Time {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}

func displayCandles(output *Output, symbol, interval string, candles []models.Candle) error {
	output.Bold("%s - %s", symbol, interval)
	output.Printf("  %d candles\n\n", len(candles))

	table := NewTable(output, "Date/Time", "Open", "High", "Low", "Close", "Volume", "Change")

	for i, c := range candles {
		var change string
		if i > 0 && candles[i-1].Close != 0 {
			pctChange := ((c.Close - candles[i-1].Close) / candles[i-1].Close) * 100
			change = output.ColoredString(output.PnLColor(pctChange), FormatPercent(pctChange))
		} else {
			change = "-"
		}

		dateStr := FormatDateTime(c.Timestamp)
		if interval == "day" || interval == "1d" {
			dateStr = FormatDate(c.Timestamp)
		}

		table.AddRow(
			dateStr,
			FormatPrice(c.Open),
			output.Green(FormatPrice(c.High)),
			output.Red(FormatPrice(c.Low)),
			FormatPrice(c.Close),
			FormatVolume(c.Volume),
			change,
		)
	}

	table.Render()
	return nil
}

func newChainCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain <underlying>",
		Short: "Display the option chain for an underlying",
		Example: `  multibroker chain NIFTY
  multibroker chain BANKNIFTY --exchange NFO`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			underlying := strings.ToUpper(args[0])
			exchange, _ := cmd.Flags().GetString("exchange")

			strikes, err := app.Gateway.GetOptionChain(ctx, underlying, models.Exchange(exchange))
			if err != nil {
				output.Error("Failed to get option chain: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"underlying": underlying,
					"exchange":   exchange,
					"strikes":    strikes,
				})
			}

			return displayChain(output, underlying, strikes)
		},
	}

	cmd.Flags().StringP("exchange", "e", "NFO", "Derivatives exchange (NFO, BFO)")

	return cmd
}

func displayChain(output *Output, underlying string, strikes []models.OptionStrike) error {
	output.Bold("%s Option Chain", underlying)
	output.Printf("  %d strikes\n\n", len(strikes))

	// Pivot calls and puts around the strike column.
	calls := make(map[float64]models.OptionStrike)
	puts := make(map[float64]models.OptionStrike)
	var levels []float64
	seen := make(map[float64]bool)
	for _, s := range strikes {
		switch s.Type {
		case models.OptionCall:
			calls[s.Strike] = s
		case models.OptionPut:
			puts[s.Strike] = s
		}
		if !seen[s.Strike] {
			seen[s.Strike] = true
			levels = append(levels, s.Strike)
		}
	}

	table := NewTable(output, "Call LTP", "Call Symbol", "Strike", "Put Symbol", "Put LTP")
	for _, strike := range levels {
		callLTP, callSym := "-", "-"
		if c, ok := calls[strike]; ok {
			callLTP, callSym = FormatPrice(c.LastPrice), c.Symbol
		}
		putLTP, putSym := "-", "-"
		if p, ok := puts[strike]; ok {
			putLTP, putSym = FormatPrice(p.LastPrice), p.Symbol
		}
		table.AddRow(callLTP, callSym, FormatPrice(strike), putSym, putLTP)
	}
	table.Render()
	return nil
}
