// Package cli provides the command-line interface for the broker gateway.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"multibroker/internal/broker"
	"multibroker/internal/logging"
	"multibroker/internal/models"
)

// addTradingCommands adds order and position commands.
func addTradingCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newOrderCmd(app))
	rootCmd.AddCommand(newOrdersCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newExitCmd(app))
	rootCmd.AddCommand(newConvertCmd(app))
	rootCmd.AddCommand(newGTTCmd(app))
}

func newOrderCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place, modify and cancel orders",
	}

	cmd.AddCommand(newOrderPlaceCmd(app))
	cmd.AddCommand(newOrderModifyCmd(app))
	cmd.AddCommand(newOrderCancelCmd(app))
	cmd.AddCommand(newOrderStatusCmd(app))

	return cmd
}

// orderRequestFromFlags builds an OrderRequest from command flags, applying
// configured trading defaults where flags were left unset.
func orderRequestFromFlags(app *App, cmd *cobra.Command, symbol string) (models.OrderRequest, error) {
	qty, _ := cmd.Flags().GetInt("qty")
	side, _ := cmd.Flags().GetString("side")
	orderType, _ := cmd.Flags().GetString("type")
	product, _ := cmd.Flags().GetString("product")
	exchange, _ := cmd.Flags().GetString("exchange")
	price, _ := cmd.Flags().GetFloat64("price")
	trigger, _ := cmd.Flags().GetFloat64("trigger")
	validity, _ := cmd.Flags().GetString("validity")
	tag, _ := cmd.Flags().GetString("tag")

	if qty <= 0 {
		return models.OrderRequest{}, fmt.Errorf("quantity must be positive")
	}

	if product == "" {
		product = app.Config.Trading.DefaultProduct
	}
	if exchange == "" {
		exchange = app.Config.Trading.DefaultExchange
	}
	if validity == "" {
		validity = app.Config.Trading.DefaultValidity
	}

	req := models.OrderRequest{
		Symbol:       symbol,
		Exchange:     models.Exchange(strings.ToUpper(exchange)),
		Quantity:     qty,
		Side:         models.TransactionType(strings.ToUpper(side)),
		Type:         models.OrderType(strings.ToUpper(orderType)),
		Product:      models.ProductType(strings.ToUpper(product)),
		Price:        price,
		TriggerPrice: trigger,
		Validity:     models.Validity(strings.ToUpper(validity)),
		Tag:          tag,
	}

	switch req.Side {
	case models.Buy, models.Sell:
	default:
		return models.OrderRequest{}, fmt.Errorf("invalid side %q, expected BUY or SELL", side)
	}
	if req.Type == models.OrderTypeLimit && req.Price <= 0 {
		return models.OrderRequest{}, fmt.Errorf("limit orders need --price")
	}

	return req, nil
}

func addOrderFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("qty", "q", 0, "Order quantity (required)")
	cmd.Flags().StringP("side", "s", "BUY", "Order side (BUY, SELL)")
	cmd.Flags().StringP("type", "t", "MARKET", "Order type (MARKET, LIMIT, STOP, STOP_LIMIT)")
	cmd.Flags().StringP("product", "p", "", "Product (INTRADAY, CNC, MARGIN; default from config)")
	cmd.Flags().StringP("exchange", "e", "", "Exchange (default from config)")
	cmd.Flags().Float64("price", 0, "Limit price")
	cmd.Flags().Float64("trigger", 0, "Trigger price for stop orders")
	cmd.Flags().String("validity", "", "Order validity (DAY, IOC; default from config)")
	cmd.Flags().String("tag", "", "Order tag")
}

func newOrderPlaceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "place <symbol>",
		Short: "Place an order",
		Example: `  multibroker order place RELIANCE --qty 10
  multibroker order place INFY --qty 5 --side SELL --type LIMIT --price 1520.50
  multibroker order place SBIN --qty 50 --product CNC`,
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

			resp, err := app.Gateway.PlaceOrder(ctx, req)
			if err != nil {
				output.Error("Order failed: %v", err)
				return err
			}

			logging.LogOrder(app.Logger, resp.OrderID, req.Symbol, string(req.Side), resp.Status)

			if output.IsJSON() {
				return output.JSON(resp)
			}
			output.Success("✓ Order placed: %s", resp.OrderID)
			output.Printf("  %s %d x %s @ %s\n",
				req.Side, req.Quantity, req.Symbol, orderPriceLabel(req))
			return nil
		},
	}
	addOrderFlags(cmd)
	return cmd
}

func orderPriceLabel(req models.OrderRequest) string {
	if req.Type == models.OrderTypeMarket {
		return "MARKET"
	}
	return FormatPrice(req.Price)
}

func newOrderModifyCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modify <order_id>",
		Short: "Modify an open order",
		Example: `  multibroker order modify 12345 --price 1525
  multibroker order modify 12345 --qty 20 --trigger 1490`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			updates := make(map[string]any)
			if cmd.Flags().Changed("price") {
				price, _ := cmd.Flags().GetFloat64("price")
				updates["price"] = price
			}
			if cmd.Flags().Changed("trigger") {
				trigger, _ := cmd.Flags().GetFloat64("trigger")
				updates["trigger_price"] = trigger
			}
			if cmd.Flags().Changed("qty") {
				qty, _ := cmd.Flags().GetInt("qty")
				updates["quantity"] = qty
			}
			if len(updates) == 0 {
				output.Error("Nothing to modify, pass --price, --trigger or --qty")
				return fmt.Errorf("no modifications given")
			}

			resp, err := app.Gateway.ModifyOrder(ctx, args[0], updates)
			if err != nil {
				output.Error("Modify failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(resp)
			}
			output.Success("✓ Order modified: %s", resp.OrderID)
			return nil
		},
	}

	cmd.Flags().Float64("price", 0, "New limit price")
	cmd.Flags().Float64("trigger", 0, "New trigger price")
	cmd.Flags().IntP("qty", "q", 0, "New quantity")

	return cmd
}

func newOrderCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "cancel <order_id>",
		Short:   "Cancel an open order",
		Example: `  multibroker order cancel 12345`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			resp, err := app.Gateway.CancelOrder(ctx, args[0])
			if err != nil {
				output.Error("Cancel failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(resp)
			}
			output.Success("✓ Order cancelled: %s", resp.OrderID)
			return nil
		},
	}
}

func newOrderStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status <order_id>",
		Short: "Show one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			order, err := app.Gateway.GetOrder(ctx, args[0])
			if err != nil {
				output.Error("Failed to get order: %v", err)
				return err
			}
			if order == nil {
				output.Error("Order %s not found", args[0])
				return fmt.Errorf("order %s not found", args[0])
			}

			if output.IsJSON() {
				return output.JSON(order)
			}

			output.Bold("Order %s", order.ID)
			output.Printf("  Status:   %s\n", orderStatusColored(output, order.Status))
			output.Printf("  %s %d x %s (%s)\n", order.Side, order.Quantity, order.Symbol, order.Product)
			if order.Price > 0 {
				output.Printf("  Price:    %s\n", FormatPrice(order.Price))
			}
			if order.TriggerPrice > 0 {
				output.Printf("  Trigger:  %s\n", FormatPrice(order.TriggerPrice))
			}
			output.Printf("  Filled:   %d @ %s\n", order.FilledQuantity, FormatPrice(order.AveragePrice))
			output.Dim("  Placed:   %s", FormatDateTime(order.PlacedAt))
			return nil
		},
	}
}

func orderStatusColored(output *Output, status string) string {
	switch status {
	case models.OrderStatusComplete:
		return output.Green(status)
	case models.OrderStatusCancelled:
		return output.Red(status)
	default:
		return output.Yellow(status)
	}
}

func newOrdersCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "Show the orderbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			orders, err := app.Gateway.GetOrderbook(ctx)
			if err != nil {
				output.Error("Failed to get orderbook: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(orders)
			}
			return displayOrders(output, "Orderbook", orders)
		},
	}
}

func newTradesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "trades",
		Short: "Show the tradebook (executed orders)",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			trades, err := app.Gateway.GetTradebook(ctx)
			if err != nil {
				output.Error("Failed to get tradebook: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			return displayOrders(output, "Tradebook", trades)
		},
	}
}

func displayOrders(output *Output, title string, orders []models.Order) error {
	output.Bold("%s", title)
	output.Printf("  %d orders\n\n", len(orders))

	if len(orders) == 0 {
		return nil
	}

	table := NewTable(output, "ID", "Time", "Symbol", "Side", "Type", "Qty", "Price", "Filled", "Status")
	for _, o := range orders {
		price := "-"
		if o.Price > 0 {
			price = FormatPrice(o.Price)
		}
		table.AddRow(
			o.ID,
			FormatTime(o.PlacedAt),
			o.Symbol,
			string(o.Side),
			string(o.Type),
			fmt.Sprintf("%d", o.Quantity),
			price,
			fmt.Sprintf("%d", o.FilledQuantity),
			orderStatusColored(output, o.Status),
		)
	}
	table.Render()
	return nil
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			positions, err := app.Gateway.GetPositions(ctx)
			if err != nil {
				output.Error("Failed to get positions: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}

			output.Bold("Positions")
			output.Printf("  %d open\n\n", len(positions))
			if len(positions) == 0 {
				return nil
			}

			table := NewTable(output, "Symbol", "Exch", "Product", "Qty", "Avg Price", "P&L")
			var totalPnL float64
			for _, p := range positions {
				totalPnL += p.PnL
				table.AddRow(
					p.Symbol,
					string(p.Exchange),
					string(p.Product),
					fmt.Sprintf("%d", p.Quantity),
					FormatPrice(p.AveragePrice),
					output.FormatPnL(p.PnL),
				)
			}
			table.Render()
			output.Println()
			output.Printf("  Total P&L: %s\n", output.FormatPnL(totalPnL))
			return nil
		},
	}
}

func newExitCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exit",
		Short: "Exit all open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				output.Warning("This squares off every open position. Re-run with --yes to confirm.")
				return nil
			}

			if err := app.Gateway.ExitPositions(ctx); err != nil {
				output.Error("Exit failed: %v", err)
				return err
			}
			output.Success("✓ All positions exited")
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Confirm squaring off all positions")
	return cmd
}

func newConvertCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "convert <symbol>",
		Short:   "Convert a position between products",
		Example: `  multibroker convert RELIANCE --from INTRADAY --to CNC --qty 10`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			qty, _ := cmd.Flags().GetInt("qty")

			symbol := strings.ToUpper(args[0])
			err := app.Gateway.ConvertPosition(ctx, symbol,
				models.ProductType(strings.ToUpper(from)),
				models.ProductType(strings.ToUpper(to)), qty)
			if err != nil {
				output.Error("Convert failed: %v", err)
				return err
			}
			output.Success("✓ Converted %d x %s from %s to %s", qty, symbol, from, to)
			return nil
		},
	}

	cmd.Flags().String("from", "INTRADAY", "Current product")
	cmd.Flags().String("to", "CNC", "Target product")
	cmd.Flags().IntP("qty", "q", 0, "Quantity to convert")

	return cmd
}

func newGTTCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gtt <symbol>",
		Short: "Place a good-till-triggered order",
		Long: `Place a GTT order that fires when the trigger price is crossed.

With --target set, a two-leg OCO (one-cancels-other) trigger is placed:
one leg at the stop trigger, one at the target.`,
		Example: `  multibroker gtt RELIANCE --qty 10 --trigger 2450 --price 2448
  multibroker gtt INFY --qty 5 --trigger 1480 --price 1478 --target 1600 --target-price 1598 --last 1520`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			symbol := strings.ToUpper(args[0])
			qty, _ := cmd.Flags().GetInt("qty")
			trigger, _ := cmd.Flags().GetFloat64("trigger")
			price, _ := cmd.Flags().GetFloat64("price")
			target, _ := cmd.Flags().GetFloat64("target")
			targetPrice, _ := cmd.Flags().GetFloat64("target-price")
			last, _ := cmd.Flags().GetFloat64("last")
			exchange, _ := cmd.Flags().GetString("exchange")

			if qty <= 0 || trigger <= 0 {
				output.Error("Both --qty and --trigger are required")
				return fmt.Errorf("qty and trigger are required")
			}
			if exchange == "" {
				exchange = app.Config.Trading.DefaultExchange
			}

			req := broker.GTTRequest{
				Symbol:       symbol,
				Exchange:     models.Exchange(strings.ToUpper(exchange)),
				TriggerType:  "single",
				TriggerPrice: trigger,
				LastPrice:    last,
				Legs: []models.OrderRequest{{
					Symbol:   symbol,
					Quantity: qty,
					Side:     models.Sell,
					Type:     models.OrderTypeLimit,
					Price:    price,
				}},
			}
			if target > 0 {
				req.TriggerType = "two-leg"
				req.Legs[0].TriggerPrice = trigger
				req.Legs = append(req.Legs, models.OrderRequest{
					Symbol:       symbol,
					Quantity:     qty,
					Side:         models.Sell,
					Type:         models.OrderTypeLimit,
					Price:        targetPrice,
					TriggerPrice: target,
				})
			}

			resp, err := app.Gateway.PlaceGTTOrder(ctx, req)
			if err != nil {
				output.Error("GTT failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(resp)
			}
			output.Success("✓ GTT placed: %s", resp.OrderID)
			return nil
		},
	}

	cmd.Flags().IntP("qty", "q", 0, "Order quantity (required)")
	cmd.Flags().Float64("trigger", 0, "Trigger price (required)")
	cmd.Flags().Float64("price", 0, "Limit price of the triggered order")
	cmd.Flags().Float64("target", 0, "Target trigger for a two-leg OCO")
	cmd.Flags().Float64("target-price", 0, "Limit price of the target leg")
	cmd.Flags().Float64("last", 0, "Last traded price hint")
	cmd.Flags().StringP("exchange", "e", "", "Exchange (default from config)")

	return cmd
}
