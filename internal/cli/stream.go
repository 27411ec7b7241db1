// Package cli provides the command-line interface for the broker gateway.
package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"multibroker/internal/broker"
	"multibroker/internal/errors"
	"multibroker/internal/logging"
	"multibroker/internal/models"
	"multibroker/internal/stream"
)

func newStreamCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream <symbols...>",
		Short: "Stream live ticks for symbols",
		Long: `Stream tick updates for one or more symbols.

Ticks are fanned out through the stream hub, so several symbols share one
broker connection. On the simulated broker, ticks replay synthetic intraday
candles; --date replays a specific trading day and --speed controls the
replay rate. Press Ctrl+C to stop.`,
		Example: `  multibroker stream RELIANCE
  multibroker stream RELIANCE INFY TCS --speed 5
  multibroker stream NIFTY50 --date 2024-06-14 --interval 1m`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			symbols := make([]string, len(args))
			for i, s := range args {
				symbols[i] = strings.ToUpper(s)
			}

			interval, _ := cmd.Flags().GetString("interval")
			speed, _ := cmd.Flags().GetFloat64("speed")
			date, _ := cmd.Flags().GetString("date")
			withOrders, _ := cmd.Flags().GetBool("orders")

			caps := app.Gateway.Capabilities()
			if !caps.Websocket {
				output.Error("Broker %q does not support streaming", app.Gateway.BrokerName())
				return errors.ErrUnsupported
			}

			output.Info("Streaming %s via %s", strings.Join(symbols, ", "), app.Gateway.BrokerName())
			output.Dim("Press Ctrl+C to stop")
			output.Println()

			hub := stream.NewHub(app.Gateway)
			opts := broker.StreamOptions{
				Interval:     interval,
				Speed:        speed,
				SimulateDate: date,
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := hub.Start(ctx, opts); err != nil {
				output.Error("Failed to connect: %v", err)
				return err
			}
			defer hub.Stop()
			logging.LogStream(app.Logger, app.Gateway.BrokerName(), "connected", len(symbols))

			for symbol, ch := range hub.SubscribeMultiple(symbols) {
				go func(symbol string, ch <-chan models.Tick) {
					for tick := range ch {
						printTick(output, tick)
					}
				}(symbol, ch)
			}

			if withOrders && caps.OrderWebsocket {
				err := app.Gateway.ConnectOrderWebsocket(broker.OrderStreamHandlers{
					OnOrderUpdate: func(u broker.OrderUpdate) {
						output.Printf("%s  order %s %s\n",
							FormatTime(time.Now()), u.OrderID, u.Status)
					},
				})
				if err != nil {
					app.Logger.Warn().Err(err).Msg("Order stream unavailable")
				}
			}

			// Wait for interrupt.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			output.Println()
			output.Dim("Stopping stream")
			metrics := hub.Metrics()
			logging.LogStream(app.Logger, app.Gateway.BrokerName(), "disconnected", len(symbols))
			output.Dim("%d ticks received, %d delivered, %d dropped",
				metrics.TicksReceived, metrics.TicksBroadcast, metrics.TicksDropped)
			return nil
		},
	}

	cmd.Flags().StringP("interval", "i", "", "Replay candle interval (default: configured stream_interval)")
	cmd.Flags().Float64P("speed", "s", 0, "Replay speed in candles/second (default: configured stream_speed)")
	cmd.Flags().String("date", "", "Replay date (YYYY-MM-DD, sim broker only)")
	cmd.Flags().Bool("orders", false, "Also print order updates")

	return cmd
}

func printTick(output *Output, tick models.Tick) {
	if output.IsJSON() {
		output.JSON(tick)
		return
	}
	output.Printf("%s  %-14s %10s  vol %s\n",
		FormatTime(tick.Timestamp),
		tick.Symbol,
		output.BoldText(FormatPrice(tick.LTP)),
		FormatVolume(tick.Volume),
	)
}
