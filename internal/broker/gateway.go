package broker

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"multibroker/internal/errors"
	"multibroker/internal/models"
	"multibroker/internal/symbols"
)

// historyChunkPause is the fixed pacing delay between history chunk calls
// so chunked retrieval does not trip broker rate limits.
const historyChunkPause = 500 * time.Millisecond

// Gateway is the facade callers talk to. It orchestrates symbol resolution
// and request translation and delegates everything else to the driver; it is
// a stateless router owning nothing mutable beyond the driver reference and
// broker name.
type Gateway struct {
	driver     Driver
	broker     string
	syms       *symbols.Registry
	log        zerolog.Logger
	chunkPause time.Duration
}

// New creates a gateway over a driver. The broker name selects the symbol
// resolver and the margin payload shape.
func New(driver Driver, brokerName string) *Gateway {
	return &Gateway{
		driver:     driver,
		broker:     strings.ToLower(brokerName),
		syms:       symbols.Default(),
		log:        zerolog.Nop(),
		chunkPause: historyChunkPause,
	}
}

// FromName constructs a gateway for a registered broker name.
func FromName(name string) (*Gateway, error) {
	driver, err := DefaultRegistry().Create(name)
	if err != nil {
		return nil, err
	}
	return New(driver, name), nil
}

// SetLogger attaches a logger; the default discards everything.
func (g *Gateway) SetLogger(log zerolog.Logger) {
	g.log = log
}

// SetSymbolRegistry swaps the symbol registry, mainly for tests.
func (g *Gateway) SetSymbolRegistry(r *symbols.Registry) {
	g.syms = r
}

// BrokerName returns the lowercase broker name this gateway serves.
func (g *Gateway) BrokerName() string {
	return g.broker
}

// Capabilities returns the driver's capability descriptor.
func (g *Gateway) Capabilities() Capabilities {
	return g.driver.Capabilities()
}

// unsupported builds the error for an operation the capability descriptor
// does not declare.
func (g *Gateway) unsupported(op string) error {
	return errors.Wrapf(errors.ErrUnsupported, "broker %s: %s", g.broker, op)
}

// resolve normalizes a caller symbol and translates it to broker-native
// form.
func (g *Gateway) resolve(symbol string) string {
	return g.syms.ToBrokerSymbol(g.broker, symbols.Normalize(symbol))
}

// --- Account ---

// GetFunds fetches a point-in-time funds snapshot.
func (g *Gateway) GetFunds(ctx context.Context) (models.Funds, error) {
	if !g.driver.Capabilities().Funds {
		return models.Funds{}, g.unsupported("funds")
	}
	return g.driver.GetFunds(ctx)
}

// GetPositions fetches all open positions.
func (g *Gateway) GetPositions(ctx context.Context) ([]models.Position, error) {
	if !g.driver.Capabilities().Positions {
		return nil, g.unsupported("positions")
	}
	return g.driver.GetPositions(ctx)
}

// GetPosition fetches one position by symbol; exchange may be empty.
func (g *Gateway) GetPosition(ctx context.Context, symbol string, exchange models.Exchange) (*models.Position, error) {
	if !g.driver.Capabilities().Positions {
		return nil, g.unsupported("positions")
	}
	return g.driver.GetPosition(ctx, symbol, exchange)
}

// GetProfile fetches the broker user profile.
func (g *Gateway) GetProfile(ctx context.Context) (map[string]any, error) {
	return g.driver.GetProfile(ctx)
}

// --- Orders ---

// PlaceOrder resolves the canonical symbol to the broker-native one,
// substitutes it into a copy of the request and delegates. The caller's
// request is never mutated.
func (g *Gateway) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResponse, error) {
	if !g.driver.Capabilities().PlaceOrder {
		return models.OrderResponse{Status: models.StatusError}, g.unsupported("place order")
	}

	internal := string(req.Exchange) + ":" + req.Symbol
	native := g.syms.ToBrokerSymbol(g.broker, internal)
	if i := strings.Index(native, ":"); i >= 0 {
		native = native[i+1:]
	}

	g.log.Debug().Str("broker", g.broker).Str("symbol", native).
		Int("qty", req.Quantity).Str("side", string(req.Side)).Msg("placing order")

	return g.driver.PlaceOrder(ctx, req.WithSymbol(native))
}

// PlaceOrderPayload is the legacy order path: it accepts a loosely-typed
// fyers-shaped payload, converts it to a standardized request, delegates,
// and converts the response back into the legacy shape. Driver errors are
// folded into the legacy error shape rather than returned.
func (g *Gateway) PlaceOrderPayload(ctx context.Context, payload map[string]any) map[string]any {
	req := OrderRequestFromPayload(payload)
	resp, err := g.PlaceOrder(ctx, req)
	if err != nil {
		return map[string]any{"s": models.StatusError, "message": err.Error()}
	}
	return LegacyOrderResult(resp)
}

// CancelOrder cancels an order by id.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) (models.OrderResponse, error) {
	if !g.driver.Capabilities().CancelOrder {
		return models.OrderResponse{Status: models.StatusError}, g.unsupported("cancel order")
	}
	return g.driver.CancelOrder(ctx, orderID)
}

// CancelOrderPayload is the legacy cancel path, accepting {"id": ...}.
func (g *Gateway) CancelOrderPayload(ctx context.Context, payload map[string]any) map[string]any {
	orderID := payloadString(payload, "id", "order_id")
	resp, err := g.CancelOrder(ctx, orderID)
	if err != nil {
		return map[string]any{"s": models.StatusError, "id": orderID, "message": err.Error()}
	}
	result := map[string]any{"s": resp.Status, "id": orderID}
	if resp.Raw != nil {
		result["raw"] = resp.Raw
	}
	return result
}

// ModifyOrder applies updates to an open order.
func (g *Gateway) ModifyOrder(ctx context.Context, orderID string, updates map[string]any) (models.OrderResponse, error) {
	if !g.driver.Capabilities().ModifyOrder {
		return models.OrderResponse{Status: models.StatusError}, g.unsupported("modify order")
	}
	return g.driver.ModifyOrder(ctx, orderID, updates)
}

// GetOrderbook fetches the day's orders.
func (g *Gateway) GetOrderbook(ctx context.Context) ([]models.Order, error) {
	if !g.driver.Capabilities().Orderbook {
		return nil, g.unsupported("orderbook")
	}
	return g.driver.GetOrderbook(ctx)
}

// GetTradebook fetches the day's trades.
func (g *Gateway) GetTradebook(ctx context.Context) ([]models.Order, error) {
	if !g.driver.Capabilities().Tradebook {
		return nil, g.unsupported("tradebook")
	}
	return g.driver.GetTradebook(ctx)
}

// GetOrder fetches one order by id.
func (g *Gateway) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return g.driver.GetOrder(ctx, orderID)
}

// --- Market data ---

// GetQuote fetches a quote for one symbol in any accepted form.
func (g *Gateway) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if !g.driver.Capabilities().Quotes {
		return models.Quote{}, g.unsupported("quotes")
	}
	return g.driver.GetQuote(ctx, g.resolve(symbol))
}

// GetQuotes resolves all symbols first and issues one batch call.
func (g *Gateway) GetQuotes(ctx context.Context, syms []string) (map[string]models.Quote, error) {
	if !g.driver.Capabilities().Quotes {
		return nil, g.unsupported("quotes")
	}
	native := make([]string, len(syms))
	for i, s := range syms {
		native[i] = g.resolve(s)
	}
	return g.driver.GetQuotes(ctx, native)
}

// historyChunkDays returns the maximum days per history request for a bar
// resolution: daily bars allow 366 days, seconds bars 30, every other
// intraday resolution 100.
func historyChunkDays(interval string) int {
	switch interval {
	case "day", "1d", "D", "1D":
		return 366
	case "5S", "10S", "15S", "30S", "45S":
		return 30
	default:
		return 100
	}
}

// GetHistory retrieves historical bars for [start, end] (YYYY-MM-DD),
// partitioning the range into consecutive chunks that honor the broker's
// resolution-specific span cap. Results are concatenated in chronological
// order; a chunk returning no data contributes nothing. A fixed pacing
// delay runs between chunk calls.
func (g *Gateway) GetHistory(ctx context.Context, symbol, interval, start, end string) ([]models.Candle, error) {
	if !g.driver.Capabilities().Historical {
		return nil, g.unsupported("historical data")
	}

	native := g.resolve(symbol)

	startDt, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, errors.NewValidationError("start", start, "expected YYYY-MM-DD")
	}
	endDt, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, errors.NewValidationError("end", end, "expected YYYY-MM-DD")
	}

	maxDays := historyChunkDays(interval)

	var all []models.Candle
	for current := startDt; !current.After(endDt); {
		chunkEnd := current.AddDate(0, 0, maxDays-1)
		if chunkEnd.After(endDt) {
			chunkEnd = endDt
		}

		g.log.Debug().Str("symbol", native).Str("interval", interval).
			Str("from", current.Format("2006-01-02")).
			Str("to", chunkEnd.Format("2006-01-02")).Msg("history chunk")

		candles, err := g.driver.GetHistory(ctx, native, interval,
			current.Format("2006-01-02"), chunkEnd.Format("2006-01-02"))
		if err != nil {
			return nil, err
		}
		all = append(all, candles...)

		// Each chunk advances the start past the previous chunk's end, so
		// the loop always terminates.
		current = chunkEnd.AddDate(0, 0, 1)
		if !current.After(endDt) {
			select {
			case <-ctx.Done():
				return all, ctx.Err()
			case <-time.After(g.chunkPause):
			}
		}
	}
	return all, nil
}

// GetOptionChain fetches the option chain for an underlying.
func (g *Gateway) GetOptionChain(ctx context.Context, underlying string, exchange models.Exchange) ([]models.OptionStrike, error) {
	if !g.driver.Capabilities().OptionChain {
		return nil, g.unsupported("option chain")
	}
	return g.driver.GetOptionChain(ctx, underlying, exchange)
}

// --- Instruments ---

// DownloadInstruments refreshes the broker's master contract.
func (g *Gateway) DownloadInstruments(ctx context.Context) error {
	if !g.driver.Capabilities().MasterContract {
		return g.unsupported("master contract")
	}
	return g.driver.DownloadInstruments(ctx)
}

// GetInstruments returns the downloaded master contract.
func (g *Gateway) GetInstruments(ctx context.Context) ([]models.Instrument, error) {
	return g.driver.GetInstruments(ctx)
}

// --- Websocket ---

// ConnectWebsocket starts the market data stream.
func (g *Gateway) ConnectWebsocket(ctx context.Context, handlers StreamHandlers, opts StreamOptions) error {
	if !g.driver.Capabilities().Websocket {
		return g.unsupported("websocket")
	}
	return g.driver.ConnectWebsocket(ctx, handlers, opts)
}

// DisconnectWebsocket stops the market data stream.
func (g *Gateway) DisconnectWebsocket() error {
	return g.driver.DisconnectWebsocket()
}

// Subscribe normalizes and resolves symbols, then subscribes the stream.
func (g *Gateway) Subscribe(syms []string) error {
	native := make([]string, len(syms))
	for i, s := range syms {
		native[i] = g.resolve(s)
	}
	return g.driver.Subscribe(native)
}

// Unsubscribe normalizes and resolves symbols, then unsubscribes them.
func (g *Gateway) Unsubscribe(syms []string) error {
	native := make([]string, len(syms))
	for i, s := range syms {
		native[i] = g.resolve(s)
	}
	return g.driver.Unsubscribe(native)
}

// ConnectOrderWebsocket starts the order event stream.
func (g *Gateway) ConnectOrderWebsocket(handlers OrderStreamHandlers) error {
	if !g.driver.Capabilities().OrderWebsocket {
		return g.unsupported("order websocket")
	}
	return g.driver.ConnectOrderWebsocket(handlers)
}

// --- Advanced orders ---

// PlaceGTTOrder places a good-till-triggered order.
func (g *Gateway) PlaceGTTOrder(ctx context.Context, req GTTRequest) (models.OrderResponse, error) {
	if !g.driver.Capabilities().GTT {
		return models.OrderResponse{Status: models.StatusError}, g.unsupported("gtt")
	}
	return g.driver.PlaceGTTOrder(ctx, req)
}

// PlaceBracketOrder places a bracket order.
func (g *Gateway) PlaceBracketOrder(ctx context.Context, req models.OrderRequest, params BracketParams) (models.OrderResponse, error) {
	if !g.driver.Capabilities().BracketOrder {
		return models.OrderResponse{Status: models.StatusError}, g.unsupported("bracket order")
	}
	return g.driver.PlaceBracketOrder(ctx, req, params)
}

// PlaceCoverOrder places a cover order.
func (g *Gateway) PlaceCoverOrder(ctx context.Context, req models.OrderRequest, triggerPrice float64) (models.OrderResponse, error) {
	if !g.driver.Capabilities().CoverOrder {
		return models.OrderResponse{Status: models.StatusError}, g.unsupported("cover order")
	}
	return g.driver.PlaceCoverOrder(ctx, req, triggerPrice)
}

// PlaceBasketOrders places a basket of orders.
func (g *Gateway) PlaceBasketOrders(ctx context.Context, reqs []models.OrderRequest) ([]models.OrderResponse, error) {
	if !g.driver.Capabilities().BasketOrders {
		return nil, g.unsupported("basket orders")
	}
	return g.driver.PlaceBasketOrders(ctx, reqs)
}

// PlaceMultilegOrder places a multi-leg order.
func (g *Gateway) PlaceMultilegOrder(ctx context.Context, legs []models.OrderRequest) (models.OrderResponse, error) {
	if !g.driver.Capabilities().MultilegOrder {
		return models.OrderResponse{Status: models.StatusError}, g.unsupported("multileg order")
	}
	return g.driver.PlaceMultilegOrder(ctx, legs)
}

// --- Margins ---
//
// Margins are never estimated locally: every margin operation delegates to
// the driver, and a driver that returns no result surfaces
// errors.ErrMarginUnavailable, observably different from a broker
// returning a zero-valued margin, which passes through successfully.

// GetMarginsRequired fetches the margin the broker requires for the orders.
func (g *Gateway) GetMarginsRequired(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	if !g.driver.Capabilities().PlaceOrder {
		return nil, g.unsupported("margins")
	}
	result, err := g.driver.GetMarginsRequired(ctx, orders)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.Wrap(errors.ErrMarginUnavailable, "broker did not return margins")
	}
	return result, nil
}

// GetSpanMargin fetches the span margin for a set of derivative legs.
func (g *Gateway) GetSpanMargin(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	result, err := g.driver.GetSpanMargin(ctx, orders)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.Wrap(errors.ErrMarginUnavailable, "broker did not return span margins")
	}
	return result, nil
}

// GetMultiOrderMargin fetches the combined margin for multiple orders.
func (g *Gateway) GetMultiOrderMargin(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	result, err := g.driver.GetMultiOrderMargin(ctx, orders)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.Wrap(errors.ErrMarginUnavailable, "broker did not return multiorder margins")
	}
	return result, nil
}

// --- Position utilities ---

// ExitPositions closes out all open positions.
func (g *Gateway) ExitPositions(ctx context.Context) error {
	return g.driver.ExitPositions(ctx)
}

// ConvertPosition converts a position between product types.
func (g *Gateway) ConvertPosition(ctx context.Context, symbol string, from, to models.ProductType, quantity int) error {
	return g.driver.ConvertPosition(ctx, symbol, from, to, quantity)
}
