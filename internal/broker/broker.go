// Package broker provides the capability-aware driver contract, the gateway
// facade and the broker driver implementations.
package broker

import (
	"context"
	"time"

	"multibroker/internal/errors"
	"multibroker/internal/models"
)

// Capabilities declares which operations a driver supports. The gateway
// consults it before dispatching optional operations; a call against an
// unset flag fails fast with errors.ErrUnsupported instead of probing the
// driver.
type Capabilities struct {
	Historical     bool
	Quotes         bool
	Funds          bool
	Positions      bool
	PlaceOrder     bool
	ModifyOrder    bool
	CancelOrder    bool
	Tradebook      bool
	Orderbook      bool
	Websocket      bool
	OrderWebsocket bool
	MasterContract bool
	OptionChain    bool
	GTT            bool
	BracketOrder   bool
	CoverOrder     bool
	MultilegOrder  bool
	BasketOrders   bool
}

// DefaultCapabilities returns the baseline capability set: core trading and
// market data on, broker-specific extensions off.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Historical:  true,
		Quotes:      true,
		Funds:       true,
		Positions:   true,
		PlaceOrder:  true,
		ModifyOrder: true,
		CancelOrder: true,
		Tradebook:   true,
		Orderbook:   true,
		Websocket:   true,
	}
}

// MarginOrder is a broker-specific margin-check payload. Shapes differ per
// broker; the gateway's NormalizeMarginOrders produces them.
type MarginOrder map[string]any

// MarginResult is a broker margin determination. Drivers return nil when the
// broker produced no usable data, which the gateway converts into
// errors.ErrMarginUnavailable; a non-nil result with zero values is a valid
// zero margin.
type MarginResult struct {
	Total     float64
	NewOrder  float64
	Available float64
	Raw       map[string]any
}

// StreamHandlers carries caller-supplied callbacks for a market data stream.
// Any handler may be nil. Handlers are invoked best-effort: a panic inside a
// handler is swallowed and never kills the stream.
type StreamHandlers struct {
	OnTick    func(models.Tick)
	OnConnect func()
	OnError   func(error)
	OnClose   func()
}

// StreamOptions configures a simulated or live market data stream.
type StreamOptions struct {
	Interval       string        // candle interval for replay, e.g. "1m"
	Speed          float64       // candles per second per symbol
	HistoryMinutes int           // rolling replay window when SimulateDate is empty
	SimulateDate   string        // YYYY-MM-DD replay date override
	ReconnectDelay time.Duration // live adapters only
}

// OrderUpdate is a structured order event emitted on the order stream.
type OrderUpdate struct {
	Event   string
	Status  string
	OrderID string
	Order   models.Order
}

// OrderStreamHandlers carries callbacks for the order event stream.
// Delivery is at-most-once and best-effort: a failing callback never aborts
// the order operation that triggered it.
type OrderStreamHandlers struct {
	OnOrderUpdate func(OrderUpdate)
	OnError       func(error)
	OnClose       func()
	OnConnect     func()
}

// GTTRequest describes a good-till-triggered order.
type GTTRequest struct {
	Symbol       string
	Exchange     models.Exchange
	TriggerType  string // "single" or "two-leg"
	TriggerPrice float64
	LastPrice    float64
	Legs         []models.OrderRequest
}

// BracketParams carries the protective legs of a bracket order.
type BracketParams struct {
	StopLoss     float64
	Target       float64
	TrailingStop float64
}

// Driver is the polymorphic surface every broker adapter implements, live
// or simulated. The first block is required; the rest is optional and ships
// with neutral defaults via Base so adapters only override what they
// support. Callers check Capabilities instead of probing by calling.
type Driver interface {
	Capabilities() Capabilities

	// Required operations.
	GetFunds(ctx context.Context) (models.Funds, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) (models.OrderResponse, error)
	ModifyOrder(ctx context.Context, orderID string, updates map[string]any) (models.OrderResponse, error)
	GetOrderbook(ctx context.Context) ([]models.Order, error)
	GetTradebook(ctx context.Context) ([]models.Order, error)
	GetQuote(ctx context.Context, symbol string) (models.Quote, error)
	GetHistory(ctx context.Context, symbol, interval, start, end string) ([]models.Candle, error)

	// Optional operations with Base defaults.
	GetPosition(ctx context.Context, symbol string, exchange models.Exchange) (*models.Position, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	DownloadInstruments(ctx context.Context) error
	GetInstruments(ctx context.Context) ([]models.Instrument, error)
	GetOptionChain(ctx context.Context, underlying string, exchange models.Exchange) ([]models.OptionStrike, error)

	ConnectWebsocket(ctx context.Context, handlers StreamHandlers, opts StreamOptions) error
	DisconnectWebsocket() error
	Subscribe(symbols []string) error
	Unsubscribe(symbols []string) error
	ConnectOrderWebsocket(handlers OrderStreamHandlers) error

	PlaceGTTOrder(ctx context.Context, req GTTRequest) (models.OrderResponse, error)
	PlaceBracketOrder(ctx context.Context, req models.OrderRequest, params BracketParams) (models.OrderResponse, error)
	PlaceCoverOrder(ctx context.Context, req models.OrderRequest, triggerPrice float64) (models.OrderResponse, error)
	PlaceBasketOrders(ctx context.Context, reqs []models.OrderRequest) ([]models.OrderResponse, error)
	PlaceMultilegOrder(ctx context.Context, legs []models.OrderRequest) (models.OrderResponse, error)

	GetMarginsRequired(ctx context.Context, orders []MarginOrder) (*MarginResult, error)
	GetSpanMargin(ctx context.Context, orders []MarginOrder) (*MarginResult, error)
	GetMultiOrderMargin(ctx context.Context, orders []MarginOrder) (*MarginResult, error)

	GetProfile(ctx context.Context) (map[string]any, error)
	ExitPositions(ctx context.Context) error
	ConvertPosition(ctx context.Context, symbol string, from, to models.ProductType, quantity int) error
}

// Base supplies neutral defaults for the optional Driver operations so
// adapters implement only the required subset plus what they support.
// Drivers embed Base and call Bind with themselves after construction so
// derived defaults (position scan, sequential quotes) reach the concrete
// implementation.
type Base struct {
	caps Capabilities
	self Driver
}

// NewBase creates a Base publishing the given capability descriptor.
func NewBase(caps Capabilities) Base {
	return Base{caps: caps}
}

// Bind attaches the concrete driver so Base defaults can call back into it.
func (b *Base) Bind(self Driver) {
	b.self = self
}

// Capabilities returns the published capability descriptor.
func (b *Base) Capabilities() Capabilities {
	return b.caps
}

// GetPosition scans GetPositions for a matching symbol. An empty exchange
// matches any exchange. Returns nil without error when absent.
func (b *Base) GetPosition(ctx context.Context, symbol string, exchange models.Exchange) (*models.Position, error) {
	positions, err := b.self.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		p := &positions[i]
		if p.Symbol == symbol && (exchange == "" || p.Exchange == exchange) {
			return p, nil
		}
	}
	return nil, nil
}

// GetQuotes fetches quotes sequentially, skipping symbols that fail.
func (b *Base) GetQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	result := make(map[string]models.Quote, len(symbols))
	for _, s := range symbols {
		q, err := b.self.GetQuote(ctx, s)
		if err != nil {
			continue
		}
		result[s] = q
	}
	return result, nil
}

// GetOrder scans the orderbook for a matching order id. Returns
// errors.ErrOrderNotFound when absent.
func (b *Base) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	orders, err := b.self.GetOrderbook(ctx)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].ID == orderID {
			return &orders[i], nil
		}
	}
	return nil, errors.ErrOrderNotFound
}

// DownloadInstruments is a no-op by default.
func (b *Base) DownloadInstruments(ctx context.Context) error {
	return nil
}

// GetInstruments returns an empty list by default.
func (b *Base) GetInstruments(ctx context.Context) ([]models.Instrument, error) {
	return []models.Instrument{}, nil
}

// GetOptionChain is unsupported by default.
func (b *Base) GetOptionChain(ctx context.Context, underlying string, exchange models.Exchange) ([]models.OptionStrike, error) {
	return nil, errors.ErrUnsupported
}

// ConnectWebsocket is a no-op by default.
func (b *Base) ConnectWebsocket(ctx context.Context, handlers StreamHandlers, opts StreamOptions) error {
	return nil
}

// DisconnectWebsocket is a no-op by default.
func (b *Base) DisconnectWebsocket() error {
	return nil
}

// Subscribe is a no-op by default.
func (b *Base) Subscribe(symbols []string) error {
	return nil
}

// Unsubscribe is a no-op by default.
func (b *Base) Unsubscribe(symbols []string) error {
	return nil
}

// ConnectOrderWebsocket is a no-op by default.
func (b *Base) ConnectOrderWebsocket(handlers OrderStreamHandlers) error {
	return nil
}

func (b *Base) PlaceGTTOrder(ctx context.Context, req GTTRequest) (models.OrderResponse, error) {
	return models.OrderResponse{Status: models.StatusError}, errors.ErrUnsupported
}

func (b *Base) PlaceBracketOrder(ctx context.Context, req models.OrderRequest, params BracketParams) (models.OrderResponse, error) {
	return models.OrderResponse{Status: models.StatusError}, errors.ErrUnsupported
}

func (b *Base) PlaceCoverOrder(ctx context.Context, req models.OrderRequest, triggerPrice float64) (models.OrderResponse, error) {
	return models.OrderResponse{Status: models.StatusError}, errors.ErrUnsupported
}

func (b *Base) PlaceBasketOrders(ctx context.Context, reqs []models.OrderRequest) ([]models.OrderResponse, error) {
	return nil, errors.ErrUnsupported
}

func (b *Base) PlaceMultilegOrder(ctx context.Context, legs []models.OrderRequest) (models.OrderResponse, error) {
	return models.OrderResponse{Status: models.StatusError}, errors.ErrUnsupported
}

func (b *Base) GetMarginsRequired(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	return nil, errors.ErrUnsupported
}

func (b *Base) GetSpanMargin(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	return nil, errors.ErrUnsupported
}

func (b *Base) GetMultiOrderMargin(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	return nil, errors.ErrUnsupported
}

func (b *Base) GetProfile(ctx context.Context) (map[string]any, error) {
	return nil, errors.ErrUnsupported
}

func (b *Base) ExitPositions(ctx context.Context) error {
	return errors.ErrUnsupported
}

func (b *Base) ConvertPosition(ctx context.Context, symbol string, from, to models.ProductType, quantity int) error {
	return errors.ErrUnsupported
}
