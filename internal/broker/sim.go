package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"multibroker/internal/errors"
	"multibroker/internal/models"
	"multibroker/pkg/utils"
)

const (
	// minPrice floors every simulated price so Brownian evolution can never
	// produce a non-positive value.
	minPrice = 0.01

	// defaultSigma drives regular price evolution; tickSigma is the
	// small-amplitude perturbation applied to replayed stream ticks.
	defaultSigma = 0.015
	tickSigma    = 0.003
)

// SimConfig configures the simulated driver.
type SimConfig struct {
	// Seed is an optional gateway to a real broker, used only to fetch
	// realistic starting prices, history windows, margins and instruments.
	// Every seed failure degrades to a synthetic fallback.
	Seed *Gateway

	InitialCash float64
	RandSeed    int64

	// Stream defaults, overridable per ConnectWebsocket call.
	Interval       string
	Speed          float64 // candles per second
	HistoryMinutes int
}

// SimDriver is a self-contained, in-process stand-in for a live broker. It
// synthesizes a temporally-consistent market: geometric Brownian price
// evolution, synthetic historical bars, a replaying tick stream and an
// in-memory order/position ledger. It never fails for missing seed data
// (it always produces a plausible synthetic value) because its purpose is
// uninterrupted testability, not fidelity under failure.
type SimDriver struct {
	Base

	seed *Gateway
	cash float64

	mu        sync.RWMutex
	positions map[string]models.Position
	orders    map[string]*models.Order
	orderSeq  int

	rngMu sync.Mutex
	rng   *rand.Rand

	wsMu       sync.Mutex
	wsRunning  bool
	wsSymbols  []string
	wsHandlers StreamHandlers
	wsOpts     StreamOptions

	orderMu sync.RWMutex
	onOrder func(OrderUpdate)
}

// NewSimDriver creates a simulated driver.
func NewSimDriver(cfg SimConfig) *SimDriver {
	if cfg.InitialCash == 0 {
		cfg.InitialCash = 1_000_000
	}
	if cfg.RandSeed == 0 {
		cfg.RandSeed = 42
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1.0
	}
	if cfg.HistoryMinutes == 0 {
		cfg.HistoryMinutes = 120
	}

	d := &SimDriver{
		Base: NewBase(Capabilities{
			Historical:     true,
			Quotes:         true,
			Funds:          true,
			Positions:      true,
			PlaceOrder:     true,
			ModifyOrder:    true,
			CancelOrder:    true,
			Tradebook:      true,
			Orderbook:      true,
			Websocket:      true,
			OrderWebsocket: true,
			OptionChain:    true,
			MultilegOrder:  true,
			BasketOrders:   true,
		}),
		seed:      cfg.Seed,
		cash:      cfg.InitialCash,
		positions: make(map[string]models.Position),
		orders:    make(map[string]*models.Order),
		rng:       rand.New(rand.NewSource(cfg.RandSeed)),
		wsOpts: StreamOptions{
			Interval:       cfg.Interval,
			Speed:          cfg.Speed,
			HistoryMinutes: cfg.HistoryMinutes,
		},
	}
	d.Bind(d)
	return d
}

// --- Random helpers (rng shared between callers and the stream loop) ---

func (d *SimDriver) normFloat() float64 {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return d.rng.NormFloat64()
}

func (d *SimDriver) uniform(lo, hi float64) float64 {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return lo + d.rng.Float64()*(hi-lo)
}

func (d *SimDriver) gauss(mean, stddev float64) float64 {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return mean + d.rng.NormFloat64()*stddev
}

// seedQuote returns a starting price for a symbol: the seed gateway's live
// quote when reachable, else a pseudo-random value in a fixed range.
func (d *SimDriver) seedQuote(ctx context.Context, symbol string) float64 {
	if d.seed != nil {
		if q, err := d.seed.GetQuote(ctx, symbol); err == nil && q.LastPrice > 0 {
			return q.LastPrice
		}
	}
	return d.uniform(100, 1000)
}

// bmStep evolves a price one discrete geometric Brownian step with zero
// drift, floored at minPrice. The result is strictly positive for any
// finite input.
func (d *SimDriver) bmStep(price, sigma float64) float64 {
	const dt = 1.0
	z := d.normFloat()
	next := price * math.Exp((-0.5*sigma*sigma)*dt+sigma*math.Sqrt(dt)*z)
	if next < minPrice {
		return minPrice
	}
	return next
}

// --- Account ---

func (d *SimDriver) GetFunds(ctx context.Context) (models.Funds, error) {
	d.mu.RLock()
	cash := d.cash
	d.mu.RUnlock()
	return models.Funds{
		Equity:        cash,
		AvailableCash: cash,
		UsedMargin:    0,
		Net:           cash,
		Raw:           map[string]any{"simulated": true},
	}, nil
}

func (d *SimDriver) GetPositions(ctx context.Context) ([]models.Position, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	positions := make([]models.Position, 0, len(d.positions))
	for _, p := range d.positions {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions, nil
}

// --- Orders ---

// positionKey builds the ledger key for a fill.
func positionKey(exchange models.Exchange, symbol string, product models.ProductType) string {
	return fmt.Sprintf("%s:%s:%s", exchange, symbol, product)
}

// PlaceOrder fills immediately and fully at the requested limit price or,
// absent one, the current seeded price, and applies the fill to the
// position ledger using weighted-average-cost accounting.
func (d *SimDriver) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResponse, error) {
	price := req.Price
	if price == 0 {
		price = d.seedQuote(ctx, string(req.Exchange)+":"+req.Symbol)
	}

	sign := 1
	if req.Side == models.Sell {
		sign = -1
	}

	d.mu.Lock()
	d.orderSeq++
	orderID := fmt.Sprintf("%d%04d", time.Now().UnixMilli(), d.orderSeq)

	// Fills settle against cash immediately: buys debit, sells credit.
	d.cash -= float64(sign) * price * float64(req.Quantity)

	key := positionKey(req.Exchange, req.Symbol, req.Product)
	if existing, ok := d.positions[key]; ok {
		newQty := existing.Quantity + sign*req.Quantity
		newAvailable := existing.Available + sign*req.Quantity
		newAvg := existing.AveragePrice
		if newQty != 0 {
			newAvg = (existing.AveragePrice*float64(existing.Quantity) + price*float64(req.Quantity)) /
				math.Max(1, float64(existing.Quantity+req.Quantity))
		}
		existing.Quantity = newQty
		existing.Available = newAvailable
		existing.AveragePrice = newAvg
		d.positions[key] = existing
	} else {
		d.positions[key] = models.Position{
			Symbol:       req.Symbol,
			Exchange:     req.Exchange,
			Quantity:     sign * req.Quantity,
			Available:    sign * req.Quantity,
			AveragePrice: price,
			Product:      req.Product,
			Raw:          map[string]any{"simulated": true},
		}
	}

	order := &models.Order{
		ID:             orderID,
		Status:         models.OrderStatusComplete,
		Symbol:         req.Symbol,
		Exchange:       req.Exchange,
		Side:           req.Side,
		Type:           req.Type,
		Product:        req.Product,
		Quantity:       req.Quantity,
		Price:          req.Price,
		TriggerPrice:   req.TriggerPrice,
		Validity:       req.Validity,
		Tag:            req.Tag,
		FilledQuantity: req.Quantity,
		AveragePrice:   price,
		PlacedAt:       time.Now(),
	}
	d.orders[orderID] = order
	snapshot := *order
	d.mu.Unlock()

	d.emitOrderUpdate(OrderUpdate{Event: "order_update", Status: models.StatusOK, OrderID: orderID, Order: snapshot})

	return models.OrderResponse{
		Status:  models.StatusOK,
		OrderID: orderID,
		Raw:     map[string]any{"order": snapshot},
	}, nil
}

func (d *SimDriver) CancelOrder(ctx context.Context, orderID string) (models.OrderResponse, error) {
	d.mu.Lock()
	order, ok := d.orders[orderID]
	if !ok {
		d.mu.Unlock()
		return models.OrderResponse{
			Status:  models.StatusError,
			OrderID: orderID,
			Message: "order not found",
		}, errors.ErrOrderNotFound
	}
	order.Status = models.OrderStatusCancelled
	snapshot := *order
	d.mu.Unlock()

	d.emitOrderUpdate(OrderUpdate{Event: "order_update", Status: "cancelled", OrderID: orderID, Order: snapshot})

	return models.OrderResponse{Status: models.StatusOK, OrderID: orderID, Raw: map[string]any{"order": snapshot}}, nil
}

func (d *SimDriver) ModifyOrder(ctx context.Context, orderID string, updates map[string]any) (models.OrderResponse, error) {
	d.mu.Lock()
	order, ok := d.orders[orderID]
	if !ok {
		d.mu.Unlock()
		return models.OrderResponse{
			Status:  models.StatusError,
			OrderID: orderID,
			Message: "order not found",
		}, errors.ErrOrderNotFound
	}
	if v := payloadFloat(updates, "price", "limitPrice"); v != 0 {
		order.Price = v
	}
	if v := payloadFloat(updates, "trigger_price", "stopPrice"); v != 0 {
		order.TriggerPrice = v
	}
	if v := payloadInt(updates, "quantity", "qty"); v != 0 {
		order.Quantity = v
	}
	order.Status = models.OrderStatusModified
	snapshot := *order
	d.mu.Unlock()

	d.emitOrderUpdate(OrderUpdate{Event: "order_update", Status: "modified", OrderID: orderID, Order: snapshot})

	return models.OrderResponse{Status: models.StatusOK, OrderID: orderID, Raw: map[string]any{"order": snapshot}}, nil
}

func (d *SimDriver) GetOrderbook(ctx context.Context) ([]models.Order, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	orders := make([]models.Order, 0, len(d.orders))
	for _, o := range d.orders {
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

// GetTradebook treats every ledger entry as a trade: simulated orders fill
// immediately, so the orderbook and tradebook coincide.
func (d *SimDriver) GetTradebook(ctx context.Context) ([]models.Order, error) {
	return d.GetOrderbook(ctx)
}

func (d *SimDriver) GetProfile(ctx context.Context) (map[string]any, error) {
	return map[string]any{"simulated": true}, nil
}

// --- Market data ---

func (d *SimDriver) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	base := d.seedQuote(ctx, symbol)
	evolved := d.bmStep(base, defaultSigma)

	exch, tsym := string(models.NSE), symbol
	if i := strings.Index(symbol, ":"); i >= 0 {
		exch, tsym = symbol[:i], symbol[i+1:]
	}

	// Synthetic book: a thin spread around the last price.
	spread := math.Max(0.05, evolved*0.0005)
	return models.Quote{
		Symbol:    strings.TrimSuffix(tsym, "-EQ"),
		Exchange:  models.Exchange(exch),
		LastPrice: evolved,
		Bid:       evolved - spread/2,
		Ask:       evolved + spread/2,
		Volume:    int64(math.Abs(d.gauss(1e5, 2e4))),
		Timestamp: time.Now(),
		Raw:       map[string]any{"seed": base, "sim": evolved},
	}, nil
}

// parseSimTime accepts RFC3339 timestamps as well as plain dates.
func parseSimTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// stepMinutes derives a bar step from a minute-form interval name
// ("5m" -> 5). Everything else, day and week intervals included, gets the
// 15-minute default so daily bars do not replay at one minute per step.
func stepMinutes(interval string) int {
	iv := strings.ToLower(strings.TrimSpace(interval))
	if !strings.HasSuffix(iv, "m") {
		return 15
	}
	n := 0
	for _, r := range iv[:len(iv)-1] {
		if r < '0' || r > '9' {
			return 15
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 15
	}
	return n
}

// GetHistory synthesizes bars by walking Brownian steps from the parsed
// start to the end date. Unparseable dates fall back to a recent one-day
// window rather than failing.
func (d *SimDriver) GetHistory(ctx context.Context, symbol, interval, start, end string) ([]models.Candle, error) {
	startDt, okStart := parseSimTime(start)
	endDt, okEnd := parseSimTime(end)
	if !okStart || !okEnd {
		endDt = time.Now().UTC()
		startDt = endDt.Add(-24 * time.Hour)
	}

	step := time.Duration(stepMinutes(interval)) * time.Minute
	price := d.seedQuote(ctx, symbol)

	var candles []models.Candle
	for cur := startDt; !cur.After(endDt); cur = cur.Add(step) {
		open := price
		closePx := d.bmStep(open, defaultSigma)
		high := math.Max(math.Max(open, closePx), d.bmStep(open, defaultSigma))
		low := math.Min(math.Min(open, closePx), d.bmStep(open, defaultSigma))
		volume := int64(math.Abs(d.gauss(1e5, 2e4)))

		candles = append(candles, models.Candle{
			Timestamp: cur,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
		})
		price = closePx
	}
	return candles, nil
}

// GetOptionChain simulates a chain as a grid of strikes around the current
// spot, 50 apart, with Brownian premiums.
func (d *SimDriver) GetOptionChain(ctx context.Context, underlying string, exchange models.Exchange) ([]models.OptionStrike, error) {
	sym := underlying
	if !strings.Contains(sym, ":") {
		sym = string(exchange) + ":" + underlying
	}
	spot := d.seedQuote(ctx, sym)

	var out []models.OptionStrike
	for delta := -300.0; delta <= 300.0; delta += 50.0 {
		strike := math.Round((spot+delta)/10) * 10
		out = append(out, models.OptionStrike{
			Symbol:    fmt.Sprintf("%s:%s%d%s", exchange, underlying, int(strike), models.OptionCall),
			Strike:    strike,
			Type:      models.OptionCall,
			LastPrice: d.bmStep(5.0, defaultSigma),
		})
		out = append(out, models.OptionStrike{
			Symbol:    fmt.Sprintf("%s:%s%d%s", exchange, underlying, int(strike), models.OptionPut),
			Strike:    strike,
			Type:      models.OptionPut,
			LastPrice: d.bmStep(5.0, defaultSigma),
		})
	}
	return out, nil
}

// --- Instruments (proxied to the seed broker when available) ---

func (d *SimDriver) DownloadInstruments(ctx context.Context) error {
	if d.seed == nil {
		return nil
	}
	return d.seed.DownloadInstruments(ctx)
}

func (d *SimDriver) GetInstruments(ctx context.Context) ([]models.Instrument, error) {
	if d.seed == nil {
		return []models.Instrument{}, nil
	}
	return d.seed.GetInstruments(ctx)
}

// --- Order stream ---

func (d *SimDriver) ConnectOrderWebsocket(handlers OrderStreamHandlers) error {
	d.orderMu.Lock()
	d.onOrder = handlers.OnOrderUpdate
	d.orderMu.Unlock()
	safeInvoke(handlers.OnConnect)
	return nil
}

// emitOrderUpdate delivers a synthetic order event to the registered
// subscriber, at most once, best-effort: a panicking callback never aborts
// the order operation that triggered it.
func (d *SimDriver) emitOrderUpdate(update OrderUpdate) {
	d.orderMu.RLock()
	cb := d.onOrder
	d.orderMu.RUnlock()
	if cb == nil {
		return
	}
	safeInvoke(func() { cb(update) })
}

// --- Tick stream ---

// ConnectWebsocket starts the replay loop on a background goroutine. The
// start is idempotent: a second call while the loop runs only refreshes the
// stream options.
func (d *SimDriver) ConnectWebsocket(ctx context.Context, handlers StreamHandlers, opts StreamOptions) error {
	d.wsMu.Lock()
	d.wsHandlers = handlers
	if opts.Interval != "" {
		d.wsOpts.Interval = opts.Interval
	}
	if opts.Speed > 0 {
		d.wsOpts.Speed = opts.Speed
	}
	if opts.HistoryMinutes > 0 {
		d.wsOpts.HistoryMinutes = opts.HistoryMinutes
	}
	if len(opts.SimulateDate) >= 10 {
		d.wsOpts.SimulateDate = opts.SimulateDate[:10]
	}
	if d.wsRunning {
		d.wsMu.Unlock()
		return nil
	}
	d.wsRunning = true
	d.wsMu.Unlock()

	go d.wsLoop()
	return nil
}

// DisconnectWebsocket clears the running flag. The loop stops cooperatively
// at its next flag poll; no further ticks are emitted after that.
func (d *SimDriver) DisconnectWebsocket() error {
	d.wsMu.Lock()
	d.wsRunning = false
	d.wsMu.Unlock()
	return nil
}

func (d *SimDriver) Subscribe(symbols []string) error {
	d.wsMu.Lock()
	defer d.wsMu.Unlock()
	d.wsSymbols = append([]string(nil), symbols...)
	return nil
}

func (d *SimDriver) Unsubscribe(symbols []string) error {
	remove := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		remove[s] = true
	}
	d.wsMu.Lock()
	defer d.wsMu.Unlock()
	kept := d.wsSymbols[:0]
	for _, s := range d.wsSymbols {
		if !remove[s] {
			kept = append(kept, s)
		}
	}
	d.wsSymbols = kept
	return nil
}

func (d *SimDriver) wsRunningNow() bool {
	d.wsMu.Lock()
	defer d.wsMu.Unlock()
	return d.wsRunning
}

func (d *SimDriver) wsSnapshot() ([]string, StreamHandlers, StreamOptions) {
	d.wsMu.Lock()
	defer d.wsMu.Unlock()
	return append([]string(nil), d.wsSymbols...), d.wsHandlers, d.wsOpts
}

// wsLoop replays bounded history windows for the subscribed symbols as
// live-looking ticks. Subscribed symbols and options are re-read at the top
// of every cycle (bounded staleness); the loop exits when the running flag
// clears and fires the close callback exactly once.
func (d *SimDriver) wsLoop() {
	defer func() {
		d.wsMu.Lock()
		d.wsRunning = false
		onClose := d.wsHandlers.OnClose
		d.wsMu.Unlock()
		safeInvoke(onClose)
	}()

	_, handlers, _ := d.wsSnapshot()
	safeInvoke(handlers.OnConnect)

	ctx := context.Background()

	for d.wsRunningNow() {
		syms, handlers, opts := d.wsSnapshot()
		if len(syms) == 0 {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		// Replay window: a caller-set date, or a rolling window ending now.
		var start, end string
		if opts.SimulateDate != "" {
			start, end = opts.SimulateDate, opts.SimulateDate
		} else {
			endDt := time.Now().UTC()
			startDt := endDt.Add(-time.Duration(opts.HistoryMinutes) * time.Minute)
			start = startDt.Format("2006-01-02")
			end = endDt.Format("2006-01-02")
		}

		series := make(map[string][]models.Candle, len(syms))
		maxLen := 0
		for _, s := range syms {
			var candles []models.Candle
			var err error
			if d.seed != nil {
				candles, err = d.seed.GetHistory(ctx, s, opts.Interval, start, end)
			}
			if d.seed == nil || err != nil {
				candles, _ = d.GetHistory(ctx, s, opts.Interval, start, end)
			}
			series[s] = candles
			if len(candles) > maxLen {
				maxLen = len(candles)
			}
		}

		intervalMinutes := 1
		if strings.HasSuffix(opts.Interval, "m") {
			if n := stepMinutes(opts.Interval); n > 0 {
				intervalMinutes = n
			}
		}

		// Replayed ticks are stamped from market open onward.
		baseDay := time.Now().In(utils.IndiaLocation)
		if opts.SimulateDate != "" {
			if t, err := time.ParseInLocation("2006-01-02", opts.SimulateDate, utils.IndiaLocation); err == nil {
				baseDay = t
			}
		}
		baseStart := time.Date(baseDay.Year(), baseDay.Month(), baseDay.Day(), 9, 15, 0, 0, utils.IndiaLocation)

		pause := time.Duration(float64(time.Second) / (opts.Speed * math.Max(1, float64(len(syms)))))
		if pause < 5*time.Millisecond {
			pause = 5 * time.Millisecond
		}

		for i := 0; i < maxLen && d.wsRunningNow(); i++ {
			ts := baseStart.Add(time.Duration(i*intervalMinutes) * time.Minute)
			for _, s := range syms {
				bars := series[s]
				if i >= len(bars) {
					continue
				}
				bar := bars[i]
				price := bar.Close
				if price == 0 {
					price = bar.Open
				}
				if price == 0 {
					price = d.seedQuote(ctx, s)
				}
				price = d.bmStep(price, tickSigma)

				tick := models.Tick{
					Symbol:    s,
					LTP:       price,
					Open:      bar.Open,
					High:      bar.High,
					Low:       bar.Low,
					Close:     bar.Close,
					Volume:    bar.Volume,
					Timestamp: ts,
				}
				if handlers.OnTick != nil {
					safeInvoke(func() { handlers.OnTick(tick) })
				}
				time.Sleep(pause)
			}
		}
	}
}

// safeInvoke runs a callback, swallowing panics so caller-supplied handlers
// cannot corrupt ledger state or kill the stream loop.
func safeInvoke(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	fn()
}

// PlaceBasketOrders fills each order independently; one bad leg does not
// stop the rest.
func (d *SimDriver) PlaceBasketOrders(ctx context.Context, reqs []models.OrderRequest) ([]models.OrderResponse, error) {
	responses := make([]models.OrderResponse, 0, len(reqs))
	for _, req := range reqs {
		resp, err := d.PlaceOrder(ctx, req)
		if err != nil {
			resp = models.OrderResponse{Status: models.StatusError, Message: err.Error()}
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// PlaceMultilegOrder fills all legs atomically from the caller's view: legs
// are placed in sequence and the combined response reports every leg id.
func (d *SimDriver) PlaceMultilegOrder(ctx context.Context, legs []models.OrderRequest) (models.OrderResponse, error) {
	ids := make([]string, 0, len(legs))
	for _, leg := range legs {
		resp, err := d.PlaceOrder(ctx, leg)
		if err != nil {
			return models.OrderResponse{Status: models.StatusError, Message: err.Error()}, err
		}
		ids = append(ids, resp.OrderID)
	}
	var first string
	if len(ids) > 0 {
		first = ids[0]
	}
	return models.OrderResponse{
		Status:  models.StatusOK,
		OrderID: first,
		Raw:     map[string]any{"leg_order_ids": ids},
	}, nil
}

// --- Margins ---

// GetMarginsRequired proxies to the seed broker when reachable; otherwise a
// flat heuristic of 10% of notional, summed across orders. The heuristic is
// a non-authoritative stand-in and must never be confused with a live
// broker's margin determination.
func (d *SimDriver) GetMarginsRequired(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	if d.seed != nil {
		if result, err := d.seed.GetMarginsRequired(ctx, orders); err == nil && result != nil {
			return result, nil
		}
	}

	total := 0.0
	for _, o := range orders {
		o = unwrapMarginOrder(o)
		qty := payloadInt(o, "qty", "quantity")
		if qty == 0 {
			qty = 1
		}
		price := payloadFloat(o, "limitPrice", "price")
		if price == 0 {
			price = d.seedQuote(ctx, payloadString(o, "symbol"))
		}
		total += price * float64(qty) * 0.1
	}

	d.mu.RLock()
	cash := d.cash
	d.mu.RUnlock()

	return &MarginResult{
		Total:     total,
		NewOrder:  total,
		Available: cash - total,
		Raw:       map[string]any{"s": models.StatusOK, "heuristic": "10% notional"},
	}, nil
}

// GetSpanMargin tries the seed broker's span margin, then its multiorder
// margin, then the local heuristic. Seed failures never propagate.
func (d *SimDriver) GetSpanMargin(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	if d.seed != nil {
		if result, err := d.seed.GetSpanMargin(ctx, orders); err == nil && result != nil {
			return result, nil
		}
		if result, err := d.seed.GetMarginsRequired(ctx, orders); err == nil && result != nil {
			return result, nil
		}
	}
	return d.GetMarginsRequired(ctx, orders)
}

func (d *SimDriver) GetMultiOrderMargin(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	return d.GetMarginsRequired(ctx, orders)
}

// --- Position utilities ---

// ExitPositions deletes every position; this is the only way positions
// leave the ledger.
func (d *SimDriver) ExitPositions(ctx context.Context) error {
	d.mu.Lock()
	d.positions = make(map[string]models.Position)
	d.mu.Unlock()
	return nil
}

func (d *SimDriver) ConvertPosition(ctx context.Context, symbol string, from, to models.ProductType, quantity int) error {
	return nil
}

// Ensure SimDriver implements the Driver interface.
var _ Driver = (*SimDriver)(nil)
