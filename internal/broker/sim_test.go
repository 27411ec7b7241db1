package broker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"multibroker/internal/errors"
	"multibroker/internal/models"
)

func buy(symbol string, qty int, price float64) models.OrderRequest {
	return models.OrderRequest{
		Symbol:   symbol,
		Exchange: models.NSE,
		Quantity: qty,
		Type:     models.OrderTypeLimit,
		Side:     models.Buy,
		Product:  models.ProductIntraday,
		Price:    price,
	}
}

func sell(symbol string, qty int, price float64) models.OrderRequest {
	r := buy(symbol, qty, price)
	r.Side = models.Sell
	return r
}

func TestSimPlaceOrderFillsImmediately(t *testing.T) {
	d := NewSimDriver(SimConfig{})
	ctx := context.Background()

	resp, err := d.PlaceOrder(ctx, buy("SBIN", 10, 400))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !resp.OK() || resp.OrderID == "" {
		t.Fatalf("resp = %+v", resp)
	}

	orders, err := d.GetOrderbook(ctx)
	if err != nil {
		t.Fatalf("GetOrderbook: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders", len(orders))
	}
	o := orders[0]
	if o.Status != models.OrderStatusComplete || o.FilledQuantity != 10 || o.AveragePrice != 400 {
		t.Errorf("order = %+v", o)
	}

	trades, err := d.GetTradebook(ctx)
	if err != nil {
		t.Fatalf("GetTradebook: %v", err)
	}
	if len(trades) != 1 {
		t.Errorf("tradebook has %d entries, want 1", len(trades))
	}
}

func TestSimWeightedAveragePosition(t *testing.T) {
	d := NewSimDriver(SimConfig{})
	ctx := context.Background()

	mustPlace := func(req models.OrderRequest) {
		t.Helper()
		if _, err := d.PlaceOrder(ctx, req); err != nil {
			t.Fatalf("PlaceOrder: %v", err)
		}
	}

	mustPlace(buy("SBIN", 100, 10))
	mustPlace(buy("SBIN", 100, 20))

	positions, err := d.GetPositions(ctx)
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions", len(positions))
	}
	p := positions[0]
	if p.Quantity != 200 || p.AveragePrice != 15 {
		t.Errorf("position = qty %d avg %v, want qty 200 avg 15", p.Quantity, p.AveragePrice)
	}

	mustPlace(sell("SBIN", 200, 18))

	positions, _ = d.GetPositions(ctx)
	if positions[0].Quantity != 0 {
		t.Errorf("flat position qty = %d, want 0", positions[0].Quantity)
	}

	// A different product is a separate ledger entry.
	cnc := buy("SBIN", 50, 12)
	cnc.Product = models.ProductCNC
	mustPlace(cnc)

	positions, _ = d.GetPositions(ctx)
	if len(positions) != 2 {
		t.Errorf("got %d positions, want 2 (per product)", len(positions))
	}
}

func TestSimOrderNotFound(t *testing.T) {
	d := NewSimDriver(SimConfig{})
	ctx := context.Background()

	resp, err := d.CancelOrder(ctx, "missing")
	if !errors.Is(err, errors.ErrOrderNotFound) {
		t.Errorf("cancel err = %v, want ErrOrderNotFound", err)
	}
	if resp.Status != models.StatusError || resp.Message != "order not found" {
		t.Errorf("cancel resp = %+v", resp)
	}

	if _, err := d.ModifyOrder(ctx, "missing", nil); !errors.Is(err, errors.ErrOrderNotFound) {
		t.Errorf("modify err = %v, want ErrOrderNotFound", err)
	}
}

func TestSimCancelAndModifyMutateLedger(t *testing.T) {
	d := NewSimDriver(SimConfig{})
	ctx := context.Background()

	resp, err := d.PlaceOrder(ctx, buy("SBIN", 10, 400))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if _, err := d.ModifyOrder(ctx, resp.OrderID, map[string]any{"price": 405.0, "quantity": 12}); err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}
	order, err := d.GetOrder(ctx, resp.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.Status != models.OrderStatusModified || order.Price != 405.0 || order.Quantity != 12 {
		t.Errorf("modified order = %+v", order)
	}

	if _, err := d.CancelOrder(ctx, resp.OrderID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	order, _ = d.GetOrder(ctx, resp.OrderID)
	if order.Status != models.OrderStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", order.Status)
	}
}

func TestSimQuoteAndHistoryDeterministic(t *testing.T) {
	ctx := context.Background()

	a := NewSimDriver(SimConfig{})
	b := NewSimDriver(SimConfig{})

	qa, err := a.GetQuote(ctx, "NSE:SBIN")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	qb, _ := b.GetQuote(ctx, "NSE:SBIN")
	if qa.LastPrice != qb.LastPrice {
		t.Errorf("same seed produced different quotes: %v vs %v", qa.LastPrice, qb.LastPrice)
	}
	if qa.LastPrice <= 0 {
		t.Errorf("quote price = %v, want > 0", qa.LastPrice)
	}
	if qa.Symbol != "SBIN" || qa.Exchange != models.NSE {
		t.Errorf("quote identity = %s:%s", qa.Exchange, qa.Symbol)
	}
}

func TestSimHistorySynthesis(t *testing.T) {
	d := NewSimDriver(SimConfig{})
	ctx := context.Background()

	candles, err := d.GetHistory(ctx, "NSE:SBIN", "15m", "2024-03-01", "2024-03-02")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	// 24 hours inclusive at 15 minutes per bar.
	if len(candles) != 97 {
		t.Errorf("got %d bars, want 97", len(candles))
	}
	for i, c := range candles {
		if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
			t.Fatalf("bar %d has non-positive price: %+v", i, c)
		}
		if c.Volume < 0 {
			t.Fatalf("bar %d has negative volume", i)
		}
		if i > 0 && candles[i-1].Close != c.Open {
			t.Fatalf("bar %d does not open at previous close", i)
		}
	}

	t.Run("unparseable dates fall back to a day window", func(t *testing.T) {
		candles, err := d.GetHistory(ctx, "NSE:SBIN", "60m", "junk", "junk")
		if err != nil {
			t.Fatalf("GetHistory: %v", err)
		}
		if len(candles) == 0 {
			t.Error("fallback window produced no bars")
		}
	})

	t.Run("unknown interval defaults to 15 minutes", func(t *testing.T) {
		a, _ := d.GetHistory(ctx, "NSE:SBIN", "weird", "2024-03-01", "2024-03-01T06:00:00")
		if len(a) != 25 {
			t.Errorf("got %d bars, want 25", len(a))
		}
	})
}

func TestSimHistoryBarsAreInternallyConsistent(t *testing.T) {
	d := NewSimDriver(SimConfig{})
	ctx := context.Background()

	candles, err := d.GetHistory(ctx, "NSE:SBIN", "5m", "2024-03-01", "2024-03-02")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	for i, c := range candles {
		if c.Close < c.Low || c.Close > c.High {
			t.Fatalf("bar %d close %v outside [%v, %v]", i, c.Close, c.Low, c.High)
		}
		if c.Open < c.Low || c.Open > c.High {
			t.Fatalf("bar %d open %v outside [%v, %v]", i, c.Open, c.Low, c.High)
		}
		if c.High < c.Low {
			t.Fatalf("bar %d high %v below low %v", i, c.High, c.Low)
		}
	}
}

func TestSimDayIntervalStepsFifteenMinutes(t *testing.T) {
	d := NewSimDriver(SimConfig{})
	ctx := context.Background()

	// Day intervals do not parse as minute counts; they step at 15
	// minutes like any other non-minute interval.
	day, err := d.GetHistory(ctx, "NSE:SBIN", "1d", "2024-03-01", "2024-03-02")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	quarter, err := d.GetHistory(ctx, "NSE:SBIN", "15m", "2024-03-01", "2024-03-02")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(day) != len(quarter) {
		t.Errorf("1d produced %d bars, 15m produced %d, want equal", len(day), len(quarter))
	}
}

func TestSimCashSettlesOnFill(t *testing.T) {
	d := NewSimDriver(SimConfig{InitialCash: 100000})
	ctx := context.Background()

	if _, err := d.PlaceOrder(ctx, buy("SBIN", 10, 400)); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	funds, err := d.GetFunds(ctx)
	if err != nil {
		t.Fatalf("GetFunds: %v", err)
	}
	if funds.AvailableCash != 96000 {
		t.Errorf("cash after buy = %v, want 96000", funds.AvailableCash)
	}

	if _, err := d.PlaceOrder(ctx, sell("SBIN", 10, 410)); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	funds, _ = d.GetFunds(ctx)
	if funds.AvailableCash != 100100 {
		t.Errorf("cash after round trip = %v, want 100100", funds.AvailableCash)
	}
}

func TestSimQuoteCarriesSyntheticBook(t *testing.T) {
	d := NewSimDriver(SimConfig{})

	q, err := d.GetQuote(context.Background(), "NSE:SBIN")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if q.Bid <= 0 || q.Ask <= 0 {
		t.Fatalf("bid/ask = %v/%v, want positive", q.Bid, q.Ask)
	}
	if !(q.Bid < q.LastPrice && q.LastPrice < q.Ask) {
		t.Errorf("want bid %v < last %v < ask %v", q.Bid, q.LastPrice, q.Ask)
	}
	if q.Volume < 0 {
		t.Errorf("volume = %d, want non-negative", q.Volume)
	}
}

func TestSimOptionChain(t *testing.T) {
	d := NewSimDriver(SimConfig{})

	strikes, err := d.GetOptionChain(context.Background(), "NIFTY", models.NSE)
	if err != nil {
		t.Fatalf("GetOptionChain: %v", err)
	}
	// 13 strike levels, a call and a put each.
	if len(strikes) != 26 {
		t.Fatalf("got %d strikes, want 26", len(strikes))
	}
	calls, puts := 0, 0
	for _, s := range strikes {
		switch s.Type {
		case models.OptionCall:
			calls++
		case models.OptionPut:
			puts++
		}
		if s.LastPrice <= 0 {
			t.Errorf("premium = %v, want > 0", s.LastPrice)
		}
	}
	if calls != 13 || puts != 13 {
		t.Errorf("calls/puts = %d/%d, want 13/13", calls, puts)
	}
}

func TestSimMarginHeuristic(t *testing.T) {
	d := NewSimDriver(SimConfig{})
	ctx := context.Background()

	result, err := d.GetMarginsRequired(ctx, []MarginOrder{
		{"symbol": "NSE:SBIN-EQ", "qty": 10, "limitPrice": 100.0},
	})
	if err != nil {
		t.Fatalf("GetMarginsRequired: %v", err)
	}
	if result == nil {
		t.Fatal("result is nil")
	}
	if result.Total != 100 {
		t.Errorf("total = %v, want 100 (10%% of notional)", result.Total)
	}
	if result.NewOrder != result.Total {
		t.Errorf("new order margin = %v, want %v", result.NewOrder, result.Total)
	}

	// Span falls back to the same heuristic without a seed broker.
	span, err := d.GetSpanMargin(ctx, []MarginOrder{
		{"symbol": "NSE:SBIN-EQ", "qty": 10, "limitPrice": 100.0},
	})
	if err != nil {
		t.Fatalf("GetSpanMargin: %v", err)
	}
	if span.Total != 100 {
		t.Errorf("span total = %v, want 100", span.Total)
	}

	t.Run("sentinel-wrapped typed request", func(t *testing.T) {
		result, err := d.GetMarginsRequired(ctx, []MarginOrder{
			{sentinelOrderRequest: models.OrderRequest{
				Symbol:   "SBIN",
				Exchange: models.NSE,
				Quantity: 10,
				Type:     models.OrderTypeLimit,
				Side:     models.Buy,
				Price:    100,
			}},
		})
		if err != nil {
			t.Fatalf("GetMarginsRequired: %v", err)
		}
		if result.Total != 100 {
			t.Errorf("total = %v, want 100 (10%% of notional)", result.Total)
		}
	})
}

func TestSimFundsAndExit(t *testing.T) {
	d := NewSimDriver(SimConfig{InitialCash: 50000})
	ctx := context.Background()

	funds, err := d.GetFunds(ctx)
	if err != nil {
		t.Fatalf("GetFunds: %v", err)
	}
	if funds.AvailableCash != 50000 {
		t.Errorf("cash = %v, want 50000", funds.AvailableCash)
	}

	if _, err := d.PlaceOrder(ctx, buy("SBIN", 10, 400)); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if err := d.ExitPositions(ctx); err != nil {
		t.Fatalf("ExitPositions: %v", err)
	}
	positions, _ := d.GetPositions(ctx)
	if len(positions) != 0 {
		t.Errorf("positions after exit = %d, want 0", len(positions))
	}
}

func TestSimOrderUpdateCallback(t *testing.T) {
	d := NewSimDriver(SimConfig{})
	ctx := context.Background()

	var got atomic.Int32
	err := d.ConnectOrderWebsocket(OrderStreamHandlers{
		OnOrderUpdate: func(u OrderUpdate) {
			if u.OrderID != "" {
				got.Add(1)
			}
		},
	})
	if err != nil {
		t.Fatalf("ConnectOrderWebsocket: %v", err)
	}

	if _, err := d.PlaceOrder(ctx, buy("SBIN", 1, 100)); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if got.Load() != 1 {
		t.Errorf("got %d order updates, want 1", got.Load())
	}

	t.Run("panicking callback does not abort the order", func(t *testing.T) {
		d := NewSimDriver(SimConfig{})
		_ = d.ConnectOrderWebsocket(OrderStreamHandlers{
			OnOrderUpdate: func(OrderUpdate) { panic("boom") },
		})
		resp, err := d.PlaceOrder(ctx, buy("SBIN", 1, 100))
		if err != nil || !resp.OK() {
			t.Errorf("order failed under panicking callback: %+v, %v", resp, err)
		}
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestSimStreamLifecycle(t *testing.T) {
	d := NewSimDriver(SimConfig{Speed: 500, Interval: "1m", HistoryMinutes: 30})
	ctx := context.Background()

	var ticks, connects, closes atomic.Int32
	handlers := StreamHandlers{
		OnTick:    func(models.Tick) { ticks.Add(1) },
		OnConnect: func() { connects.Add(1) },
		OnClose:   func() { closes.Add(1) },
	}

	if err := d.Subscribe([]string{"NSE:SBIN-EQ"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := d.ConnectWebsocket(ctx, handlers, StreamOptions{}); err != nil {
		t.Fatalf("ConnectWebsocket: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return ticks.Load() > 0 }) {
		t.Fatal("no ticks emitted")
	}

	// Second start while running is a no-op: no second loop, no extra
	// connect callback.
	if err := d.ConnectWebsocket(ctx, handlers, StreamOptions{}); err != nil {
		t.Fatalf("second ConnectWebsocket: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if connects.Load() != 1 {
		t.Errorf("connect callbacks = %d, want 1", connects.Load())
	}

	if err := d.DisconnectWebsocket(); err != nil {
		t.Fatalf("DisconnectWebsocket: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return closes.Load() == 1 }) {
		t.Fatalf("close callbacks = %d, want 1", closes.Load())
	}

	// No further ticks once the loop has exited.
	settled := ticks.Load()
	time.Sleep(100 * time.Millisecond)
	if ticks.Load() != settled {
		t.Errorf("ticks kept flowing after close: %d -> %d", settled, ticks.Load())
	}

	t.Run("restart after disconnect", func(t *testing.T) {
		if err := d.ConnectWebsocket(ctx, handlers, StreamOptions{}); err != nil {
			t.Fatalf("restart: %v", err)
		}
		defer func() { _ = d.DisconnectWebsocket() }()
		if !waitFor(t, 2*time.Second, func() bool { return connects.Load() == 2 }) {
			t.Errorf("connect callbacks = %d, want 2", connects.Load())
		}
	})
}

func TestSimUnsubscribeStopsSymbol(t *testing.T) {
	d := NewSimDriver(SimConfig{Speed: 500})

	if err := d.Subscribe([]string{"NSE:SBIN-EQ", "NSE:INFY-EQ"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := d.Unsubscribe([]string{"NSE:SBIN-EQ"}); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	syms, _, _ := d.wsSnapshot()
	if len(syms) != 1 || syms[0] != "NSE:INFY-EQ" {
		t.Errorf("subscriptions = %v, want [NSE:INFY-EQ]", syms)
	}
}

func TestSimPanickingTickHandlerDoesNotKillStream(t *testing.T) {
	d := NewSimDriver(SimConfig{Speed: 500})

	var ticks, closes atomic.Int32
	_ = d.Subscribe([]string{"NSE:SBIN-EQ"})
	err := d.ConnectWebsocket(context.Background(), StreamHandlers{
		OnTick: func(models.Tick) {
			ticks.Add(1)
			panic("boom")
		},
		OnClose: func() { closes.Add(1) },
	}, StreamOptions{})
	if err != nil {
		t.Fatalf("ConnectWebsocket: %v", err)
	}
	defer func() { _ = d.DisconnectWebsocket() }()

	if !waitFor(t, 2*time.Second, func() bool { return ticks.Load() >= 2 }) {
		t.Fatalf("stream died after panicking handler: %d ticks", ticks.Load())
	}
	if closes.Load() != 0 {
		t.Errorf("close fired while stream should still run")
	}
}
