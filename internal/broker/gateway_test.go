package broker

import (
	"context"
	"testing"

	"multibroker/internal/errors"
	"multibroker/internal/models"
)

// fakeDriver records driver calls so gateway tests can assert delegation,
// chunk boundaries and symbol rewriting without a real broker.
type fakeDriver struct {
	Base

	historyCalls [][2]string // from, to per GetHistory call
	placedSymbol string
	placedReq    models.OrderRequest

	marginResult *MarginResult
	marginErr    error
}

func newFakeDriver(caps Capabilities) *fakeDriver {
	d := &fakeDriver{Base: NewBase(caps)}
	d.Bind(d)
	return d
}

func (d *fakeDriver) GetFunds(ctx context.Context) (models.Funds, error) {
	return models.Funds{AvailableCash: 100}, nil
}

func (d *fakeDriver) GetPositions(ctx context.Context) ([]models.Position, error) {
	return nil, nil
}

func (d *fakeDriver) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResponse, error) {
	d.placedSymbol = req.Symbol
	d.placedReq = req
	return models.OrderResponse{Status: models.StatusOK, OrderID: "1"}, nil
}

func (d *fakeDriver) CancelOrder(ctx context.Context, orderID string) (models.OrderResponse, error) {
	return models.OrderResponse{Status: models.StatusOK, OrderID: orderID}, nil
}

func (d *fakeDriver) ModifyOrder(ctx context.Context, orderID string, updates map[string]any) (models.OrderResponse, error) {
	return models.OrderResponse{Status: models.StatusOK, OrderID: orderID}, nil
}

func (d *fakeDriver) GetOrderbook(ctx context.Context) ([]models.Order, error) {
	return nil, nil
}

func (d *fakeDriver) GetTradebook(ctx context.Context) ([]models.Order, error) {
	return nil, nil
}

func (d *fakeDriver) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	return models.Quote{Symbol: symbol, LastPrice: 100}, nil
}

func (d *fakeDriver) GetHistory(ctx context.Context, symbol, interval, start, end string) ([]models.Candle, error) {
	d.historyCalls = append(d.historyCalls, [2]string{start, end})
	return []models.Candle{{Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}}, nil
}

func (d *fakeDriver) GetMarginsRequired(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	return d.marginResult, d.marginErr
}

func (d *fakeDriver) GetSpanMargin(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	return d.marginResult, d.marginErr
}

func (d *fakeDriver) GetMultiOrderMargin(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	return d.marginResult, d.marginErr
}

func newTestGateway(broker string, caps Capabilities) (*Gateway, *fakeDriver) {
	d := newFakeDriver(caps)
	g := New(d, broker)
	g.chunkPause = 0
	return g, d
}

func TestGatewayHistoryChunking(t *testing.T) {
	tests := []struct {
		name     string
		interval string
		start    string
		end      string
		chunks   [][2]string
	}{
		{
			name:     "daily range within cap is one chunk",
			interval: "day",
			start:    "2024-01-01",
			end:      "2024-06-30",
			chunks:   [][2]string{{"2024-01-01", "2024-06-30"}},
		},
		{
			name:     "daily range beyond 366 days splits at the cap",
			interval: "day",
			start:    "2024-01-01",
			end:      "2025-02-04",
			chunks: [][2]string{
				{"2024-01-01", "2024-12-31"},
				{"2025-01-01", "2025-02-04"},
			},
		},
		{
			name:     "intraday caps at 100 days",
			interval: "5m",
			start:    "2024-01-01",
			end:      "2024-08-01",
			chunks: [][2]string{
				{"2024-01-01", "2024-04-09"},
				{"2024-04-10", "2024-07-18"},
				{"2024-07-19", "2024-08-01"},
			},
		},
		{
			name:     "seconds resolution caps at 30 days",
			interval: "15S",
			start:    "2024-01-01",
			end:      "2024-02-14",
			chunks: [][2]string{
				{"2024-01-01", "2024-01-30"},
				{"2024-01-31", "2024-02-14"},
			},
		},
		{
			name:     "single day",
			interval: "day",
			start:    "2024-03-15",
			end:      "2024-03-15",
			chunks:   [][2]string{{"2024-03-15", "2024-03-15"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, d := newTestGateway("zerodha", DefaultCapabilities())

			candles, err := g.GetHistory(context.Background(), "NSE:SBIN", tt.interval, tt.start, tt.end)
			if err != nil {
				t.Fatalf("GetHistory: %v", err)
			}
			if len(candles) != len(tt.chunks) {
				t.Errorf("got %d candles, want %d (one per chunk)", len(candles), len(tt.chunks))
			}
			if len(d.historyCalls) != len(tt.chunks) {
				t.Fatalf("got %d chunks %v, want %d", len(d.historyCalls), d.historyCalls, len(tt.chunks))
			}
			for i, want := range tt.chunks {
				if d.historyCalls[i] != want {
					t.Errorf("chunk %d = %v, want %v", i, d.historyCalls[i], want)
				}
			}
		})
	}
}

func TestGatewayHistoryRejectsBadDates(t *testing.T) {
	g, _ := newTestGateway("zerodha", DefaultCapabilities())

	if _, err := g.GetHistory(context.Background(), "NSE:SBIN", "day", "01-01-2024", "2024-06-30"); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("bad start date: got %v, want ErrValidation", err)
	}
	if _, err := g.GetHistory(context.Background(), "NSE:SBIN", "day", "2024-01-01", "junk"); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("bad end date: got %v, want ErrValidation", err)
	}
}

func TestGatewayCapabilityGate(t *testing.T) {
	g, _ := newTestGateway("zerodha", Capabilities{})
	ctx := context.Background()

	checks := map[string]func() error{
		"funds":     func() error { _, err := g.GetFunds(ctx); return err },
		"positions": func() error { _, err := g.GetPositions(ctx); return err },
		"place":     func() error { _, err := g.PlaceOrder(ctx, models.OrderRequest{}); return err },
		"cancel":    func() error { _, err := g.CancelOrder(ctx, "1"); return err },
		"modify":    func() error { _, err := g.ModifyOrder(ctx, "1", nil); return err },
		"orderbook": func() error { _, err := g.GetOrderbook(ctx); return err },
		"tradebook": func() error { _, err := g.GetTradebook(ctx); return err },
		"quote":     func() error { _, err := g.GetQuote(ctx, "NSE:SBIN"); return err },
		"history":   func() error { _, err := g.GetHistory(ctx, "NSE:SBIN", "day", "2024-01-01", "2024-01-02"); return err },
		"chain":     func() error { _, err := g.GetOptionChain(ctx, "NIFTY", models.NSE); return err },
		"contract":  func() error { return g.DownloadInstruments(ctx) },
		"websocket": func() error { return g.ConnectWebsocket(ctx, StreamHandlers{}, StreamOptions{}) },
		"orderws":   func() error { return g.ConnectOrderWebsocket(OrderStreamHandlers{}) },
		"gtt":       func() error { _, err := g.PlaceGTTOrder(ctx, GTTRequest{}); return err },
		"bracket":   func() error { _, err := g.PlaceBracketOrder(ctx, models.OrderRequest{}, BracketParams{}); return err },
		"cover":     func() error { _, err := g.PlaceCoverOrder(ctx, models.OrderRequest{}, 0); return err },
		"basket":    func() error { _, err := g.PlaceBasketOrders(ctx, nil); return err },
		"multileg":  func() error { _, err := g.PlaceMultilegOrder(ctx, nil); return err },
		"margins":   func() error { _, err := g.GetMarginsRequired(ctx, nil); return err },
	}

	for name, fn := range checks {
		if err := fn(); !errors.Is(err, errors.ErrUnsupported) {
			t.Errorf("%s: got %v, want ErrUnsupported", name, err)
		}
	}
}

func TestGatewayMarginPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("nil result means unavailable", func(t *testing.T) {
		g, d := newTestGateway("zerodha", DefaultCapabilities())
		d.marginResult = nil

		if _, err := g.GetMarginsRequired(ctx, nil); !errors.Is(err, errors.ErrMarginUnavailable) {
			t.Errorf("GetMarginsRequired: got %v, want ErrMarginUnavailable", err)
		}
		if _, err := g.GetSpanMargin(ctx, nil); !errors.Is(err, errors.ErrMarginUnavailable) {
			t.Errorf("GetSpanMargin: got %v, want ErrMarginUnavailable", err)
		}
		if _, err := g.GetMultiOrderMargin(ctx, nil); !errors.Is(err, errors.ErrMarginUnavailable) {
			t.Errorf("GetMultiOrderMargin: got %v, want ErrMarginUnavailable", err)
		}
	})

	t.Run("zero-valued result is a valid zero margin", func(t *testing.T) {
		g, d := newTestGateway("zerodha", DefaultCapabilities())
		d.marginResult = &MarginResult{}

		result, err := g.GetMarginsRequired(ctx, nil)
		if err != nil {
			t.Fatalf("GetMarginsRequired: %v", err)
		}
		if result == nil || result.Total != 0 {
			t.Errorf("got %+v, want zero-valued result", result)
		}
	})

	t.Run("margin check requires order placement capability", func(t *testing.T) {
		caps := DefaultCapabilities()
		caps.PlaceOrder = false
		g, d := newTestGateway("zerodha", caps)
		d.marginResult = &MarginResult{Total: 10}

		if _, err := g.GetMarginsRequired(ctx, nil); !errors.Is(err, errors.ErrUnsupported) {
			t.Errorf("got %v, want ErrUnsupported", err)
		}
	})
}

func TestGatewayPlaceOrderRewritesSymbol(t *testing.T) {
	tests := []struct {
		name   string
		broker string
		req    models.OrderRequest
		want   string
	}{
		{
			name:   "fyers equity gains suffix",
			broker: "fyers",
			req:    models.OrderRequest{Exchange: models.NSE, Symbol: "SBIN", Quantity: 1, Side: models.Buy},
			want:   "SBIN-EQ",
		},
		{
			name:   "fyers index alias",
			broker: "fyers",
			req:    models.OrderRequest{Exchange: models.NSE, Symbol: "NIFTY 50", Quantity: 1, Side: models.Buy},
			want:   "NIFTY50-INDEX",
		},
		{
			name:   "zerodha equity stays bare",
			broker: "zerodha",
			req:    models.OrderRequest{Exchange: models.NSE, Symbol: "SBIN", Quantity: 1, Side: models.Buy},
			want:   "SBIN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, d := newTestGateway(tt.broker, DefaultCapabilities())

			original := tt.req
			if _, err := g.PlaceOrder(context.Background(), tt.req); err != nil {
				t.Fatalf("PlaceOrder: %v", err)
			}
			if d.placedSymbol != tt.want {
				t.Errorf("driver saw symbol %q, want %q", d.placedSymbol, tt.want)
			}
			if tt.req.Symbol != original.Symbol {
				t.Errorf("caller request mutated: %q -> %q", original.Symbol, tt.req.Symbol)
			}
		})
	}
}

func TestOrderRequestFromPayload(t *testing.T) {
	payload := map[string]any{
		"symbol":      "NSE:SBIN-EQ",
		"qty":         5,
		"type":        1,
		"side":        -1,
		"productType": "CNC",
		"limitPrice":  412.5,
		"stopPrice":   410.0,
		"validity":    "IOC",
		"orderTag":    "t1",
		"stopLoss":    3.0,
	}

	req := OrderRequestFromPayload(payload)

	if req.Symbol != "SBIN" || req.Exchange != models.NSE {
		t.Errorf("symbol = %s:%s, want NSE:SBIN", req.Exchange, req.Symbol)
	}
	if req.Quantity != 5 || req.Side != models.Sell || req.Type != models.OrderTypeLimit {
		t.Errorf("qty/side/type = %d/%s/%s", req.Quantity, req.Side, req.Type)
	}
	if req.Product != models.ProductCNC || req.Validity != models.ValidityIOC {
		t.Errorf("product/validity = %s/%s", req.Product, req.Validity)
	}
	if req.Price != 412.5 || req.TriggerPrice != 410.0 {
		t.Errorf("price/trigger = %v/%v", req.Price, req.TriggerPrice)
	}
	if req.Tag != "t1" {
		t.Errorf("tag = %q", req.Tag)
	}
	if req.Extras["stopLoss"] != 3.0 {
		t.Errorf("extras = %v, want stopLoss preserved", req.Extras)
	}

	t.Run("defaults for empty payload", func(t *testing.T) {
		req := OrderRequestFromPayload(map[string]any{"symbol": "SBIN"})
		if req.Quantity != 1 || req.Type != models.OrderTypeMarket || req.Side != models.Buy {
			t.Errorf("defaults = qty %d type %s side %s", req.Quantity, req.Type, req.Side)
		}
		if req.Product != models.ProductIntraday || req.Validity != models.ValidityDay {
			t.Errorf("defaults = product %s validity %s", req.Product, req.Validity)
		}
		if req.Exchange != models.NSE {
			t.Errorf("default exchange = %s", req.Exchange)
		}
	})
}

func TestLegacyOrderResult(t *testing.T) {
	result := LegacyOrderResult(models.OrderResponse{
		Status:  models.StatusOK,
		OrderID: "42",
	})
	if result["s"] != models.StatusOK || result["id"] != "42" {
		t.Errorf("result = %v", result)
	}
	if _, ok := result["message"]; ok {
		t.Error("empty message should be omitted")
	}
}

func TestNormalizeMarginOrders(t *testing.T) {
	t.Run("zerodha typed request", func(t *testing.T) {
		g, _ := newTestGateway("zerodha", DefaultCapabilities())

		out := g.NormalizeMarginOrders([]any{models.OrderRequest{
			Symbol:   "SBIN-EQ",
			Exchange: models.NSE,
			Quantity: 10,
			Type:     models.OrderTypeLimit,
			Side:     models.Buy,
			Product:  models.ProductCNC,
			Price:    412.5,
		}})
		if len(out) != 1 {
			t.Fatalf("got %d orders", len(out))
		}
		o := out[0]
		if o["exchange"] != "NSE" || o["tradingsymbol"] != "SBIN" {
			t.Errorf("exchange/symbol = %v/%v", o["exchange"], o["tradingsymbol"])
		}
		if o["transaction_type"] != "BUY" || o["order_type"] != "LIMIT" || o["product"] != "CNC" {
			t.Errorf("codes = %v/%v/%v", o["transaction_type"], o["order_type"], o["product"])
		}
		if o["variety"] != "regular" || o["quantity"] != 10 || o["price"] != 412.5 {
			t.Errorf("variety/qty/price = %v/%v/%v", o["variety"], o["quantity"], o["price"])
		}
	})

	t.Run("zerodha derivative moves to NFO", func(t *testing.T) {
		g, _ := newTestGateway("zerodha", DefaultCapabilities())

		out := g.NormalizeMarginOrders([]any{map[string]any{
			"symbol": "NSE:NIFTY24DEC24000CE",
			"qty":    50,
			"side":   1,
			"type":   2,
		}})
		if out[0]["exchange"] != "NFO" {
			t.Errorf("exchange = %v, want NFO", out[0]["exchange"])
		}
		if out[0]["order_type"] != "MARKET" {
			t.Errorf("order_type = %v, want MARKET", out[0]["order_type"])
		}
	})

	t.Run("zerodha non-limit price zeroed", func(t *testing.T) {
		g, _ := newTestGateway("zerodha", DefaultCapabilities())

		out := g.NormalizeMarginOrders([]any{map[string]any{
			"symbol":     "NSE:SBIN-EQ",
			"type":       2,
			"limitPrice": 412.5,
		}})
		if out[0]["price"] != 0.0 {
			t.Errorf("market order price = %v, want 0", out[0]["price"])
		}
	})

	t.Run("fyers payload passes through", func(t *testing.T) {
		g, _ := newTestGateway("fyers", DefaultCapabilities())

		payload := map[string]any{"symbol": "NSE:SBIN-EQ", "qty": 10}
		out := g.NormalizeMarginOrders([]any{payload})
		if out[0]["symbol"] != "NSE:SBIN-EQ" || out[0]["qty"] != 10 {
			t.Errorf("payload altered: %v", out[0])
		}
	})

	t.Run("unknown broker wraps typed request in sentinel", func(t *testing.T) {
		g, _ := newTestGateway("upstox", DefaultCapabilities())

		req := models.OrderRequest{Symbol: "SBIN", Exchange: models.NSE}
		out := g.NormalizeMarginOrders([]any{req})
		if _, ok := out[0][sentinelOrderRequest]; !ok {
			t.Errorf("sentinel missing: %v", out[0])
		}
	})
}

func TestFyersOrderPayload(t *testing.T) {
	t.Run("limit buy round trips", func(t *testing.T) {
		payload := FyersOrderPayload(models.OrderRequest{
			Symbol:   "SBIN",
			Exchange: models.NSE,
			Quantity: 10,
			Type:     models.OrderTypeLimit,
			Side:     models.Buy,
			Product:  models.ProductCNC,
			Price:    412.5,
			Validity: models.ValidityIOC,
		})
		if payload["symbol"] != "NSE:SBIN-EQ" {
			t.Errorf("symbol = %v, want NSE:SBIN-EQ", payload["symbol"])
		}
		if payload["qty"] != 10 || payload["side"] != 1 || payload["type"] != 1 {
			t.Errorf("qty/side/type = %v/%v/%v", payload["qty"], payload["side"], payload["type"])
		}
		if payload["productType"] != "CNC" || payload["limitPrice"] != 412.5 || payload["validity"] != "IOC" {
			t.Errorf("product/price/validity = %v/%v/%v",
				payload["productType"], payload["limitPrice"], payload["validity"])
		}

		back := OrderRequestFromPayload(payload)
		if back.Symbol != "SBIN" || back.Quantity != 10 || back.Side != models.Buy || back.Type != models.OrderTypeLimit {
			t.Errorf("round trip lost fields: %+v", back)
		}
	})

	t.Run("derivative keeps its symbol undecorated", func(t *testing.T) {
		payload := FyersOrderPayload(models.OrderRequest{
			Symbol:   "NIFTY24DEC24000CE",
			Exchange: models.NFO,
			Quantity: 50,
			Side:     models.Sell,
		})
		if payload["symbol"] != "NFO:NIFTY24DEC24000CE" {
			t.Errorf("symbol = %v", payload["symbol"])
		}
		if payload["side"] != -1 {
			t.Errorf("side = %v, want -1", payload["side"])
		}
	})

	t.Run("market sell defaults", func(t *testing.T) {
		payload := FyersOrderPayload(models.OrderRequest{
			Symbol:   "INFY",
			Exchange: models.NSE,
			Quantity: 1,
			Side:     models.Sell,
		})
		if payload["type"] != 2 || payload["productType"] != "INTRADAY" || payload["validity"] != "DAY" {
			t.Errorf("defaults = %v/%v/%v", payload["type"], payload["productType"], payload["validity"])
		}
	})
}
