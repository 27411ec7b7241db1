package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"multibroker/internal/errors"
	"multibroker/internal/models"
	"multibroker/internal/resilience"
	"multibroker/pkg/utils"
)

// ZerodhaConfig holds credentials and session storage for the Zerodha driver.
type ZerodhaConfig struct {
	APIKey    string
	APISecret string
	UserID    string
	TokenPath string
}

// ZerodhaDriver is the live Kite Connect adapter. Sessions persist to disk
// and are reloaded on construction; API calls retry with exponential backoff.
type ZerodhaDriver struct {
	Base

	client        *kiteconnect.Client
	apiKey        string
	apiSecret     string
	userID        string
	tokenPath     string
	authenticated bool

	instruments map[string]models.Instrument
	mu          sync.RWMutex

	retryCfg utils.RetryConfig
	breaker  *resilience.CircuitBreaker
}

// zerodhaCall wraps a Kite API call with the driver's circuit breaker and
// retry policy. The breaker sees the retried result, so transient errors
// that recover within the retry window do not trip it.
func zerodhaCall[T any](ctx context.Context, d *ZerodhaDriver, fn func() (T, error)) (T, error) {
	return resilience.ExecuteWithResult(d.breaker, ctx, func() (T, error) {
		return utils.RetryWithResult(ctx, d.retryCfg, fn)
	})
}

// zerodhaRetryConfig is the default backoff tuned for Kite. Auth, request
// validation and capability errors abort immediately; retrying them only
// burns the rate limit.
func zerodhaRetryConfig() utils.RetryConfig {
	cfg := utils.DefaultRetryConfig()
	cfg.NonRetryable = []error{
		errors.ErrNotAuthenticated,
		errors.ErrInvalidCredential,
		errors.ErrValidation,
		errors.ErrUnsupported,
	}
	return cfg
}

// NewZerodhaDriver creates a Zerodha driver and loads any saved session.
func NewZerodhaDriver(cfg ZerodhaConfig) *ZerodhaDriver {
	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		tokenPath = filepath.Join(homeDir, ".config", "multibroker", "zerodha-session.json")
	}

	d := &ZerodhaDriver{
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
			MasterContract: true,
			OptionChain:    true,
			GTT:            true,
		}),
		client:      kiteconnect.New(cfg.APIKey),
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		userID:      cfg.UserID,
		tokenPath:   tokenPath,
		instruments: make(map[string]models.Instrument),
		retryCfg:    zerodhaRetryConfig(),
		breaker:     resilience.NewCircuitBreaker("zerodha", resilience.DefaultCircuitBreakerConfig()),
	}
	d.Bind(d)
	_ = d.loadSession()
	return d
}

// --- Session handling ---

type zerodhaSession struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login verifies the persisted session or reports the login URL the user
// must visit to obtain a fresh request token.
func (d *ZerodhaDriver) Login(ctx context.Context) error {
	if err := d.loadSession(); err == nil && d.IsAuthenticated() {
		if _, err := d.client.GetUserProfile(); err == nil {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrNotAuthenticated,
		"visit %s and complete login, then call CompleteLogin with the request token", d.client.GetLoginURL())
}

// CompleteLogin exchanges a request token for an access token and persists it.
func (d *ZerodhaDriver) CompleteLogin(ctx context.Context, requestToken string) error {
	session, err := d.client.GenerateSession(requestToken, d.apiSecret)
	if err != nil {
		return errors.Wrap(err, "generate session")
	}

	d.mu.Lock()
	d.authenticated = true
	d.client.SetAccessToken(session.AccessToken)
	d.mu.Unlock()

	return d.saveSession(session.AccessToken)
}

// Logout invalidates the token and removes the persisted session.
func (d *ZerodhaDriver) Logout(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.authenticated {
		_, _ = d.client.InvalidateAccessToken()
	}
	d.authenticated = false

	if err := os.Remove(d.tokenPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove session file")
	}
	return nil
}

// IsAuthenticated reports whether a session is active.
func (d *ZerodhaDriver) IsAuthenticated() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.authenticated
}

// GetLoginURL returns the Kite Connect login URL for the OAuth flow.
func (d *ZerodhaDriver) GetLoginURL() string {
	return d.client.GetLoginURL()
}

func (d *ZerodhaDriver) loadSession() error {
	data, err := os.ReadFile(d.tokenPath)
	if err != nil {
		return err
	}

	var session zerodhaSession
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}
	if time.Now().After(session.ExpiresAt) {
		return errors.Wrap(errors.ErrNotAuthenticated, "session expired")
	}

	d.mu.Lock()
	d.authenticated = true
	d.client.SetAccessToken(session.AccessToken)
	d.mu.Unlock()
	return nil
}

func (d *ZerodhaDriver) saveSession(accessToken string) error {
	if err := os.MkdirAll(filepath.Dir(d.tokenPath), 0700); err != nil {
		return err
	}

	// Kite tokens expire at 6 AM IST the next day.
	now := time.Now().In(utils.IndiaLocation)
	expiresAt := time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, utils.IndiaLocation)

	data, err := json.Marshal(zerodhaSession{
		AccessToken: accessToken,
		UserID:      d.userID,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(d.tokenPath, data, 0600)
}

func (d *ZerodhaDriver) requireAuth() error {
	if !d.IsAuthenticated() {
		return errors.ErrNotAuthenticated
	}
	return nil
}

// --- Enum translation ---

func zerodhaOrderType(t models.OrderType) string {
	if v, ok := ZerodhaMappings.OrderType[t]; ok {
		return v
	}
	return string(t)
}

func zerodhaProduct(p models.ProductType) string {
	if v, ok := ZerodhaMappings.Product[p]; ok {
		return v
	}
	return string(p)
}

func orderTypeFromZerodha(code string) models.OrderType {
	for std, native := range ZerodhaMappings.OrderType {
		if native == code {
			return std
		}
	}
	return models.OrderType(code)
}

func productFromZerodha(code string) models.ProductType {
	for std, native := range ZerodhaMappings.Product {
		if native == code {
			return std
		}
	}
	return models.ProductType(code)
}

// toKiteInterval translates compact interval names into the codes the Kite
// historical API expects. Already-native codes pass through.
func toKiteInterval(interval string) string {
	switch interval {
	case "1m", "minute":
		return "minute"
	case "3m":
		return "3minute"
	case "5m":
		return "5minute"
	case "10m":
		return "10minute"
	case "15m":
		return "15minute"
	case "30m":
		return "30minute"
	case "60m", "1h":
		return "60minute"
	case "day", "1d", "D", "1D":
		return "day"
	default:
		return interval
	}
}

// --- Account ---

func (d *ZerodhaDriver) GetFunds(ctx context.Context) (models.Funds, error) {
	if err := d.requireAuth(); err != nil {
		return models.Funds{}, err
	}

	margins, err := zerodhaCall(ctx, d, func() (kiteconnect.AllMargins, error) {
		return d.client.GetUserMargins()
	})
	if err != nil {
		return models.Funds{}, errors.Wrap(err, "get user margins")
	}

	eq := margins.Equity
	return models.Funds{
		Equity:        eq.Net,
		AvailableCash: eq.Available.Cash,
		UsedMargin:    eq.Used.Debits,
		Net:           eq.Net,
		Raw: map[string]any{
			"collateral": eq.Available.Collateral,
			"commodity":  margins.Commodity.Net,
		},
	}, nil
}

func (d *ZerodhaDriver) GetPositions(ctx context.Context) ([]models.Position, error) {
	if err := d.requireAuth(); err != nil {
		return nil, err
	}

	positions, err := zerodhaCall(ctx, d, func() (kiteconnect.Positions, error) {
		return d.client.GetPositions()
	})
	if err != nil {
		return nil, errors.Wrap(err, "get positions")
	}

	all := append(positions.Net, positions.Day...)
	seen := make(map[string]bool, len(all))
	result := make([]models.Position, 0, len(all))
	for _, p := range all {
		key := fmt.Sprintf("%s:%s:%s", p.Exchange, p.Tradingsymbol, p.Product)
		if seen[key] || p.Quantity == 0 {
			continue
		}
		seen[key] = true

		result = append(result, models.Position{
			Symbol:       p.Tradingsymbol,
			Exchange:     models.Exchange(p.Exchange),
			Quantity:     p.Quantity,
			Available:    p.Quantity,
			AveragePrice: p.AveragePrice,
			PnL:          (p.LastPrice - p.AveragePrice) * float64(p.Quantity) * p.Multiplier,
			Product:      productFromZerodha(p.Product),
			Raw:          map[string]any{"last_price": p.LastPrice},
		})
	}
	return result, nil
}

func (d *ZerodhaDriver) GetProfile(ctx context.Context) (map[string]any, error) {
	if err := d.requireAuth(); err != nil {
		return nil, err
	}
	profile, err := d.client.GetUserProfile()
	if err != nil {
		return nil, errors.Wrap(err, "get profile")
	}
	return map[string]any{
		"user_id":   profile.UserID,
		"user_name": profile.UserName,
		"email":     profile.Email,
		"broker":    profile.Broker,
	}, nil
}

// --- Orders ---

func (d *ZerodhaDriver) orderParams(req models.OrderRequest) kiteconnect.OrderParams {
	params := kiteconnect.OrderParams{
		Exchange:        string(req.Exchange),
		Tradingsymbol:   req.Symbol,
		TransactionType: string(req.Side),
		OrderType:       zerodhaOrderType(req.Type),
		Product:         zerodhaProduct(req.Product),
		Quantity:        req.Quantity,
		Price:           req.Price,
		TriggerPrice:    req.TriggerPrice,
		Validity:        string(req.Validity),
		Tag:             req.Tag,
	}
	if params.Validity == "" {
		params.Validity = "DAY"
	}
	return params
}

func (d *ZerodhaDriver) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResponse, error) {
	if err := d.requireAuth(); err != nil {
		return models.OrderResponse{Status: models.StatusError, Message: err.Error()}, err
	}

	resp, err := d.client.PlaceOrder(kiteconnect.VarietyRegular, d.orderParams(req))
	if err != nil {
		return models.OrderResponse{Status: models.StatusError, Message: err.Error()},
			errors.NewOrderError("", req.Symbol, "place", "broker rejected order", err)
	}
	return models.OrderResponse{Status: models.StatusOK, OrderID: resp.OrderID}, nil
}

func (d *ZerodhaDriver) ModifyOrder(ctx context.Context, orderID string, updates map[string]any) (models.OrderResponse, error) {
	if err := d.requireAuth(); err != nil {
		return models.OrderResponse{Status: models.StatusError, Message: err.Error()}, err
	}

	params := kiteconnect.OrderParams{
		Quantity:     payloadInt(updates, "quantity", "qty"),
		Price:        payloadFloat(updates, "price", "limitPrice"),
		TriggerPrice: payloadFloat(updates, "trigger_price", "stopPrice"),
		OrderType:    payloadString(updates, "order_type"),
		Validity:     payloadString(updates, "validity"),
	}

	resp, err := d.client.ModifyOrder(kiteconnect.VarietyRegular, orderID, params)
	if err != nil {
		return models.OrderResponse{Status: models.StatusError, OrderID: orderID, Message: err.Error()},
			errors.NewOrderError(orderID, "", "modify", "broker rejected modification", err)
	}
	return models.OrderResponse{Status: models.StatusOK, OrderID: resp.OrderID}, nil
}

func (d *ZerodhaDriver) CancelOrder(ctx context.Context, orderID string) (models.OrderResponse, error) {
	if err := d.requireAuth(); err != nil {
		return models.OrderResponse{Status: models.StatusError, Message: err.Error()}, err
	}

	resp, err := d.client.CancelOrder(kiteconnect.VarietyRegular, orderID, nil)
	if err != nil {
		return models.OrderResponse{Status: models.StatusError, OrderID: orderID, Message: err.Error()},
			errors.NewOrderError(orderID, "", "cancel", "broker rejected cancellation", err)
	}
	return models.OrderResponse{Status: models.StatusOK, OrderID: resp.OrderID}, nil
}

func orderFromKite(o kiteconnect.Order) models.Order {
	return models.Order{
		ID:             o.OrderID,
		Status:         o.Status,
		Symbol:         o.TradingSymbol,
		Exchange:       models.Exchange(o.Exchange),
		Side:           models.TransactionType(o.TransactionType),
		Type:           orderTypeFromZerodha(o.OrderType),
		Product:        productFromZerodha(o.Product),
		Quantity:       int(o.Quantity),
		Price:          o.Price,
		TriggerPrice:   o.TriggerPrice,
		Validity:       models.Validity(o.Validity),
		Tag:            o.Tag,
		FilledQuantity: int(o.FilledQuantity),
		AveragePrice:   o.AveragePrice,
		PlacedAt:       o.OrderTimestamp.Time,
	}
}

func (d *ZerodhaDriver) GetOrderbook(ctx context.Context) ([]models.Order, error) {
	if err := d.requireAuth(); err != nil {
		return nil, err
	}

	orders, err := zerodhaCall(ctx, d, func() (kiteconnect.Orders, error) {
		return d.client.GetOrders()
	})
	if err != nil {
		return nil, errors.Wrap(err, "get orders")
	}

	result := make([]models.Order, len(orders))
	for i, o := range orders {
		result[i] = orderFromKite(o)
	}
	return result, nil
}

// GetTradebook lists the day's executed orders.
func (d *ZerodhaDriver) GetTradebook(ctx context.Context) ([]models.Order, error) {
	orders, err := d.GetOrderbook(ctx)
	if err != nil {
		return nil, err
	}
	trades := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if o.FilledQuantity > 0 {
			trades = append(trades, o)
		}
	}
	return trades, nil
}

// --- Market data ---

func (d *ZerodhaDriver) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	if err := d.requireAuth(); err != nil {
		return models.Quote{}, err
	}

	quotes, err := zerodhaCall(ctx, d, func() (kiteconnect.Quote, error) {
		return d.client.GetQuote(symbol)
	})
	if err != nil {
		return models.Quote{}, errors.Wrap(err, "get quote")
	}

	q, ok := quotes[symbol]
	if !ok {
		return models.Quote{}, errors.Wrapf(errors.ErrSymbolNotFound, "quote for %s", symbol)
	}

	exch, tsym := "", symbol
	if i := strings.Index(symbol, ":"); i >= 0 {
		exch, tsym = symbol[:i], symbol[i+1:]
	}
	return models.Quote{
		Symbol:    tsym,
		Exchange:  models.Exchange(exch),
		LastPrice: q.LastPrice,
		Volume:    int64(q.Volume),
		Timestamp: q.LastTradeTime.Time,
		Raw: map[string]any{
			"open":       q.OHLC.Open,
			"high":       q.OHLC.High,
			"low":        q.OHLC.Low,
			"close":      q.OHLC.Close,
			"net_change": q.NetChange,
		},
	}, nil
}

func (d *ZerodhaDriver) GetHistory(ctx context.Context, symbol, interval, start, end string) ([]models.Candle, error) {
	if err := d.requireAuth(); err != nil {
		return nil, err
	}

	from, okFrom := parseSimTime(start)
	to, okTo := parseSimTime(end)
	if !okFrom || !okTo {
		return nil, errors.Wrapf(errors.ErrValidation, "bad history range %q..%q", start, end)
	}

	token, err := d.instrumentToken(ctx, symbol)
	if err != nil {
		return nil, err
	}

	data, err := d.client.GetHistoricalData(int(token), toKiteInterval(interval), from, to, false, false)
	if err != nil {
		return nil, errors.Wrap(err, "get historical data")
	}

	candles := make([]models.Candle, len(data))
	for i, c := range data {
		candles[i] = models.Candle{
			Timestamp: c.Date.Time,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    int64(c.Volume),
		}
	}
	return candles, nil
}

// --- Instruments ---

// DownloadInstruments fetches the full master contract and rebuilds the
// in-memory token cache.
func (d *ZerodhaDriver) DownloadInstruments(ctx context.Context) error {
	if err := d.requireAuth(); err != nil {
		return err
	}

	instruments, err := zerodhaCall(ctx, d, func() (kiteconnect.Instruments, error) {
		return d.client.GetInstruments()
	})
	if err != nil {
		return errors.Wrap(err, "get instruments")
	}

	cache := make(map[string]models.Instrument, len(instruments))
	for _, inst := range instruments {
		m := models.Instrument{
			Token:    uint32(inst.InstrumentToken),
			Symbol:   inst.Tradingsymbol,
			Name:     inst.Name,
			Exchange: models.Exchange(inst.Exchange),
			Segment:  inst.Segment,
			LotSize:  int(inst.LotSize),
			TickSize: inst.TickSize,
			Expiry:   inst.Expiry.Time,
			Strike:   inst.StrikePrice,
			Kind:     inst.InstrumentType,
		}
		cache[fmt.Sprintf("%s:%s", inst.Exchange, inst.Tradingsymbol)] = m
	}

	d.mu.Lock()
	d.instruments = cache
	d.mu.Unlock()
	return nil
}

func (d *ZerodhaDriver) GetInstruments(ctx context.Context) ([]models.Instrument, error) {
	d.mu.RLock()
	n := len(d.instruments)
	d.mu.RUnlock()
	if n == 0 {
		if err := d.DownloadInstruments(ctx); err != nil {
			return nil, err
		}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]models.Instrument, 0, len(d.instruments))
	for _, inst := range d.instruments {
		result = append(result, inst)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

func (d *ZerodhaDriver) instrumentToken(ctx context.Context, symbol string) (uint32, error) {
	d.mu.RLock()
	inst, ok := d.instruments[symbol]
	d.mu.RUnlock()
	if ok {
		return inst.Token, nil
	}

	if err := d.DownloadInstruments(ctx); err != nil {
		return 0, err
	}

	d.mu.RLock()
	inst, ok = d.instruments[symbol]
	d.mu.RUnlock()
	if !ok {
		return 0, errors.Wrapf(errors.ErrSymbolNotFound, "instrument %s", symbol)
	}
	return inst.Token, nil
}

// GetOptionChain lists the nearest-expiry option strikes for an underlying
// from the master contract. Last prices are filled best-effort from quotes.
func (d *ZerodhaDriver) GetOptionChain(ctx context.Context, underlying string, exchange models.Exchange) ([]models.OptionStrike, error) {
	instruments, err := d.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}

	segment := models.NFO
	if exchange == models.BSE {
		segment = models.BFO
	}

	var nearest time.Time
	for _, inst := range instruments {
		if inst.Name != underlying || inst.Exchange != segment {
			continue
		}
		if inst.Kind != "CE" && inst.Kind != "PE" {
			continue
		}
		if inst.Expiry.Before(time.Now()) {
			continue
		}
		if nearest.IsZero() || inst.Expiry.Before(nearest) {
			nearest = inst.Expiry
		}
	}
	if nearest.IsZero() {
		return nil, errors.Wrapf(errors.ErrSymbolNotFound, "no option contracts for %s", underlying)
	}

	var out []models.OptionStrike
	for _, inst := range instruments {
		if inst.Name != underlying || inst.Exchange != segment || !inst.Expiry.Equal(nearest) {
			continue
		}
		if inst.Kind != "CE" && inst.Kind != "PE" {
			continue
		}
		strike := models.OptionStrike{
			Symbol: fmt.Sprintf("%s:%s", segment, inst.Symbol),
			Strike: inst.Strike,
			Type:   models.OptionType(inst.Kind),
		}
		if q, err := d.GetQuote(ctx, strike.Symbol); err == nil {
			strike.LastPrice = q.LastPrice
		}
		out = append(out, strike)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strike != out[j].Strike {
			return out[i].Strike < out[j].Strike
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

// --- GTT ---

func (d *ZerodhaDriver) PlaceGTTOrder(ctx context.Context, req GTTRequest) (models.OrderResponse, error) {
	if err := d.requireAuth(); err != nil {
		return models.OrderResponse{Status: models.StatusError, Message: err.Error()}, err
	}
	if len(req.Legs) == 0 {
		return models.OrderResponse{Status: models.StatusError, Message: "gtt needs at least one leg"},
			errors.Wrap(errors.ErrValidation, "gtt needs at least one leg")
	}

	var trigger kiteconnect.Trigger
	if req.TriggerType == "two-leg" && len(req.Legs) >= 2 {
		trigger = &kiteconnect.GTTOneCancelsOtherTrigger{
			Upper: kiteconnect.TriggerParams{
				TriggerValue: req.Legs[0].TriggerPrice,
				LimitPrice:   req.Legs[0].Price,
				Quantity:     float64(req.Legs[0].Quantity),
			},
			Lower: kiteconnect.TriggerParams{
				TriggerValue: req.Legs[1].TriggerPrice,
				LimitPrice:   req.Legs[1].Price,
				Quantity:     float64(req.Legs[1].Quantity),
			},
		}
	} else {
		trigger = &kiteconnect.GTTSingleLegTrigger{
			TriggerParams: kiteconnect.TriggerParams{
				TriggerValue: req.TriggerPrice,
				LimitPrice:   req.Legs[0].Price,
				Quantity:     float64(req.Legs[0].Quantity),
			},
		}
	}

	params := kiteconnect.GTTParams{
		Tradingsymbol:   req.Symbol,
		Exchange:        string(req.Exchange),
		LastPrice:       req.LastPrice,
		TransactionType: string(req.Legs[0].Side),
		Product:         zerodhaProduct(req.Legs[0].Product),
		Trigger:         trigger,
	}

	resp, err := d.client.PlaceGTT(params)
	if err != nil {
		return models.OrderResponse{Status: models.StatusError, Message: err.Error()},
			errors.NewOrderError("", req.Symbol, "place_gtt", "broker rejected trigger", err)
	}
	return models.OrderResponse{
		Status:  models.StatusOK,
		OrderID: fmt.Sprintf("%d", resp.TriggerID),
	}, nil
}

// --- Margins ---

func marginOrderParams(orders []MarginOrder) []kiteconnect.OrderMarginParam {
	params := make([]kiteconnect.OrderMarginParam, 0, len(orders))
	for _, o := range orders {
		variety := payloadString(o, "variety")
		if variety == "" {
			variety = kiteconnect.VarietyRegular
		}
		params = append(params, kiteconnect.OrderMarginParam{
			Exchange:        payloadString(o, "exchange"),
			Tradingsymbol:   payloadString(o, "tradingsymbol"),
			TransactionType: payloadString(o, "transaction_type"),
			Variety:         variety,
			Product:         payloadString(o, "product"),
			OrderType:       payloadString(o, "order_type"),
			Quantity:        float64(payloadInt(o, "quantity", "qty")),
			Price:           payloadFloat(o, "price"),
			TriggerPrice:    payloadFloat(o, "trigger_price"),
		})
	}
	return params
}

// GetMarginsRequired asks the broker's margin API what the orders need.
// The broker is the only source of truth; an empty reply surfaces as nil.
func (d *ZerodhaDriver) GetMarginsRequired(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	if err := d.requireAuth(); err != nil {
		return nil, err
	}

	margins, err := d.client.GetOrderMargins(kiteconnect.GetMarginParams{
		OrderParams: marginOrderParams(orders),
	})
	if err != nil {
		return nil, errors.Wrap(err, "get order margins")
	}
	if len(margins) == 0 {
		return nil, nil
	}

	total := 0.0
	perOrder := make([]map[string]any, 0, len(margins))
	for _, m := range margins {
		total += m.Total
		perOrder = append(perOrder, map[string]any{
			"tradingsymbol": m.TradingSymbol,
			"span":          m.SPAN,
			"exposure":      m.Exposure,
			"total":         m.Total,
		})
	}

	funds, err := d.GetFunds(ctx)
	if err != nil {
		return nil, err
	}
	return &MarginResult{
		Total:     total,
		NewOrder:  total,
		Available: funds.AvailableCash,
		Raw:       map[string]any{"orders": perOrder},
	}, nil
}

// GetSpanMargin computes the combined basket margin, which prices in
// inter-leg offsets that per-order sums miss.
func (d *ZerodhaDriver) GetSpanMargin(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	if err := d.requireAuth(); err != nil {
		return nil, err
	}

	basket, err := d.client.GetBasketMargins(kiteconnect.GetBasketParams{
		OrderParams:       marginOrderParams(orders),
		ConsiderPositions: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "get basket margins")
	}

	return &MarginResult{
		Total:    basket.Final.Total,
		NewOrder: basket.Final.Total,
		Raw: map[string]any{
			"initial": basket.Initial.Total,
			"final":   basket.Final.Total,
		},
	}, nil
}

func (d *ZerodhaDriver) GetMultiOrderMargin(ctx context.Context, orders []MarginOrder) (*MarginResult, error) {
	return d.GetSpanMargin(ctx, orders)
}

// --- Position utilities ---

// ExitPositions squares off every open position with opposing market orders.
func (d *ZerodhaDriver) ExitPositions(ctx context.Context) error {
	positions, err := d.GetPositions(ctx)
	if err != nil {
		return err
	}

	for _, p := range positions {
		side := models.Sell
		qty := p.Quantity
		if qty < 0 {
			side = models.Buy
			qty = -qty
		}
		_, err := d.PlaceOrder(ctx, models.OrderRequest{
			Symbol:   p.Symbol,
			Exchange: p.Exchange,
			Quantity: qty,
			Type:     models.OrderTypeMarket,
			Side:     side,
			Product:  p.Product,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *ZerodhaDriver) ConvertPosition(ctx context.Context, symbol string, from, to models.ProductType, quantity int) error {
	if err := d.requireAuth(); err != nil {
		return err
	}

	side := models.Buy
	if quantity < 0 {
		side = models.Sell
		quantity = -quantity
	}

	exch, tsym := string(models.NSE), symbol
	if i := strings.Index(symbol, ":"); i >= 0 {
		exch, tsym = symbol[:i], symbol[i+1:]
	}

	_, err := d.client.ConvertPosition(kiteconnect.ConvertPositionParams{
		Exchange:        exch,
		TradingSymbol:   tsym,
		OldProduct:      zerodhaProduct(from),
		NewProduct:      zerodhaProduct(to),
		PositionType:    "day",
		TransactionType: string(side),
		Quantity:        quantity,
	})
	if err != nil {
		return errors.Wrap(err, "convert position")
	}
	return nil
}

var _ Driver = (*ZerodhaDriver)(nil)
