package broker

import (
	"strconv"
	"strings"

	"multibroker/internal/models"
)

// Legacy boundary conversion. Older call sites speak loosely-typed
// fyers-shaped payloads; everything here converts those into standardized
// requests on the way in and back into the legacy response shape on the way
// out, so no legacy shape leaks past the gateway surface.

// OrderRequestFromPayload converts a fyers-like order payload into a
// standardized OrderRequest. Unknown codes degrade to market/intraday
// defaults; extension fields are preserved verbatim in Extras.
func OrderRequestFromPayload(payload map[string]any) models.OrderRequest {
	symbol := payloadString(payload, "symbol")
	exch := string(models.NSE)
	if strings.Contains(symbol, ":") {
		parts := strings.SplitN(symbol, ":", 2)
		exch, symbol = parts[0], parts[1]
	}
	if strings.HasSuffix(strings.ToUpper(symbol), "-EQ") {
		symbol = symbol[:len(symbol)-3]
	}

	qty := payloadInt(payload, "qty", "quantity")
	if qty == 0 {
		qty = 1
	}

	orderType, ok := fyersOrderTypeFromCode[payloadInt(payload, "type")]
	if !ok {
		orderType = models.OrderTypeMarket
	}

	side := models.Buy
	if payloadInt(payload, "side") == -1 {
		side = models.Sell
	}

	product := models.ProductIntraday
	switch strings.ToUpper(payloadString(payload, "productType")) {
	case "CNC":
		product = models.ProductCNC
	case "MARGIN":
		product = models.ProductMargin
	}

	validity := models.ValidityDay
	if strings.ToUpper(payloadString(payload, "validity")) == "IOC" {
		validity = models.ValidityIOC
	}

	tag := payloadString(payload, "orderTag")
	if tag == "" {
		tag = payloadString(payload, "tag")
	}

	extras := make(map[string]any)
	for _, k := range []string{"disclosedQty", "offlineOrder", "stopLoss", "takeProfit"} {
		if v, ok := payload[k]; ok {
			extras[k] = v
		}
	}

	return models.OrderRequest{
		Symbol:       symbol,
		Exchange:     models.Exchange(strings.ToUpper(exch)),
		Quantity:     qty,
		Type:         orderType,
		Side:         side,
		Product:      product,
		Price:        payloadFloat(payload, "limitPrice", "price"),
		TriggerPrice: payloadFloat(payload, "stopPrice", "trigger_price"),
		Validity:     validity,
		Tag:          tag,
		Extras:       extras,
	}
}

// LegacyOrderResult converts a standardized OrderResponse back into the
// legacy {"s", "id", "message", "raw"} shape.
func LegacyOrderResult(resp models.OrderResponse) map[string]any {
	result := map[string]any{
		"s":  resp.Status,
		"id": resp.OrderID,
	}
	if resp.Message != "" {
		result["message"] = resp.Message
	}
	if resp.Raw != nil {
		result["raw"] = resp.Raw
	}
	return result
}

// sentinelOrderRequest wraps a typed request for brokers whose
// margin-payload mapping lives inside the driver itself.
const sentinelOrderRequest = "__order_request__"

// FyersOrderPayload converts a standardized OrderRequest into the fyers
// numeric-coded payload shape, the inverse of OrderRequestFromPayload.
// Drivers unwrap sentinel-wrapped margin orders through it.
func FyersOrderPayload(o models.OrderRequest) map[string]any {
	symbol := string(o.Exchange) + ":" + o.Symbol
	symU := strings.ToUpper(o.Symbol)
	if !isDerivativeSymbol(symU) && !strings.HasSuffix(symU, "-EQ") && !strings.HasSuffix(symU, "-INDEX") {
		symbol += "-EQ"
	}

	typ, ok := fyersOrderTypeCodes[o.Type]
	if !ok {
		typ = 2
	}
	side, ok := fyersSideCodes[o.Side]
	if !ok {
		side = 1
	}
	product := "INTRADAY"
	switch o.Product {
	case models.ProductCNC:
		product = "CNC"
	case models.ProductMargin:
		product = "MARGIN"
	}
	validity := "DAY"
	if o.Validity == models.ValidityIOC {
		validity = "IOC"
	}

	payload := map[string]any{
		"symbol":      symbol,
		"qty":         o.Quantity,
		"side":        side,
		"type":        typ,
		"productType": product,
		"limitPrice":  o.Price,
		"stopPrice":   o.TriggerPrice,
		"validity":    validity,
	}
	for k, v := range o.Extras {
		payload[k] = v
	}
	return payload
}

// unwrapMarginOrder resolves a sentinel-wrapped typed request into the
// fyers payload shape so payload readers see real fields.
func unwrapMarginOrder(o MarginOrder) MarginOrder {
	if v, ok := o[sentinelOrderRequest]; ok {
		if req, ok := v.(models.OrderRequest); ok {
			return FyersOrderPayload(req)
		}
	}
	return o
}

// NormalizeMarginOrders converts margin-check inputs, either standardized
// OrderRequest values or legacy fyers-shaped payloads, into the selected
// broker's expected margin payload. Derivative symbols on a cash exchange
// are reassigned to the derivatives segment; the equity suffix is trimmed.
// Unknown brokers fall through to a passthrough that wraps typed requests
// in a sentinel so the driver can complete the mapping.
func (g *Gateway) NormalizeMarginOrders(orders []any) []MarginOrder {
	switch g.broker {
	case "fyers":
		// Fyers accepts fyers-shaped payloads as-is; typed requests are
		// mapped inside the driver.
		out := make([]MarginOrder, 0, len(orders))
		for _, o := range orders {
			switch v := o.(type) {
			case map[string]any:
				out = append(out, MarginOrder(v))
			case MarginOrder:
				out = append(out, v)
			default:
				out = append(out, MarginOrder{sentinelOrderRequest: o})
			}
		}
		return out

	case "zerodha":
		out := make([]MarginOrder, 0, len(orders))
		for _, o := range orders {
			switch v := o.(type) {
			case models.OrderRequest:
				out = append(out, zerodhaMarginOrderFromRequest(v))
			case map[string]any:
				out = append(out, zerodhaMarginOrderFromPayload(v))
			case MarginOrder:
				out = append(out, zerodhaMarginOrderFromPayload(v))
			}
		}
		return out

	default:
		out := make([]MarginOrder, 0, len(orders))
		for _, o := range orders {
			switch v := o.(type) {
			case map[string]any:
				out = append(out, MarginOrder(v))
			case MarginOrder:
				out = append(out, v)
			default:
				out = append(out, MarginOrder{sentinelOrderRequest: o})
			}
		}
		return out
	}
}

func zerodhaMarginOrderFromRequest(o models.OrderRequest) MarginOrder {
	exch := string(o.Exchange)
	tsym := o.Symbol
	symU := strings.ToUpper(tsym)
	if exch == string(models.NSE) && isDerivativeSymbol(symU) {
		exch = string(models.NFO)
	}
	if strings.HasSuffix(symU, "-EQ") {
		tsym = tsym[:len(tsym)-3]
	}
	return MarginOrder{
		"exchange":         exch,
		"tradingsymbol":    tsym,
		"transaction_type": ZerodhaMappings.Transaction[o.Side],
		"variety":          "regular",
		"product":          ZerodhaMappings.Product[o.Product],
		"order_type":       ZerodhaMappings.OrderType[o.Type],
		"quantity":         o.Quantity,
		"price":            o.Price,
		"trigger_price":    o.TriggerPrice,
	}
}

func zerodhaMarginOrderFromPayload(o map[string]any) MarginOrder {
	symbol := payloadString(o, "symbol")
	exch := string(models.NSE)
	tsym := symbol
	if strings.Contains(symbol, ":") {
		parts := strings.SplitN(symbol, ":", 2)
		exch, tsym = parts[0], parts[1]
	}
	symU := strings.ToUpper(tsym)
	if exch == string(models.NSE) && isDerivativeSymbol(symU) {
		exch = string(models.NFO)
	}
	if strings.HasSuffix(symU, "-EQ") {
		tsym = tsym[:len(tsym)-3]
	}

	txn := "BUY"
	if payloadInt(o, "side") == -1 {
		txn = "SELL"
	}
	typ := payloadInt(o, "type")
	orderType, ok := zerodhaOrderTypeFromCode[typ]
	if !ok {
		orderType = "MARKET"
	}
	product := "MIS"
	switch strings.ToUpper(payloadString(o, "productType")) {
	case "CNC":
		product = "CNC"
	case "MARGIN":
		product = "NRML"
	}
	qty := payloadInt(o, "qty", "quantity")
	if qty == 0 {
		qty = 1
	}
	price := payloadFloat(o, "limitPrice", "price")
	if orderType != "LIMIT" {
		price = 0
	}
	trigger := payloadFloat(o, "stopPrice", "trigger_price", "stopLoss")

	return MarginOrder{
		"exchange":         exch,
		"tradingsymbol":    tsym,
		"transaction_type": txn,
		"variety":          "regular",
		"product":          product,
		"order_type":       orderType,
		"quantity":         qty,
		"price":            price,
		"trigger_price":    trigger,
	}
}

func isDerivativeSymbol(symU string) bool {
	return strings.HasSuffix(symU, "CE") ||
		strings.HasSuffix(symU, "PE") ||
		strings.Contains(symU, "FUT")
}

// Payload coercion helpers: legacy payloads arrive with numbers as int,
// float64 or string depending on the caller, so all reads go through these.

func payloadString(p map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := p[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func payloadInt(p map[string]any, keys ...string) int {
	for _, k := range keys {
		v, ok := p[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		case string:
			if i, err := strconv.Atoi(n); err == nil {
				return i
			}
		}
	}
	return 0
}

func payloadFloat(p map[string]any, keys ...string) float64 {
	for _, k := range keys {
		v, ok := p[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			if n != 0 {
				return n
			}
		case int:
			if n != 0 {
				return float64(n)
			}
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil && f != 0 {
				return f
			}
		}
	}
	return 0
}
