package models

import "time"

// OrderRequest is a standardized, broker-agnostic order. It is treated as
// immutable once constructed; the gateway derives broker-bound copies via
// WithSymbol instead of mutating the original.
//
// Price and TriggerPrice use zero to mean "not set".
type OrderRequest struct {
	Symbol       string
	Exchange     Exchange
	Quantity     int
	Type         OrderType
	Side         TransactionType
	Product      ProductType
	Price        float64
	TriggerPrice float64
	Validity     Validity
	Tag          string
	Extras       map[string]any
}

// WithSymbol returns a copy of the request with the trading symbol replaced.
func (r OrderRequest) WithSymbol(symbol string) OrderRequest {
	r.Symbol = symbol
	return r
}

// Order response statuses. Exactly two values exist.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// OrderResponse is a standardized order operation result. OrderID is set
// when Status is StatusOK; Message is set on error. Raw carries the opaque
// broker payload for debugging.
type OrderResponse struct {
	Status  string
	OrderID string
	Message string
	Raw     map[string]any
}

// OK reports whether the response carries a success status.
func (r OrderResponse) OK() bool {
	return r.Status == StatusOK
}

// Order represents an orderbook or ledger entry.
type Order struct {
	ID             string
	Status         string
	Symbol         string
	Exchange       Exchange
	Side           TransactionType
	Type           OrderType
	Product        ProductType
	Quantity       int
	Price          float64
	TriggerPrice   float64
	Validity       Validity
	Tag            string
	FilledQuantity int
	AveragePrice   float64
	PlacedAt       time.Time
}

// Order ledger statuses used by drivers.
const (
	OrderStatusComplete  = "COMPLETE"
	OrderStatusOpen      = "OPEN"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusModified  = "MODIFIED"
)
