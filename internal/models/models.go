// Package models provides domain models shared across broker drivers.
package models

import (
	"time"
)

// Exchange represents a stock exchange segment.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // NSE F&O
	BFO Exchange = "BFO" // BSE F&O
	MCX Exchange = "MCX" // Commodity
	CDS Exchange = "CDS" // Currency derivatives
)

// Exchanges lists all supported exchange segments.
var Exchanges = []Exchange{NSE, BSE, NFO, BFO, MCX, CDS}

// IsValid reports whether the exchange is one of the supported segments.
func (e Exchange) IsValid() bool {
	for _, x := range Exchanges {
		if e == x {
			return true
		}
	}
	return false
}

// TransactionType represents the side of an order.
type TransactionType string

const (
	Buy  TransactionType = "BUY"
	Sell TransactionType = "SELL"
)

// OrderType represents the kind of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"       // Stop market / SL-M
	OrderTypeStopLimit OrderType = "STOP_LIMIT" // SL
)

// ProductType represents the account segregation category of an order.
type ProductType string

const (
	ProductIntraday ProductType = "INTRADAY" // MIS
	ProductCNC      ProductType = "CNC"      // Cash & carry
	ProductMargin   ProductType = "MARGIN"   // NRML
)

// Validity represents how long an order stays live.
type Validity string

const (
	ValidityDay Validity = "DAY"
	ValidityIOC Validity = "IOC"
)

// OptionType represents the option leg kind.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// MarketStatus represents the current market session state.
type MarketStatus string

const (
	MarketOpen             MarketStatus = "OPEN"
	MarketPreOpen          MarketStatus = "PRE_OPEN"
	MarketClosed           MarketStatus = "CLOSED"
	MarketMISSquareOffWarn MarketStatus = "MIS_SQUAREOFF_WARNING"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Tick represents a real-time market data update.
type Tick struct {
	Symbol    string
	LTP       float64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	BidPrice  float64
	AskPrice  float64
	Timestamp time.Time
}

// Quote represents a market quote for one instrument.
type Quote struct {
	Symbol    string
	Exchange  Exchange
	LastPrice float64
	Bid       float64
	Ask       float64
	Volume    int64
	Timestamp time.Time
	Raw       map[string]any
}

// Position represents an open trading position.
//
// Quantity is the signed total quantity (buys positive, sells negative);
// Available is the unblocked part of it.
type Position struct {
	Symbol       string
	Exchange     Exchange
	Quantity     int
	Available    int
	AveragePrice float64
	PnL          float64
	Product      ProductType
	Raw          map[string]any
}

// Funds is a point-in-time snapshot of account funds. It is never
// persisted; callers re-fetch it on demand.
type Funds struct {
	Equity        float64
	AvailableCash float64
	UsedMargin    float64
	Net           float64
	Raw           map[string]any
}

// Instrument represents a tradeable instrument from a master contract.
type Instrument struct {
	Token    uint32
	Symbol   string
	Name     string
	Exchange Exchange
	Segment  string
	LotSize  int
	TickSize float64
	Expiry   time.Time
	Strike   float64
	Kind     string // EQ, FUT, CE, PE
}

// OptionStrike is one strike row of an option chain.
type OptionStrike struct {
	Symbol    string
	Strike    float64
	Type      OptionType
	LastPrice float64
}
