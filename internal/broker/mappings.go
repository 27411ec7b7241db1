package broker

import "multibroker/internal/models"

// Per-broker enum mapping tables. Zerodha speaks string codes, fyers speaks
// numeric codes; both directions of the legacy conversion path and the
// margin-order normalization read from these tables.

// EnumMappings holds one broker's translation tables from the standardized
// enums to its native codes.
type EnumMappings struct {
	OrderType   map[models.OrderType]string
	Product     map[models.ProductType]string
	Transaction map[models.TransactionType]string
	Validity    map[models.Validity]string
}

// ZerodhaMappings translates standardized enums into zerodha order codes.
var ZerodhaMappings = EnumMappings{
	OrderType: map[models.OrderType]string{
		models.OrderTypeMarket:    "MARKET",
		models.OrderTypeLimit:     "LIMIT",
		models.OrderTypeStop:      "SL-M",
		models.OrderTypeStopLimit: "SL",
	},
	Product: map[models.ProductType]string{
		models.ProductIntraday: "MIS",
		models.ProductCNC:      "CNC",
		models.ProductMargin:   "NRML",
	},
	Transaction: map[models.TransactionType]string{
		models.Buy:  "BUY",
		models.Sell: "SELL",
	},
	Validity: map[models.Validity]string{
		models.ValidityDay: "DAY",
		models.ValidityIOC: "IOC",
	},
}

// Fyers numeric order codes.
var (
	fyersOrderTypeCodes = map[models.OrderType]int{
		models.OrderTypeMarket:    2,
		models.OrderTypeLimit:     1,
		models.OrderTypeStop:      3,
		models.OrderTypeStopLimit: 4,
	}

	fyersOrderTypeFromCode = map[int]models.OrderType{
		1: models.OrderTypeLimit,
		2: models.OrderTypeMarket,
		3: models.OrderTypeStop,
		4: models.OrderTypeStopLimit,
	}

	fyersSideCodes = map[models.TransactionType]int{
		models.Buy:  1,
		models.Sell: -1,
	}
)

// zerodhaOrderTypeFromCode maps fyers numeric type codes straight to
// zerodha order codes for the margin-check payload path.
var zerodhaOrderTypeFromCode = map[int]string{
	1: "LIMIT",
	2: "MARKET",
	3: "SL-M",
	4: "SL",
}
