// Package store provides local persistence for master contracts and
// cached history bars.
package store

import (
	"context"
	"time"

	"multibroker/internal/models"
)

// DataStore defines the persistence surface used by the broker layer.
type DataStore interface {
	// Instruments (master contract)
	SaveInstruments(ctx context.Context, broker string, instruments []models.Instrument) error
	GetInstruments(ctx context.Context, broker string, filter InstrumentFilter) ([]models.Instrument, error)
	FindInstrument(ctx context.Context, broker string, exchange models.Exchange, symbol string) (*models.Instrument, error)

	// Candle cache
	SaveCandles(ctx context.Context, symbol, interval string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]models.Candle, error)

	// Sync bookkeeping
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// InstrumentFilter narrows a master contract listing.
type InstrumentFilter struct {
	Exchange models.Exchange
	Kind     string // EQ, FUT, CE, PE
	Name     string
	Limit    int
}

// Sync data type keys used with GetLastSync/SetLastSync.
const (
	SyncTypeInstruments = "instruments"
	SyncTypeCandles     = "candles"
)
