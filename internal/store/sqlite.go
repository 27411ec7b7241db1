package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"multibroker/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Master contract per broker
	CREATE TABLE IF NOT EXISTS instruments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		broker TEXT NOT NULL,
		token INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		name TEXT,
		exchange TEXT NOT NULL,
		segment TEXT,
		lot_size INTEGER,
		tick_size REAL,
		expiry DATETIME,
		strike REAL,
		kind TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(broker, exchange, symbol)
	);
	CREATE INDEX IF NOT EXISTS idx_instruments_name ON instruments(broker, name);

	-- Cached history bars
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, interval, timestamp)
	);

	-- Sync bookkeeping
	CREATE TABLE IF NOT EXISTS sync_times (
		data_type TEXT PRIMARY KEY,
		synced_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveInstruments replaces the stored master contract for a broker.
func (s *SQLiteStore) SaveInstruments(ctx context.Context, broker string, instruments []models.Instrument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM instruments WHERE broker = ?`, broker); err != nil {
		return fmt.Errorf("failed to clear instruments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instruments (broker, token, symbol, name, exchange, segment, lot_size, tick_size, expiry, strike, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, inst := range instruments {
		_, err := stmt.ExecContext(ctx, broker, inst.Token, inst.Symbol, inst.Name,
			string(inst.Exchange), inst.Segment, inst.LotSize, inst.TickSize,
			inst.Expiry, inst.Strike, inst.Kind)
		if err != nil {
			return fmt.Errorf("failed to insert instrument %s: %w", inst.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit instruments: %w", err)
	}
	return s.SetLastSync(SyncTypeInstruments, time.Now())
}

// GetInstruments lists stored instruments for a broker, optionally filtered.
func (s *SQLiteStore) GetInstruments(ctx context.Context, broker string, filter InstrumentFilter) ([]models.Instrument, error) {
	query := `SELECT token, symbol, name, exchange, segment, lot_size, tick_size, expiry, strike, kind
		FROM instruments WHERE broker = ?`
	args := []any{broker}

	if filter.Exchange != "" {
		query += ` AND exchange = ?`
		args = append(args, string(filter.Exchange))
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	if filter.Name != "" {
		query += ` AND name = ?`
		args = append(args, filter.Name)
	}
	query += ` ORDER BY exchange, symbol`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var result []models.Instrument
	for rows.Next() {
		var inst models.Instrument
		var exchange string
		var expiry sql.NullTime
		if err := rows.Scan(&inst.Token, &inst.Symbol, &inst.Name, &exchange,
			&inst.Segment, &inst.LotSize, &inst.TickSize, &expiry, &inst.Strike, &inst.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		inst.Exchange = models.Exchange(exchange)
		if expiry.Valid {
			inst.Expiry = expiry.Time
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

// FindInstrument looks up one instrument by exchange and trading symbol.
// Returns nil without error when absent.
func (s *SQLiteStore) FindInstrument(ctx context.Context, broker string, exchange models.Exchange, symbol string) (*models.Instrument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, symbol, name, exchange, segment, lot_size, tick_size, expiry, strike, kind
		FROM instruments WHERE broker = ? AND exchange = ? AND symbol = ?`,
		broker, string(exchange), strings.ToUpper(symbol))

	var inst models.Instrument
	var exch string
	var expiry sql.NullTime
	err := row.Scan(&inst.Token, &inst.Symbol, &inst.Name, &exch,
		&inst.Segment, &inst.LotSize, &inst.TickSize, &expiry, &inst.Strike, &inst.Kind)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find instrument: %w", err)
	}
	inst.Exchange = models.Exchange(exch)
	if expiry.Valid {
		inst.Expiry = expiry.Time
	}
	return &inst, nil
}

// SaveCandles upserts history bars into the cache.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, interval string, candles []models.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, interval, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, interval, timestamp) DO UPDATE SET
			open = excluded.open, high = excluded.high,
			low = excluded.low, close = excluded.close, volume = excluded.volume`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, interval, c.Timestamp.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit candles: %w", err)
	}
	return nil
}

// GetCandles reads cached bars for [from, to], chronological.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume FROM candles
		WHERE symbol = ? AND interval = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp`,
		symbol, interval, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var result []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// GetLastSync returns the last recorded sync time for a data type, zero when
// never synced.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var t time.Time
	err := s.db.QueryRow(`SELECT synced_at FROM sync_times WHERE data_type = ?`, dataType).Scan(&t)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()
	return t
}

// SetLastSync records a sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_times (data_type, synced_at) VALUES (?, ?)
		ON CONFLICT(data_type) DO UPDATE SET synced_at = excluded.synced_at`,
		dataType, t.UTC())
	if err != nil {
		return fmt.Errorf("failed to set sync time: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ DataStore = (*SQLiteStore)(nil)
