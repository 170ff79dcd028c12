package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	_ "github.com/mattn/go-sqlite3"

	"spread-trader/internal/models"
)

// SQLiteStore implements DataStore backed by a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol     TEXT NOT NULL,
	timeframe  TEXT NOT NULL,
	timestamp  INTEGER NOT NULL,
	open       REAL NOT NULL,
	high       REAL NOT NULL,
	low        REAL NOT NULL,
	close      REAL NOT NULL,
	volume     INTEGER NOT NULL,
	PRIMARY KEY (symbol, timeframe, timestamp)
);

CREATE TABLE IF NOT EXISTS trades (
	group_id     TEXT PRIMARY KEY,
	strategy     TEXT NOT NULL,
	underlying   TEXT NOT NULL,
	mode         TEXT NOT NULL,
	buy_symbol   TEXT,
	sell_symbol  TEXT,
	lots         INTEGER NOT NULL,
	lot_size     INTEGER NOT NULL,
	entry_debit  REAL NOT NULL,
	exit_credit  REAL NOT NULL,
	brokerage    REAL NOT NULL,
	realized_pnl REAL NOT NULL,
	entry_time   INTEGER NOT NULL,
	exit_time    INTEGER,
	status       TEXT NOT NULL,
	fail_reason  TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_entry ON trades(entry_time);

CREATE TABLE IF NOT EXISTS order_map (
	broker_order_id TEXT PRIMARY KEY,
	leg_id          TEXT NOT NULL,
	group_id        TEXT NOT NULL,
	created_at      INTEGER NOT NULL
);
`

// NewSQLiteStore opens (creating if needed) the database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveCandles upserts candles for a symbol and timeframe.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, timestamp) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp.Unix(),
			c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("inserting candle: %w", err)
		}
	}

	return tx.Commit()
}

// GetCandles returns candles in [from, to] ordered by timestamp.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`,
		symbol, timeframe, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		var ts int64
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scanning candle: %w", err)
		}
		c.Timestamp = time.Unix(ts, 0).UTC()
		candles = append(candles, c)
	}

	return candles, rows.Err()
}

// ImportCandlesCSV loads candles from a CSV file into the cache and returns
// the row count. The file must carry timestamp,open,high,low,close,volume
// headers.
func (s *SQLiteStore) ImportCandlesCSV(ctx context.Context, symbol, timeframe, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening csv: %w", err)
	}
	defer f.Close()

	var candles []models.Candle
	if err := gocsv.UnmarshalFile(f, &candles); err != nil {
		return 0, fmt.Errorf("parsing csv: %w", err)
	}

	if err := s.SaveCandles(ctx, symbol, timeframe, candles); err != nil {
		return 0, err
	}
	return len(candles), nil
}

// LogTrade appends a completed trade to the journal.
func (s *SQLiteStore) LogTrade(ctx context.Context, trade *models.TradeRecord) error {
	var exitTime interface{}
	if !trade.ExitTime.IsZero() {
		exitTime = trade.ExitTime.Unix()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades
		(group_id, strategy, underlying, mode, buy_symbol, sell_symbol, lots, lot_size,
		 entry_debit, exit_credit, brokerage, realized_pnl, entry_time, exit_time, status, fail_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.GroupID, trade.StrategyTag, trade.Underlying, trade.Mode,
		trade.BuySymbol, trade.SellSymbol, trade.Lots, trade.LotSize,
		trade.EntryDebit, trade.ExitCredit, trade.Brokerage, trade.RealizedPnL,
		trade.EntryTime.Unix(), exitTime, string(trade.Status), trade.FailReason)
	if err != nil {
		return fmt.Errorf("logging trade: %w", err)
	}
	return nil
}

// GetTrades returns journal entries matching the filter, newest first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error) {
	query := `
		SELECT group_id, strategy, underlying, mode, buy_symbol, sell_symbol, lots, lot_size,
		       entry_debit, exit_credit, brokerage, realized_pnl, entry_time, exit_time, status, fail_reason
		FROM trades WHERE 1=1`
	var args []interface{}

	if filter.Underlying != "" {
		query += " AND underlying = ?"
		args = append(args, filter.Underlying)
	}
	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, filter.Mode)
	}
	if !filter.StartDate.IsZero() {
		query += " AND entry_time >= ?"
		args = append(args, filter.StartDate.Unix())
	}
	if !filter.EndDate.IsZero() {
		query += " AND entry_time <= ?"
		args = append(args, filter.EndDate.Unix())
	}
	query += " ORDER BY entry_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var entryTS int64
		var exitTS sql.NullInt64
		var status, failReason sql.NullString
		if err := rows.Scan(&t.GroupID, &t.StrategyTag, &t.Underlying, &t.Mode,
			&t.BuySymbol, &t.SellSymbol, &t.Lots, &t.LotSize,
			&t.EntryDebit, &t.ExitCredit, &t.Brokerage, &t.RealizedPnL,
			&entryTS, &exitTS, &status, &failReason); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.EntryTime = time.Unix(entryTS, 0).UTC()
		if exitTS.Valid {
			t.ExitTime = time.Unix(exitTS.Int64, 0).UTC()
		}
		t.Status = models.GroupStatus(status.String)
		t.FailReason = failReason.String
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// SaveOrderMapping durably records a broker order id to leg mapping.
func (s *SQLiteStore) SaveOrderMapping(ctx context.Context, brokerOrderID, legID, groupID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO order_map (broker_order_id, leg_id, group_id, created_at)
		VALUES (?, ?, ?, ?)`,
		brokerOrderID, legID, groupID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving order mapping: %w", err)
	}
	return nil
}

// LoadOrderMappings reads the full reconciliation table, used at startup to
// resume tracking of already-open positions.
func (s *SQLiteStore) LoadOrderMappings(ctx context.Context) (map[string]OrderMapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT broker_order_id, leg_id, group_id, created_at FROM order_map`)
	if err != nil {
		return nil, fmt.Errorf("loading order mappings: %w", err)
	}
	defer rows.Close()

	mappings := make(map[string]OrderMapping)
	for rows.Next() {
		var m OrderMapping
		var ts int64
		if err := rows.Scan(&m.BrokerOrderID, &m.LegID, &m.GroupID, &ts); err != nil {
			return nil, fmt.Errorf("scanning order mapping: %w", err)
		}
		m.CreatedAt = time.Unix(ts, 0).UTC()
		mappings[m.BrokerOrderID] = m
	}

	return mappings, rows.Err()
}

// DeleteOrderMapping removes a mapping once its leg reaches a terminal state.
func (s *SQLiteStore) DeleteOrderMapping(ctx context.Context, brokerOrderID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM order_map WHERE broker_order_id = ?`, brokerOrderID)
	if err != nil {
		return fmt.Errorf("deleting order mapping: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
