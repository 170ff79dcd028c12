// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"spread-trader/internal/models"
)

// DataStore defines the persistence surface: the historical candle cache for
// backtests, the trade journal, and the live-mode order reconciliation map.
type DataStore interface {
	// Candles
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
	ImportCandlesCSV(ctx context.Context, symbol, timeframe, path string) (int, error)

	// Trade journal
	LogTrade(ctx context.Context, trade *models.TradeRecord) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error)

	// Reconciliation mapping, live mode only. Losing this mapping with open
	// real positions is a capital-risk failure, so every write is durable
	// before the order is considered submitted.
	SaveOrderMapping(ctx context.Context, brokerOrderID, legID, groupID string) error
	LoadOrderMappings(ctx context.Context) (map[string]OrderMapping, error)
	DeleteOrderMapping(ctx context.Context, brokerOrderID string) error

	// Lifecycle
	Close() error
}

// OrderMapping links a broker order id to the internal leg it fills.
type OrderMapping struct {
	BrokerOrderID string
	LegID         string
	GroupID       string
	CreatedAt     time.Time
}

// TradeFilter represents filters for querying the trade journal.
type TradeFilter struct {
	Underlying string
	Mode       string
	StartDate  time.Time
	EndDate    time.Time
	Limit      int
}
