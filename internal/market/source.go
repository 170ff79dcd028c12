// Package market provides market observation sources: historical candle
// replay for backtests and websocket tick streaming for paper/live runs,
// behind one interface.
package market

import (
	"context"

	"spread-trader/internal/models"
)

// Source produces the next timestamped price observation for one or more
// instruments. Observations come out ordered by timestamp; a finite source
// returns errors.ErrEndOfStream when exhausted.
type Source interface {
	Next(ctx context.Context) (models.Observation, error)
	Close() error
}

// RestartableSource is a finite source that can be re-iterated from the same
// range. Backtest sources are restartable; live streams are not.
type RestartableSource interface {
	Source
	Reset() error
}
