package market

import (
	"context"
	"sort"
	"time"

	apperrors "spread-trader/internal/errors"
	"spread-trader/internal/models"
)

// CandleProvider supplies historical candles, typically the sqlite store.
type CandleProvider interface {
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
}

// HistoricalSource replays stored candles as observations in timestamp order.
// Series for multiple instruments are merged; candles with equal timestamps
// are simultaneous and come out in stable symbol order. The source is
// restartable so identical replay runs see identical streams.
type HistoricalSource struct {
	observations []models.Observation
	pos          int
}

// NewHistoricalSource loads the requested series and prepares the merged
// stream. An empty result is an error: a backtest with no data is a
// configuration problem, not an empty run.
func NewHistoricalSource(ctx context.Context, provider CandleProvider, symbols []string, timeframe string, from, to time.Time) (*HistoricalSource, error) {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)

	var all []models.Observation
	for _, symbol := range sorted {
		candles, err := provider.GetCandles(ctx, symbol, timeframe, from, to)
		if err != nil {
			return nil, apperrors.NewFeedError("historical", symbol, "loading candles", err)
		}
		for _, c := range candles {
			all = append(all, models.Observation{
				InstrumentID: symbol,
				Timestamp:    c.Timestamp,
				LastPrice:    c.Close,
				Volume:       c.Volume,
			})
		}
	}

	if len(all) == 0 {
		return nil, apperrors.NewFeedError("historical", "", "no candles in range", apperrors.ErrDataNotFound)
	}

	// Stable sort keeps the symbol order for simultaneous observations.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})

	return &HistoricalSource{observations: all}, nil
}

// Next returns the next observation or ErrEndOfStream.
func (s *HistoricalSource) Next(ctx context.Context) (models.Observation, error) {
	select {
	case <-ctx.Done():
		return models.Observation{}, ctx.Err()
	default:
	}

	if s.pos >= len(s.observations) {
		return models.Observation{}, apperrors.ErrEndOfStream
	}
	obs := s.observations[s.pos]
	s.pos++
	return obs, nil
}

// Reset rewinds the source to the start of the range.
func (s *HistoricalSource) Reset() error {
	s.pos = 0
	return nil
}

// Close releases nothing; the source holds only memory.
func (s *HistoricalSource) Close() error {
	return nil
}

// Len returns the total observation count, used by progress reporting.
func (s *HistoricalSource) Len() int {
	return len(s.observations)
}
