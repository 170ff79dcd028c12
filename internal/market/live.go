package market

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"spread-trader/internal/broker"
	apperrors "spread-trader/internal/errors"
	"spread-trader/internal/models"
)

// LiveSourceConfig holds configuration for the live observation source.
type LiveSourceConfig struct {
	// BufferSize is the tick channel depth. When the engine falls behind,
	// the oldest buffered tick is dropped and counted rather than blocking
	// the websocket callback.
	BufferSize int
}

// DefaultLiveSourceConfig returns the default live source configuration.
func DefaultLiveSourceConfig() LiveSourceConfig {
	return LiveSourceConfig{BufferSize: 1000}
}

// LiveSource adapts a websocket ticker into the Source interface. Ticks are
// funneled into a single bounded channel; Next blocks until a tick arrives,
// the stream closes, or the context ends. Live streams are not restartable.
type LiveSource struct {
	ticker  broker.Ticker
	logger  zerolog.Logger
	ticks   chan models.Observation
	done    chan struct{}
	dropped atomic.Uint64
	once    sync.Once
}

// NewLiveSource wires the ticker callbacks and starts delivery. The caller
// must have connected and subscribed the ticker already.
func NewLiveSource(ticker broker.Ticker, cfg LiveSourceConfig, logger zerolog.Logger) *LiveSource {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultLiveSourceConfig().BufferSize
	}

	s := &LiveSource{
		ticker: ticker,
		logger: logger,
		ticks:  make(chan models.Observation, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	ticker.OnTick(func(tick models.Tick) {
		obs := models.Observation{
			InstrumentID: tick.Symbol,
			Timestamp:    tick.Timestamp,
			LastPrice:    tick.LTP,
			Bid:          tick.BidPrice,
			Ask:          tick.AskPrice,
			Volume:       tick.Volume,
		}
		select {
		case <-s.done:
		case s.ticks <- obs:
		default:
			// Buffer full: drop the oldest so fresh prices win.
			select {
			case <-s.ticks:
			default:
			}
			select {
			case s.ticks <- obs:
			default:
			}
			if n := s.dropped.Add(1); n%100 == 1 {
				s.logger.Warn().Uint64("dropped", n).Msg("Slow consumer, dropping ticks")
			}
		}
	})

	ticker.OnError(func(err error) {
		s.logger.Error().Err(err).Msg("Ticker error")
	})

	return s
}

// Next returns the next live observation.
func (s *LiveSource) Next(ctx context.Context) (models.Observation, error) {
	select {
	case <-ctx.Done():
		return models.Observation{}, ctx.Err()
	case <-s.done:
		return models.Observation{}, apperrors.ErrEndOfStream
	case obs, ok := <-s.ticks:
		if !ok {
			return models.Observation{}, apperrors.ErrEndOfStream
		}
		return obs, nil
	}
}

// Dropped returns how many ticks were discarded due to backpressure.
func (s *LiveSource) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops delivery and disconnects the ticker.
func (s *LiveSource) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return s.ticker.Disconnect()
}
