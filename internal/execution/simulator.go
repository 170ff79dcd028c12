// Package execution provides the two fill sources behind the order manager:
// a deterministic simulator for backtest and paper modes, and a live adapter
// that forwards legs to the broker and reconciles asynchronous updates.
package execution

import (
	"context"
	"hash/fnv"

	"github.com/rs/zerolog"

	"spread-trader/internal/config"
	apperrors "spread-trader/internal/errors"
	"spread-trader/internal/market"
	"spread-trader/internal/models"
)

// Simulator fills leg orders synchronously against the current option marks.
// Fill price is the mark adjusted by a fixed slippage, against the order:
// buys pay more, sells receive less. With partial fills enabled the fill is
// split into deterministic chunks derived from the liquidity seed, so a
// backtest replays identically.
type Simulator struct {
	cfg    config.ExecutionConfig
	model  *market.PriceModel
	logger zerolog.Logger

	marks map[string]float64
	spot  float64
}

// NewSimulator creates a simulator. The price model is the fallback for
// instruments without a quoted mark.
func NewSimulator(cfg config.ExecutionConfig, model *market.PriceModel, logger zerolog.Logger) *Simulator {
	return &Simulator{
		cfg:    cfg,
		model:  model,
		logger: logger,
		marks:  make(map[string]float64),
	}
}

// SetMarks replaces the current mark table. The engine calls this once per
// observation, before any decision is executed against it.
func (s *Simulator) SetMarks(spot float64, marks map[string]float64) {
	s.spot = spot
	s.marks = marks
}

// SubmitLeg fills the leg immediately at mark plus slippage.
func (s *Simulator) SubmitLeg(ctx context.Context, group *models.OrderGroup, leg *models.Leg) ([]models.FillEvent, error) {
	price, ok := s.price(leg)
	if !ok {
		return nil, apperrors.NewGroupError(group.ID, leg.ID, "simulate",
			"no mark or model price for "+leg.Instrument.Symbol, apperrors.ErrDataNotFound)
	}

	if leg.Side == models.OrderSideBuy {
		price += s.cfg.SlippagePoints
	} else {
		price -= s.cfg.SlippagePoints
	}
	if price < 0 {
		price = 0
	}

	if !s.cfg.PartialFillsEnabled || s.cfg.AssumedDepth <= 0 || leg.Quantity <= s.cfg.AssumedDepth {
		return []models.FillEvent{{
			LegID:     leg.ID,
			Price:     price,
			Quantity:  leg.Quantity,
			Timestamp: leg.SubmittedAt,
		}}, nil
	}

	// Chunked fill: the first slice size comes from the seed and the leg ID
	// so two runs with the same seed produce the same event sequence.
	first := 1 + int(chunkHash(s.cfg.LiquiditySeed, leg.ID)%uint64(s.cfg.AssumedDepth))
	var events []models.FillEvent
	cumulative := first
	for {
		if cumulative > leg.Quantity {
			cumulative = leg.Quantity
		}
		events = append(events, models.FillEvent{
			LegID:     leg.ID,
			Price:     price,
			Quantity:  cumulative,
			Timestamp: leg.SubmittedAt,
		})
		if cumulative == leg.Quantity {
			return events, nil
		}
		cumulative += s.cfg.AssumedDepth
	}
}

// CancelLeg is a no-op: simulated fills are synchronous, so by the time a
// cancel could run the leg is already terminal.
func (s *Simulator) CancelLeg(ctx context.Context, leg *models.Leg) error {
	return nil
}

func (s *Simulator) price(leg *models.Leg) (float64, bool) {
	if p, ok := s.marks[leg.Instrument.Symbol]; ok {
		return p, true
	}
	if s.model != nil && leg.Instrument.IsOption() && s.spot > 0 {
		return s.model.Premium(leg.Instrument, s.spot, leg.SubmittedAt), true
	}
	if leg.IntendedPrice > 0 {
		return leg.IntendedPrice, true
	}
	return 0, false
}

func chunkHash(seed int64, legID string) uint64 {
	h := fnv.New64a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(seed >> (8 * i))
	}
	h.Write(b[:])
	h.Write([]byte(legID))
	return h.Sum64()
}
