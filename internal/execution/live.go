package execution

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"spread-trader/internal/broker"
	apperrors "spread-trader/internal/errors"
	"spread-trader/internal/models"
	"spread-trader/internal/store"
)

// LiveAdapter forwards leg orders to the broker and translates asynchronous
// order updates back into fill events. The broker-order-id to leg-id mapping
// is persisted so a restarted process can reconcile updates for orders it
// placed before the crash.
type LiveAdapter struct {
	broker broker.Broker
	store  store.DataStore
	logger zerolog.Logger
	tag    string

	mu     sync.Mutex
	legs   map[string]legRef // broker order id -> leg
	groups map[string]string // leg id -> group id
}

type legRef struct {
	legID   string
	groupID string
}

// LegReject is an asynchronous rejection translated from a broker update.
type LegReject struct {
	LegID  string
	Reason string
}

// NewLiveAdapter creates a live execution adapter. The tag is attached to
// every broker order so positions are attributable to this process.
func NewLiveAdapter(b broker.Broker, ds store.DataStore, tag string, logger zerolog.Logger) *LiveAdapter {
	return &LiveAdapter{
		broker: b,
		store:  ds,
		logger: logger,
		tag:    tag,
		legs:   make(map[string]legRef),
		groups: make(map[string]string),
	}
}

// Resume reloads persisted order mappings from a previous run so in-flight
// orders placed before a restart still reconcile.
func (a *LiveAdapter) Resume(ctx context.Context) error {
	mappings, err := a.store.LoadOrderMappings(ctx)
	if err != nil {
		return apperrors.Wrap(err, "loading order mappings")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range mappings {
		a.legs[m.BrokerOrderID] = legRef{legID: m.LegID, groupID: m.GroupID}
		a.groups[m.LegID] = m.GroupID
	}
	if len(mappings) > 0 {
		a.logger.Info().Int("count", len(mappings)).Msg("Resumed order mappings from previous run")
	}
	return nil
}

// SubmitLeg places the leg with the broker. No fills are returned here; they
// arrive later through Translate.
func (a *LiveAdapter) SubmitLeg(ctx context.Context, group *models.OrderGroup, leg *models.Leg) ([]models.FillEvent, error) {
	req := broker.OrderRequest{
		Symbol:   leg.Instrument.Symbol,
		Exchange: leg.Instrument.Exchange,
		Side:     leg.Side,
		Type:     models.OrderTypeMarket,
		Quantity: leg.Quantity,
		Tag:      a.tag,
	}

	brokerOrderID, err := a.broker.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	leg.BrokerOrderID = brokerOrderID

	a.mu.Lock()
	a.legs[brokerOrderID] = legRef{legID: leg.ID, groupID: group.ID}
	a.groups[leg.ID] = group.ID
	a.mu.Unlock()

	// Persist before returning: if we crash after PlaceOrder but before the
	// mapping survives, the update at restart would be unattributable.
	if err := a.store.SaveOrderMapping(ctx, brokerOrderID, leg.ID, group.ID); err != nil {
		a.logger.Error().Err(err).Str("broker_order_id", brokerOrderID).Msg("Failed to persist order mapping")
	}

	return nil, nil
}

// CancelLeg cancels the leg's broker order.
func (a *LiveAdapter) CancelLeg(ctx context.Context, leg *models.Leg) error {
	if leg.BrokerOrderID == "" {
		return nil
	}
	return a.broker.CancelOrder(ctx, leg.BrokerOrderID)
}

// Translate maps a broker order update onto the leg that placed it. Exactly
// one of the returns is set for a recognized update. An update for an order
// id this process never placed is a reconciliation failure and is returned
// as an error; the engine treats it as fatal rather than guessing.
func (a *LiveAdapter) Translate(update broker.OrderUpdate) (*models.FillEvent, *LegReject, error) {
	a.mu.Lock()
	ref, ok := a.legs[update.BrokerOrderID]
	a.mu.Unlock()
	if !ok {
		return nil, nil, apperrors.NewReconcileError(update.BrokerOrderID,
			"order update for unknown broker order id")
	}

	switch update.Status {
	case broker.StatusRejected, broker.StatusCancelled:
		reason := update.Message
		if reason == "" {
			reason = update.Status
		}
		return nil, &LegReject{LegID: ref.legID, Reason: reason}, nil
	default:
		if update.FilledQty <= 0 {
			return nil, nil, nil // open/ack update, nothing to apply
		}
		return &models.FillEvent{
			LegID:         ref.legID,
			BrokerOrderID: update.BrokerOrderID,
			Price:         update.AveragePrice,
			Quantity:      update.FilledQty,
			Timestamp:     update.Timestamp,
		}, nil, nil
	}
}

// Forget drops the persisted mapping once a leg is terminal and archived.
func (a *LiveAdapter) Forget(ctx context.Context, leg *models.Leg) {
	if leg.BrokerOrderID == "" {
		return
	}
	a.mu.Lock()
	delete(a.legs, leg.BrokerOrderID)
	delete(a.groups, leg.ID)
	a.mu.Unlock()
	if err := a.store.DeleteOrderMapping(ctx, leg.BrokerOrderID); err != nil {
		a.logger.Warn().Err(err).Str("broker_order_id", leg.BrokerOrderID).Msg("Failed to delete order mapping")
	}
}
