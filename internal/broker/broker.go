// Package broker provides the brokerage client used in paper and live modes.
// The engine core never talks to the exchange directly: it sees the broker
// only through these narrow interfaces.
package broker

import (
	"context"
	"time"

	"spread-trader/internal/models"
)

// Broker defines the brokerage operations the engine depends on.
// Authentication and session renewal are the broker's own concern; the core
// only observes connected/disconnected state through IsAuthenticated.
type Broker interface {
	Login(ctx context.Context) error
	IsAuthenticated() bool

	GetQuote(ctx context.Context, symbol string) (*models.Tick, error)
	GetInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error)
	GetOptionChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChain, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (string, error) // returns broker order id
	CancelOrder(ctx context.Context, brokerOrderID string) error

	CreateTicker() (Ticker, error)
}

// OrderRequest is a single leg order as submitted to the broker.
type OrderRequest struct {
	Symbol   string
	Exchange models.Exchange
	Side     models.OrderSide
	Type     models.OrderType
	Quantity int
	Price    float64
	Tag      string
}

// OrderUpdate is an asynchronous order-status callback from the broker.
type OrderUpdate struct {
	BrokerOrderID string
	Status        string // broker-native status, e.g. COMPLETE, REJECTED, CANCELLED
	FilledQty     int
	AveragePrice  float64
	Message       string
	Timestamp     time.Time
}

// Broker-native terminal statuses.
const (
	StatusComplete  = "COMPLETE"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
)

// Ticker defines the real-time streaming interface: market ticks plus
// asynchronous order updates over the same websocket.
type Ticker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(symbols []string) error
	RegisterSymbol(symbol string, token uint32)
	OnTick(handler func(models.Tick))
	OnOrderUpdate(handler func(OrderUpdate))
	OnError(handler func(error))
	OnConnect(handler func())
	OnDisconnect(handler func())
}
