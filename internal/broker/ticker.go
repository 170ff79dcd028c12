package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"spread-trader/internal/models"
)

// ZerodhaTicker implements the Ticker interface for Zerodha websocket
// streaming: market ticks plus order postbacks on the same connection.
type ZerodhaTicker struct {
	ticker      *kiteticker.Ticker
	apiKey      string
	accessToken string

	onTick        func(models.Tick)
	onOrderUpdate func(OrderUpdate)
	onError       func(error)
	onConnect     func()
	onDisconnect  func()

	connected    bool
	subscribed   map[uint32]struct{}
	symbolTokens map[string]uint32
	tokenSymbols map[uint32]string

	reconnecting bool
	maxRetries   int
	baseDelay    time.Duration

	mu      sync.RWMutex
	writeMu sync.Mutex // protects websocket writes
}

// ZerodhaTickerConfig holds configuration for the ticker.
type ZerodhaTickerConfig struct {
	APIKey      string
	AccessToken string
	MaxRetries  int
	BaseDelay   time.Duration
}

// NewZerodhaTicker creates a new Zerodha ticker instance.
func NewZerodhaTicker(cfg ZerodhaTickerConfig) *ZerodhaTicker {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = time.Second
	}

	return &ZerodhaTicker{
		apiKey:       cfg.APIKey,
		accessToken:  cfg.AccessToken,
		subscribed:   make(map[uint32]struct{}),
		symbolTokens: make(map[string]uint32),
		tokenSymbols: make(map[uint32]string),
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
	}
}

// Connect establishes the websocket connection.
func (t *ZerodhaTicker) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}

	t.ticker = kiteticker.New(t.apiKey, t.accessToken)

	connectedCh := make(chan struct{})
	firstConnect := true

	t.ticker.OnConnect(func() {
		t.mu.Lock()
		t.connected = true
		t.reconnecting = false
		isFirst := firstConnect
		firstConnect = false
		t.mu.Unlock()

		select {
		case connectedCh <- struct{}{}:
		default:
		}

		// On reconnection, restore subscriptions; the external handler
		// only runs on the first connect to avoid duplicates.
		if !isFirst {
			t.resubscribe()
			return
		}

		if t.onConnect != nil {
			go t.onConnect()
		}
	})

	t.ticker.OnClose(func(code int, reason string) {
		t.mu.Lock()
		wasConnected := t.connected
		t.connected = false
		t.mu.Unlock()

		if t.onDisconnect != nil && wasConnected {
			go t.onDisconnect()
		}

		go t.reconnect(ctx)
	})

	t.ticker.OnError(func(err error) {
		if t.onError != nil {
			go t.onError(err)
		}
	})

	t.ticker.OnTick(func(tick kitemodels.Tick) {
		if t.onTick != nil {
			t.onTick(t.convertTick(tick))
		}
	})

	t.ticker.OnOrderUpdate(func(order kiteconnect.Order) {
		if t.onOrderUpdate != nil {
			t.onOrderUpdate(OrderUpdate{
				BrokerOrderID: order.OrderID,
				Status:        order.Status,
				FilledQty:     int(order.FilledQuantity),
				AveragePrice:  order.AveragePrice,
				Message:       order.StatusMessage,
				Timestamp:     order.OrderTimestamp.Time,
			})
		}
	})

	t.ticker.OnReconnect(func(attempt int, delay time.Duration) {
		t.mu.Lock()
		t.reconnecting = true
		t.mu.Unlock()
	})

	t.mu.Unlock()

	go t.ticker.Serve()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-connectedCh:
		return nil
	case <-time.After(30 * time.Second):
		t.mu.RLock()
		connected := t.connected
		t.mu.RUnlock()
		if !connected {
			return fmt.Errorf("connection timeout")
		}
		return nil
	}
}

// Disconnect closes the websocket connection.
func (t *ZerodhaTicker) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ticker != nil {
		t.ticker.Close()
		t.connected = false
	}

	return nil
}

// Subscribe subscribes to registered symbols in quote mode.
func (t *ZerodhaTicker) Subscribe(symbols []string) error {
	t.mu.Lock()

	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("not connected")
	}

	tokens := make([]uint32, 0, len(symbols))
	for _, symbol := range symbols {
		token, ok := t.symbolTokens[symbol]
		if !ok {
			continue
		}
		tokens = append(tokens, token)
		t.subscribed[token] = struct{}{}
	}
	t.mu.Unlock()

	if len(tokens) == 0 {
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.ticker.Subscribe(tokens); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := t.ticker.SetMode(kiteticker.ModeQuote, tokens); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}

	return nil
}

// RegisterSymbol registers a symbol with its instrument token.
func (t *ZerodhaTicker) RegisterSymbol(symbol string, token uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.symbolTokens[symbol] = token
	t.tokenSymbols[token] = symbol
}

// OnTick sets the tick handler.
func (t *ZerodhaTicker) OnTick(handler func(models.Tick)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = handler
}

// OnOrderUpdate sets the order update handler.
func (t *ZerodhaTicker) OnOrderUpdate(handler func(OrderUpdate)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOrderUpdate = handler
}

// OnError sets the error handler.
func (t *ZerodhaTicker) OnError(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = handler
}

// OnConnect sets the connect handler.
func (t *ZerodhaTicker) OnConnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = handler
}

// OnDisconnect sets the disconnect handler.
func (t *ZerodhaTicker) OnDisconnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = handler
}

// IsConnected returns whether the ticker is connected.
func (t *ZerodhaTicker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *ZerodhaTicker) convertTick(tick kitemodels.Tick) models.Tick {
	t.mu.RLock()
	symbol := t.tokenSymbols[tick.InstrumentToken]
	t.mu.RUnlock()

	mt := models.Tick{
		Symbol:    symbol,
		LTP:       tick.LastPrice,
		Volume:    int64(tick.VolumeTraded),
		Timestamp: tick.Timestamp.Time,
	}
	if len(tick.Depth.Buy) > 0 {
		mt.BidPrice = tick.Depth.Buy[0].Price
	}
	if len(tick.Depth.Sell) > 0 {
		mt.AskPrice = tick.Depth.Sell[0].Price
	}
	return mt
}

func (t *ZerodhaTicker) resubscribe() {
	t.mu.RLock()
	tokens := make([]uint32, 0, len(t.subscribed))
	for token := range t.subscribed {
		tokens = append(tokens, token)
	}
	t.mu.RUnlock()

	if len(tokens) == 0 {
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.ticker.Subscribe(tokens); err != nil && t.onError != nil {
		t.onError(fmt.Errorf("resubscribe failed: %w", err))
		return
	}
	_ = t.ticker.SetMode(kiteticker.ModeQuote, tokens)
}

func (t *ZerodhaTicker) reconnect(ctx context.Context) {
	t.mu.Lock()
	if t.reconnecting {
		t.mu.Unlock()
		return
	}
	t.reconnecting = true
	t.mu.Unlock()

	for attempt := 0; attempt < t.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delay := t.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		time.Sleep(delay)

		t.mu.Lock()
		if t.connected {
			t.reconnecting = false
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		if err := t.Connect(ctx); err == nil {
			return
		}
	}

	t.mu.Lock()
	t.reconnecting = false
	t.mu.Unlock()

	if t.onError != nil {
		t.onError(fmt.Errorf("reconnect attempts exhausted"))
	}
}
