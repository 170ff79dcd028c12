package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"golang.org/x/time/rate"

	apperrors "spread-trader/internal/errors"
	"spread-trader/internal/models"
)

// ZerodhaBroker implements the Broker interface for Zerodha Kite Connect.
type ZerodhaBroker struct {
	client        *kiteconnect.Client
	apiKey        string
	apiSecret     string
	userID        string
	accessToken   string
	tokenPath     string
	authenticated bool
	limiter       *rate.Limiter
	instruments   map[string]models.Instrument // keyed by exchange:symbol
	mu            sync.RWMutex
}

// ZerodhaConfig holds configuration for the Zerodha broker.
type ZerodhaConfig struct {
	APIKey    string
	APISecret string
	UserID    string
	TokenPath string
	// RateLimit caps REST calls per second; Kite allows 3 req/s for orders.
	RateLimit rate.Limit
}

// NewZerodhaBroker creates a new Zerodha broker instance.
// It automatically loads any saved session from disk.
func NewZerodhaBroker(cfg ZerodhaConfig) *ZerodhaBroker {
	client := kiteconnect.New(cfg.APIKey)

	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		tokenPath = filepath.Join(homeDir, ".config", "spread-trader", "session.json")
	}

	limit := cfg.RateLimit
	if limit == 0 {
		limit = rate.Limit(3)
	}

	zb := &ZerodhaBroker{
		client:      client,
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		userID:      cfg.UserID,
		tokenPath:   tokenPath,
		limiter:     rate.NewLimiter(limit, 1),
		instruments: make(map[string]models.Instrument),
	}

	_ = zb.loadSession()

	return zb
}

// sessionData represents persisted session data.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login authenticates with Zerodha. It first tries the persisted session,
// then surfaces the OAuth login URL for the user to complete.
func (z *ZerodhaBroker) Login(ctx context.Context) error {
	if err := z.loadSession(); err == nil && z.IsAuthenticated() {
		if _, err := z.client.GetUserProfile(); err == nil {
			return nil
		}
	}

	loginURL := z.client.GetLoginURL()
	return fmt.Errorf("authentication required: visit %s and complete login, then run `spread-trader auth token <request_token>`: %w",
		loginURL, apperrors.ErrNotAuthenticated)
}

// CompleteLogin finishes the OAuth flow with the request token.
func (z *ZerodhaBroker) CompleteLogin(ctx context.Context, requestToken string) error {
	session, err := z.client.GenerateSession(requestToken, z.apiSecret)
	if err != nil {
		return apperrors.NewBrokerError("AUTH", "generating session", err)
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	return z.saveSession(session.AccessToken)
}

// IsAuthenticated returns whether the broker has a valid session.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.authenticated
}

func (z *ZerodhaBroker) loadSession() error {
	data, err := os.ReadFile(z.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	if time.Now().After(session.ExpiresAt) {
		return apperrors.ErrSessionExpired
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	return nil
}

func (z *ZerodhaBroker) saveSession(accessToken string) error {
	if err := os.MkdirAll(filepath.Dir(z.tokenPath), 0700); err != nil {
		return err
	}

	// Kite tokens expire at 6 AM IST the next day.
	loc, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Now().In(loc)
	expiresAt := time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, loc)

	data, err := json.Marshal(sessionData{
		AccessToken: accessToken,
		UserID:      z.userID,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return err
	}

	return os.WriteFile(z.tokenPath, data, 0600)
}

func (z *ZerodhaBroker) wait(ctx context.Context) error {
	if err := z.limiter.Wait(ctx); err != nil {
		return err
	}
	if !z.IsAuthenticated() {
		return apperrors.ErrNotAuthenticated
	}
	return nil
}

// GetQuote fetches a real-time quote for a symbol (exchange-prefixed, e.g.
// "NSE:NIFTY 50").
func (z *ZerodhaBroker) GetQuote(ctx context.Context, symbol string) (*models.Tick, error) {
	if err := z.wait(ctx); err != nil {
		return nil, err
	}

	quotes, err := z.client.GetQuote(symbol)
	if err != nil {
		return nil, apperrors.NewBrokerError("QUOTE", symbol, err)
	}

	q, ok := quotes[symbol]
	if !ok {
		return nil, apperrors.NewBrokerError("QUOTE", fmt.Sprintf("no quote for %s", symbol), nil)
	}

	return &models.Tick{
		Symbol:    symbol,
		LTP:       q.LastPrice,
		Volume:    int64(q.Volume),
		Timestamp: q.LastTradeTime.Time,
	}, nil
}

// GetInstruments fetches and caches all instruments for an exchange.
func (z *ZerodhaBroker) GetInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	if err := z.wait(ctx); err != nil {
		return nil, err
	}

	instruments, err := z.client.GetInstruments()
	if err != nil {
		return nil, apperrors.NewBrokerError("INSTRUMENTS", string(exchange), err)
	}

	var result []models.Instrument
	z.mu.Lock()
	for _, inst := range instruments {
		if inst.Exchange != string(exchange) {
			continue
		}
		m := models.Instrument{
			Symbol:     inst.Tradingsymbol,
			Underlying: inst.Name,
			Exchange:   models.Exchange(inst.Exchange),
			Strike:     inst.StrikePrice,
			OptionType: models.OptionType(inst.InstrumentType),
			Expiry:     inst.Expiry.Time,
			LotSize:    int(inst.LotSize),
			Token:      uint32(inst.InstrumentToken),
		}
		z.instruments[fmt.Sprintf("%s:%s", inst.Exchange, inst.Tradingsymbol)] = m
		result = append(result, m)
	}
	z.mu.Unlock()

	return result, nil
}

// GetOptionChain assembles the listed option chain for an underlying and
// expiry from the cached NFO instrument dump.
func (z *ZerodhaBroker) GetOptionChain(ctx context.Context, underlying string, expiry time.Time) (*models.OptionChain, error) {
	z.mu.RLock()
	cached := len(z.instruments)
	z.mu.RUnlock()
	if cached == 0 {
		if _, err := z.GetInstruments(ctx, models.NFO); err != nil {
			return nil, err
		}
	}

	chain := &models.OptionChain{
		Underlying: underlying,
		Expiry:     expiry,
		Calls:      make(map[float64]models.Instrument),
		Puts:       make(map[float64]models.Instrument),
	}

	y, m, d := expiry.Date()

	z.mu.RLock()
	for _, inst := range z.instruments {
		if inst.Underlying != underlying || !inst.IsOption() {
			continue
		}
		ey, em, ed := inst.Expiry.Date()
		if ey != y || em != m || ed != d {
			continue
		}
		switch inst.OptionType {
		case models.OptionCall:
			if _, seen := chain.Calls[inst.Strike]; !seen {
				chain.Strikes = append(chain.Strikes, inst.Strike)
			}
			chain.Calls[inst.Strike] = inst
		case models.OptionPut:
			chain.Puts[inst.Strike] = inst
		}
	}
	z.mu.RUnlock()

	if len(chain.Strikes) == 0 {
		return nil, apperrors.NewBrokerError("CHAIN",
			fmt.Sprintf("no %s options for expiry %s", underlying, expiry.Format("2006-01-02")), apperrors.ErrDataNotFound)
	}

	return chain, nil
}

// PlaceOrder places a regular market or limit order and returns the broker
// order id.
func (z *ZerodhaBroker) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := z.wait(ctx); err != nil {
		return "", err
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(req.Exchange),
		Tradingsymbol:   req.Symbol,
		TransactionType: string(req.Side),
		OrderType:       string(req.Type),
		Product:         "NRML",
		Quantity:        req.Quantity,
		Price:           req.Price,
		Validity:        "DAY",
		Tag:             req.Tag,
	}

	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return "", apperrors.NewBrokerError("PLACE", req.Symbol, err)
	}

	return resp.OrderID, nil
}

// CancelOrder cancels a pending order.
func (z *ZerodhaBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := z.wait(ctx); err != nil {
		return err
	}

	if _, err := z.client.CancelOrder(kiteconnect.VarietyRegular, brokerOrderID, nil); err != nil {
		return apperrors.NewBrokerError("CANCEL", brokerOrderID, err)
	}
	return nil
}

// CreateTicker creates a websocket ticker bound to the current session.
func (z *ZerodhaBroker) CreateTicker() (Ticker, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()

	if !z.authenticated {
		return nil, apperrors.ErrNotAuthenticated
	}

	return NewZerodhaTicker(ZerodhaTickerConfig{
		APIKey:      z.apiKey,
		AccessToken: z.accessToken,
	}), nil
}
