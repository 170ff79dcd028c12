// Package models provides domain models for the spread trading engine.
package models

import (
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the reversing side, used when unwinding a filled leg.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OptionType represents the option contract type.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// RunMode represents the execution mode of a strategy run.
type RunMode string

const (
	ModeBacktest RunMode = "backtest"
	ModePaper    RunMode = "paper"
	ModeLive     RunMode = "live"
)

// Valid reports whether the mode is one of the recognized run modes.
func (m RunMode) Valid() bool {
	switch m {
	case ModeBacktest, ModePaper, ModeLive:
		return true
	}
	return false
}

// Instrument identifies a tradeable contract. For options the identity is
// derived from underlying, strike, option type and expiry.
type Instrument struct {
	Symbol     string // exchange trading symbol, e.g. NIFTY25JAN22000CE
	Underlying string
	Exchange   Exchange
	Strike     float64
	OptionType OptionType
	Expiry     time.Time
	LotSize    int
	Token      uint32 // broker instrument token, zero when unknown
}

// IsOption reports whether the instrument is an option contract.
func (i Instrument) IsOption() bool {
	return i.OptionType == OptionCall || i.OptionType == OptionPut
}

// Observation is a single timestamped price observation for one instrument.
// Observations are immutable once produced and ordered by timestamp; equal
// timestamps across instruments are simultaneous.
type Observation struct {
	InstrumentID string // trading symbol, or the underlying symbol for spot
	Timestamp    time.Time
	LastPrice    float64
	Bid          float64
	Ask          float64
	Volume       int64
}

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time `csv:"timestamp"`
	Open      float64   `csv:"open"`
	High      float64   `csv:"high"`
	Low       float64   `csv:"low"`
	Close     float64   `csv:"close"`
	Volume    int64     `csv:"volume"`
}

// Tick represents real-time streamed market data.
type Tick struct {
	Symbol    string
	LTP       float64
	BidPrice  float64
	AskPrice  float64
	Volume    int64
	Timestamp time.Time
}

// OptionChain holds the strikes listed for one underlying and expiry.
type OptionChain struct {
	Underlying string
	SpotPrice  float64
	Expiry     time.Time
	Strikes    []float64
	Calls      map[float64]Instrument // keyed by strike
	Puts       map[float64]Instrument
}

// StrikeNearest returns the listed strike closest to price. The strikes slice
// must be non-empty; ties resolve to the lower strike so repeated runs agree.
func (c *OptionChain) StrikeNearest(price float64) float64 {
	best := c.Strikes[0]
	bestDist := abs(best - price)
	for _, s := range c.Strikes[1:] {
		d := abs(s - price)
		if d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
