package market

import (
	"fmt"
	"math"
	"time"

	"spread-trader/internal/models"
)

// WeeklyExpiries returns the Thursday expiry dates covering [from, to], plus
// a buffer beyond the range so a trade late in the range still has a future
// expiry to select. NIFTY and BANKNIFTY weekly options expire on Thursdays.
func WeeklyExpiries(from, to time.Time, loc *time.Location) []time.Time {
	end := to.In(loc).AddDate(0, 0, 60)
	cur := from.In(loc)

	daysUntilThursday := (int(time.Thursday) - int(cur.Weekday()) + 7) % 7
	cur = time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, daysUntilThursday)

	var expiries []time.Time
	for !cur.After(end) {
		expiries = append(expiries, cur)
		cur = cur.AddDate(0, 0, 7)
	}
	return expiries
}

// NearestExpiry returns the nearest expiry strictly after the given date.
// The second return is false when the list holds no future expiry.
func NearestExpiry(expiries []time.Time, date time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, e := range expiries {
		if !e.After(date) {
			continue
		}
		if !found || e.Before(best) {
			best, found = e, true
		}
	}
	return best, found
}

// OptionSymbol formats an option trading symbol, e.g. NIFTY02Jan2522000CE.
func OptionSymbol(underlying string, expiry time.Time, strike float64, typ models.OptionType) string {
	return fmt.Sprintf("%s%s%d%s", underlying, expiry.Format("02Jan06"), int(strike), typ)
}

// SyntheticChain builds an option chain around the spot price for dates where
// no recorded chain exists. Strikes span ±10 steps around the rounded spot.
func SyntheticChain(underlying string, spot float64, expiry time.Time, strikeStep float64, lotSize int) *models.OptionChain {
	base := math.Round(spot/strikeStep) * strikeStep

	chain := &models.OptionChain{
		Underlying: underlying,
		SpotPrice:  spot,
		Expiry:     expiry,
		Calls:      make(map[float64]models.Instrument),
		Puts:       make(map[float64]models.Instrument),
	}

	for i := -10; i <= 10; i++ {
		strike := base + float64(i)*strikeStep
		if strike <= 0 {
			continue
		}
		chain.Strikes = append(chain.Strikes, strike)
		chain.Calls[strike] = models.Instrument{
			Symbol:     OptionSymbol(underlying, expiry, strike, models.OptionCall),
			Underlying: underlying,
			Exchange:   models.NFO,
			Strike:     strike,
			OptionType: models.OptionCall,
			Expiry:     expiry,
			LotSize:    lotSize,
		}
		chain.Puts[strike] = models.Instrument{
			Symbol:     OptionSymbol(underlying, expiry, strike, models.OptionPut),
			Underlying: underlying,
			Exchange:   models.NFO,
			Strike:     strike,
			OptionType: models.OptionPut,
			Expiry:     expiry,
			LotSize:    lotSize,
		}
	}
	return chain
}

// PriceModel prices option contracts from the underlying spot when no traded
// quote is available, i.e. for historical replay. The model is intrinsic
// value plus a time-value approximation scaled by days to expiry. It is a
// pure function of its inputs so replays reprice identically.
type PriceModel struct{}

// Premium returns the theoretical premium for the instrument at the given
// spot and time.
func (PriceModel) Premium(inst models.Instrument, spot float64, now time.Time) float64 {
	var intrinsic float64
	switch inst.OptionType {
	case models.OptionCall:
		intrinsic = math.Max(0, spot-inst.Strike)
	case models.OptionPut:
		intrinsic = math.Max(0, inst.Strike-spot)
	default:
		return spot
	}

	days := inst.Expiry.Sub(now).Hours() / 24
	if days < 0 {
		days = 0
	}
	factor := math.Max(0.01, days/30) * 0.02
	timeValue := math.Max(10, math.Abs(spot-inst.Strike)*factor)

	return intrinsic + timeValue
}
