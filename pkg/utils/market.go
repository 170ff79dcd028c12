package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// IsMarketOpen reports whether the NSE regular session is in progress.
func IsMarketOpen(now time.Time) bool {
	local := now.In(IndiaLocation)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= 9*60+15 && minutes < 15*60+30
}

// NextMarketOpen returns the next 09:15 IST on a weekday.
func NextMarketOpen(now time.Time) time.Time {
	local := now.In(IndiaLocation)
	next := time.Date(local.Year(), local.Month(), local.Day(), 9, 15, 0, 0, IndiaLocation)
	if local.After(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// MarketCloseOn returns 15:30 IST on the given date.
func MarketCloseOn(date time.Time) time.Time {
	local := date.In(IndiaLocation)
	return time.Date(local.Year(), local.Month(), local.Day(), 15, 30, 0, 0, IndiaLocation)
}
