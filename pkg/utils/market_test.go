package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ist(t *testing.T, day, hour, min int) time.Time {
	t.Helper()
	return time.Date(2024, 1, day, hour, min, 0, 0, IndiaLocation)
}

func TestIsMarketOpen(t *testing.T) {
	// Tuesday 2024-01-02.
	require.False(t, IsMarketOpen(ist(t, 2, 9, 14)))
	require.True(t, IsMarketOpen(ist(t, 2, 9, 15)))
	require.True(t, IsMarketOpen(ist(t, 2, 12, 0)))
	require.True(t, IsMarketOpen(ist(t, 2, 15, 29)))
	require.False(t, IsMarketOpen(ist(t, 2, 15, 30)))

	// Saturday and Sunday are closed regardless of the hour.
	require.False(t, IsMarketOpen(ist(t, 6, 12, 0)))
	require.False(t, IsMarketOpen(ist(t, 7, 12, 0)))
}

func TestNextMarketOpen(t *testing.T) {
	// Before the bell, same day.
	require.Equal(t, ist(t, 2, 9, 15), NextMarketOpen(ist(t, 2, 8, 0)))

	// After the bell, next day.
	require.Equal(t, ist(t, 3, 9, 15), NextMarketOpen(ist(t, 2, 16, 0)))

	// Friday evening rolls to Monday.
	require.Equal(t, ist(t, 8, 9, 15), NextMarketOpen(ist(t, 5, 16, 0)))
}

func TestMarketCloseOn(t *testing.T) {
	require.Equal(t, ist(t, 2, 15, 30), MarketCloseOn(ist(t, 2, 11, 45)))
}
