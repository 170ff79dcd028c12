package utils

import (
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestFormatIndianCurrency(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "₹0.00"},
		{999, "₹999.00"},
		{1000, "₹1,000.00"},
		{22013.456, "₹22,013.46"},
		{100000, "₹1,00,000.00"},
		{1234567.89, "₹12,34,567.89"},
		{10000000, "₹1,00,00,000.00"},
		{-1234.5, "-₹1,234.50"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, FormatIndianCurrency(tc.in))
	}
}

func TestFormatPercent(t *testing.T) {
	require.Equal(t, "+2.50%", FormatPercent(2.5))
	require.Equal(t, "-1.25%", FormatPercent(-1.25))
	require.Equal(t, "0.00%", FormatPercent(0))
}

func TestFormatPnL(t *testing.T) {
	require.Equal(t, "+₹1,500.00", FormatPnL(1500))
	require.Equal(t, "-₹230.00", FormatPnL(-230))
	require.Equal(t, "₹0.00", FormatPnL(0))
}

func TestFormatQuantity(t *testing.T) {
	require.Equal(t, "75", FormatQuantity(75))
	require.Equal(t, "1,800", FormatQuantity(1800))
	require.Equal(t, "1,50,000", FormatQuantity(150000))
}

func TestIndianGroupingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(1702)

	properties := gopter.NewProperties(parameters)

	properties.Property("grouping preserves the digits", prop.ForAll(
		func(qty int64) bool {
			stripped := strings.ReplaceAll(FormatQuantity(qty), ",", "")
			parsed, err := strconv.ParseInt(stripped, 10, 64)
			return err == nil && parsed == qty
		},
		gen.Int64Range(0, 1_000_000_000),
	))

	properties.Property("currency always carries two decimals", prop.ForAll(
		func(amount float64) bool {
			s := FormatIndianCurrency(amount)
			dot := strings.LastIndex(s, ".")
			return dot >= 0 && len(s)-dot-1 == 2
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("groups after the first are pairs", prop.ForAll(
		func(qty int64) bool {
			groups := strings.Split(FormatQuantity(qty), ",")
			if len(groups[len(groups)-1]) > 3 {
				return false
			}
			for _, g := range groups[:len(groups)-1] {
				if len(g) > 2 || len(g) == 0 {
					return false
				}
			}
			return true
		},
		gen.Int64Range(0, 1_000_000_000_000),
	))

	properties.TestingRun(t)
}
