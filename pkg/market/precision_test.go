package market

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

func TestRoundToPlaces(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		places   int32
		rounding apd.Rounder
		want     float64
	}{
		{"truncate", 1.2345, 2, apd.RoundDown, 1.23},
		{"half_up_below", 1.2345, 2, apd.RoundHalfUp, 1.23},
		{"half_up_tie", 1.235, 2, apd.RoundHalfUp, 1.24},
		{"half_even_tie", 1.245, 2, apd.RoundHalfEven, 1.24},
		{"zero_places", 655.5, 0, apd.RoundHalfUp, 656},
		{"already_exact", 0.5, 3, apd.RoundDown, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RoundToPlaces(tt.value, tt.places, tt.rounding)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoundToPlaces_Idempotent(t *testing.T) {
	once, err := RoundToPlaces(1.2345, 2, apd.RoundDown)
	require.NoError(t, err)
	twice, err := RoundToPlaces(once, 2, apd.RoundDown)
	require.NoError(t, err)

	assert.Equal(t, 1.23, once)
	assert.Equal(t, once, twice)
}

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		tick     float64
		rounding apd.Rounder
		want     float64
	}{
		{"down", 0.0137, 0.005, apd.RoundDown, 0.01},
		{"half_up", 0.0137, 0.005, apd.RoundHalfUp, 0.015},
		{"cent", 65000.127, 0.01, apd.RoundHalfUp, 65000.13},
		{"whole", 17.0, 5, apd.RoundDown, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RoundToTick(tt.value, tt.tick, tt.rounding)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := RoundToTick(1, 0, apd.RoundDown)
	assert.Error(t, err)
}

func TestDecimalPrecision_DecimalPlaces(t *testing.T) {
	p := NewDecimalPrecision(testMarkets(), DecimalPlaces)

	price, err := p.PriceToPrecision("BTC/USDT", 65000.125)
	require.NoError(t, err)
	assert.Equal(t, 65000.13, price)

	amount, err := p.AmountToPrecision("BTC/USDT", 0.0152572589)
	require.NoError(t, err)
	assert.Equal(t, 0.01525, amount)

	// no amount precision declared
	amount, err = p.AmountToPrecision("ETH/USDT", 0.123456789)
	require.NoError(t, err)
	assert.Equal(t, 0.123456789, amount)
}

func TestDecimalPrecision_TickSize(t *testing.T) {
	p := NewDecimalPrecision(testMarkets(), TickSize, WithAmountRounding(apd.RoundHalfUp))

	price, err := p.PriceToPrecision("SOL/USDT", 142.12345)
	require.NoError(t, err)
	assert.Equal(t, 142.123, price)

	amount, err := p.AmountToPrecision("SOL/USDT", 1.238)
	require.NoError(t, err)
	assert.Equal(t, 1.24, amount)
}

func TestDecimalPrecision_Errors(t *testing.T) {
	p := NewDecimalPrecision(testMarkets(), DecimalPlaces)

	_, err := p.PriceToPrecision("DOGE/USDT", 1)
	assert.True(t, core.IsUnknownSymbol(err))

	// 0.001 is a tick size, not a number of places
	_, err = p.PriceToPrecision("SOL/USDT", 1)
	require.Error(t, err)
	assert.True(t, core.IsErrorCode(err, core.ErrCodePrecision))
}

func TestPrecisionFuncs(t *testing.T) {
	var identity PrecisionFuncs
	v, err := identity.PriceToPrecision("X", 1.23456)
	require.NoError(t, err)
	assert.Equal(t, 1.23456, v)

	half := PrecisionFuncs{Amount: func(_ string, a float64) (float64, error) { return a / 2, nil }}
	v, err = half.AmountToPrecision("X", 3)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
}
