package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

func TestNormalizeResponse_OHLCV(t *testing.T) {
	payload := []any{
		[]any{1704164645000.0, 100.0, 110.0, 90.0, 105.0, 12.5},
		[]any{1704164705000.0, "105", "106", "104", "105.5", "3"},
	}

	tbl, err := NormalizeResponse(payload, core.KindOHLCV)
	require.NoError(t, err)

	assert.Equal(t, []string{"close", "high", "low", "open", "timestamp", "volume"}, tbl.Columns())
	assert.Equal(t, 105.5, tbl.Get(1, "close"))
	assert.IsType(t, time.Time{}, tbl.Get(0, "timestamp"))
}

func TestNormalizeResponse_BinanceKlines(t *testing.T) {
	payload := [][]any{
		{1704164645000.0, "100", "110", "90", "105", "12.5", 1704164704999.0, "1300", 42.0, "6", "630", "0"},
	}

	tbl, err := NormalizeResponse(payload, core.KindOHLCV)
	require.NoError(t, err)

	assert.Equal(t, int64(42), tbl.Get(0, "number_of_trades"))
	assert.Equal(t, 1300.0, tbl.Get(0, "quote_asset_volume"))
	assert.IsType(t, time.Time{}, tbl.Get(0, "close_time"))
}

func TestNormalizeResponse_OHLCVMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload any
	}{
		{"short_candle", []any{[]any{1.0, 2.0}}},
		{"scalar_candle", []any{1.0}},
		{"not_a_list", "oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeResponse(tt.payload, core.KindOHLCV)
			require.Error(t, err)
			assert.True(t, core.IsMalformedResponse(err))
		})
	}
}

func TestNormalizeResponse_OrderBook(t *testing.T) {
	payload := map[string]any{
		"symbol":    "BTC/USDT",
		"timestamp": 1704164645000.0,
		"nonce":     123.0,
		"bids":      []any{[]any{"100.0", "1.5"}, []any{"99.5", "2"}},
		"asks":      []any{[]any{101.0, 0.5}},
	}

	tbl, err := NormalizeResponse(payload, core.KindOrderBook)
	require.NoError(t, err)

	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, "bid", tbl.Get(0, "side"))
	assert.Equal(t, 100.0, tbl.Get(0, "price"))
	assert.Equal(t, 2.0, tbl.Get(1, "qty"))
	assert.Equal(t, "ask", tbl.Get(2, "side"))
	assert.Equal(t, "BTC/USDT", tbl.Get(2, "symbol"))
	assert.Equal(t, int64(123), tbl.Get(2, "nonce"))
}

func TestNormalizeResponse_OrderBookMalformed(t *testing.T) {
	_, err := NormalizeResponse(map[string]any{"symbol": "BTC/USDT"}, core.KindOrderBook)
	assert.True(t, core.IsMalformedResponse(err))

	_, err = NormalizeResponse(map[string]any{"bids": []any{"100"}}, core.KindOrderBook)
	assert.True(t, core.IsMalformedResponse(err))
}

func TestNormalizeResponse_Balances(t *testing.T) {
	payload := map[string]any{
		"info":      map[string]any{"raw": true},
		"timestamp": 1704164645000.0,
		"free":      map[string]any{"BTC": 1.0, "USDT": 100.0},
		"used":      map[string]any{"BTC": 0.5, "USDT": 0.0},
		"total":     map[string]any{"BTC": 1.5, "USDT": 100.0},
		"BTC":       map[string]any{"free": 1.0, "used": 0.5, "total": 1.5},
	}

	tbl, err := NormalizeResponse(payload, core.KindBalances)
	require.NoError(t, err)

	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "BTC", tbl.Get(0, "currency"))
	assert.Equal(t, 1.5, tbl.Get(0, "total"))
	assert.Equal(t, "USDT", tbl.Get(1, "currency"))
	assert.Equal(t, 100.0, tbl.Get(1, "free"))
	assert.False(t, tbl.Has("debt"))
	assert.IsType(t, time.Time{}, tbl.Get(1, "timestamp"))
}

func TestNormalizeResponse_KeyedMarkets(t *testing.T) {
	payload := map[string]any{
		"ETH/USDT": map[string]any{"symbol": "ETH/USDT", "precision": map[string]any{"price": 0.01}},
		"BTC/USDT": map[string]any{"precision": map[string]any{"price": 0.1}},
	}

	tbl, err := NormalizeResponse(payload, core.KindMarkets)
	require.NoError(t, err)

	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "BTC/USDT", tbl.Get(0, "symbol"), "key used when the value has no symbol")
	assert.Equal(t, 0.1, tbl.Get(0, "precision_price"))
	assert.Equal(t, "ETH/USDT", tbl.Get(1, "symbol"))
}

func TestNormalizeResponse_SingleTicker(t *testing.T) {
	payload := map[string]any{"symbol": "BTC/USDT", "last": "65000", "info": map[string]any{}}

	tbl, err := NormalizeResponse(payload, core.KindTickers)
	require.NoError(t, err)

	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, 65000.0, tbl.Get(0, "last"))
}

func TestNormalizeResponse_List(t *testing.T) {
	payload := []any{
		map[string]any{"id": "1", "amount": "2"},
		map[string]any{"id": "2", "amount": 3.0},
	}

	tbl, err := NormalizeResponse(payload, core.KindTrades)
	require.NoError(t, err)
	amount, ok := tbl.Column("amount")
	require.True(t, ok)
	assert.Equal(t, []any{2.0, 3.0}, amount.Values)

	_, err = NormalizeResponse([]any{map[string]any{}, 5.0}, core.KindTrades)
	require.Error(t, err)
	var e *core.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 1, e.Row)
}

func TestNormalizeResponse_Nil(t *testing.T) {
	tbl, err := NormalizeResponse(nil, core.KindOrders)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Width())
}

func TestNormalizeJSON(t *testing.T) {
	body := []byte(`[{"symbol":"BTCUSDT","fundingRate":"0.0001","fundingTime":1704164645000}]`)

	tbl, err := NormalizeJSON(body, core.KindFundingRates)
	require.NoError(t, err)
	assert.Equal(t, 0.0001, tbl.Get(0, "funding_rate"))
	assert.IsType(t, time.Time{}, tbl.Get(0, "funding_time"))

	_, err = NormalizeJSON([]byte(`{not json`), core.KindFundingRates)
	assert.True(t, core.IsMalformedResponse(err))
}
