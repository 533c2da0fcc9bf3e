package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
	"nakula/pkg/exchange"
	"nakula/pkg/market"
	"nakula/pkg/order"
)

type fakeClient struct {
	market.Precision
	markets market.Markets
	fetch   func(ctx context.Context, op core.Operation, p core.Params) (any, error)
	loads   atomic.Int32
	calls   atomic.Int32
	closed  atomic.Bool
}

func newFakeClient(fetch func(ctx context.Context, op core.Operation, p core.Params) (any, error)) *fakeClient {
	markets := market.Markets{
		"ETH/USDT": {
			"precision": map[string]any{"price": 2.0, "amount": 4.0},
			"limits": map[string]any{
				"amount": map[string]any{"min": 0.001},
				"cost":   map[string]any{"min": 5.0},
			},
		},
		"BTC/USDT": {
			"precision": map[string]any{"price": 2.0, "amount": 5.0},
		},
	}
	return &fakeClient{
		Precision: market.NewDecimalPrecision(markets, market.DecimalPlaces),
		markets:   markets,
		fetch:     fetch,
	}
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Fetch(ctx context.Context, op core.Operation, p core.Params) (any, error) {
	f.calls.Add(1)
	if f.fetch == nil {
		return nil, exchange.Unsupported("fake", op)
	}
	return f.fetch(ctx, op, p)
}

func (f *fakeClient) LoadMarkets(context.Context) (market.Markets, error) {
	f.loads.Add(1)
	return f.markets, nil
}

func (f *fakeClient) Close() error {
	f.closed.Store(true)
	return nil
}

func newSession(t *testing.T, client exchange.Client, opts ...Option) *Session {
	t.Helper()
	s, err := New(core.DefaultConfig("fake"), client, opts...)
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	client := newFakeClient(nil)

	tests := []struct {
		name   string
		config *core.Config
		client exchange.Client
	}{
		{"nil config", nil, client},
		{"nil client", core.DefaultConfig("fake"), nil},
		{"invalid config", &core.Config{Timeout: 10 * time.Second}, client},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.config, tt.client)
			assert.Error(t, err)
			assert.Nil(t, s)
		})
	}

	mock := clock.NewMock()
	s := newSession(t, client, WithClock(mock))
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, mock.Now(), s.CreatedAt())
	assert.Equal(t, 8, s.Dispatcher().Limit())
	assert.Same(t, client, s.Client())
}

func TestSession_Fetch(t *testing.T) {
	client := newFakeClient(func(_ context.Context, op core.Operation, p core.Params) (any, error) {
		assert.Equal(t, core.OpFetchTicker, op)
		return map[string]any{"symbol": p[exchange.ParamSymbol], "last": "2500.5", "fundingRate": nil}, nil
	})
	s := newSession(t, client)

	tbl, err := s.Fetch(context.Background(), core.OpFetchTicker, exchange.Params(exchange.WithSymbol("ETH/USDT")))
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())

	last, ok := tbl.Float(0, "last")
	require.True(t, ok)
	assert.Equal(t, 2500.5, last)
	assert.False(t, tbl.Has("funding_rate"), "all-missing columns are dropped by default")
}

func TestSession_FetchMany_PartialFailure(t *testing.T) {
	boom := errors.New("boom")
	client := newFakeClient(func(_ context.Context, _ core.Operation, p core.Params) (any, error) {
		symbol := p[exchange.ParamSymbol].(string)
		if symbol == "B/USDT" {
			return nil, boom
		}
		return map[string]any{"symbol": symbol, "last": 1.0}, nil
	})
	s := newSession(t, client)

	params := []core.Params{
		exchange.Params(exchange.WithSymbol("A/USDT")),
		exchange.Params(exchange.WithSymbol("B/USDT")),
		exchange.Params(exchange.WithSymbol("C/USDT")),
	}
	tbl, err := s.FetchMany(context.Background(), core.OpFetchTicker, params)
	require.Error(t, err)
	assert.True(t, core.IsDispatchError(err))
	assert.ErrorIs(t, err, boom)

	require.NotNil(t, tbl)
	require.Equal(t, 2, tbl.Len())
	first, _ := tbl.String(0, "symbol")
	second, _ := tbl.String(1, "symbol")
	assert.Equal(t, "A/USDT", first)
	assert.Equal(t, "C/USDT", second)
}

func TestSession_FetchGrid(t *testing.T) {
	client := newFakeClient(func(_ context.Context, _ core.Operation, p core.Params) (any, error) {
		if p[exchange.ParamTimeframe] == "bad" {
			return nil, errors.New("unsupported timeframe")
		}
		return []any{[]any{1700000000000.0, 1.0, 2.0, 0.5, 1.5, 10.0}}, nil
	})
	s := newSession(t, client)

	grid := [][]core.Params{
		{
			exchange.Params(exchange.WithSymbol("ETH/USDT"), exchange.WithTimeframe("1m")),
			exchange.Params(exchange.WithSymbol("ETH/USDT"), exchange.WithTimeframe("1h")),
		},
		{
			exchange.Params(exchange.WithSymbol("BTC/USDT"), exchange.WithTimeframe("bad")),
		},
	}
	out, err := s.FetchGrid(context.Background(), core.OpFetchOHLCV, grid)
	require.Error(t, err)
	require.Len(t, out, 2)
	require.Len(t, out[0], 2)
	require.Len(t, out[1], 1)

	assert.Equal(t, 1, out[0][0].Len())
	assert.Equal(t, 1, out[0][1].Len())
	assert.Nil(t, out[1][0])
	assert.Contains(t, err.Error(), "call 1.0 failed")
}

func TestSession_MarketsCached(t *testing.T) {
	mock := clock.NewMock()
	client := newFakeClient(nil)
	s := newSession(t, client, WithClock(mock))
	ctx := context.Background()

	_, ok := s.MarketsAge()
	assert.False(t, ok)

	m, err := s.Markets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	_, err = s.Markets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), client.loads.Load())

	mock.Add(time.Hour)
	age, ok := s.MarketsAge()
	require.True(t, ok)
	assert.Equal(t, time.Hour, age)

	_, err = s.RefreshMarkets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), client.loads.Load())
	age, _ = s.MarketsAge()
	assert.Zero(t, age)
}

func TestSession_SharedCache(t *testing.T) {
	cache := market.NewCache()
	client := newFakeClient(nil)
	a := newSession(t, client, WithMarketCache(cache))
	b := newSession(t, client, WithMarketCache(cache))

	_, err := a.Markets(context.Background())
	require.NoError(t, err)
	_, err = b.Markets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), client.loads.Load())
}

type adoptingClient struct {
	*fakeClient
	adopted atomic.Int32
}

func (c *adoptingClient) UseMarkets(market.Markets) {
	c.adopted.Add(1)
}

func TestSession_SharedCacheAdoptsMarkets(t *testing.T) {
	ctx := context.Background()
	cache := market.NewCache()
	loader := &adoptingClient{fakeClient: newFakeClient(nil)}
	borrower := &adoptingClient{fakeClient: newFakeClient(nil)}
	a := newSession(t, loader, WithMarketCache(cache))
	b := newSession(t, borrower, WithMarketCache(cache))

	_, err := a.Markets(ctx)
	require.NoError(t, err)
	_, err = a.Markets(ctx)
	require.NoError(t, err)
	assert.Zero(t, loader.adopted.Load(), "a client is not handed markets it loaded")

	_, err = b.Markets(ctx)
	require.NoError(t, err)
	_, err = b.Constraints(ctx, "ETH/USDT")
	require.NoError(t, err)
	assert.Equal(t, int32(1), borrower.adopted.Load())
	assert.Zero(t, borrower.loads.Load())

	_, err = a.RefreshMarkets(ctx)
	require.NoError(t, err)
	_, err = b.Markets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), borrower.adopted.Load(), "a refreshed entry is handed over again")
}

func TestSession_Constraints(t *testing.T) {
	s := newSession(t, newFakeClient(nil))

	c, err := s.Constraints(context.Background(), "ETH/USDT")
	require.NoError(t, err)
	assert.Equal(t, 5.0, c.MinCost)
	assert.Equal(t, 0.001, c.MinAmount)
	assert.False(t, market.IsBounded(c.MaxAmount))

	_, err = s.Constraints(context.Background(), "DOGE/USDT")
	assert.True(t, core.IsUnknownSymbol(err))
}

func TestSession_PrepareOrders_FetchesReferencePrice(t *testing.T) {
	var tickers atomic.Int32
	client := newFakeClient(func(_ context.Context, op core.Operation, p core.Params) (any, error) {
		assert.Equal(t, core.OpFetchTicker, op)
		tickers.Add(1)
		return map[string]any{"symbol": p[exchange.ParamSymbol], "last": 2500.0}, nil
	})
	s := newSession(t, client)

	intents, err := order.Intents(
		order.NewIntentBuilder("ETH/USDT").Buy().Market().Notional(50),
		order.NewIntentBuilder("ETH/USDT").Sell().Market().Notional(25),
		order.NewIntentBuilder("BTC/USDT").Buy().Limit().Price(65000.123).Amount(0.001),
	)
	require.NoError(t, err)

	batch, err := s.PrepareOrders(context.Background(), intents)
	require.NoError(t, err)
	require.Equal(t, 3, batch.Len())
	assert.Equal(t, int32(1), tickers.Load(), "one ticker per symbol")

	assert.InDelta(t, 0.02, batch.Payloads[0].Amount, 1e-12)
	assert.InDelta(t, 0.01, batch.Payloads[1].Amount, 1e-12)
	assert.InDelta(t, 65000.12, batch.Payloads[2].Price, 1e-9)
	assert.Empty(t, batch.Warnings)
}

func TestSession_PrepareOrders_TickerUnavailable(t *testing.T) {
	client := newFakeClient(func(context.Context, core.Operation, core.Params) (any, error) {
		return nil, errors.New("ticker down")
	})
	s := newSession(t, client)

	intents, err := order.Intents(order.NewIntentBuilder("ETH/USDT").Buy().Market().Notional(50))
	require.NoError(t, err)

	batch, err := s.PrepareOrders(context.Background(), intents)
	require.NoError(t, err)
	require.Len(t, batch.Warnings, 1)
	assert.Equal(t, core.ErrCodeMissingReferencePrice, batch.Warnings[0].Code)
	assert.False(t, batch.Payloads[0].HasAmount())

	batch, err = s.PrepareOrders(context.Background(), intents, order.WithReferencePrices(map[string]float64{"ETH/USDT": 2000}))
	require.NoError(t, err)
	assert.InDelta(t, 0.025, batch.Payloads[0].Amount, 1e-12)
}

func TestSession_SubmitOrders(t *testing.T) {
	client := newFakeClient(func(_ context.Context, op core.Operation, p core.Params) (any, error) {
		assert.Equal(t, core.OpCreateOrder, op)
		if p["symbol"] == "BTC/USDT" {
			return nil, core.NewError(core.ErrorTypeExchange, "insufficient balance")
		}
		return map[string]any{
			"id":     "42",
			"symbol": p["symbol"],
			"side":   p["side"],
			"type":   p["type"],
			"amount": p["amount"],
			"price":  p["price"],
			"status": "open",
		}, nil
	})
	s := newSession(t, client)

	intents, err := order.Intents(
		order.NewIntentBuilder("ETH/USDT").Buy().Limit().Price(2500).Amount(0.1),
		order.NewIntentBuilder("BTC/USDT").Sell().Limit().Price(65000).Amount(0.01),
	)
	require.NoError(t, err)
	batch, err := s.PrepareOrders(context.Background(), intents)
	require.NoError(t, err)

	acks, err := s.SubmitOrders(context.Background(), batch)
	require.Error(t, err)
	assert.True(t, core.IsDispatchError(err))

	require.Equal(t, 2, acks.Len())
	status, _ := acks.String(0, "status")
	assert.Equal(t, "open", status)
	status, _ = acks.String(1, "status")
	assert.Equal(t, "rejected", status)
	msg, _ := acks.String(1, "error")
	assert.Contains(t, msg, "insufficient balance")

	empty, err := s.SubmitOrders(context.Background(), &order.Batch{})
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestSession_Close(t *testing.T) {
	client := newFakeClient(nil)
	s := newSession(t, client)
	_, err := s.Markets(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, client.closed.Load())
	require.NoError(t, s.Close())

	_, err = s.Fetch(context.Background(), core.OpFetchTicker, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Markets(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, ok := s.MarketsAge()
	assert.False(t, ok)
}

func TestSession_LastUsed(t *testing.T) {
	mock := clock.NewMock()
	s := newSession(t, newFakeClient(nil), WithClock(mock))

	mock.Add(time.Minute)
	_, err := s.Markets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.CreatedAt().Add(time.Minute), s.LastUsed())
}
