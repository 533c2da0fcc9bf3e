package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
	"nakula/pkg/order"
	"nakula/pkg/table"
)

func rowsOf(t *testing.T, tbl *table.Table) []int {
	t.Helper()
	out := make([]int, tbl.Len())
	for i := range tbl.Len() {
		v, ok := tbl.Float(i, RowColumn)
		require.True(t, ok, "row %d has no %s", i, RowColumn)
		out[i] = int(v)
	}
	return out
}

func statusesOf(tbl *table.Table) []string {
	out := make([]string, tbl.Len())
	for i := range tbl.Len() {
		out[i], _ = tbl.String(i, "status")
	}
	return out
}

func TestSession_SubmitOrders_KeepsRowPositions(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(func(_ context.Context, op core.Operation, p core.Params) (any, error) {
		assert.Equal(t, core.OpCreateOrder, op)
		return map[string]any{"id": "1", "symbol": p["symbol"], "status": "open"}, nil
	})
	s := newSession(t, client)

	intents := table.FromRecords([]core.Record{
		{"symbol": "ETH/USDT", "side": "buy", "type": "limit", "price": 2500.0, "amount": 0.1},
		{"side": "buy", "type": "limit", "price": 1.0, "amount": 1.0},
		{"symbol": "BTC/USDT", "side": "sell", "type": "limit", "price": 65000.0, "amount": 0.01},
	})
	batch, err := s.PrepareOrders(ctx, intents)
	require.NoError(t, err)
	require.Error(t, batch.Err())

	acks, err := s.SubmitOrders(ctx, batch)
	require.NoError(t, err, "preprocessing failures stay with the batch")
	assert.Equal(t, int32(2), client.calls.Load())

	require.Equal(t, 3, acks.Len())
	assert.Equal(t, []string{"open", "rejected", "open"}, statusesOf(acks))
	assert.Equal(t, []int{0, 1, 2}, rowsOf(t, acks))
	msg, _ := acks.String(1, "error")
	assert.Contains(t, msg, "missing symbol")
}

func TestSession_EditOrders(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var edited []core.Params
	client := newFakeClient(func(_ context.Context, op core.Operation, p core.Params) (any, error) {
		assert.Equal(t, core.OpEditOrder, op)
		mu.Lock()
		edited = append(edited, p)
		mu.Unlock()
		if p["id"] == "down" {
			return nil, errors.New("order not found")
		}
		return map[string]any{"id": p["id"], "symbol": p["symbol"], "price": p["price"], "status": "open"}, nil
	})
	s := newSession(t, client)

	intents, err := order.Intents(
		order.NewIntentBuilder("ETH/USDT").ID("a1").Buy().Limit().Price(2500.456).Amount(0.1),
		order.NewIntentBuilder("ETH/USDT").Buy().Limit().Price(2400).Amount(0.1),
		order.NewIntentBuilder("BTC/USDT").ID("down").Sell().Limit().Price(65000).Amount(0.01),
	)
	require.NoError(t, err)
	batch, err := s.PrepareOrders(ctx, intents)
	require.NoError(t, err)

	acks, err := s.EditOrders(ctx, batch)
	require.Error(t, err)
	assert.True(t, core.IsDispatchError(err))
	assert.True(t, core.IsErrorCode(err, core.ErrCodeBadRequest), "the row without id is reported")
	assert.Len(t, edited, 2)

	require.Equal(t, 3, acks.Len())
	assert.Equal(t, []string{"open", "rejected", "rejected"}, statusesOf(acks))
	assert.Equal(t, []int{0, 1, 2}, rowsOf(t, acks))
	id, _ := acks.String(0, "id")
	assert.Equal(t, "a1", id)
	price, _ := acks.Float(0, "price")
	assert.InDelta(t, 2500.46, price, 1e-9, "edits carry rounded prices")
	msg, _ := acks.String(1, "error")
	assert.Contains(t, msg, "requires an order id")
	msg, _ = acks.String(2, "error")
	assert.Contains(t, msg, "order not found")
}

func TestSession_CancelOrders(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	seen := map[string]core.Params{}
	client := newFakeClient(func(_ context.Context, op core.Operation, p core.Params) (any, error) {
		assert.Equal(t, core.OpCancelOrder, op)
		id, _ := p["id"].(string)
		mu.Lock()
		seen[id] = p
		mu.Unlock()
		switch id {
		case "gone":
			return nil, errors.New("unknown order")
		case "quiet":
			return nil, nil
		}
		return map[string]any{"id": id, "symbol": p["symbol"], "status": "canceled"}, nil
	})
	s := newSession(t, client)

	ids := table.FromRecords([]core.Record{
		{"id": "a1", "symbol": "ETH/USDT", "params_stop": true},
		{"id": 42.0},
		{"symbol": "BTC/USDT"},
		{"id": "gone", "symbol": "BTC/USDT"},
		{"id": "quiet", "symbol": "ETH/USDT"},
	})
	acks, err := s.CancelOrders(ctx, ids)
	require.Error(t, err)
	assert.True(t, core.IsDispatchError(err))
	assert.True(t, core.IsErrorCode(err, core.ErrCodeBadRequest))

	require.Equal(t, 5, acks.Len())
	assert.Equal(t, []string{"canceled", "canceled", "rejected", "rejected", "canceled"}, statusesOf(acks))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, rowsOf(t, acks))

	require.Len(t, seen, 4)
	assert.Equal(t, map[string]any{"stop": true}, seen["a1"][order.ParamsColumn])
	assert.Equal(t, "ETH/USDT", seen["a1"]["symbol"])
	assert.NotContains(t, seen["42"], "symbol")

	id, _ := acks.String(1, "id")
	assert.Equal(t, "42", id)
	msg, _ := acks.String(3, "error")
	assert.Contains(t, msg, "unknown order")

	empty, err := s.CancelOrders(ctx, table.New())
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}
