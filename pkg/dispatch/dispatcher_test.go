package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

var errBoom = errors.New("boom")

func newDispatcher(t *testing.T, limit int) *Dispatcher {
	t.Helper()
	d, err := New(Config{Limit: limit})
	require.NoError(t, err)
	return d
}

func value[T any](v T) Call[T] {
	return func(context.Context) (T, error) {
		return v, nil
	}
}

func TestNew_InvalidLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		_, err := New(Config{Limit: limit})
		require.Error(t, err)
		assert.True(t, core.IsErrorCode(err, core.ErrCodeInvalidConfig))
	}

	d, err := New(ConfigFrom(core.DefaultConfig("binance")))
	require.NoError(t, err)
	assert.Equal(t, 8, d.Limit())
}

func TestRun_Single(t *testing.T) {
	d := newDispatcher(t, 1)

	res, err := Run(context.Background(), d, Single(value("ok")))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Len())
	assert.Equal(t, "ok", res.Single().Value)
	assert.True(t, res.Single().OK())
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	d := newDispatcher(t, 2)
	calls := make([]Call[int], 5)
	for i := range calls {
		calls[i] = func(context.Context) (int, error) {
			if i == 2 {
				return 0, errBoom
			}
			return i * 10, nil
		}
	}

	res, err := Run(context.Background(), d, Flat(calls...), WithReturnErrors(true))
	require.NoError(t, err)

	slots := res.Flat()
	require.Len(t, slots, 5)
	assert.Equal(t, 1, res.Failed())
	for i, s := range slots {
		if i == 2 {
			require.Error(t, s.Err)
			assert.ErrorIs(t, s.Err, errBoom)
			assert.True(t, core.IsDispatchError(s.Err))
			assert.True(t, core.IsErrorCode(s.Err, core.ErrCodeCallFailed))
			continue
		}
		assert.NoError(t, s.Err)
		assert.Equal(t, i*10, s.Value)
	}
	assert.ErrorIs(t, res.Err(), errBoom)
}

func TestRun_FailFast(t *testing.T) {
	d := newDispatcher(t, 5)
	calls := make([]Call[int], 5)
	for i := range calls {
		calls[i] = func(ctx context.Context) (int, error) {
			if i == 2 {
				return 0, errBoom
			}
			<-ctx.Done()
			return 0, ctx.Err()
		}
	}

	res, err := Run(context.Background(), d, Flat(calls...), WithReturnErrors(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, core.IsDispatchError(err))

	var e *core.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 2, e.Row)

	assert.Equal(t, 5, res.Len())
	assert.Equal(t, 5, res.Failed(), "siblings observe the cancellation")
}

func TestRun_PreservesOrder(t *testing.T) {
	d := newDispatcher(t, 10)
	calls := make([]Call[int], 10)
	for i := range calls {
		calls[i] = func(context.Context) (int, error) {
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			return i, nil
		}
	}

	res, err := Run(context.Background(), d, Flat(calls...))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, res.Values())
}

func TestRun_NestedPreservesShape(t *testing.T) {
	d := newDispatcher(t, 3)
	symbols := []string{"BTC/USDT", "ETH/USDT"}
	timeframes := []string{"1m", "1h", "1d"}

	groups := make([][]Call[string], len(symbols))
	for g, s := range symbols {
		for _, tf := range timeframes {
			groups[g] = append(groups[g], value(s+"@"+tf))
		}
	}
	groups = append(groups, []Call[string]{func(context.Context) (string, error) { return "", errBoom }})

	res, err := Run(context.Background(), d, Nested(groups...))
	require.NoError(t, err)

	nested := res.Nested()
	require.Len(t, nested, 3)
	require.Len(t, nested[0], 3)
	require.Len(t, nested[1], 3)
	require.Len(t, nested[2], 1)
	assert.Equal(t, "ETH/USDT@1h", nested[1][1].Value)
	assert.Equal(t, "BTC/USDT@1d", nested[0][2].Value)

	require.Error(t, nested[2][0].Err)
	assert.Contains(t, nested[2][0].Err.Error(), "call 2.0 failed")
}

func TestRun_NestedEmptyGroups(t *testing.T) {
	d := newDispatcher(t, 1)

	res, err := Run(context.Background(), d, Nested([]Call[int]{}, []Call[int]{value(1)}, nil))
	require.NoError(t, err)

	nested := res.Nested()
	require.Len(t, nested, 3)
	assert.Empty(t, nested[0])
	assert.Equal(t, 1, nested[1][0].Value)
	assert.Empty(t, nested[2])
}

func TestRun_BoundsConcurrency(t *testing.T) {
	d := newDispatcher(t, 2)
	calls := make([]Call[struct{}], 12)
	for i := range calls {
		calls[i] = func(context.Context) (struct{}, error) {
			time.Sleep(5 * time.Millisecond)
			return struct{}{}, nil
		}
	}

	_, err := Run(context.Background(), d, Flat(calls...))
	require.NoError(t, err)
	assert.LessOrEqual(t, d.Peak(), 2)
	assert.GreaterOrEqual(t, d.Peak(), 1)
}

func TestRun_RecoversPanics(t *testing.T) {
	d := newDispatcher(t, 2)
	calls := Flat(
		value(1),
		func(context.Context) (int, error) { panic("exchange client bug") },
	)

	res, err := Run(context.Background(), d, calls)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Flat()[0].Value)
	assert.True(t, core.IsErrorCode(res.Flat()[1].Err, core.ErrCodeCallPanicked))
	assert.Contains(t, res.Flat()[1].Err.Error(), "exchange client bug")
}

func TestRun_CancelledContext(t *testing.T) {
	d := newDispatcher(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := make([]Call[int], 3)
	for i := range calls {
		calls[i] = func(ctx context.Context) (int, error) {
			return i, ctx.Err()
		}
	}

	res, err := Run(ctx, d, Flat(calls...))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Failed())
	for _, s := range res.Flat() {
		assert.ErrorIs(t, s.Err, context.Canceled)
	}
}

func TestRun_Empty(t *testing.T) {
	d := newDispatcher(t, 1)

	res, err := Run(context.Background(), d, Flat[int]())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
	assert.NoError(t, res.Err())
}

func TestRun_Paced(t *testing.T) {
	d, err := New(Config{Limit: 4, RateLimitRequests: 100, RateLimitPeriod: time.Second})
	require.NoError(t, err)

	calls := make([]Call[string], 8)
	for i := range calls {
		calls[i] = value(fmt.Sprint(i))
	}
	res, err := Run(context.Background(), d, Flat(calls...))
	require.NoError(t, err)
	assert.Equal(t, "7", res.Flat()[7].Value)
	assert.Equal(t, int64(8), d.limiter.Stats().Acquired)
}
