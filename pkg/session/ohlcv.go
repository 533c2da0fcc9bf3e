package session

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"nakula/pkg/core"
	"nakula/pkg/exchange"
	"nakula/pkg/normalize"
	"nakula/pkg/table"
)

var timeframeUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseTimeframe converts a candle interval such as "15m", "4h" or "1w" to
// its duration. Months are not fixed-length and are rejected.
func ParseTimeframe(timeframe string) (time.Duration, error) {
	if len(timeframe) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}
	unit, ok := timeframeUnits[timeframe[len(timeframe)-1]]
	if !ok {
		return 0, fmt.Errorf("invalid timeframe unit in %q", timeframe)
	}
	n, err := strconv.Atoi(timeframe[:len(timeframe)-1])
	if err != nil || n <= 0 || int64(n) > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("invalid timeframe count in %q", timeframe)
	}
	return time.Duration(n) * unit, nil
}

// Windows splits [since, until) into consecutive windows of at most limit
// candles of timeframe. A limit whose span overflows time.Duration yields a
// single window.
func Windows(since, until time.Time, timeframe time.Duration, limit int) [][2]time.Time {
	if limit <= 0 || timeframe <= 0 || !since.Before(until) {
		return nil
	}
	if int64(limit) > math.MaxInt64/int64(timeframe) {
		return [][2]time.Time{{since, until}}
	}
	step := timeframe * time.Duration(limit)
	var out [][2]time.Time
	for start := since; start.Before(until); start = start.Add(step) {
		end := start.Add(step)
		if end.After(until) {
			end = until
		}
		out = append(out, [2]time.Time{start, end})
	}
	return out
}

// FetchOHLCVRange fetches the candles of symbol between since and until,
// splitting the range into requests of at most limit candles that run
// concurrently. Rows come back in time order. Failed windows are missing
// from the table and reported in the returned error.
func (s *Session) FetchOHLCVRange(ctx context.Context, symbol, timeframe string, since, until time.Time, limit int, opts ...normalize.Option) (*table.Table, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, core.NewError(core.ErrorTypeInvalidConfig, err.Error()).
			WithCode(core.ErrCodeBadRequest).
			WithKind(core.KindOHLCV).
			WithField(exchange.ParamTimeframe)
	}
	if limit <= 0 {
		return nil, core.NewError(core.ErrorTypeInvalidConfig, "limit must be positive").
			WithCode(core.ErrCodeBadRequest).
			WithKind(core.KindOHLCV).
			WithField(exchange.ParamLimit)
	}

	windows := Windows(since, until, tf, limit)
	params := make([]core.Params, len(windows))
	for i, w := range windows {
		// Exchanges treat the end time as inclusive.
		params[i] = exchange.Params(
			exchange.WithSymbol(symbol),
			exchange.WithTimeframe(timeframe),
			exchange.WithTimeRange(w[0], w[1].Add(-time.Millisecond)),
			exchange.WithLimit(limit),
		)
	}
	s.logger.Debug().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Int("windows", len(windows)).
		Msg("fetching ohlcv range")
	return s.FetchMany(ctx, core.OpFetchOHLCV, params, opts...)
}
