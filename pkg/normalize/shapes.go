package normalize

import (
	"fmt"
	"slices"

	"github.com/bytedance/sonic"

	"nakula/pkg/core"
	"nakula/pkg/table"
)

// OHLCVColumns names the positions of a candle array. Arrays longer than six
// elements (Binance klines) use the extended names.
var OHLCVColumns = []string{
	"timestamp", "open", "high", "low", "close", "volume",
	"close_time", "quote_asset_volume", "number_of_trades",
	"taker_buy_base_asset_volume", "taker_buy_quote_asset_volume", "ignore",
}

var (
	balanceParts  = []string{"free", "used", "total", "debt"}
	balanceMeta   = []string{"timestamp", "datetime"}
	orderBookMeta = []string{"symbol", "timestamp", "datetime", "nonce"}
)

// Decode parses a JSON response body into generic values.
func Decode(data []byte) (any, error) {
	var v any
	if err := sonic.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return v, nil
}

// NormalizeJSON decodes a JSON body and normalizes it as kind.
func NormalizeJSON(data []byte, kind core.Kind, opts ...Option) (*table.Table, error) {
	payload, err := Decode(data)
	if err != nil {
		return nil, core.NewError(core.ErrorTypeMalformedResponse, "invalid json").
			WithCode(core.ErrCodeMalformedResponse).
			WithKind(kind).
			Wrap(err)
	}
	return NormalizeResponse(payload, kind, opts...)
}

// NormalizeResponse reshapes a whole exchange response into records and
// normalizes them. See Records for the accepted shapes.
func NormalizeResponse(payload any, kind core.Kind, opts ...Option) (*table.Table, error) {
	records, err := Records(payload, kind)
	if err != nil {
		return nil, err
	}
	return Normalize(records, kind, opts...)
}

// Records flattens a response into one record per row:
//   - ohlcv: arrays of [timestamp, open, high, low, close, volume, ...]
//   - order_book: {bids, asks, symbol, ...} into side/price/qty rows
//   - balances: {total, free, used, debt} keyed by currency, one row per currency
//   - markets, tickers, funding_rates, currencies: maps keyed by symbol
//   - anything else: a list of records or a single record
//
// A nil payload yields no records. Shapes that do not fit the kind fail with
// a malformed response error.
func Records(payload any, kind core.Kind) ([]core.Record, error) {
	if payload == nil {
		return nil, nil
	}
	switch kind {
	case core.KindOHLCV:
		return ohlcvRecords(payload, kind)
	case core.KindOrderBook:
		return orderBookRecords(payload, kind)
	case core.KindBalances:
		if doc, ok := payload.(map[string]any); ok {
			return balanceRecords(doc, kind)
		}
	case core.KindMarkets, core.KindTickers, core.KindFundingRates, core.KindCurrencies:
		if doc, ok := payload.(map[string]any); ok && keyedBySymbol(doc) {
			return keyedRecords(doc), nil
		}
	}
	return listRecords(payload, kind)
}

func malformed(kind core.Kind, format string, args ...any) *core.Error {
	return core.NewError(core.ErrorTypeMalformedResponse, fmt.Sprintf(format, args...)).
		WithCode(core.ErrCodeMalformedResponse).
		WithKind(kind)
}

func listRecords(payload any, kind core.Kind) ([]core.Record, error) {
	switch v := payload.(type) {
	case map[string]any:
		return []core.Record{v}, nil
	case []core.Record:
		return v, nil
	case []any:
		out := make([]core.Record, len(v))
		for i, item := range v {
			rec, ok := item.(map[string]any)
			if !ok {
				return nil, malformed(kind, "element is %T, want object", item).WithRow(i)
			}
			out[i] = rec
		}
		return out, nil
	}
	return nil, malformed(kind, "response is %T, want object or list of objects", payload)
}

func keyedBySymbol(doc map[string]any) bool {
	if len(doc) == 0 {
		return false
	}
	for _, v := range doc {
		if _, ok := v.(map[string]any); !ok {
			return false
		}
	}
	return true
}

// keyedRecords returns the values of a symbol-keyed map in key order. The
// key is kept as "symbol" when the value does not carry one.
func keyedRecords(doc map[string]any) []core.Record {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]core.Record, 0, len(keys))
	for _, k := range keys {
		rec := doc[k].(map[string]any)
		if _, ok := rec["symbol"]; !ok {
			cp := make(core.Record, len(rec)+1)
			for ck, cv := range rec {
				cp[ck] = cv
			}
			cp["symbol"] = k
			rec = cp
		}
		out = append(out, rec)
	}
	return out
}

func ohlcvRecords(payload any, kind core.Kind) ([]core.Record, error) {
	var rows []any
	switch v := payload.(type) {
	case []any:
		rows = v
	case [][]any:
		rows = make([]any, len(v))
		for i := range v {
			rows[i] = v[i]
		}
	case [][]float64:
		rows = make([]any, len(v))
		for i, candle := range v {
			arr := make([]any, len(candle))
			for j, f := range candle {
				arr[j] = f
			}
			rows[i] = arr
		}
	case []core.Record:
		return v, nil
	default:
		return nil, malformed(kind, "response is %T, want list of candles", payload)
	}

	out := make([]core.Record, len(rows))
	for i, row := range rows {
		switch candle := row.(type) {
		case map[string]any:
			out[i] = candle
		case []any:
			if len(candle) < 6 || len(candle) > len(OHLCVColumns) {
				return nil, malformed(kind, "candle has %d fields, want 6 to %d", len(candle), len(OHLCVColumns)).WithRow(i)
			}
			rec := make(core.Record, len(candle))
			for j, v := range candle {
				rec[OHLCVColumns[j]] = v
			}
			out[i] = rec
		default:
			return nil, malformed(kind, "candle is %T, want array", row).WithRow(i)
		}
	}
	return out, nil
}

func orderBookRecords(payload any, kind core.Kind) ([]core.Record, error) {
	switch v := payload.(type) {
	case map[string]any:
		return bookRows(v, kind)
	case []any:
		var out []core.Record
		for i, item := range v {
			book, ok := item.(map[string]any)
			if !ok {
				return nil, malformed(kind, "book is %T, want object", item).WithRow(i)
			}
			rows, err := bookRows(book, kind)
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
		return out, nil
	}
	return nil, malformed(kind, "response is %T, want order book object", payload)
}

func bookRows(book map[string]any, kind core.Kind) ([]core.Record, error) {
	_, hasBids := book["bids"]
	_, hasAsks := book["asks"]
	if !hasBids && !hasAsks {
		return nil, malformed(kind, "order book has neither bids nor asks")
	}

	var out []core.Record
	for _, side := range []struct{ key, name string }{{"bids", "bid"}, {"asks", "ask"}} {
		raw := book[side.key]
		if raw == nil {
			continue
		}
		levels, ok := raw.([]any)
		if !ok {
			return nil, malformed(kind, "%s is %T, want list of levels", side.key, raw).WithField(side.key)
		}
		for i, lvl := range levels {
			pair, ok := lvl.([]any)
			if !ok || len(pair) < 2 {
				return nil, malformed(kind, "%s level is not a [price, qty] pair", side.key).WithField(side.key).WithRow(i)
			}
			rec := core.Record{"side": side.name, "price": pair[0], "qty": pair[1]}
			for _, m := range orderBookMeta {
				if v, ok := book[m]; ok {
					rec[m] = v
				}
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// balanceRecords pivots a balance document into one row per currency. When
// the document has no total/free/used/debt maps it is treated as a list or a
// single record.
func balanceRecords(doc map[string]any, kind core.Kind) ([]core.Record, error) {
	currencies := make(map[string]bool)
	found := false
	for _, part := range balanceParts {
		raw, ok := doc[part]
		if !ok || raw == nil {
			continue
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, malformed(kind, "balance %q is %T, want object keyed by currency", part, raw).WithField(part)
		}
		found = true
		for c := range m {
			currencies[c] = true
		}
	}
	if !found {
		return listRecords(doc, kind)
	}

	codes := make([]string, 0, len(currencies))
	for c := range currencies {
		codes = append(codes, c)
	}
	slices.Sort(codes)

	out := make([]core.Record, 0, len(codes))
	for _, code := range codes {
		rec := core.Record{"currency": code}
		for _, part := range balanceParts {
			if m, ok := doc[part].(map[string]any); ok {
				if v, ok := m[code]; ok {
					rec[part] = v
				}
			}
		}
		for _, meta := range balanceMeta {
			if v, ok := doc[meta]; ok {
				rec[meta] = v
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
