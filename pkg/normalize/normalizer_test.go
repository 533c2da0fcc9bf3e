package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
	"nakula/pkg/table"
	"nakula/pkg/taxonomy"
)

func TestSnakeCase(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"fundingRate", "funding_rate"},
		{"bid_price", "bid_price"},
		{"quoteAssetVolume", "quote_asset_volume"},
		{"orderID", "order_id"},
		{"HTTPServer", "http_server"},
		{"limits.amount", "limits_amount"},
		{"post-only", "post_only"},
		{"price24h", "price_24_h"},
		{"24hVolume", "24_h_volume"},
		{"bid1Price", "bid_1_price"},
		{"Symbol", "symbol"},
		{"already_Snake", "already_snake"},
		{"clientOrderId", "client_order_id"},
		{"JSONData", "json_data"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := SnakeCase(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, SnakeCase(got), "idempotent")
		})
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	for _, kind := range core.Kinds() {
		t.Run(kind.String(), func(t *testing.T) {
			tbl, err := Normalize(nil, kind)
			require.NoError(t, err)
			assert.Equal(t, 0, tbl.Len())
			assert.Equal(t, 0, tbl.Width())

			tbl, err = Normalize([]core.Record{}, kind, WithDropEmpty(false))
			require.NoError(t, err)
			assert.Equal(t, 0, tbl.Width())
		})
	}
}

func TestNormalize_CoercesByClass(t *testing.T) {
	records := []core.Record{
		{
			"id":                 "1",
			"symbol":             "BTC/USDT",
			"price":              "655.41",
			"amount":             0.5,
			"postOnly":           "true",
			"timestamp":          float64(1704164645000),
			"lastTradeTimestamp": nil,
			"filled":             "n/a",
		},
	}

	tbl, err := Normalize(records, core.KindOrders, WithDropEmpty(false))
	require.NoError(t, err)

	price, ok := tbl.Column("price")
	require.True(t, ok)
	assert.Equal(t, table.TypeFloat, price.Type)
	assert.Equal(t, 655.41, price.Values[0])

	assert.Equal(t, true, tbl.Get(0, "post_only"))
	ts, ok := tbl.Get(0, "timestamp").(time.Time)
	require.True(t, ok)
	assert.True(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Equal(ts))

	lastTrade, ok := tbl.Column("last_trade_timestamp")
	require.True(t, ok)
	assert.Equal(t, table.TypeTimestamp, lastTrade.Type)
	assert.Nil(t, lastTrade.Values[0], "missing timestamps stay null")

	assert.Nil(t, tbl.Get(0, "filled"), "unparseable numbers become missing")

	symbol, _ := tbl.Column("symbol")
	assert.Equal(t, table.TypeString, symbol.Type)
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	rec := core.Record{"bidPrice": "1.5", "info": map[string]any{"raw": 1}}
	_, err := Normalize([]core.Record{rec}, core.KindTickers)
	require.NoError(t, err)

	assert.Equal(t, core.Record{"bidPrice": "1.5", "info": map[string]any{"raw": 1}}, rec)
}

func TestNormalize_SchemaConflict(t *testing.T) {
	records := []core.Record{
		{"bidPrice": 1.0},
		{"bid_price": 2.0},
	}

	_, err := Normalize(records, core.KindTickers)
	require.Error(t, err)
	assert.True(t, core.IsSchemaConflict(err))
	assert.True(t, core.IsFatal(err))

	var e *core.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "bid_price", e.Field)
	assert.ElementsMatch(t, []string{"bidPrice", "bid_price"}, e.Sources)
	assert.Equal(t, core.KindTickers, e.Kind)
	assert.Contains(t, err.Error(), "bidPrice")
	assert.Contains(t, err.Error(), "bid_price")
}

func TestNormalize_FlattenConflict(t *testing.T) {
	records := []core.Record{
		{"fee": map[string]any{"cost": 1.0}, "feeCost": 2.0},
	}

	_, err := Normalize(records, core.KindOrders)
	require.Error(t, err)
	assert.True(t, core.IsSchemaConflict(err))

	var e *core.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "fee_cost", e.Field)
	assert.ElementsMatch(t, []string{"feeCost", "fee.cost"}, e.Sources)
}

func TestNormalize_FlattensNested(t *testing.T) {
	records := []core.Record{
		{
			"id":   "1",
			"fee":  map[string]any{"cost": "0.1", "currency": "USDT"},
			"fees": []any{map[string]any{"cost": 0.1}},
			"info": map[string]any{"orderId": 1},
		},
		{"id": "2", "fee": nil},
	}

	tbl, err := Normalize(records, core.KindOrders)
	require.NoError(t, err)

	assert.Equal(t, []string{"fee_cost", "fee_currency", "id"}, tbl.Columns())
	assert.Equal(t, 0.1, tbl.Get(0, "fee_cost"))
	assert.Equal(t, "USDT", tbl.Get(0, "fee_currency"))
	assert.Nil(t, tbl.Get(1, "fee_cost"))
	assert.False(t, tbl.Has("info"))
	assert.False(t, tbl.Has("fees"))
}

func TestNormalize_FlattensMarketsMultiLevel(t *testing.T) {
	records := []core.Record{
		{
			"symbol":    "BTC/USDT",
			"precision": map[string]any{"price": 0.01, "amount": 0.00001},
			"limits": map[string]any{
				"amount": map[string]any{"min": 0.0001, "max": 9000.0},
				"cost":   map[string]any{"min": 5.0, "max": nil},
			},
			"active": true,
		},
	}

	tbl, err := Normalize(records, core.KindMarkets)
	require.NoError(t, err)

	assert.Equal(t, 0.01, tbl.Get(0, "precision_price"))
	assert.Equal(t, 0.0001, tbl.Get(0, "limits_amount_min"))
	assert.Equal(t, 9000.0, tbl.Get(0, "limits_amount_max"))
	assert.Equal(t, 5.0, tbl.Get(0, "limits_cost_min"))
	assert.False(t, tbl.Has("limits_cost_max"), "all-missing columns pruned")
	assert.False(t, tbl.Has("limits"))
	assert.Equal(t, true, tbl.Get(0, "active"))
}

func TestNormalize_UnknownFieldsPassThrough(t *testing.T) {
	records := []core.Record{
		{"clientOrderId": "abc", "extra": []any{1.0, 2.0}, "flag": true},
		{"clientOrderId": "def", "extra": "x"},
	}

	tbl, err := Normalize(records, core.KindOrders)
	require.NoError(t, err)

	coid, _ := tbl.Column("client_order_id")
	assert.Equal(t, table.TypeString, coid.Type)
	assert.Equal(t, []any{"abc", "def"}, coid.Values)

	extra, _ := tbl.Column("extra")
	assert.Equal(t, table.TypeAny, extra.Type)
	assert.Equal(t, []any{[]any{1.0, 2.0}, "x"}, extra.Values)

	flag, _ := tbl.Column("flag")
	assert.Equal(t, table.TypeBool, flag.Type)
}

func TestNormalize_UnregisteredMapColumnsExpand(t *testing.T) {
	records := []core.Record{
		{"extra": map[string]any{"a": 1.0}},
		{"extra": map[string]any{"b": "x"}},
	}

	tbl, err := Normalize(records, core.KindGeneric)
	require.NoError(t, err)
	assert.Equal(t, []string{"extra_a", "extra_b"}, tbl.Columns())
}

func TestNormalize_DropEmpty(t *testing.T) {
	records := []core.Record{
		{"symbol": "BTC/USDT:USDT", "fundingRate": nil, "markPrice": "65000"},
		{"symbol": "ETH/USDT:USDT", "fundingRate": nil, "markPrice": "3400"},
	}

	dropped, err := Normalize(records, core.KindFundingRates, WithDropEmpty(true))
	require.NoError(t, err)
	assert.False(t, dropped.Has("funding_rate"))
	assert.Equal(t, 2, dropped.Len())

	kept, err := Normalize(records, core.KindFundingRates, WithDropEmpty(false))
	require.NoError(t, err)
	col, ok := kept.Column("funding_rate")
	require.True(t, ok)
	assert.Equal(t, table.TypeFloat, col.Type)
	assert.Equal(t, []any{nil, nil}, col.Values)
}

func TestNormalize_DropEmptyRunsAfterCoercion(t *testing.T) {
	records := []core.Record{
		{"symbol": "BTC/USDT", "fundingRate": "n/a"},
		{"symbol": "ETH/USDT", "fundingRate": ""},
	}

	tbl, err := Normalize(records, core.KindFundingRates)
	require.NoError(t, err)
	assert.False(t, tbl.Has("funding_rate"))
}

func TestNormalize_Retain(t *testing.T) {
	records := []core.Record{{"symbol": "BTC/USDT", "fundingRate": nil}}

	tbl, err := Normalize(records, core.KindFundingRates, WithRetain("fundingRate"))
	require.NoError(t, err)
	assert.True(t, tbl.Has("funding_rate"))
}

func TestNormalize_AllColumnsPrunedKeepsRows(t *testing.T) {
	tbl, err := Normalize([]core.Record{{"a": nil}, {"a": nil}}, core.KindGeneric)
	require.NoError(t, err)

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, 0, tbl.Width())
}

func TestNormalize_Idempotent(t *testing.T) {
	records := []core.Record{
		{
			"symbol":    "BTC/USDT",
			"price":     "100.5",
			"timestamp": 1704164645000.0,
			"postOnly":  "false",
			"fee":       map[string]any{"cost": 0.1, "currency": "USDT"},
			"info":      map[string]any{"x": 1},
			"note":      "keep",
		},
		{"symbol": "ETH/USDT", "price": 3.0, "timestamp": "2024-01-02T03:04:05Z"},
	}

	first, err := Normalize(records, core.KindOrders)
	require.NoError(t, err)

	second, err := Normalize(first.Records(), core.KindOrders)
	require.NoError(t, err)

	assert.ElementsMatch(t, first.Columns(), second.Columns())
	for _, name := range first.Columns() {
		a, _ := first.Column(name)
		b, _ := second.Column(name)
		assert.Equal(t, a.Type, b.Type, name)
		assert.Equal(t, a.Values, b.Values, name)
	}
}

func TestNormalize_RowOrderPreserved(t *testing.T) {
	var records []core.Record
	for i := 0; i < 50; i++ {
		records = append(records, core.Record{"id": i, "price": float64(i)})
	}

	tbl, err := Normalize(records, core.KindTrades)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		assert.Equal(t, float64(i), tbl.Get(i, "price"))
	}
}

func TestNormalize_ColumnOrderFirstAppearance(t *testing.T) {
	records := []core.Record{
		{"b": "1", "a": "1"},
		{"c": "1", "a": "2"},
	}

	tbl, err := Normalize(records, core.KindGeneric)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, tbl.Columns())
}

func TestNormalize_CustomRegistry(t *testing.T) {
	reg, err := taxonomy.Default().Extend(core.KindGeneric, taxonomy.ClassNumeric, "score")
	require.NoError(t, err)

	tbl, err := Normalize([]core.Record{{"score": "7.5"}}, core.KindGeneric, WithRegistry(reg))
	require.NoError(t, err)
	assert.Equal(t, 7.5, tbl.Get(0, "score"))

	plain, err := Normalize([]core.Record{{"score": "7.5"}}, core.KindGeneric)
	require.NoError(t, err)
	assert.Equal(t, "7.5", plain.Get(0, "score"))
}

func TestNormalize_DurationField(t *testing.T) {
	tbl, err := Normalize([]core.Record{{"symbol": "BTC/USDT:USDT", "interval": "8h"}}, core.KindFundingRates)
	require.NoError(t, err)

	assert.Equal(t, 8*time.Hour, tbl.Get(0, "interval"))
}
