package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
)

func TestPack(t *testing.T) {
	expiry := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tbl := FromRecords([]core.Record{
		{"symbol": "BTC/USDT", "params_postOnly": true, "params_expireTime": expiry},
		{"symbol": "ETH/USDT", "params_postOnly": nil},
	})

	out, err := tbl.Pack("params")
	require.NoError(t, err)

	assert.Equal(t, []string{"params", "symbol"}, out.Columns())
	assert.Equal(t, map[string]any{"postOnly": true, "expireTime": int64(1704164645000)}, out.Get(0, "params"))
	assert.Nil(t, out.Get(1, "params"), "rows with only missing keys pack to a missing cell")

	// receiver untouched
	assert.True(t, tbl.Has("params_postOnly"))
}

func TestPack_MergesExistingMapping(t *testing.T) {
	tbl := FromRecords([]core.Record{
		{"params": map[string]any{"reduceOnly": true, "postOnly": false}, "params_postOnly": true},
	})

	out, err := tbl.Pack("params")
	require.NoError(t, err)

	assert.Equal(t, []string{"params"}, out.Columns())
	assert.Equal(t, map[string]any{"reduceOnly": true, "postOnly": true}, out.Get(0, "params"))
}

func TestPack_NoMatchingColumns(t *testing.T) {
	tbl := FromRecords([]core.Record{{"symbol": "BTC/USDT"}})

	out, err := tbl.Pack("params")
	require.NoError(t, err)
	assert.Equal(t, []string{"symbol"}, out.Columns())
}

func TestPack_RejectsNonMappingBase(t *testing.T) {
	tbl := FromRecords([]core.Record{{"params": "oops"}})

	_, err := tbl.Pack("params")
	assert.Error(t, err)
}

func TestUnpack(t *testing.T) {
	tbl := FromRecords([]core.Record{
		{"id": "1", "params": map[string]any{"postOnly": true}},
		{"id": "2", "params": map[string]any{"timeInForce": "GTC", "postOnly": false}},
		{"id": "3"},
	})

	out, err := tbl.Unpack("params")
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "params_postOnly", "params_timeInForce"}, out.Columns())
	assert.Equal(t, true, out.Get(0, "params_postOnly"))
	assert.Equal(t, "GTC", out.Get(1, "params_timeInForce"))
	assert.Nil(t, out.Get(2, "params_postOnly"))

	col, _ := out.Column("params_postOnly")
	assert.Equal(t, TypeBool, col.Type)
}

func TestUnpack_Collision(t *testing.T) {
	tbl := FromRecords([]core.Record{
		{"params": map[string]any{"postOnly": true}, "params_postOnly": false},
	})

	_, err := tbl.Unpack("params")
	assert.Error(t, err)
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	tbl := FromRecords([]core.Record{
		{"symbol": "BTC/USDT", "params_postOnly": true, "params_timeInForce": "GTC"},
		{"symbol": "ETH/USDT", "params_postOnly": false, "params_timeInForce": "IOC"},
	})

	packed, err := tbl.Pack("params")
	require.NoError(t, err)
	unpacked, err := packed.Unpack("params")
	require.NoError(t, err)

	assert.ElementsMatch(t, tbl.Columns(), unpacked.Columns())
	for i := 0; i < tbl.Len(); i++ {
		assert.Equal(t, tbl.Row(i), unpacked.Row(i))
	}
}
