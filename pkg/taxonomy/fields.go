package taxonomy

import "nakula/pkg/core"

type definition struct {
	numeric   []string
	integer   []string
	boolean   []string
	timestamp []string
	duration  []string
	nested    []string
	dropped   []string
}

// build merges the shared fields with the kind-specific ones. Kind-specific
// classes win over shared ones.
func (d definition) build() map[string]Class {
	m := make(map[string]Class)
	for _, part := range []definition{shared, d} {
		for _, f := range part.numeric {
			m[f] = ClassNumeric
		}
		for _, f := range part.integer {
			m[f] = ClassInteger
		}
		for _, f := range part.boolean {
			m[f] = ClassBoolean
		}
		for _, f := range part.timestamp {
			m[f] = ClassTimestamp
		}
		for _, f := range part.duration {
			m[f] = ClassDuration
		}
		for _, f := range part.nested {
			m[f] = ClassNested
		}
		for _, f := range part.dropped {
			m[f] = ClassDropped
		}
	}
	return m
}

// shared applies to every registered kind.
var shared = definition{
	timestamp: []string{
		"timestamp", "datetime", "created", "create_time", "update_time", "updated",
		"expiry", "expiry_datetime", "time", "last_update_timestamp",
	},
	dropped: []string{"info"},
}

var orderFields = []string{
	"price", "amount", "cost", "filled", "remaining", "average",
	"stop_price", "trigger_price", "take_profit_price", "stop_loss_price",
	"fee_cost", "fee_rate", "orig_qty", "executed_qty", "cummulative_quote_qty",
}

var tickerFields = []string{
	"high", "low", "bid", "bid_volume", "ask", "ask_volume", "vwap", "open", "close",
	"last", "previous_close", "change", "percentage", "average", "base_volume",
	"quote_volume", "mark_price", "index_price", "bid_price", "bid_qty", "ask_price",
	"ask_qty", "last_price", "last_qty", "weighted_avg_price", "price_change",
	"price_change_percent", "prev_close_price", "open_price", "high_price", "low_price",
	"volume",
}

var builtin = map[core.Kind]definition{
	core.KindOrders: {
		numeric:   orderFields,
		boolean:   []string{"post_only", "reduce_only"},
		timestamp: []string{"last_trade_timestamp", "last_update_timestamp", "transact_time"},
		nested:    []string{"fee"},
		dropped:   []string{"fees", "trades"},
	},
	core.KindTrades: {
		numeric:   []string{"price", "amount", "cost", "fee_cost", "fee_rate", "qty", "quote_qty", "commission"},
		boolean:   []string{"is_buyer_maker", "is_best_match", "is_maker"},
		timestamp: []string{"trade_time"},
		nested:    []string{"fee"},
		dropped:   []string{"fees"},
	},
	core.KindBalances: {
		numeric: []string{"free", "used", "total", "debt", "locked"},
	},
	core.KindTickers: {
		numeric:   tickerFields,
		integer:   []string{"count", "first_id", "last_id"},
		timestamp: []string{"open_time", "close_time"},
	},
	core.KindOHLCV: {
		numeric: []string{
			"open", "high", "low", "close", "volume", "quote_asset_volume",
			"taker_buy_base_asset_volume", "taker_buy_quote_asset_volume",
		},
		integer:   []string{"number_of_trades"},
		timestamp: []string{"open_time", "close_time"},
	},
	core.KindOrderBook: {
		numeric: []string{"price", "qty"},
		integer: []string{"nonce"},
	},
	core.KindFundingRates: {
		numeric: []string{
			"funding_rate", "next_funding_rate", "previous_funding_rate", "mark_price",
			"index_price", "interest_rate", "estimated_settle_price", "fixed_funding_rate",
		},
		timestamp: []string{
			"funding_timestamp", "funding_datetime", "next_funding_timestamp",
			"next_funding_datetime", "previous_funding_timestamp", "previous_funding_datetime",
			"funding_time",
		},
		duration: []string{"interval"},
	},
	core.KindMarkets: {
		numeric: []string{
			"contract_size", "strike", "maker", "taker", "percentage",
			"precision_price", "precision_amount", "precision_cost", "precision_base", "precision_quote",
			"limits_amount_min", "limits_amount_max", "limits_price_min", "limits_price_max",
			"limits_cost_min", "limits_cost_max", "limits_leverage_min", "limits_leverage_max",
			"limits_market_min", "limits_market_max",
		},
		boolean: []string{
			"active", "spot", "margin", "swap", "future", "option", "contract", "linear", "inverse",
		},
		nested: []string{
			"precision", "limits", "limits_amount", "limits_price", "limits_cost",
			"limits_leverage", "limits_market",
		},
	},
	core.KindPositions: {
		numeric: []string{
			"notional", "leverage", "unrealized_pnl", "realized_pnl", "contracts", "contract_size",
			"entry_price", "mark_price", "liquidation_price", "margin_ratio", "collateral",
			"initial_margin", "initial_margin_percentage", "maintenance_margin",
			"maintenance_margin_percentage", "last_price", "percentage",
		},
		boolean:   []string{"hedged"},
		timestamp: []string{"last_update_timestamp"},
	},
	core.KindOpenInterest: {
		numeric: []string{"open_interest_amount", "open_interest_value", "base_volume", "quote_volume"},
	},
	core.KindLedger: {
		numeric: []string{"amount", "before", "after", "fee_cost", "fee_rate"},
		nested:  []string{"fee"},
	},
	core.KindTransfers: {
		numeric: []string{"amount"},
	},
	core.KindCurrencies: {
		numeric: []string{
			"fee", "precision", "limits_withdraw_min", "limits_withdraw_max",
			"limits_deposit_min", "limits_deposit_max",
		},
		boolean: []string{"active", "deposit", "withdraw"},
		nested:  []string{"limits", "limits_withdraw", "limits_deposit"},
		dropped: []string{"networks"},
	},
}
