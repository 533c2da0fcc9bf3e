package core

import (
	"fmt"
	"strings"
)

// Kind identifies a category of exchange response and selects the field
// taxonomy used to normalize it.
type Kind int

// Response kinds. KindGeneric is the zero value and carries no special coercion.
const (
	KindGeneric Kind = iota
	KindOrders
	KindTrades
	KindBalances
	KindTickers
	KindOHLCV
	KindOrderBook
	KindFundingRates
	KindMarkets
	KindPositions
	KindOpenInterest
	KindLedger
	KindTransfers
	KindCurrencies
)

var kindNames = [...]string{
	"generic",
	"orders",
	"trades",
	"balances",
	"tickers",
	"ohlcv",
	"order_book",
	"funding_rates",
	"markets",
	"positions",
	"open_interest",
	"ledger",
	"transfers",
	"currencies",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindGeneric]
	}
	return kindNames[k]
}

// Kinds returns every registered kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

// ParseKind maps a kind name onto the enumeration. Unknown names fail rather
// than falling back to generic.
func ParseKind(s string) (Kind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch norm {
	case "orderbook":
		return KindOrderBook, nil
	case "ticker":
		return KindTickers, nil
	case "balance":
		return KindBalances, nil
	case "order":
		return KindOrders, nil
	case "trade":
		return KindTrades, nil
	}
	for i, name := range kindNames {
		if name == norm {
			return Kind(i), nil
		}
	}
	return KindGeneric, fmt.Errorf("unknown response kind %q", s)
}

// Operation represents a named exchange client operation.
type Operation int

// Operation constants define the operations an exchange client may serve.
const (
	// OpFetchMarkets loads market metadata keyed by symbol.
	OpFetchMarkets Operation = iota
	// OpFetchTicker retrieves the ticker of one symbol.
	OpFetchTicker
	// OpFetchTickers retrieves tickers keyed by symbol.
	OpFetchTickers
	// OpFetchOHLCV retrieves candlestick arrays.
	OpFetchOHLCV
	// OpFetchOrderBook retrieves bids and asks of one symbol.
	OpFetchOrderBook
	// OpFetchTrades retrieves recent public trades.
	OpFetchTrades
	// OpFetchMyTrades retrieves the account's fills.
	OpFetchMyTrades
	// OpFetchBalance retrieves the account balance document.
	OpFetchBalance
	// OpFetchOrder retrieves one order.
	OpFetchOrder
	// OpFetchOrders retrieves historical orders.
	OpFetchOrders
	// OpFetchOpenOrders retrieves open orders.
	OpFetchOpenOrders
	// OpFetchClosedOrders retrieves closed orders.
	OpFetchClosedOrders
	// OpFetchPositions retrieves derivative positions.
	OpFetchPositions
	// OpFetchFundingRates retrieves current funding rates keyed by symbol.
	OpFetchFundingRates
	// OpFetchFundingRateHistory retrieves historical funding rates.
	OpFetchFundingRateHistory
	// OpFetchOpenInterest retrieves open interest.
	OpFetchOpenInterest
	// OpFetchLedger retrieves account ledger entries.
	OpFetchLedger
	// OpFetchTransfers retrieves internal transfers.
	OpFetchTransfers
	// OpFetchCurrencies retrieves currency metadata keyed by code.
	OpFetchCurrencies
	// OpCreateOrder submits a new order.
	OpCreateOrder
	// OpCancelOrder cancels an order.
	OpCancelOrder
	// OpEditOrder amends an order.
	OpEditOrder
)

var operations = [...]struct {
	name string
	kind Kind
}{
	{"fetch_markets", KindMarkets},
	{"fetch_ticker", KindTickers},
	{"fetch_tickers", KindTickers},
	{"fetch_ohlcv", KindOHLCV},
	{"fetch_order_book", KindOrderBook},
	{"fetch_trades", KindTrades},
	{"fetch_my_trades", KindTrades},
	{"fetch_balance", KindBalances},
	{"fetch_order", KindOrders},
	{"fetch_orders", KindOrders},
	{"fetch_open_orders", KindOrders},
	{"fetch_closed_orders", KindOrders},
	{"fetch_positions", KindPositions},
	{"fetch_funding_rates", KindFundingRates},
	{"fetch_funding_rate_history", KindFundingRates},
	{"fetch_open_interest", KindOpenInterest},
	{"fetch_ledger", KindLedger},
	{"fetch_transfers", KindTransfers},
	{"fetch_currencies", KindCurrencies},
	{"create_order", KindOrders},
	{"cancel_order", KindOrders},
	{"edit_order", KindOrders},
}

// String returns the snake_case name of the operation.
func (o Operation) String() string {
	if o < 0 || int(o) >= len(operations) {
		return "unknown"
	}
	return operations[o].name
}

// Kind returns the response kind produced by the operation.
func (o Operation) Kind() Kind {
	if o < 0 || int(o) >= len(operations) {
		return KindGeneric
	}
	return operations[o].kind
}

// ParseOperation maps an operation name such as "fetch_ohlcv" onto the enumeration.
func ParseOperation(s string) (Operation, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for i, op := range operations {
		if op.name == norm {
			return Operation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}
