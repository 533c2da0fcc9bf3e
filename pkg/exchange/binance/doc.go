// Package binance is an exchange.Client for Binance spot public data.
//
// Responses are reshaped into the unified layouts the normalizer reads:
// tickers keyed by symbol, trades and order books carrying the unified
// symbol, and markets with precision and limits taken from exchangeInfo
// filters. Precision is tick-size based, so prices and amounts are rounded
// to multiples of tickSize and stepSize.
//
// Example usage:
//
//	ex, err := binance.New(core.DefaultConfig("binance"))
//	if err != nil {
//		return err
//	}
//	defer ex.Close()
//
//	markets, err := ex.LoadMarkets(ctx)
//	raw, err := ex.Fetch(ctx, core.OpFetchTicker, exchange.Params(exchange.WithSymbol("BTC/USDT")))
package binance
