// Package bybit adapts the Bybit v5 public REST API to exchange.Client.
// One client serves one product category: spot, or linear USDT perpetuals
// whose tickers double as the funding rate source.
//
// Bybit API Documentation: https://bybit-exchange.github.io/docs/v5/intro
package bybit
