package binance

import (
	"nakula/internal/coerce"
	"nakula/pkg/core"
	"nakula/pkg/market"
)

// Binance sends decimals as strings. They are passed through unchanged so the
// normalizer coerces them like any other venue's values.

type rawExchangeInfo struct {
	Symbols []rawSymbol `json:"symbols"`
}

type rawSymbol struct {
	Symbol     string      `json:"symbol"`
	Status     string      `json:"status"`
	BaseAsset  string      `json:"baseAsset"`
	QuoteAsset string      `json:"quoteAsset"`
	Filters    []rawFilter `json:"filters"`
}

type rawFilter struct {
	FilterType  string `json:"filterType"`
	MinPrice    string `json:"minPrice"`
	MaxPrice    string `json:"maxPrice"`
	TickSize    string `json:"tickSize"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
	MaxNotional string `json:"maxNotional"`
}

type rawTicker struct {
	Symbol             string `json:"symbol"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	WeightedAvgPrice   string `json:"weightedAvgPrice"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	BidQty             string `json:"bidQty"`
	AskPrice           string `json:"askPrice"`
	AskQty             string `json:"askQty"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

type rawTrade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	QuoteQty     string `json:"quoteQty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

type rawOrderBook struct {
	LastUpdateID int64 `json:"lastUpdateId"`
	Bids         []any `json:"bids"`
	Asks         []any `json:"asks"`
}

// unifyMarkets converts exchangeInfo into markets keyed by unified symbol.
// Filter values of zero mean "no limit" on Binance and are left out.
func unifyMarkets(info *rawExchangeInfo) (market.Markets, *symbols) {
	out := make(market.Markets, len(info.Symbols))
	sym := &symbols{
		toID:      make(map[string]string, len(info.Symbols)),
		toUnified: make(map[string]string, len(info.Symbols)),
	}
	for _, s := range info.Symbols {
		unified := s.BaseAsset + "/" + s.QuoteAsset
		if s.BaseAsset == "" || s.QuoteAsset == "" {
			unified = parseSymbol(s.Symbol)
		}
		sym.toID[unified] = s.Symbol
		sym.toUnified[s.Symbol] = unified

		precision := core.Record{}
		limits := core.Record{
			"price":  core.Record{},
			"amount": core.Record{},
			"cost":   core.Record{},
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				setPositive(precision, "price", f.TickSize)
				setPositive(limits["price"].(core.Record), "min", f.MinPrice)
				setPositive(limits["price"].(core.Record), "max", f.MaxPrice)
			case "LOT_SIZE":
				setPositive(precision, "amount", f.StepSize)
				setPositive(limits["amount"].(core.Record), "min", f.MinQty)
				setPositive(limits["amount"].(core.Record), "max", f.MaxQty)
			case "NOTIONAL", "MIN_NOTIONAL":
				setPositive(limits["cost"].(core.Record), "min", f.MinNotional)
				setPositive(limits["cost"].(core.Record), "max", f.MaxNotional)
			}
		}

		out[unified] = core.Record{
			"id":        s.Symbol,
			"symbol":    unified,
			"base":      s.BaseAsset,
			"quote":     s.QuoteAsset,
			"active":    s.Status == "TRADING",
			"type":      "spot",
			"spot":      true,
			"precision": precision,
			"limits":    limits,
		}
	}
	return out, sym
}

func setPositive(dst core.Record, key, raw string) {
	if v, ok := coerce.Float(raw); ok && v > 0 {
		dst[key] = v
	}
}

func unifyTicker(t rawTicker, sym *symbols) core.Record {
	rec := core.Record{
		"symbol":      sym.unified(t.Symbol),
		"last":        t.LastPrice,
		"close":       t.LastPrice,
		"open":        t.OpenPrice,
		"high":        t.HighPrice,
		"low":         t.LowPrice,
		"bid":         t.BidPrice,
		"bidVolume":   t.BidQty,
		"ask":         t.AskPrice,
		"askVolume":   t.AskQty,
		"vwap":        t.WeightedAvgPrice,
		"change":      t.PriceChange,
		"percentage":  t.PriceChangePercent,
		"baseVolume":  t.Volume,
		"quoteVolume": t.QuoteVolume,
	}
	if t.CloseTime > 0 {
		rec["timestamp"] = t.CloseTime
	}
	return rec
}

// unifyTickers keys tickers by unified symbol.
func unifyTickers(raw []rawTicker, sym *symbols) map[string]any {
	out := make(map[string]any, len(raw))
	for _, t := range raw {
		rec := unifyTicker(t, sym)
		out[rec["symbol"].(string)] = rec
	}
	return out
}

func unifyTrades(raw []rawTrade, symbol string) []any {
	out := make([]any, len(raw))
	for i, t := range raw {
		side := "buy"
		if t.IsBuyerMaker {
			side = "sell"
		}
		out[i] = core.Record{
			"id":           t.ID,
			"symbol":       symbol,
			"timestamp":    t.Time,
			"side":         side,
			"price":        t.Price,
			"amount":       t.Qty,
			"cost":         t.QuoteQty,
			"takerOrMaker": "taker",
		}
	}
	return out
}

func unifyOrderBook(raw rawOrderBook, symbol string) map[string]any {
	bids, asks := raw.Bids, raw.Asks
	if bids == nil {
		bids = []any{}
	}
	if asks == nil {
		asks = []any{}
	}
	return map[string]any{
		"symbol": symbol,
		"bids":   bids,
		"asks":   asks,
		"nonce":  raw.LastUpdateID,
	}
}
