package bybit

import (
	"slices"
	"strings"

	"nakula/internal/coerce"
	"nakula/pkg/core"
	"nakula/pkg/market"
)

type rawInstruments struct {
	List []rawInstrument `json:"list"`
}

type rawInstrument struct {
	Symbol        string         `json:"symbol"`
	BaseCoin      string         `json:"baseCoin"`
	QuoteCoin     string         `json:"quoteCoin"`
	SettleCoin    string         `json:"settleCoin"`
	Status        string         `json:"status"`
	LotSizeFilter rawLotSize     `json:"lotSizeFilter"`
	PriceFilter   rawPriceFilter `json:"priceFilter"`
}

// rawLotSize carries the spot fields (basePrecision, order amounts) and the
// linear ones (qtyStep, minNotionalValue); each category fills its own.
type rawLotSize struct {
	BasePrecision    string `json:"basePrecision"`
	QtyStep          string `json:"qtyStep"`
	MinOrderQty      string `json:"minOrderQty"`
	MaxOrderQty      string `json:"maxOrderQty"`
	MinOrderAmt      string `json:"minOrderAmt"`
	MaxOrderAmt      string `json:"maxOrderAmt"`
	MinNotionalValue string `json:"minNotionalValue"`
}

type rawPriceFilter struct {
	TickSize string `json:"tickSize"`
	MinPrice string `json:"minPrice"`
	MaxPrice string `json:"maxPrice"`
}

type rawTickers struct {
	List []rawTicker `json:"list"`
}

type rawTicker struct {
	Symbol          string `json:"symbol"`
	LastPrice       string `json:"lastPrice"`
	Bid1Price       string `json:"bid1Price"`
	Bid1Size        string `json:"bid1Size"`
	Ask1Price       string `json:"ask1Price"`
	Ask1Size        string `json:"ask1Size"`
	PrevPrice24h    string `json:"prevPrice24h"`
	Price24hPcnt    string `json:"price24hPcnt"`
	HighPrice24h    string `json:"highPrice24h"`
	LowPrice24h     string `json:"lowPrice24h"`
	Volume24h       string `json:"volume24h"`
	Turnover24h     string `json:"turnover24h"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
}

type rawOrderBook struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	Time     int64      `json:"ts"`
	UpdateID int64      `json:"u"`
}

type rawTrades struct {
	List []rawTrade `json:"list"`
}

type rawTrade struct {
	ExecID string `json:"execId"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Size   string `json:"size"`
	Side   string `json:"side"`
	Time   string `json:"time"`
}

type rawKlines struct {
	List [][]string `json:"list"`
}

// unifyMarkets converts instruments-info into markets keyed by unified
// symbol. Linear contracts get a ":settle" suffix.
func unifyMarkets(category Category, raw *rawInstruments) (market.Markets, *symbols) {
	out := make(market.Markets, len(raw.List))
	sym := &symbols{
		category:  category,
		toID:      make(map[string]string, len(raw.List)),
		toUnified: make(map[string]string, len(raw.List)),
	}
	for _, in := range raw.List {
		unified := in.BaseCoin + "/" + in.QuoteCoin
		if in.BaseCoin == "" || in.QuoteCoin == "" {
			unified = parseSymbol(in.Symbol)
		}
		if category == CategoryLinear && in.SettleCoin != "" {
			unified += ":" + in.SettleCoin
		}
		sym.toID[unified] = in.Symbol
		sym.toUnified[in.Symbol] = unified

		lot := in.LotSizeFilter
		step := lot.BasePrecision
		if category == CategoryLinear {
			step = lot.QtyStep
		}
		precision := core.Record{}
		setPositive(precision, "price", in.PriceFilter.TickSize)
		setPositive(precision, "amount", step)

		price, amount, cost := core.Record{}, core.Record{}, core.Record{}
		setPositive(price, "min", in.PriceFilter.MinPrice)
		setPositive(price, "max", in.PriceFilter.MaxPrice)
		setPositive(amount, "min", lot.MinOrderQty)
		setPositive(amount, "max", lot.MaxOrderQty)
		if category == CategoryLinear {
			setPositive(cost, "min", lot.MinNotionalValue)
		} else {
			setPositive(cost, "min", lot.MinOrderAmt)
			setPositive(cost, "max", lot.MaxOrderAmt)
		}

		rec := core.Record{
			"id":        in.Symbol,
			"symbol":    unified,
			"base":      in.BaseCoin,
			"quote":     in.QuoteCoin,
			"active":    in.Status == "Trading",
			"precision": precision,
			"limits":    core.Record{"price": price, "amount": amount, "cost": cost},
		}
		if category == CategoryLinear {
			rec["type"] = "swap"
			rec["swap"] = true
			rec["linear"] = true
			rec["settle"] = in.SettleCoin
		} else {
			rec["type"] = "spot"
			rec["spot"] = true
		}
		out[unified] = rec
	}
	return out, sym
}

func setPositive(dst core.Record, key, raw string) {
	if v, ok := coerce.Float(raw); ok && v > 0 {
		dst[key] = v
	}
}

func unifyTicker(t rawTicker, sym *symbols, ts int64) core.Record {
	rec := core.Record{
		"symbol":      sym.unified(t.Symbol),
		"last":        t.LastPrice,
		"close":       t.LastPrice,
		"open":        t.PrevPrice24h,
		"high":        t.HighPrice24h,
		"low":         t.LowPrice24h,
		"bid":         t.Bid1Price,
		"bidVolume":   t.Bid1Size,
		"ask":         t.Ask1Price,
		"askVolume":   t.Ask1Size,
		"baseVolume":  t.Volume24h,
		"quoteVolume": t.Turnover24h,
	}
	// Bybit reports the 24h change as a fraction.
	if pct, ok := coerce.Float(t.Price24hPcnt); ok {
		rec["percentage"] = pct * 100
	}
	if t.MarkPrice != "" {
		rec["markPrice"] = t.MarkPrice
		rec["indexPrice"] = t.IndexPrice
	}
	if ts > 0 {
		rec["timestamp"] = ts
	}
	return rec
}

// unifyTickers keys tickers by unified symbol.
func unifyTickers(raw []rawTicker, sym *symbols, ts int64) map[string]any {
	out := make(map[string]any, len(raw))
	for _, t := range raw {
		rec := unifyTicker(t, sym, ts)
		out[rec["symbol"].(string)] = rec
	}
	return out
}

// unifyFundingRates keys the funding fields of linear tickers by unified symbol.
func unifyFundingRates(raw []rawTicker, sym *symbols, ts int64) map[string]any {
	out := make(map[string]any, len(raw))
	for _, t := range raw {
		symbol := sym.unified(t.Symbol)
		rec := core.Record{
			"symbol":      symbol,
			"fundingRate": t.FundingRate,
			"markPrice":   t.MarkPrice,
			"indexPrice":  t.IndexPrice,
		}
		if next, ok := coerce.Int(t.NextFundingTime); ok && next > 0 {
			rec["fundingTimestamp"] = next
		}
		if ts > 0 {
			rec["timestamp"] = ts
		}
		out[symbol] = rec
	}
	return out
}

func unifyOrderBook(raw rawOrderBook, symbol string) map[string]any {
	return map[string]any{
		"symbol":    symbol,
		"bids":      levels(raw.Bids),
		"asks":      levels(raw.Asks),
		"timestamp": raw.Time,
		"nonce":     raw.UpdateID,
	}
}

func levels(raw [][]string) []any {
	out := make([]any, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, []any{lvl[0], lvl[1]})
	}
	return out
}

func unifyTrades(raw []rawTrade, symbol string) []any {
	out := make([]any, len(raw))
	for i, t := range raw {
		rec := core.Record{
			"id":     t.ExecID,
			"symbol": symbol,
			"side":   strings.ToLower(t.Side),
			"price":  t.Price,
			"amount": t.Size,
		}
		if ms, ok := coerce.Int(t.Time); ok {
			rec["timestamp"] = ms
		}
		out[i] = rec
	}
	return out
}

// unifyKlines turns Bybit's newest-first string candles into oldest-first
// candle records. Turnover is the quote volume.
func unifyKlines(raw [][]string) ([]any, error) {
	out := make([]any, 0, len(raw))
	for i, c := range slices.Backward(raw) {
		if len(c) < 6 {
			return nil, core.NewError(core.ErrorTypeMalformedResponse, "kline has fewer than 6 fields").
				WithCode(core.ErrCodeMalformedResponse).
				WithKind(core.KindOHLCV).
				WithRow(i)
		}
		rec := map[string]any{
			"open":   c[1],
			"high":   c[2],
			"low":    c[3],
			"close":  c[4],
			"volume": c[5],
		}
		if ms, ok := coerce.Int(c[0]); ok {
			rec["timestamp"] = ms
		}
		if len(c) > 6 {
			rec["quote_asset_volume"] = c[6]
		}
		out = append(out, rec)
	}
	return out, nil
}
