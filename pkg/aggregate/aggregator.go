// Package aggregate combines normalized market data of several exchange
// sessions: cross-venue ticker tables, best bid and ask, VWAP over order
// book depth and merged order books.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"

	"nakula/pkg/core"
	"nakula/pkg/dispatch"
	"nakula/pkg/exchange"
	"nakula/pkg/session"
	"nakula/pkg/table"
)

// ExchangeColumn names the column tagging every aggregated row with the
// exchange it came from.
const ExchangeColumn = "exchange"

// decimals carries the precision of quotient and sum arithmetic.
var decimals = apd.BaseContext.WithPrecision(34)

// ErrNoData is returned when no session produced usable data for a symbol.
var ErrNoData = errors.New("no market data available")

// Aggregator fans requests out to its sessions through one dispatcher.
type Aggregator struct {
	mu         sync.RWMutex
	sessions   map[string]*session.Session
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
	logger     zerolog.Logger
	lastUpdate time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = l
	}
}

func WithClock(c clock.Clock) Option {
	return func(a *Aggregator) {
		a.clock = c
	}
}

// New returns an aggregator without sessions that runs its requests on d.
func New(d *dispatch.Dispatcher, opts ...Option) (*Aggregator, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	a := &Aggregator{
		sessions:   make(map[string]*session.Session),
		dispatcher: d,
		clock:      clock.New(),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Add registers s under the name of its exchange, replacing any session of
// the same exchange.
func (a *Aggregator) Add(s *session.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[s.Client().Name()] = s
	a.lastUpdate = a.clock.Now()
}

func (a *Aggregator) Remove(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, name)
	a.lastUpdate = a.clock.Now()
}

// Sessions returns the registered exchange names in sorted order.
func (a *Aggregator) Sessions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Sorted(maps.Keys(a.sessions))
}

type sourced struct {
	exchange string
	table    *table.Table
}

// fetchAll runs op on every session, in exchange name order. Failed sessions
// are logged and left out; their errors are joined into the returned error.
func (a *Aggregator) fetchAll(ctx context.Context, op core.Operation, params core.Params) ([]sourced, error) {
	a.mu.RLock()
	names := slices.Sorted(maps.Keys(a.sessions))
	sessions := make([]*session.Session, len(names))
	for i, name := range names {
		sessions[i] = a.sessions[name]
	}
	a.mu.RUnlock()

	calls := make([]dispatch.Call[*table.Table], len(sessions))
	for i, s := range sessions {
		calls[i] = func(ctx context.Context) (*table.Table, error) {
			return s.Fetch(ctx, op, params)
		}
	}
	res, err := dispatch.Run(ctx, a.dispatcher, dispatch.Flat(calls...))
	if err != nil {
		return nil, err
	}

	var out []sourced
	for i, r := range res.Flat() {
		if !r.OK() {
			a.logger.Warn().Str("exchange", names[i]).Str("op", op.String()).Err(r.Err).Msg("exchange request failed")
			continue
		}
		out = append(out, sourced{exchange: names[i], table: r.Value})
	}

	a.mu.Lock()
	a.lastUpdate = a.clock.Now()
	a.mu.Unlock()
	return out, res.Err()
}

// Tickers fetches the ticker of symbol from every session and stacks them
// into one table with an exchange column. The table holds the exchanges
// that answered; the error reports the others.
func (a *Aggregator) Tickers(ctx context.Context, symbol string) (*table.Table, error) {
	results, err := a.fetchAll(ctx, core.OpFetchTicker, exchange.Params(exchange.WithSymbol(symbol)))
	var records []core.Record
	for _, r := range results {
		for _, rec := range r.table.Records() {
			rec[ExchangeColumn] = r.exchange
			records = append(records, rec)
		}
	}
	return table.FromRecords(records), err
}

// BestPrice is the highest bid and lowest ask of a symbol across exchanges.
type BestPrice struct {
	Symbol        string
	Bid           apd.Decimal
	Ask           apd.Decimal
	BidExchange   string
	AskExchange   string
	Spread        apd.Decimal
	SpreadPercent apd.Decimal
	Timestamp     time.Time
}

// BestPrice finds the highest bid and lowest ask of symbol from the tickers
// of every session. Exchanges that fail are skipped.
func (a *Aggregator) BestPrice(ctx context.Context, symbol string) (*BestPrice, error) {
	tickers, fetchErr := a.Tickers(ctx, symbol)

	best := &BestPrice{Symbol: symbol}
	var haveBid, haveAsk bool
	for i := range tickers.Len() {
		name, _ := tickers.String(i, ExchangeColumn)
		if bid, ok := tickers.Float(i, "bid"); ok && bid > 0 {
			var d apd.Decimal
			if _, err := d.SetFloat64(bid); err == nil && (!haveBid || d.Cmp(&best.Bid) > 0) {
				best.Bid.Set(&d)
				best.BidExchange, haveBid = name, true
			}
		}
		if ask, ok := tickers.Float(i, "ask"); ok && ask > 0 {
			var d apd.Decimal
			if _, err := d.SetFloat64(ask); err == nil && (!haveAsk || d.Cmp(&best.Ask) < 0) {
				best.Ask.Set(&d)
				best.AskExchange, haveAsk = name, true
			}
		}
		if ts, ok := tickers.Time(i, "timestamp"); ok && ts.After(best.Timestamp) {
			best.Timestamp = ts
		}
	}
	if !haveBid || !haveAsk {
		return nil, errors.Join(fmt.Errorf("best price of %s: %w", symbol, ErrNoData), fetchErr)
	}

	if _, err := decimals.Sub(&best.Spread, &best.Ask, &best.Bid); err != nil {
		return nil, fmt.Errorf("calculate spread: %w", err)
	}
	var hundred apd.Decimal
	hundred.SetInt64(100)
	if _, err := decimals.Mul(&best.SpreadPercent, &best.Spread, &hundred); err != nil {
		return nil, fmt.Errorf("calculate spread percent: %w", err)
	}
	if _, err := decimals.Quo(&best.SpreadPercent, &best.SpreadPercent, &best.Bid); err != nil {
		return nil, fmt.Errorf("calculate spread percent: %w", err)
	}
	return best, nil
}

// VWAP is a volume-weighted average price over order book levels.
type VWAP struct {
	Symbol    string
	Price     apd.Decimal
	Volume    apd.Decimal
	Levels    int
	Exchanges []string
}

func bookParams(symbol string, depth int) core.Params {
	return exchange.Params(exchange.WithSymbol(symbol), exchange.WithLimit(depth))
}

// VWAP computes the volume-weighted average price of symbol over the first
// depth levels per side of every exchange's order book. A non-positive
// depth leaves the limit to the exchange.
func (a *Aggregator) VWAP(ctx context.Context, symbol string, depth int) (*VWAP, error) {
	results, fetchErr := a.fetchAll(ctx, core.OpFetchOrderBook, bookParams(symbol, depth))

	out := &VWAP{Symbol: symbol}
	var value apd.Decimal
	for _, r := range results {
		levels := 0
		for i := range r.table.Len() {
			price, pok := decimalAt(r.table, i, "price")
			qty, qok := decimalAt(r.table, i, "qty")
			if !pok || !qok {
				continue
			}
			var v apd.Decimal
			if _, err := decimals.Mul(&v, &price, &qty); err != nil {
				continue
			}
			if _, err := decimals.Add(&value, &value, &v); err != nil {
				continue
			}
			if _, err := decimals.Add(&out.Volume, &out.Volume, &qty); err != nil {
				continue
			}
			levels++
		}
		if levels > 0 {
			out.Levels += levels
			out.Exchanges = append(out.Exchanges, r.exchange)
		}
	}
	if out.Volume.IsZero() {
		return nil, errors.Join(fmt.Errorf("vwap of %s: %w", symbol, ErrNoData), fetchErr)
	}
	if _, err := decimals.Quo(&out.Price, &value, &out.Volume); err != nil {
		return nil, fmt.Errorf("calculate vwap: %w", err)
	}
	return out, nil
}

func decimalAt(t *table.Table, row int, col string) (apd.Decimal, bool) {
	var d apd.Decimal
	f, ok := t.Float(row, col)
	if !ok {
		return d, false
	}
	if _, err := d.SetFloat64(f); err != nil {
		return d, false
	}
	return d, true
}

type level struct {
	side      string
	price     float64
	qty       apd.Decimal
	exchanges []string
}

// MergedOrderBook merges the order books of symbol from every exchange into
// one side/price/qty table. Levels of equal side and price are combined by
// summing their quantities, and the exchanges column lists the contributing
// venues. Bids come first by descending price, then asks by ascending
// price, at most depth levels per side when depth is positive.
func (a *Aggregator) MergedOrderBook(ctx context.Context, symbol string, depth int) (*table.Table, error) {
	results, fetchErr := a.fetchAll(ctx, core.OpFetchOrderBook, bookParams(symbol, depth))

	type key struct {
		side  string
		price float64
	}
	merged := make(map[key]*level)
	for _, r := range results {
		for i := range r.table.Len() {
			side, _ := r.table.String(i, "side")
			price, pok := r.table.Float(i, "price")
			qty, qok := decimalAt(r.table, i, "qty")
			if side == "" || !pok || !qok {
				continue
			}
			k := key{side, price}
			lv, ok := merged[k]
			if !ok {
				lv = &level{side: side, price: price}
				merged[k] = lv
			}
			if _, err := decimals.Add(&lv.qty, &lv.qty, &qty); err != nil {
				continue
			}
			if !slices.Contains(lv.exchanges, r.exchange) {
				lv.exchanges = append(lv.exchanges, r.exchange)
			}
		}
	}

	var bids, asks []*level
	for _, lv := range merged {
		switch lv.side {
		case "bid":
			bids = append(bids, lv)
		case "ask":
			asks = append(asks, lv)
		}
	}
	slices.SortFunc(bids, func(x, y *level) int { return cmpFloat(y.price, x.price) })
	slices.SortFunc(asks, func(x, y *level) int { return cmpFloat(x.price, y.price) })
	if depth > 0 {
		bids = bids[:min(depth, len(bids))]
		asks = asks[:min(depth, len(asks))]
	}

	out := table.New()
	for _, lv := range append(bids, asks...) {
		qty, _ := lv.qty.Float64()
		out.AppendRow(core.Record{
			"symbol":    symbol,
			"side":      lv.side,
			"price":     lv.price,
			"qty":       qty,
			"exchanges": lv.exchanges,
		})
	}
	return out, fetchErr
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Stats describes the registered sessions.
type Stats struct {
	Sessions   int
	Exchanges  []string
	Active     int
	LastUpdate time.Time
}

func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := Stats{
		Sessions:   len(a.sessions),
		Exchanges:  slices.Sorted(maps.Keys(a.sessions)),
		LastUpdate: a.lastUpdate,
	}
	for _, s := range a.sessions {
		if s.State() == session.StateActive {
			st.Active++
		}
	}
	return st
}
