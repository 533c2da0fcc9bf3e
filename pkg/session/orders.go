package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"nakula/internal/coerce"
	"nakula/pkg/core"
	"nakula/pkg/dispatch"
	"nakula/pkg/exchange"
	"nakula/pkg/normalize"
	"nakula/pkg/order"
	"nakula/pkg/table"
)

// PrepareOrders preprocesses intents against the exchange's markets and
// precision. Market orders sized by notional get the last traded price of
// their symbol as reference price; symbols whose ticker cannot be fetched
// are left without one. Options after the session defaults win, so a caller
// supplying order.WithReferencePrices replaces the fetched prices.
func (s *Session) PrepareOrders(ctx context.Context, intents *table.Table, opts ...order.Option) (*order.Batch, error) {
	markets, err := s.Markets(ctx)
	if err != nil {
		return nil, err
	}

	base := append(order.FromConfig(s.config), order.WithLogger(s.logger))
	if symbols := notionalMarketSymbols(intents); len(symbols) > 0 {
		base = append(base, order.WithReferencePrices(s.lastPrices(ctx, symbols)))
	}
	return order.Preprocess(intents, markets, s.client, append(base, opts...)...)
}

// notionalMarketSymbols lists, in first-seen order, the symbols of market
// orders that carry a notional but no amount.
func notionalMarketSymbols(t *table.Table) []string {
	if t == nil {
		return nil
	}
	var out []string
	for i := range t.Len() {
		symbol, ok := t.String(i, "symbol")
		if !ok || slices.Contains(out, symbol) {
			continue
		}
		raw, _ := t.Get(i, "type").(string)
		typ, err := core.ParseOrderType(raw)
		if err != nil || !typ.IsMarket() {
			continue
		}
		if _, ok := t.Float(i, "amount"); ok {
			continue
		}
		if _, ok := t.Float(i, "notional"); ok {
			out = append(out, symbol)
		}
	}
	return out
}

// lastPrices fetches tickers of symbols concurrently and returns their last
// (or close) price.
func (s *Session) lastPrices(ctx context.Context, symbols []string) map[string]float64 {
	calls := make([]dispatch.Call[float64], len(symbols))
	for i, symbol := range symbols {
		calls[i] = func(ctx context.Context) (float64, error) {
			payload, err := s.client.Fetch(ctx, core.OpFetchTicker, exchange.Params(exchange.WithSymbol(symbol)))
			if err != nil {
				return 0, err
			}
			records, err := normalize.Records(payload, core.KindTickers)
			if err != nil {
				return 0, err
			}
			for _, rec := range records {
				for _, key := range []string{"last", "close"} {
					if v, ok := coerce.Float(rec[key]); ok && v > 0 {
						return v, nil
					}
				}
			}
			return 0, core.NewError(core.ErrorTypeMalformedResponse, "ticker without last price").
				WithCode(core.ErrCodeMissingReferencePrice).
				WithKind(core.KindTickers).
				WithSymbol(symbol)
		}
	}

	res, _ := dispatch.Run(ctx, s.dispatcher, dispatch.Flat(calls...))
	prices := make(map[string]float64, len(symbols))
	for i, r := range res.Flat() {
		if !r.OK() {
			s.logger.Warn().Str("symbol", symbols[i]).Err(r.Err).Msg("reference price unavailable")
			continue
		}
		prices[symbols[i]] = r.Value
	}
	return prices
}

// RowColumn holds, on every row returned by SubmitOrders, EditOrders and
// CancelOrders, the input row the result belongs to.
const RowColumn = "row"

// SubmitOrders sends every valid payload of batch as a create_order call and
// normalizes the acknowledgements into an orders table, rows in batch order.
// A payload that failed preprocessing or submission yields a row with
// status "rejected" and the error text. Submission errors are joined into
// the returned error; preprocessing errors stay with batch.Err.
func (s *Session) SubmitOrders(ctx context.Context, batch *order.Batch, opts ...normalize.Option) (*table.Table, error) {
	return s.sendBatch(ctx, core.OpCreateOrder, batch, opts)
}

// EditOrders sends every valid payload of batch as an edit_order call. The
// payloads carry the id of the order they amend; rows without one are
// rejected. The result has the shape of SubmitOrders.
func (s *Session) EditOrders(ctx context.Context, batch *order.Batch, opts ...normalize.Option) (*table.Table, error) {
	return s.sendBatch(ctx, core.OpEditOrder, batch, opts)
}

func (s *Session) sendBatch(ctx context.Context, op core.Operation, batch *order.Batch, opts []normalize.Option) (*table.Table, error) {
	if err := s.use(); err != nil {
		return nil, err
	}
	if batch == nil || batch.Len() == 0 {
		return table.New(), nil
	}

	rejected := make([]error, batch.Len())
	var sent []int
	var calls []dispatch.Call[[]core.Record]
	var errs []error
	for i, pl := range batch.Payloads {
		switch {
		case pl.Err != nil:
			rejected[i] = pl.Err
		case op == core.OpEditOrder && pl.ID == "":
			err := core.NewError(core.ErrorTypeInvalidOrder, "edit_order requires an order id").
				WithCode(core.ErrCodeBadRequest).
				WithKind(core.KindOrders).
				WithSymbol(pl.Symbol).
				WithField("id").
				WithRow(pl.Row)
			rejected[i] = err
			errs = append(errs, err)
		default:
			sent = append(sent, i)
			calls = append(calls, s.recordsCall(op, core.Params(pl.Record())))
		}
	}

	res, err := dispatch.Run(ctx, s.dispatcher, dispatch.Flat(calls...))
	if err != nil {
		return nil, err
	}
	results := res.Flat()
	acks := make([][]core.Record, batch.Len())
	for j, r := range results {
		i := sent[j]
		if r.OK() {
			acks[i] = r.Value
		} else {
			rejected[i] = r.Err
		}
	}

	var records []core.Record
	for i, pl := range batch.Payloads {
		if rejected[i] != nil {
			rec := pl.Record()
			delete(rec, order.ParamsColumn)
			records = append(records, rejectedRow(rec, pl.Row, rejected[i]))
			continue
		}
		for _, ack := range acks[i] {
			records = append(records, withRow(ack, pl.Row))
		}
	}

	t, err := order.UnpackResponses(records, s.normalizeOptions(opts)...)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("op", op.String()).
		Int("sent", len(calls)).
		Int("failed", res.Failed()).
		Int("rejected", batch.Len()-len(calls)+res.Failed()).
		Msg("order batch sent")
	return t, errors.Join(append(errs, res.Err())...)
}

// CancelOrders cancels the orders listed in orders, one cancel_order call
// per row. Rows carry an id column, optionally a symbol, and params either
// as a params mapping or as params_<key> columns. The acknowledgements are
// normalized into an orders table in row order; rows without an id or whose
// call failed become rows with status "rejected" and the error text.
func (s *Session) CancelOrders(ctx context.Context, orders *table.Table, opts ...normalize.Option) (*table.Table, error) {
	if err := s.use(); err != nil {
		return nil, err
	}
	if orders == nil || orders.Len() == 0 {
		return table.New(), nil
	}
	packed, err := orders.Pack(order.ParamsColumn)
	if err != nil {
		return nil, fmt.Errorf("cancel orders: %w", err)
	}

	requests := make([]core.Record, packed.Len())
	rejected := make([]error, packed.Len())
	var sent []int
	var calls []dispatch.Call[[]core.Record]
	var errs []error
	for i := range packed.Len() {
		req := core.Record{}
		symbol, hasSymbol := packed.String(i, "symbol")
		if hasSymbol {
			req["symbol"] = symbol
		}
		id := orderID(packed.Get(i, "id"))
		if id == "" {
			err := core.NewError(core.ErrorTypeInvalidOrder, "cancel_order requires an order id").
				WithCode(core.ErrCodeBadRequest).
				WithKind(core.KindOrders).
				WithSymbol(symbol).
				WithField("id").
				WithRow(i)
			requests[i], rejected[i] = req, err
			errs = append(errs, err)
			continue
		}
		req["id"] = id
		requests[i] = req

		params := core.Params{"id": id}
		if hasSymbol {
			params[exchange.ParamSymbol] = symbol
		}
		if extra, ok := packed.Get(i, order.ParamsColumn).(map[string]any); ok {
			params[order.ParamsColumn] = extra
		}
		sent = append(sent, i)
		calls = append(calls, s.recordsCall(core.OpCancelOrder, params))
	}

	res, err := dispatch.Run(ctx, s.dispatcher, dispatch.Flat(calls...))
	if err != nil {
		return nil, err
	}
	acks := make([][]core.Record, packed.Len())
	for j, r := range res.Flat() {
		i := sent[j]
		if r.OK() {
			acks[i] = r.Value
		} else {
			rejected[i] = r.Err
		}
	}

	var records []core.Record
	for i := range packed.Len() {
		if rejected[i] != nil {
			records = append(records, rejectedRow(requests[i], i, rejected[i]))
			continue
		}
		if len(acks[i]) == 0 {
			// Some venues acknowledge a cancel with an empty body.
			records = append(records, withRow(core.Record{"id": requests[i]["id"], "symbol": requests[i]["symbol"], "status": "canceled"}, i))
			continue
		}
		for _, ack := range acks[i] {
			records = append(records, withRow(ack, i))
		}
	}

	t, err := order.UnpackResponses(records, s.normalizeOptions(opts)...)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("sent", len(calls)).Int("failed", res.Failed()).Msg("orders canceled")
	return t, errors.Join(append(errs, res.Err())...)
}

func rejectedRow(rec core.Record, row int, err error) core.Record {
	out := maps.Clone(rec)
	out["status"] = "rejected"
	out["error"] = err.Error()
	out[RowColumn] = row
	return out
}

func withRow(rec core.Record, row int) core.Record {
	out := maps.Clone(rec)
	out[RowColumn] = row
	return out
}

// orderID reads an order id cell; exchanges use both string and numeric ids.
func orderID(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
