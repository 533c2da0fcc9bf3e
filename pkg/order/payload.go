package order

import (
	"errors"
	"math"

	"nakula/pkg/core"
	"nakula/pkg/table"
)

// Payload is one preprocessed order row, ready for an exchange client.
// Price, Amount and Notional hold NaN when absent.
type Payload struct {
	// Row is the position of the intent in the input table.
	Row      int
	ID       string
	Symbol   string
	Side     core.OrderSide
	Type     core.OrderType
	Price    float64
	Amount   float64
	Notional float64
	Params   map[string]any
	// Err is set on rows that could not be prepared. Such rows are never
	// submitted.
	Err error
}

func (p *Payload) HasPrice() bool {
	return !math.IsNaN(p.Price)
}

func (p *Payload) HasAmount() bool {
	return !math.IsNaN(p.Amount)
}

// Record renders the payload in the unified create-order shape:
// symbol, type, side, amount, price and params. Absent values are omitted.
func (p *Payload) Record() core.Record {
	rec := core.Record{
		"symbol": p.Symbol,
		"type":   p.Type.String(),
		"side":   p.Side.String(),
	}
	if p.HasAmount() {
		rec["amount"] = p.Amount
	}
	if p.HasPrice() {
		rec["price"] = p.Price
	}
	if len(p.Params) > 0 {
		rec[ParamsColumn] = p.Params
	}
	if p.ID != "" {
		rec["id"] = p.ID
	}
	return rec
}

// Batch is the result of Preprocess. Payloads keep the input row order.
type Batch struct {
	Payloads []Payload
	Warnings []core.Warning
}

func (b *Batch) Len() int {
	return len(b.Payloads)
}

// Valid returns the payloads without a row error, in input order.
func (b *Batch) Valid() []Payload {
	out := make([]Payload, 0, len(b.Payloads))
	for _, p := range b.Payloads {
		if p.Err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Err joins the row errors of the batch, or returns nil.
func (b *Batch) Err() error {
	var errs []error
	for _, p := range b.Payloads {
		if p.Err != nil {
			errs = append(errs, p.Err)
		}
	}
	return errors.Join(errs...)
}

// Records renders the valid payloads.
func (b *Batch) Records() []core.Record {
	valid := b.Valid()
	out := make([]core.Record, len(valid))
	for i := range valid {
		out[i] = valid[i].Record()
	}
	return out
}

// Table renders every payload, failed rows included, with an error column
// holding the row failure message.
func (b *Batch) Table() *table.Table {
	n := len(b.Payloads)
	cols := map[string][]any{}
	names := []string{"id", "symbol", "side", "type", "price", "amount", "notional", ParamsColumn, "error"}
	for _, name := range names {
		cols[name] = make([]any, n)
	}
	hasID := false
	for i := range b.Payloads {
		p := &b.Payloads[i]
		if p.ID != "" {
			cols["id"][i] = p.ID
			hasID = true
		}
		cols["symbol"][i] = p.Symbol
		if p.Err == nil {
			cols["side"][i] = p.Side.String()
			cols["type"][i] = p.Type.String()
		}
		cols["price"][i] = floatCell(p.Price)
		cols["amount"][i] = floatCell(p.Amount)
		cols["notional"][i] = floatCell(p.Notional)
		if len(p.Params) > 0 {
			cols[ParamsColumn][i] = p.Params
		}
		if p.Err != nil {
			cols["error"][i] = p.Err.Error()
		}
	}

	out := table.NewRows(n)
	for _, name := range names {
		if name == "id" && !hasID {
			continue
		}
		_ = out.AddColumn(name, table.InferColumn(cols[name]), cols[name])
	}
	return out
}

func floatCell(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}
