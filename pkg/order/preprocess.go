// Package order turns tables of order intents into exchange-ready payloads:
// notional sizing, exchange precision, limit enforcement and params packing.
package order

import (
	"errors"
	"fmt"
	"maps"
	"math"

	"github.com/google/uuid"

	"nakula/pkg/core"
	"nakula/pkg/market"
	"nakula/pkg/normalize"
	"nakula/pkg/table"
)

// costTolerance absorbs float error when re-checking a clipped cost.
const costTolerance = 1e-9

type preprocessor struct {
	opts      *Options
	markets   market.Markets
	precision market.Precision
}

// Preprocess converts an intent table into payloads. Intents carry symbol,
// side and type, plus optional id, price, amount, notional, params and
// params_<key> columns; absent columns are treated as missing cells.
//
// Per row the amount is derived from notional when needed, price and amount
// are rounded through precision when the market declares one, and price,
// amount and cost are checked against the market limits. Malformed rows are
// reported on their payload; strict mode returns the first of them as the
// error instead. A nil precision skips rounding.
func Preprocess(orders *table.Table, markets market.Markets, precision market.Precision, opts ...Option) (*Batch, error) {
	o := applyOptions(opts...)
	if !o.Policy.Valid() {
		return nil, core.NewError(core.ErrorTypeInvalidConfig, fmt.Sprintf("unknown out-of-range policy %q", o.Policy)).
			WithCode(core.ErrCodeInvalidConfig)
	}
	if orders == nil || orders.Len() == 0 {
		return &Batch{}, nil
	}

	packed, err := orders.Pack(ParamsColumn)
	if err != nil {
		return nil, core.NewError(core.ErrorTypeInvalidOrder, "pack params").
			WithField(ParamsColumn).
			Wrap(err)
	}

	p := &preprocessor{opts: o, markets: markets, precision: precision}
	batch := &Batch{Payloads: make([]Payload, packed.Len())}
	failed := 0
	for i := range packed.Len() {
		pl, warnings := p.row(packed, i)
		if pl.Err != nil {
			if o.Strict {
				return nil, pl.Err
			}
			failed++
			o.Logger.Debug().Int("row", i).Err(pl.Err).Msg("order row rejected")
		}
		for _, w := range warnings {
			o.Logger.Warn().
				Int("row", w.Row).
				Str("symbol", w.Symbol).
				Str("field", w.Field).
				Str("code", string(w.Code)).
				Msg(w.Message)
		}
		batch.Payloads[i] = pl
		batch.Warnings = append(batch.Warnings, warnings...)
	}

	o.Logger.Debug().
		Int("rows", batch.Len()).
		Int("failed", failed).
		Int("warnings", len(batch.Warnings)).
		Str("policy", string(o.Policy)).
		Msg("orders preprocessed")
	return batch, nil
}

// UnpackResponses normalizes raw order acknowledgements as orders.
func UnpackResponses(acks []core.Record, opts ...normalize.Option) (*table.Table, error) {
	return normalize.Normalize(acks, core.KindOrders, opts...)
}

func (p *preprocessor) row(t *table.Table, i int) (Payload, []core.Warning) {
	pl := Payload{
		Row:      i,
		Price:    math.NaN(),
		Amount:   math.NaN(),
		Notional: math.NaN(),
	}
	pl.ID, _ = t.String(i, "id")

	symbol, ok := t.String(i, "symbol")
	if !ok {
		pl.Err = rowError(i, "", "symbol", core.ErrCodeMissingSymbol, "missing symbol")
		return pl, nil
	}
	pl.Symbol = symbol

	raw, _ := t.Get(i, "side").(string)
	side, err := core.ParseOrderSide(raw)
	if err != nil {
		pl.Err = rowError(i, symbol, "side", core.ErrCodeInvalidSide, "unparseable side").Wrap(err)
		return pl, nil
	}
	pl.Side = side

	raw, _ = t.Get(i, "type").(string)
	typ, err := core.ParseOrderType(raw)
	if err != nil {
		pl.Err = rowError(i, symbol, "type", core.ErrCodeInvalidType, "unparseable type").Wrap(err)
		return pl, nil
	}
	pl.Type = typ

	if v, ok := t.Float(i, "price"); ok {
		pl.Price = v
	}
	if v, ok := t.Float(i, "amount"); ok {
		pl.Amount = v
	}
	if v, ok := t.Float(i, "notional"); ok {
		pl.Notional = v
	}
	if typ.RequiresPrice() && !pl.HasPrice() {
		pl.Err = rowError(i, symbol, "price", core.ErrCodeMissingPrice, typ.String()+" order without price")
		return pl, nil
	}

	if m, ok := t.Get(i, ParamsColumn).(map[string]any); ok {
		pl.Params = maps.Clone(m)
	}
	if p.opts.ClientOrderIDs {
		if _, ok := pl.Params[ClientOrderIDKey]; !ok {
			if pl.Params == nil {
				pl.Params = make(map[string]any, 1)
			}
			pl.Params[ClientOrderIDKey] = uuid.NewString()
		}
	}

	var warnings []core.Warning
	c, err := market.Resolve(symbol, p.markets)
	if err != nil {
		if p.opts.UnknownSymbol != core.UnknownSymbolProceed {
			pl.Err = withRow(err, i)
			return pl, nil
		}
		warnings = append(warnings, warning(&pl, "symbol", core.ErrCodeUnknownSymbol,
			"no market metadata, proceeding unconstrained", math.NaN(), math.NaN()))
	}

	ref := p.referencePrice(&pl)
	switch {
	case pl.HasAmount():
	case !math.IsNaN(pl.Notional):
		if math.IsNaN(ref) || ref <= 0 {
			msg := fmt.Sprintf("notional %v without a reference price", pl.Notional)
			if p.opts.Strict {
				pl.Err = volumeError(i, symbol, core.ErrCodeMissingReferencePrice, msg)
				return pl, warnings
			}
			warnings = append(warnings, warning(&pl, "amount", core.ErrCodeMissingReferencePrice, msg, pl.Notional, math.NaN()))
			break
		}
		pl.Amount = pl.Notional / ref
	default:
		if p.opts.Strict {
			pl.Err = volumeError(i, symbol, core.ErrCodeMissingVolume, "neither amount nor notional")
			return pl, warnings
		}
	}

	if err := p.round(&pl, c); err != nil {
		pl.Err = withRow(err, i)
		return pl, warnings
	}

	if p.opts.Enforce {
		warnings = p.enforce(&pl, c, ref, warnings)
	}
	if ref := p.referencePrice(&pl); math.IsNaN(pl.Notional) && pl.HasAmount() && !math.IsNaN(ref) {
		pl.Notional = pl.Amount * ref
	}
	return pl, warnings
}

// referencePrice is the price used for sizing and cost checks: the row's
// own price, or for market orders the caller-supplied last price.
func (p *preprocessor) referencePrice(pl *Payload) float64 {
	if pl.Type.IsMarket() {
		if v, ok := p.opts.ReferencePrices[pl.Symbol]; ok {
			return v
		}
	}
	return pl.Price
}

func (p *preprocessor) round(pl *Payload, c market.Constraints) error {
	if p.precision == nil {
		return nil
	}
	if pl.HasPrice() && market.IsBounded(c.PricePrecision) {
		v, err := p.precision.PriceToPrecision(pl.Symbol, pl.Price)
		if err != nil {
			return precisionError(pl.Symbol, "price", err)
		}
		pl.Price = v
	}
	if pl.HasAmount() && market.IsBounded(c.AmountPrecision) {
		v, err := p.roundAmount(pl.Symbol, pl.Amount)
		if err != nil {
			return err
		}
		pl.Amount = v
	}
	return nil
}

func (p *preprocessor) roundAmount(symbol string, amount float64) (float64, error) {
	v, err := p.precision.AmountToPrecision(symbol, amount)
	if err != nil {
		return amount, precisionError(symbol, "amount", err)
	}
	return v, nil
}

func (p *preprocessor) enforce(pl *Payload, c market.Constraints, ref float64, warnings []core.Warning) []core.Warning {
	if pl.HasPrice() {
		pl.Price, warnings = p.bound(pl, "price", pl.Price, c.MinPrice, c.MaxPrice, warnings)
		if !pl.Type.IsMarket() {
			ref = pl.Price
		}
	}
	if !pl.HasAmount() {
		return warnings
	}
	pl.Amount, warnings = p.bound(pl, "amount", pl.Amount, c.MinAmount, c.MaxAmount, warnings)

	if math.IsNaN(ref) || ref <= 0 {
		return warnings
	}
	cost := ref * pl.Amount
	clipped, warnings := p.bound(pl, "cost", cost, c.MinCost, c.MaxCost, warnings)
	if clipped == cost {
		return warnings
	}

	amount := clipped / ref
	if p.precision != nil && market.IsBounded(c.AmountPrecision) {
		if v, err := p.roundAmount(pl.Symbol, amount); err == nil {
			amount = v
		}
	}

	// The amount limits win over the cost limits when both cannot hold.
	switch {
	case market.IsBounded(c.MinAmount) && amount < c.MinAmount:
		warnings = append(warnings, warning(pl, "amount", core.ErrCodeBelowMin,
			fmt.Sprintf("amount %v for the clipped cost below minimum %v", amount, c.MinAmount), amount, c.MinAmount))
		amount = c.MinAmount
	case market.IsBounded(c.MaxAmount) && amount > c.MaxAmount:
		warnings = append(warnings, warning(pl, "amount", core.ErrCodeAboveMax,
			fmt.Sprintf("amount %v for the clipped cost above maximum %v", amount, c.MaxAmount), amount, c.MaxAmount))
		amount = c.MaxAmount
	}
	pl.Amount = amount

	cost = ref * amount
	switch {
	case market.IsBounded(c.MinCost) && cost < c.MinCost*(1-costTolerance):
		warnings = append(warnings, warning(pl, "cost", core.ErrCodeBelowMin,
			fmt.Sprintf("cost %v below minimum %v after clipping the amount", cost, c.MinCost), cost, c.MinCost))
	case market.IsBounded(c.MaxCost) && cost > c.MaxCost*(1+costTolerance):
		warnings = append(warnings, warning(pl, "cost", core.ErrCodeAboveMax,
			fmt.Sprintf("cost %v above maximum %v after clipping the amount", cost, c.MaxCost), cost, c.MaxCost))
	}
	return warnings
}

// bound checks v against [lo, hi]. Under clip the nearest bound is returned;
// under warn v is returned with a warning appended.
func (p *preprocessor) bound(pl *Payload, field string, v, lo, hi float64, warnings []core.Warning) (float64, []core.Warning) {
	var code core.ErrorCode
	var limit float64
	switch {
	case market.IsBounded(lo) && v < lo:
		code, limit = core.ErrCodeBelowMin, lo
	case market.IsBounded(hi) && v > hi:
		code, limit = core.ErrCodeAboveMax, hi
	default:
		return v, warnings
	}
	if p.opts.Policy == core.PolicyClip {
		return limit, warnings
	}
	word := "minimum"
	if code == core.ErrCodeAboveMax {
		word = "maximum"
	}
	return v, append(warnings, warning(pl, field, code, fmt.Sprintf("%s %v outside %s %v", field, v, word, limit), v, limit))
}

func warning(pl *Payload, field string, code core.ErrorCode, msg string, value, bound float64) core.Warning {
	return core.Warning{
		Row:     pl.Row,
		Symbol:  pl.Symbol,
		Field:   field,
		Code:    code,
		Message: msg,
		Value:   value,
		Bound:   bound,
	}
}

func rowError(row int, symbol, field string, code core.ErrorCode, msg string) *core.Error {
	return core.NewError(core.ErrorTypeInvalidOrder, msg).
		WithCode(code).
		WithKind(core.KindOrders).
		WithSymbol(symbol).
		WithField(field).
		WithRow(row)
}

func volumeError(row int, symbol string, code core.ErrorCode, msg string) *core.Error {
	return core.NewError(core.ErrorTypeUnresolvableVolume, msg).
		WithCode(code).
		WithKind(core.KindOrders).
		WithSymbol(symbol).
		WithField("amount").
		WithRow(row)
}

func precisionError(symbol, field string, err error) error {
	var e *core.Error
	if errors.As(err, &e) {
		return err
	}
	return core.NewError(core.ErrorTypeInvalidOrder, "apply "+field+" precision").
		WithCode(core.ErrCodePrecision).
		WithSymbol(symbol).
		WithField(field).
		Wrap(err)
}

// withRow stamps the row on a structured error, wrapping other errors.
func withRow(err error, row int) error {
	var e *core.Error
	if errors.As(err, &e) {
		return e.WithRow(row)
	}
	return core.NewError(core.ErrorTypeInvalidOrder, "prepare order").WithRow(row).Wrap(err)
}
