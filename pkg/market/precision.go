package market

import (
	"fmt"
	"math"

	"github.com/cockroachdb/apd/v3"

	"nakula/pkg/core"
)

// Precision rounds prices and amounts the way an exchange does. Tie-breaking
// and the meaning of precision (decimal places or tick size) belong to the
// implementation.
type Precision interface {
	PriceToPrecision(symbol string, price float64) (float64, error)
	AmountToPrecision(symbol string, amount float64) (float64, error)
}

// PrecisionFuncs adapts two functions to the Precision interface.
type PrecisionFuncs struct {
	Price  func(symbol string, price float64) (float64, error)
	Amount func(symbol string, amount float64) (float64, error)
}

func (f PrecisionFuncs) PriceToPrecision(symbol string, price float64) (float64, error) {
	if f.Price == nil {
		return price, nil
	}
	return f.Price(symbol, price)
}

func (f PrecisionFuncs) AmountToPrecision(symbol string, amount float64) (float64, error) {
	if f.Amount == nil {
		return amount, nil
	}
	return f.Amount(symbol, amount)
}

// PrecisionMode selects how a precision value is interpreted.
type PrecisionMode int

const (
	// DecimalPlaces treats precision 2 as "two digits after the point".
	DecimalPlaces PrecisionMode = iota
	// TickSize treats precision 0.05 as "a multiple of 0.05".
	TickSize
)

func (m PrecisionMode) String() string {
	return [...]string{"decimal_places", "tick_size"}[m]
}

// DecimalPrecision is a Precision over market metadata using exact decimal
// arithmetic. Prices round half-up and amounts truncate unless overridden.
type DecimalPrecision struct {
	markets        Markets
	mode           PrecisionMode
	priceRounding  apd.Rounder
	amountRounding apd.Rounder
}

// DecimalOption configures a DecimalPrecision.
type DecimalOption func(*DecimalPrecision)

// WithPriceRounding sets the rounding mode for prices.
func WithPriceRounding(r apd.Rounder) DecimalOption {
	return func(d *DecimalPrecision) {
		d.priceRounding = r
	}
}

// WithAmountRounding sets the rounding mode for amounts.
func WithAmountRounding(r apd.Rounder) DecimalOption {
	return func(d *DecimalPrecision) {
		d.amountRounding = r
	}
}

func NewDecimalPrecision(markets Markets, mode PrecisionMode, opts ...DecimalOption) *DecimalPrecision {
	d := &DecimalPrecision{
		markets:        markets,
		mode:           mode,
		priceRounding:  apd.RoundHalfUp,
		amountRounding: apd.RoundDown,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *DecimalPrecision) PriceToPrecision(symbol string, price float64) (float64, error) {
	c, err := Resolve(symbol, d.markets)
	if err != nil {
		return price, err
	}
	return d.round(symbol, "price", price, c.PricePrecision, d.priceRounding)
}

func (d *DecimalPrecision) AmountToPrecision(symbol string, amount float64) (float64, error) {
	c, err := Resolve(symbol, d.markets)
	if err != nil {
		return amount, err
	}
	return d.round(symbol, "amount", amount, c.AmountPrecision, d.amountRounding)
}

func (d *DecimalPrecision) round(symbol, field string, v, precision float64, rounding apd.Rounder) (float64, error) {
	if !IsBounded(precision) || math.IsNaN(v) || math.IsInf(v, 0) {
		return v, nil
	}
	var out float64
	var err error
	switch d.mode {
	case TickSize:
		out, err = RoundToTick(v, precision, rounding)
	default:
		if precision < 0 || precision != math.Trunc(precision) {
			err = fmt.Errorf("precision %v is not a number of decimal places", precision)
			break
		}
		out, err = RoundToPlaces(v, int32(precision), rounding)
	}
	if err != nil {
		return v, core.NewError(core.ErrorTypeInvalidOrder, fmt.Sprintf("round %s", field)).
			WithCode(core.ErrCodePrecision).
			WithSymbol(symbol).
			WithField(field).
			Wrap(err)
	}
	return out, nil
}

func newContext(rounding apd.Rounder) *apd.Context {
	ctx := apd.BaseContext.WithPrecision(34)
	ctx.Rounding = rounding
	return ctx
}

// RoundToPlaces rounds v to the given number of decimal places.
func RoundToPlaces(v float64, places int32, rounding apd.Rounder) (float64, error) {
	var d, res apd.Decimal
	if _, err := d.SetFloat64(v); err != nil {
		return v, err
	}
	if _, err := newContext(rounding).Quantize(&res, &d, -places); err != nil {
		return v, err
	}
	return res.Float64()
}

// RoundToTick rounds v to a multiple of tick.
func RoundToTick(v, tick float64, rounding apd.Rounder) (float64, error) {
	if tick <= 0 {
		return v, fmt.Errorf("tick size %v must be positive", tick)
	}
	var d, t, q, res apd.Decimal
	if _, err := d.SetFloat64(v); err != nil {
		return v, err
	}
	if _, err := t.SetFloat64(tick); err != nil {
		return v, err
	}
	ctx := newContext(rounding)
	if _, err := ctx.Quo(&q, &d, &t); err != nil {
		return v, err
	}
	if _, err := ctx.RoundToIntegralValue(&q, &q); err != nil {
		return v, err
	}
	if _, err := ctx.Mul(&res, &q, &t); err != nil {
		return v, err
	}
	return res.Float64()
}
