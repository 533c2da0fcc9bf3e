package order

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"nakula/pkg/core"
	"nakula/pkg/table"
)

// IntentBuilder provides a fluent interface for constructing one order
// intent row. It accumulates the first error and reports it on Build.
//
// Example:
//
//	row, err := order.NewIntentBuilder("BTC/USDT").
//	    Buy().
//	    Limit().
//	    Price(655.41).
//	    Notional(10).
//	    Param("postOnly", true).
//	    Build()
type IntentBuilder struct {
	intent core.Record
	side   bool
	typ    bool
	err    error
}

// NewIntentBuilder creates a builder for the given trading symbol.
func NewIntentBuilder(symbol string) *IntentBuilder {
	return &IntentBuilder{
		intent: core.Record{"symbol": symbol},
	}
}

// Side sets the order side (buy or sell).
func (b *IntentBuilder) Side(side core.OrderSide) *IntentBuilder {
	if b.err != nil {
		return b
	}
	b.intent["side"] = side.String()
	b.side = true
	return b
}

// Buy sets the order side to buy.
func (b *IntentBuilder) Buy() *IntentBuilder {
	return b.Side(core.SideBuy)
}

// Sell sets the order side to sell.
func (b *IntentBuilder) Sell() *IntentBuilder {
	return b.Side(core.SideSell)
}

// Type sets the order type (market, limit, etc.).
func (b *IntentBuilder) Type(orderType core.OrderType) *IntentBuilder {
	if b.err != nil {
		return b
	}
	b.intent["type"] = orderType.String()
	b.typ = true
	return b
}

// Market sets the order type to market.
func (b *IntentBuilder) Market() *IntentBuilder {
	return b.Type(core.TypeMarket)
}

// Limit sets the order type to limit.
func (b *IntentBuilder) Limit() *IntentBuilder {
	return b.Type(core.TypeLimit)
}

func (b *IntentBuilder) Price(price float64) *IntentBuilder {
	return b.set("price", price)
}

// PriceString sets the price from its decimal representation.
func (b *IntentBuilder) PriceString(price string) *IntentBuilder {
	return b.setString("price", price)
}

func (b *IntentBuilder) Amount(amount float64) *IntentBuilder {
	return b.set("amount", amount)
}

// AmountString sets the amount from its decimal representation.
func (b *IntentBuilder) AmountString(amount string) *IntentBuilder {
	return b.setString("amount", amount)
}

// Notional sizes the order by quote value instead of amount.
func (b *IntentBuilder) Notional(notional float64) *IntentBuilder {
	return b.set("notional", notional)
}

// ID sets a caller-side identifier carried through to the payload.
func (b *IntentBuilder) ID(id string) *IntentBuilder {
	if b.err != nil {
		return b
	}
	b.intent["id"] = id
	return b
}

// Param sets one exchange-specific parameter, stored as a params_<key>
// column until preprocessing packs it.
func (b *IntentBuilder) Param(key string, value any) *IntentBuilder {
	if b.err != nil {
		return b
	}
	if key == "" {
		b.err = fmt.Errorf("param key is required")
		return b
	}
	b.intent[ParamsColumn+table.Sep+key] = value
	return b
}

// TimeInForce sets the timeInForce param (GTC, IOC, FOK, PO).
func (b *IntentBuilder) TimeInForce(tif string) *IntentBuilder {
	return b.Param("timeInForce", tif)
}

// GTC sets the time-in-force to Good-Till-Cancelled.
func (b *IntentBuilder) GTC() *IntentBuilder {
	return b.TimeInForce("GTC")
}

// IOC sets the time-in-force to Immediate-Or-Cancel.
func (b *IntentBuilder) IOC() *IntentBuilder {
	return b.TimeInForce("IOC")
}

// FOK sets the time-in-force to Fill-Or-Kill.
func (b *IntentBuilder) FOK() *IntentBuilder {
	return b.TimeInForce("FOK")
}

// ClientOrderID sets a client-assigned identifier for order tracking.
func (b *IntentBuilder) ClientOrderID(id string) *IntentBuilder {
	return b.Param(ClientOrderIDKey, id)
}

func (b *IntentBuilder) set(field string, v float64) *IntentBuilder {
	if b.err != nil {
		return b
	}
	if v <= 0 {
		b.err = fmt.Errorf("%s must be positive", field)
		return b
	}
	b.intent[field] = v
	return b
}

func (b *IntentBuilder) setString(field, s string) *IntentBuilder {
	if b.err != nil {
		return b
	}
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		b.err = fmt.Errorf("parse %s: %w", field, err)
		return b
	}
	f, err := d.Float64()
	if err != nil {
		b.err = fmt.Errorf("parse %s: %w", field, err)
		return b
	}
	return b.set(field, f)
}

// Build validates and returns the intent row.
func (b *IntentBuilder) Build() (core.Record, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	out := make(core.Record, len(b.intent))
	for k, v := range b.intent {
		out[k] = v
	}
	return out, nil
}

func (b *IntentBuilder) validate() error {
	if s, _ := b.intent["symbol"].(string); s == "" {
		return fmt.Errorf("symbol is required")
	}
	if !b.side {
		return fmt.Errorf("order side is required")
	}
	if !b.typ {
		return fmt.Errorf("order type is required")
	}
	if _, ok := b.intent["amount"]; ok {
		if _, ok := b.intent["notional"]; ok {
			return fmt.Errorf("amount and notional are mutually exclusive")
		}
	}
	typ, _ := core.ParseOrderType(b.intent["type"].(string))
	if _, ok := b.intent["price"]; typ.RequiresPrice() && !ok {
		return fmt.Errorf("price is required for %s orders", typ)
	}
	return nil
}

// Intents builds an intent table from builders, in order.
func Intents(builders ...*IntentBuilder) (*table.Table, error) {
	t := table.New()
	for i, b := range builders {
		rec, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("intent %d: %w", i, err)
		}
		t.AppendRow(rec)
	}
	return t, nil
}
