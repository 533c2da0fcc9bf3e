package core

import (
	"fmt"
	"strings"
)

// Record is a raw exchange record: string keys to JSON-compatible values.
type Record = map[string]any

// Params holds keyword arguments passed to an exchange client operation.
type Params map[string]any

// Clone returns a shallow copy of the params.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// OrderSide represents the direction of an order (buy or sell).
type OrderSide int

// Order side constants define the direction of a trade.
const (
	// SideBuy indicates an order to purchase an asset.
	SideBuy OrderSide = iota
	// SideSell indicates an order to sell an asset.
	SideSell
)

// String returns the unified lowercase form ("buy" or "sell").
func (s OrderSide) String() string {
	return [...]string{"buy", "sell"}[s]
}

// MarshalJSON implements json.Marshaler for OrderSide.
func (s OrderSide) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderSide.
func (s *OrderSide) UnmarshalJSON(data []byte) error {
	side, err := ParseOrderSide(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// ParseOrderSide parses a side in any letter case.
func ParseOrderSide(s string) (OrderSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	}
	return 0, fmt.Errorf("invalid order side %q", s)
}

// OrderType represents the type of order to place on an exchange.
type OrderType int

// Order type constants define how an order is executed.
const (
	// TypeMarket executes immediately at the best available price.
	TypeMarket OrderType = iota
	// TypeLimit executes at a specified price or better.
	TypeLimit
	// TypeStopLoss triggers a market order when price reaches stop price.
	TypeStopLoss
	// TypeStopLossLimit triggers a limit order when price reaches stop price.
	TypeStopLossLimit
	// TypeTakeProfit triggers a market order when price reaches target.
	TypeTakeProfit
	// TypeTakeProfitLimit triggers a limit order when price reaches target.
	TypeTakeProfitLimit
)

var orderTypeNames = [...]string{"market", "limit", "stop_loss", "stop_loss_limit", "take_profit", "take_profit_limit"}

// String returns the unified lowercase form of the order type.
func (t OrderType) String() string {
	return orderTypeNames[t]
}

// IsMarket reports whether the order executes at the prevailing market price.
func (t OrderType) IsMarket() bool {
	return t == TypeMarket || t == TypeStopLoss || t == TypeTakeProfit
}

// RequiresPrice reports whether the order type cannot be placed without a price.
func (t OrderType) RequiresPrice() bool {
	return !t.IsMarket()
}

// MarshalJSON implements json.Marshaler for OrderType.
func (t OrderType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderType.
func (t *OrderType) UnmarshalJSON(data []byte) error {
	ot, err := ParseOrderType(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*t = ot
	return nil
}

// ParseOrderType parses an order type in any letter case; "stop-loss" and
// "STOP_LOSS" are equivalent.
func ParseOrderType(s string) (OrderType, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range orderTypeNames {
		if name == norm {
			return OrderType(i), nil
		}
	}
	return 0, fmt.Errorf("invalid order type %q", s)
}

// Policy selects how out-of-range order values are handled.
type Policy string

const (
	// PolicyClip silently adjusts values to the nearest bound.
	PolicyClip Policy = "clip"
	// PolicyWarn leaves values unchanged and records a warning.
	PolicyWarn Policy = "warn"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == PolicyClip || p == PolicyWarn
}

// UnknownSymbolPolicy selects what happens to orders whose symbol has no market metadata.
type UnknownSymbolPolicy string

const (
	// UnknownSymbolAbort marks the row as failed.
	UnknownSymbolAbort UnknownSymbolPolicy = "abort"
	// UnknownSymbolProceed treats the symbol as unconstrained.
	UnknownSymbolProceed UnknownSymbolPolicy = "proceed"
)
