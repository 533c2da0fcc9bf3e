// Package market resolves per-symbol trading constraints from exchange market
// metadata and defines the precision capability the order preprocessor
// delegates rounding to.
package market

import (
	"fmt"
	"math"

	"nakula/internal/coerce"
	"nakula/pkg/core"
)

// Markets is exchange market metadata keyed by unified symbol. Each value uses
// the unified shape {precision:{price,amount}, limits:{price|amount|cost:{min,max}}};
// already-flattened keys such as limits_amount_min are accepted too.
type Markets map[string]core.Record

// Len returns the number of markets.
func (m Markets) Len() int {
	return len(m)
}

// Unbounded is the sentinel for an absent precision or bound.
var Unbounded = math.NaN()

// IsBounded reports whether v is a real bound rather than the sentinel.
func IsBounded(v float64) bool {
	return !math.IsNaN(v)
}

// Constraints are the trading rules of one symbol. Absent fields hold Unbounded.
type Constraints struct {
	Symbol string `json:"symbol"`
	// PricePrecision is decimal places or tick size, as the exchange declares it.
	PricePrecision  float64 `json:"price_precision"`
	AmountPrecision float64 `json:"amount_precision"`
	MinPrice        float64 `json:"min_price"`
	MaxPrice        float64 `json:"max_price"`
	MinAmount       float64 `json:"min_amount"`
	MaxAmount       float64 `json:"max_amount"`
	MinCost         float64 `json:"min_cost"`
	MaxCost         float64 `json:"max_cost"`
}

// Unconstrained returns constraints with every field unbounded.
func Unconstrained(symbol string) Constraints {
	return Constraints{
		Symbol:          symbol,
		PricePrecision:  Unbounded,
		AmountPrecision: Unbounded,
		MinPrice:        Unbounded,
		MaxPrice:        Unbounded,
		MinAmount:       Unbounded,
		MaxAmount:       Unbounded,
		MinCost:         Unbounded,
		MaxCost:         Unbounded,
	}
}

// Resolve returns the constraints of symbol. Missing sub-fields become
// Unbounded individually; a symbol absent from markets is an unknown symbol error.
func Resolve(symbol string, markets Markets) (Constraints, error) {
	rec, ok := markets[symbol]
	if !ok || rec == nil {
		return Unconstrained(symbol), core.NewError(core.ErrorTypeUnknownSymbol,
			fmt.Sprintf("symbol %q not found in %d markets", symbol, len(markets))).
			WithCode(core.ErrCodeUnknownSymbol).
			WithKind(core.KindMarkets).
			WithSymbol(symbol)
	}
	return Constraints{
		Symbol:          symbol,
		PricePrecision:  lookup(rec, "precision", "price"),
		AmountPrecision: lookup(rec, "precision", "amount"),
		MinPrice:        lookup(rec, "limits", "price", "min"),
		MaxPrice:        lookup(rec, "limits", "price", "max"),
		MinAmount:       lookup(rec, "limits", "amount", "min"),
		MaxAmount:       lookup(rec, "limits", "amount", "max"),
		MinCost:         lookup(rec, "limits", "cost", "min"),
		MaxCost:         lookup(rec, "limits", "cost", "max"),
	}, nil
}

// lookup walks the nested path, falling back to the flattened parent_child
// key at each level.
func lookup(rec map[string]any, path ...string) float64 {
	if len(path) == 0 {
		return Unbounded
	}
	if len(path) == 1 {
		if f, ok := coerce.Float(rec[path[0]]); ok {
			return f
		}
		return Unbounded
	}
	if child, ok := rec[path[0]].(map[string]any); ok {
		if v := lookup(child, path[1:]...); IsBounded(v) {
			return v
		}
	}
	flat := path[0] + "_" + path[1]
	return lookup(rec, append([]string{flat}, path[2:]...)...)
}
