package order

import (
	"github.com/rs/zerolog"

	"nakula/pkg/core"
)

// ParamsColumn is the dict-valued column that carries exchange-specific
// order parameters. Columns named params_<key> are packed into it.
const ParamsColumn = "params"

// ClientOrderIDKey is the params key filled by WithClientOrderIDs.
const ClientOrderIDKey = "clientOrderId"

// Option is a functional option for a single Preprocess call.
type Option func(*Options)

// Options holds the per-call settings of the preprocessor.
type Options struct {
	// Policy decides between clipping and warning on out-of-range values.
	Policy core.Policy
	// Strict turns per-row failures into a batch failure.
	Strict bool
	// Enforce toggles limit checks. Precision is applied regardless.
	Enforce bool
	// UnknownSymbol decides between aborting and proceeding unconstrained.
	UnknownSymbol core.UnknownSymbolPolicy
	// ReferencePrices maps symbol to the last price used to size market
	// orders given as notional.
	ReferencePrices map[string]float64
	// ClientOrderIDs fills params.clientOrderId when absent.
	ClientOrderIDs bool
	Logger         zerolog.Logger
}

// WithPolicy sets the out-of-range policy. Default warn.
func WithPolicy(p core.Policy) Option {
	return func(o *Options) {
		o.Policy = p
	}
}

// WithStrict aborts the batch on the first malformed or unresolvable row.
func WithStrict(strict bool) Option {
	return func(o *Options) {
		o.Strict = strict
	}
}

// WithEnforcement toggles limit enforcement. Default true.
func WithEnforcement(enforce bool) Option {
	return func(o *Options) {
		o.Enforce = enforce
	}
}

func WithUnknownSymbol(p core.UnknownSymbolPolicy) Option {
	return func(o *Options) {
		o.UnknownSymbol = p
	}
}

// WithReferencePrices supplies prices for sizing market orders by notional.
func WithReferencePrices(prices map[string]float64) Option {
	return func(o *Options) {
		o.ReferencePrices = prices
	}
}

// WithClientOrderIDs assigns a random client order id to rows without one.
func WithClientOrderIDs() Option {
	return func(o *Options) {
		o.ClientOrderIDs = true
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// FromConfig maps the order settings of cfg onto options.
func FromConfig(cfg *core.Config) []Option {
	return []Option{
		WithPolicy(cfg.OutOfRangePolicy),
		WithStrict(cfg.StrictRows),
		WithUnknownSymbol(cfg.UnknownSymbol),
	}
}

func applyOptions(opts ...Option) *Options {
	o := &Options{
		Policy:        core.PolicyWarn,
		Enforce:       true,
		UnknownSymbol: core.UnknownSymbolAbort,
		Logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
