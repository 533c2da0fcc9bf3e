package normalize

import (
	"github.com/rs/zerolog"

	"nakula/pkg/taxonomy"
)

// Option is a functional option for a single Normalize call.
type Option func(*Options)

// Options holds the per-call settings of the normalizer.
type Options struct {
	// DropEmpty removes all-missing columns after coercion.
	DropEmpty bool
	// Retain lists columns never pruned, by raw or normalized name.
	Retain []string
	// Registry supplies the field taxonomy.
	Registry *taxonomy.Registry
	Logger   zerolog.Logger
}

// WithDropEmpty toggles pruning of all-missing columns. Default true.
func WithDropEmpty(drop bool) Option {
	return func(o *Options) {
		o.DropEmpty = drop
	}
}

// WithRetain keeps the named columns even when they are empty.
func WithRetain(columns ...string) Option {
	return func(o *Options) {
		o.Retain = append(o.Retain, columns...)
	}
}

// WithRegistry replaces the built-in taxonomy registry.
func WithRegistry(r *taxonomy.Registry) Option {
	return func(o *Options) {
		o.Registry = r
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

func applyOptions(opts ...Option) *Options {
	o := &Options{
		DropEmpty: true,
		Registry:  taxonomy.Default(),
		Logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.Registry == nil {
		o.Registry = taxonomy.Default()
	}
	return o
}
