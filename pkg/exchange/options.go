package exchange

import (
	"fmt"
	"time"

	"nakula/internal/coerce"
	"nakula/pkg/core"
)

// Well-known parameter keys understood by adapters.
const (
	ParamSymbol    = "symbol"
	ParamLimit     = "limit"
	ParamTimeframe = "timeframe"
	ParamSince     = "since"
	ParamUntil     = "until"
)

// Option sets one keyword parameter of a Fetch call.
type Option func(core.Params)

// WithSymbol sets the unified trading symbol.
func WithSymbol(symbol string) Option {
	return func(p core.Params) {
		p[ParamSymbol] = symbol
	}
}

func WithLimit(limit int) Option {
	return func(p core.Params) {
		if limit > 0 {
			p[ParamLimit] = limit
		}
	}
}

// WithTimeframe sets the candle interval, e.g. "1m" or "1h".
func WithTimeframe(timeframe string) Option {
	return func(p core.Params) {
		p[ParamTimeframe] = timeframe
	}
}

// WithTimeRange bounds the query by start and end time. Zero times are left unset.
func WithTimeRange(since, until time.Time) Option {
	return func(p core.Params) {
		if !since.IsZero() {
			p[ParamSince] = since.UnixMilli()
		}
		if !until.IsZero() {
			p[ParamUntil] = until.UnixMilli()
		}
	}
}

// WithParam sets an exchange-specific parameter.
func WithParam(key string, value any) Option {
	return func(p core.Params) {
		p[key] = value
	}
}

// Params builds the keyword parameters of a Fetch call.
func Params(opts ...Option) core.Params {
	p := make(core.Params, len(opts))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StringParam returns the string value of key.
func StringParam(p core.Params, key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok && s != ""
}

// RequiredString returns the string value of key or a bad request error.
func RequiredString(p core.Params, key string) (string, error) {
	s, ok := StringParam(p, key)
	if !ok {
		return "", core.NewError(core.ErrorTypeInvalidConfig, fmt.Sprintf("missing required parameter %q", key)).
			WithCode(core.ErrCodeBadRequest).
			WithField(key)
	}
	return s, nil
}

// IntParam returns the integer value of key, or def when absent or not integral.
func IntParam(p core.Params, key string, def int) int {
	if v, ok := coerce.Int(p[key]); ok {
		return int(v)
	}
	return def
}

// TimeParam returns key as milliseconds since the epoch. Both time.Time
// values and numeric millisecond timestamps are accepted.
func TimeParam(p core.Params, key string) (int64, bool) {
	switch v := p[key].(type) {
	case nil:
		return 0, false
	case time.Time:
		return v.UnixMilli(), !v.IsZero()
	}
	return coerce.Int(p[key])
}
