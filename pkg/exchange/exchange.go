// Package exchange defines the capability an exchange adapter offers to the
// normalization engine and a registry to hold several of them.
package exchange

import (
	"context"
	"io"

	"nakula/pkg/core"
	"nakula/pkg/market"
)

// Client is an exchange adapter seen as a capability object: it fetches a
// named operation with keyword params, serves market metadata and rounds
// prices and amounts the way the venue does.
//
// Fetch returns the decoded JSON payload of the operation (a list of
// records, a document keyed by symbol, OHLCV arrays, ...). Adapters
// return a core.Error of type Unsupported for operations they do not serve.
type Client interface {
	market.Precision

	// Name returns the exchange identifier, e.g. "binance".
	Name() string
	Fetch(ctx context.Context, op core.Operation, params core.Params) (any, error)
	// LoadMarkets returns market metadata keyed by unified symbol.
	LoadMarkets(ctx context.Context) (market.Markets, error)
}

// Close releases c when it holds resources.
func Close(c Client) error {
	if closer, ok := c.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// MarketsUser is implemented by clients that can adopt market metadata
// loaded elsewhere, such as by another client of the same exchange sharing
// a market cache. After UseMarkets the client maps symbols and rounds
// prices and amounts as if it had loaded markets itself.
type MarketsUser interface {
	UseMarkets(markets market.Markets)
}

// UseMarkets hands markets to c and reports whether c adopted them.
func UseMarkets(c Client, markets market.Markets) bool {
	u, ok := c.(MarketsUser)
	if ok {
		u.UseMarkets(markets)
	}
	return ok
}

// Unsupported returns the error adapters report for an operation they do not serve.
func Unsupported(exchange string, op core.Operation) *core.Error {
	return core.NewError(core.ErrorTypeUnsupported, exchange+" does not support "+op.String()).
		WithCode(core.ErrCodeUnsupported).
		WithKind(op.Kind())
}

// ClientFunc adapts a fetch function into a Client without market metadata.
// It is handy in tests and for wrapping third-party SDKs.
type ClientFunc struct {
	ID      string
	FetchFn func(ctx context.Context, op core.Operation, params core.Params) (any, error)
	Markets market.Markets
	market.PrecisionFuncs
}

func (f *ClientFunc) Name() string {
	return f.ID
}

func (f *ClientFunc) Fetch(ctx context.Context, op core.Operation, params core.Params) (any, error) {
	if f.FetchFn == nil {
		return nil, Unsupported(f.ID, op)
	}
	return f.FetchFn(ctx, op, params)
}

func (f *ClientFunc) LoadMarkets(ctx context.Context) (market.Markets, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.Markets, nil
}
