package binance

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"nakula/internal/circuitbreaker"
	httpClient "nakula/internal/http"
	"nakula/internal/ratelimit"
	"nakula/pkg/core"
	"nakula/pkg/exchange"
	"nakula/pkg/market"
)

// Name is the exchange identifier of the adapter.
const Name = "binance"

var (
	_ exchange.Client      = (*Exchange)(nil)
	_ exchange.MarketsUser = (*Exchange)(nil)
)

// Exchange is a Binance spot client serving public market data. Requests
// are paced by endpoint weight and isolated by a circuit breaker.
type Exchange struct {
	config         *core.Config
	httpClient     *httpClient.Client
	rateLimiter    *ratelimit.Limiter
	circuitBreaker *circuitbreaker.Breaker
	logger         zerolog.Logger

	mu        sync.RWMutex
	markets   market.Markets
	symbols   *symbols
	precision *market.DecimalPrecision
}

// Option is a functional option for configuring the Exchange.
type Option func(*Options)

// Options holds configuration options for the Exchange.
type Options struct {
	Logger         zerolog.Logger
	BreakerOptions []circuitbreaker.Option
}

// WithLogger returns an option that sets the logger for the exchange.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithBreakerOptions passes options to the circuit breaker, e.g. a mock clock.
func WithBreakerOptions(opts ...circuitbreaker.Option) Option {
	return func(o *Options) {
		o.BreakerOptions = append(o.BreakerOptions, opts...)
	}
}

// New creates a Binance client from the transport settings of config.
func New(config *core.Config, opts ...Option) (*Exchange, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	options := &Options{
		Logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.Logger.With().Str("exchange", Name).Logger()

	client, err := httpClient.NewClient(httpClient.ConfigFrom(config, baseURL(config)), httpClient.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	var cb *circuitbreaker.Breaker
	if config.CircuitBreakerEnabled {
		breakerOpts := append([]circuitbreaker.Option{
			circuitbreaker.OnStateChange(func(from, to circuitbreaker.State) {
				logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			}),
		}, options.BreakerOptions...)
		cb = circuitbreaker.New(circuitbreaker.ConfigFrom(config), breakerOpts...)
	}

	return &Exchange{
		config:         config,
		httpClient:     client,
		rateLimiter:    ratelimit.New(config.RateLimitRequests, config.RateLimitPeriod),
		circuitBreaker: cb,
		logger:         logger,
		symbols:        &symbols{},
	}, nil
}

// baseURL returns the API base URL for sandbox or production.
func baseURL(config *core.Config) string {
	if config.Sandbox {
		return SandboxURL
	}
	return ProductionURL
}

// Register creates an Exchange and registers it with the container.
func Register(container *exchange.Container, config *core.Config, opts ...Option) error {
	ex, err := New(config, opts...)
	if err != nil {
		return fmt.Errorf("create binance exchange: %w", err)
	}
	return container.Register(ex)
}

func (e *Exchange) Name() string {
	return Name
}

// Close releases the HTTP client.
func (e *Exchange) Close() error {
	if e.httpClient != nil {
		return e.httpClient.Close()
	}
	return nil
}

// Fetch serves the public operations: markets, ticker(s), order book,
// trades and OHLCV. Account and trading operations are unsupported.
func (e *Exchange) Fetch(ctx context.Context, op core.Operation, params core.Params) (any, error) {
	e.mu.RLock()
	sym := e.symbols
	e.mu.RUnlock()

	req, err := buildRequest(op, params, sym)
	if err != nil {
		return nil, err
	}
	body, err := e.do(ctx, op, req)
	if err != nil {
		return nil, err
	}

	switch op {
	case core.OpFetchMarkets:
		markets, err := e.storeMarkets(body)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(markets))
		for k, v := range markets {
			out[k] = v
		}
		return out, nil

	case core.OpFetchTicker:
		var t rawTicker
		if err := decode(op, body, &t); err != nil {
			return nil, err
		}
		return unifyTicker(t, sym), nil

	case core.OpFetchTickers:
		var ts []rawTicker
		if err := decode(op, body, &ts); err != nil {
			return nil, err
		}
		return unifyTickers(ts, sym), nil

	case core.OpFetchOrderBook:
		var book rawOrderBook
		if err := decode(op, body, &book); err != nil {
			return nil, err
		}
		symbol, _ := exchange.StringParam(params, exchange.ParamSymbol)
		return unifyOrderBook(book, symbol), nil

	case core.OpFetchTrades:
		var trades []rawTrade
		if err := decode(op, body, &trades); err != nil {
			return nil, err
		}
		symbol, _ := exchange.StringParam(params, exchange.ParamSymbol)
		return unifyTrades(trades, symbol), nil
	}

	// Klines are already [openTime, open, high, low, close, volume, ...] arrays.
	var payload any
	if err := decode(op, body, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// LoadMarkets fetches exchangeInfo and keeps it for symbol mapping and precision.
func (e *Exchange) LoadMarkets(ctx context.Context) (market.Markets, error) {
	req, err := buildRequest(core.OpFetchMarkets, nil, nil)
	if err != nil {
		return nil, err
	}
	body, err := e.do(ctx, core.OpFetchMarkets, req)
	if err != nil {
		return nil, err
	}
	return e.storeMarkets(body)
}

func (e *Exchange) storeMarkets(body []byte) (market.Markets, error) {
	var info rawExchangeInfo
	if err := decode(core.OpFetchMarkets, body, &info); err != nil {
		return nil, err
	}
	markets, sym := unifyMarkets(&info)
	e.setMarkets(markets, sym)
	e.logger.Debug().Int("markets", markets.Len()).Msg("markets loaded")
	return markets, nil
}

// UseMarkets adopts markets loaded by another client of the exchange, such
// as one sharing a market cache.
func (e *Exchange) UseMarkets(markets market.Markets) {
	e.setMarkets(markets, symbolsFrom(markets))
}

func (e *Exchange) setMarkets(markets market.Markets, sym *symbols) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markets = markets
	e.symbols = sym
	e.precision = market.NewDecimalPrecision(markets, market.TickSize)
}

// Markets returns the markets of the last load, or nil before the first one.
func (e *Exchange) Markets() market.Markets {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.markets
}

// PriceToPrecision rounds price to the symbol's tick size, half-up.
func (e *Exchange) PriceToPrecision(symbol string, price float64) (float64, error) {
	p, err := e.loadedPrecision()
	if err != nil {
		return price, err
	}
	return p.PriceToPrecision(symbol, price)
}

// AmountToPrecision truncates amount to the symbol's step size.
func (e *Exchange) AmountToPrecision(symbol string, amount float64) (float64, error) {
	p, err := e.loadedPrecision()
	if err != nil {
		return amount, err
	}
	return p.AmountToPrecision(symbol, amount)
}

func (e *Exchange) loadedPrecision() (*market.DecimalPrecision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.precision == nil {
		return nil, fmt.Errorf("%s: %w", Name, core.ErrNoMarkets)
	}
	return e.precision, nil
}

func (e *Exchange) do(ctx context.Context, op core.Operation, req *core.Request) ([]byte, error) {
	if err := e.rateLimiter.WaitN(ctx, req.Weight); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	if e.circuitBreaker != nil {
		if err := e.circuitBreaker.Allow(); err != nil {
			return nil, fmt.Errorf("%s %s: %w", Name, op, err)
		}
	}

	resp, err := e.httpClient.Do(ctx, req)
	if e.circuitBreaker != nil {
		e.circuitBreaker.Record(err == nil && !upstreamFailure(resp.StatusCode()))
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", Name, op, err)
	}
	if err := checkResponse(op, resp); err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}

func decode(op core.Operation, body []byte, v any) error {
	if err := sonic.Unmarshal(body, v); err != nil {
		return core.NewError(core.ErrorTypeMalformedResponse, fmt.Sprintf("decode %s response", op)).
			WithCode(core.ErrCodeMalformedResponse).
			WithKind(op.Kind()).
			Wrap(err)
	}
	return nil
}
