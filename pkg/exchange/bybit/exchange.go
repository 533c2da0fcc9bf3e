package bybit

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
const Name = "bybit"

var (
	_ exchange.Client      = (*Exchange)(nil)
	_ exchange.MarketsUser = (*Exchange)(nil)
)

// Exchange is a Bybit v5 client serving public market data of one category.
type Exchange struct {
	config         *core.Config
	category       Category
	httpClient     *httpClient.Client
	rateLimiter    *ratelimit.Limiter
	circuitBreaker *circuitbreaker.Breaker
	logger         zerolog.Logger

	mu        sync.RWMutex
	markets   market.Markets
	symbols   *symbols
	precision *market.DecimalPrecision
}

type Option func(*Options)

type Options struct {
	Logger         zerolog.Logger
	Category       Category
	BreakerOptions []circuitbreaker.Option
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithCategory selects spot (the default) or linear perpetuals.
func WithCategory(c Category) Option {
	return func(o *Options) {
		o.Category = c
	}
}

func WithBreakerOptions(opts ...circuitbreaker.Option) Option {
	return func(o *Options) {
		o.BreakerOptions = append(o.BreakerOptions, opts...)
	}
}

// New creates a Bybit client from the transport settings of config.
func New(config *core.Config, opts ...Option) (*Exchange, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	options := &Options{
		Logger:   zerolog.Nop(),
		Category: CategorySpot,
	}
	for _, opt := range opts {
		opt(options)
	}
	if !options.Category.valid() {
		return nil, fmt.Errorf("unsupported bybit category %q", options.Category)
	}
	logger := options.Logger.With().Str("exchange", Name).Str("category", string(options.Category)).Logger()

	base := ProductionURL
	if config.Sandbox {
		base = SandboxURL
	}
	client, err := httpClient.NewClient(httpClient.ConfigFrom(config, base), httpClient.WithLogger(logger))
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
		category:       options.Category,
		httpClient:     client,
		rateLimiter:    ratelimit.New(config.RateLimitRequests, config.RateLimitPeriod),
		circuitBreaker: cb,
		logger:         logger,
		symbols:        &symbols{category: options.Category},
	}, nil
}

// Register creates an Exchange and registers it with the container.
func Register(container *exchange.Container, config *core.Config, opts ...Option) error {
	ex, err := New(config, opts...)
	if err != nil {
		return fmt.Errorf("create bybit exchange: %w", err)
	}
	return container.Register(ex)
}

func (e *Exchange) Name() string {
	return Name
}

func (e *Exchange) Category() Category {
	return e.category
}

func (e *Exchange) Close() error {
	if e.httpClient != nil {
		return e.httpClient.Close()
	}
	return nil
}

// Fetch serves markets, ticker(s), order book, trades and OHLCV, plus
// funding rates for the linear category.
func (e *Exchange) Fetch(ctx context.Context, op core.Operation, params core.Params) (any, error) {
	e.mu.RLock()
	sym := e.symbols
	e.mu.RUnlock()

	req, err := buildRequest(e.category, op, params, sym)
	if err != nil {
		return nil, err
	}
	body, env, err := e.do(ctx, op, req)
	if err != nil {
		return nil, err
	}
	symbol, _ := exchange.StringParam(params, exchange.ParamSymbol)

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
		res, err := decodeResult[rawTickers](op, body)
		if err != nil {
			return nil, err
		}
		if len(res.List) == 0 {
			return nil, core.NewError(core.ErrorTypeUnknownSymbol, fmt.Sprintf("no ticker for %s", symbol)).
				WithCode(core.ErrCodeUnknownSymbol).
				WithKind(op.Kind()).
				WithSymbol(symbol)
		}
		return unifyTicker(res.List[0], sym, env.Time), nil

	case core.OpFetchTickers:
		res, err := decodeResult[rawTickers](op, body)
		if err != nil {
			return nil, err
		}
		return unifyTickers(res.List, sym, env.Time), nil

	case core.OpFetchFundingRates:
		res, err := decodeResult[rawTickers](op, body)
		if err != nil {
			return nil, err
		}
		return unifyFundingRates(res.List, sym, env.Time), nil

	case core.OpFetchOrderBook:
		res, err := decodeResult[rawOrderBook](op, body)
		if err != nil {
			return nil, err
		}
		return unifyOrderBook(res, symbol), nil

	case core.OpFetchTrades:
		res, err := decodeResult[rawTrades](op, body)
		if err != nil {
			return nil, err
		}
		return unifyTrades(res.List, symbol), nil
	}

	res, err := decodeResult[rawKlines](op, body)
	if err != nil {
		return nil, err
	}
	return unifyKlines(res.List)
}

// LoadMarkets fetches instruments-info and keeps it for symbol mapping and precision.
func (e *Exchange) LoadMarkets(ctx context.Context) (market.Markets, error) {
	req, err := buildRequest(e.category, core.OpFetchMarkets, nil, nil)
	if err != nil {
		return nil, err
	}
	body, _, err := e.do(ctx, core.OpFetchMarkets, req)
	if err != nil {
		return nil, err
	}
	return e.storeMarkets(body)
}

func (e *Exchange) storeMarkets(body []byte) (market.Markets, error) {
	res, err := decodeResult[rawInstruments](core.OpFetchMarkets, body)
	if err != nil {
		return nil, err
	}
	markets, sym := unifyMarkets(e.category, &res)
	e.setMarkets(markets, sym)
	e.logger.Debug().Int("markets", markets.Len()).Msg("markets loaded")
	return markets, nil
}

// UseMarkets adopts markets of the client's category loaded by another
// client, such as one sharing a market cache.
func (e *Exchange) UseMarkets(markets market.Markets) {
	e.setMarkets(markets, symbolsFrom(e.category, markets))
}

func (e *Exchange) setMarkets(markets market.Markets, sym *symbols) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markets = markets
	e.symbols = sym
	e.precision = market.NewDecimalPrecision(markets, market.TickSize)
}

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

// AmountToPrecision truncates amount to the symbol's quantity step.
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

func (e *Exchange) do(ctx context.Context, op core.Operation, req *core.Request) ([]byte, *envelope, error) {
	if err := e.rateLimiter.WaitN(ctx, req.Weight); err != nil {
		return nil, nil, fmt.Errorf("rate limit: %w", err)
	}

	if e.circuitBreaker != nil {
		if err := e.circuitBreaker.Allow(); err != nil {
			return nil, nil, fmt.Errorf("%s %s: %w", Name, op, err)
		}
	}

	resp, err := e.httpClient.Do(ctx, req)
	if err != nil {
		if e.circuitBreaker != nil {
			e.circuitBreaker.Record(false)
		}
		return nil, nil, fmt.Errorf("%s %s: %w", Name, op, err)
	}
	env, err := checkResponse(op, resp)
	if e.circuitBreaker != nil {
		e.circuitBreaker.Record(!upstreamFailure(err))
	}
	if err != nil {
		return nil, nil, err
	}
	return resp.Bytes(), env, nil
}

func decodeResult[T any](op core.Operation, body []byte) (T, error) {
	var env struct {
		Result T `json:"result"`
	}
	if err := sonic.Unmarshal(body, &env); err != nil {
		return env.Result, core.NewError(core.ErrorTypeMalformedResponse, fmt.Sprintf("decode %s result", op)).
			WithCode(core.ErrCodeMalformedResponse).
			WithKind(op.Kind()).
			Wrap(err)
	}
	return env.Result, nil
}
