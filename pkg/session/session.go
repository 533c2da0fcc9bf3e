// Package session ties an exchange client to the normalization engine:
// fetched payloads come back as tables, market metadata is cached, and order
// intents are preprocessed and submitted through the shared dispatcher.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"nakula/pkg/core"
	"nakula/pkg/dispatch"
	"nakula/pkg/exchange"
	"nakula/pkg/market"
	"nakula/pkg/normalize"
	"nakula/pkg/table"
)

// ErrClosed is returned by every operation of a closed session.
var ErrClosed = errors.New("session is closed")

// State represents the lifecycle state of a Session.
type State int

const (
	// StateActive indicates a session that is ready to process requests.
	StateActive State = iota
	// StateClosed indicates a session that has been shut down and can no longer be used.
	StateClosed
)

// String returns the string representation of the State.
func (s State) String() string {
	return [...]string{"ACTIVE", "CLOSED"}[s]
}

// Session is a client bound to its config, a dispatcher and a market cache.
// Sessions are safe for concurrent use.
type Session struct {
	mu         sync.RWMutex
	config     *core.Config
	client     exchange.Client
	dispatcher *dispatch.Dispatcher
	cache      *market.Cache
	clock      clock.Clock
	logger     zerolog.Logger
	state      State
	createdAt  time.Time
	lastUsed   time.Time

	// marketsVersion is the cache version of the markets the client holds.
	marketsVersion uint64
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithDispatcher shares a dispatcher, and so its concurrency bound, with
// other sessions.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(s *Session) {
		s.dispatcher = d
	}
}

// WithMarketCache shares a market cache with other sessions.
func WithMarketCache(c *market.Cache) Option {
	return func(s *Session) {
		s.cache = c
	}
}

// WithClock sets the clock stamping session activity.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// New validates config and binds client to a new session.
func New(config *core.Config, client exchange.Client, opts ...Option) (*Session, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	s := &Session{
		config: config,
		client: client,
		clock:  clock.New(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Level(config.Level()).With().Str("exchange", client.Name()).Logger()

	if s.dispatcher == nil {
		d, err := dispatch.New(dispatch.ConfigFrom(config), dispatch.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.dispatcher = d
	}
	if s.cache == nil {
		s.cache = market.NewCache(market.WithClock(s.clock))
	}
	s.createdAt = s.clock.Now()
	s.lastUsed = s.createdAt
	return s, nil
}

// Close closes the client and marks the session closed. Cached markets of
// the exchange are dropped.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.cache.Invalidate(s.client.Name())
	return exchange.Close(s.client)
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Config() *core.Config {
	return s.config
}

func (s *Session) Client() exchange.Client {
	return s.client
}

func (s *Session) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastUsed returns the time of the last operation started on the session.
func (s *Session) LastUsed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}

// use marks the session used, failing once it is closed.
func (s *Session) use() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	s.lastUsed = s.clock.Now()
	return nil
}

func (s *Session) normalizeOptions(opts []normalize.Option) []normalize.Option {
	return append([]normalize.Option{
		normalize.WithDropEmpty(s.config.DropEmpty),
		normalize.WithLogger(s.logger),
	}, opts...)
}

// Fetch calls op once and normalizes the payload as op's kind.
func (s *Session) Fetch(ctx context.Context, op core.Operation, params core.Params, opts ...normalize.Option) (*table.Table, error) {
	if err := s.use(); err != nil {
		return nil, err
	}
	payload, err := s.client.Fetch(ctx, op, params)
	if err != nil {
		return nil, err
	}
	return normalize.NormalizeResponse(payload, op.Kind(), s.normalizeOptions(opts)...)
}

// FetchMany calls op once per params set through the dispatcher and
// normalizes every payload into one table, rows in input order. Failed calls
// contribute no rows; their errors are joined into the returned error, which
// accompanies a table of the successful calls.
func (s *Session) FetchMany(ctx context.Context, op core.Operation, params []core.Params, opts ...normalize.Option) (*table.Table, error) {
	if err := s.use(); err != nil {
		return nil, err
	}

	calls := make([]dispatch.Call[[]core.Record], len(params))
	for i, p := range params {
		calls[i] = s.recordsCall(op, p)
	}
	res, err := dispatch.Run(ctx, s.dispatcher, dispatch.Flat(calls...))
	if err != nil {
		return nil, err
	}

	var records []core.Record
	for _, r := range res.Flat() {
		if r.OK() {
			records = append(records, r.Value...)
		}
	}
	t, err := normalize.Normalize(records, op.Kind(), s.normalizeOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return t, res.Err()
}

// FetchGrid calls op for every params set of every group and normalizes each
// payload into its own table, keeping the grouping. Cells of failed calls are
// nil; their errors are joined into the returned error.
func (s *Session) FetchGrid(ctx context.Context, op core.Operation, grid [][]core.Params, opts ...normalize.Option) ([][]*table.Table, error) {
	if err := s.use(); err != nil {
		return nil, err
	}

	nopts := s.normalizeOptions(opts)
	groups := make([][]dispatch.Call[*table.Table], len(grid))
	for g, row := range grid {
		groups[g] = make([]dispatch.Call[*table.Table], len(row))
		for j, p := range row {
			groups[g][j] = func(ctx context.Context) (*table.Table, error) {
				payload, err := s.client.Fetch(ctx, op, p)
				if err != nil {
					return nil, err
				}
				return normalize.NormalizeResponse(payload, op.Kind(), nopts...)
			}
		}
	}
	res, err := dispatch.Run(ctx, s.dispatcher, dispatch.Nested(groups...))
	if err != nil {
		return nil, err
	}

	out := make([][]*table.Table, len(grid))
	for g, row := range res.Nested() {
		out[g] = make([]*table.Table, len(row))
		for j, r := range row {
			out[g][j] = r.Value
		}
	}
	return out, res.Err()
}

func (s *Session) recordsCall(op core.Operation, params core.Params) dispatch.Call[[]core.Record] {
	return func(ctx context.Context) ([]core.Record, error) {
		payload, err := s.client.Fetch(ctx, op, params)
		if err != nil {
			return nil, err
		}
		return normalize.Records(payload, op.Kind())
	}
}

// Markets returns the cached markets of the exchange, loading them on first use.
func (s *Session) Markets(ctx context.Context) (market.Markets, error) {
	if err := s.use(); err != nil {
		return nil, err
	}
	if m, version, ok := s.cache.Entry(s.client.Name()); ok {
		s.adoptMarkets(m, version)
		return m, nil
	}
	return s.loadMarkets(ctx)
}

// adoptMarkets hands cached markets the client has not loaded itself to the
// client, so its symbol mapping and precision follow the cache.
func (s *Session) adoptMarkets(m market.Markets, version uint64) {
	s.mu.Lock()
	stale := s.marketsVersion != version
	s.marketsVersion = version
	s.mu.Unlock()

	if stale && exchange.UseMarkets(s.client, m) {
		s.logger.Debug().Int("markets", m.Len()).Msg("cached markets adopted")
	}
}

// RefreshMarkets reloads market metadata and replaces the cached entry.
func (s *Session) RefreshMarkets(ctx context.Context) (market.Markets, error) {
	if err := s.use(); err != nil {
		return nil, err
	}
	return s.loadMarkets(ctx)
}

func (s *Session) loadMarkets(ctx context.Context) (market.Markets, error) {
	m, err := s.client.LoadMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	version := s.cache.Put(s.client.Name(), m)
	s.mu.Lock()
	s.marketsVersion = version
	s.mu.Unlock()
	s.logger.Debug().Int("markets", m.Len()).Msg("markets cached")
	return m, nil
}

// Constraints resolves the trading constraints of symbol, loading markets
// when needed.
func (s *Session) Constraints(ctx context.Context, symbol string) (market.Constraints, error) {
	if _, err := s.Markets(ctx); err != nil {
		return market.Unconstrained(symbol), err
	}
	return s.cache.Constraints(s.client.Name(), symbol)
}

// MarketsAge reports how long ago the cached markets were loaded.
func (s *Session) MarketsAge() (time.Duration, bool) {
	return s.cache.Age(s.client.Name())
}
