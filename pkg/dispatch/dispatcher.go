// Package dispatch fans out exchange-client calls under a shared concurrency
// bound and collects positionally ordered results.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"nakula/internal/ratelimit"
	"nakula/pkg/core"
)

var validate = validator.New()

// Config holds dispatcher settings.
type Config struct {
	// Limit bounds the calls in flight across every Run sharing the dispatcher.
	Limit int `json:"limit" yaml:"limit" validate:"min=1"`
	// RateLimitRequests and RateLimitPeriod optionally pace call starts.
	// Zero requests disables pacing.
	RateLimitRequests int           `json:"rate_limit_requests" yaml:"rate_limit_requests" validate:"min=0"`
	RateLimitPeriod   time.Duration `json:"rate_limit_period" yaml:"rate_limit_period"`
}

// ConfigFrom takes the dispatcher settings of a session config. Pacing is
// left to the exchange adapter.
func ConfigFrom(cfg *core.Config) Config {
	return Config{Limit: cfg.ConcurrencyLimit}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// Dispatcher owns the admission gate. It is safe for concurrent use and is
// meant to be shared process-wide.
type Dispatcher struct {
	gate     *semaphore.Weighted
	limit    int
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger
	inFlight atomic.Int64
	peak     atomic.Int64
}

// New validates cfg and returns a dispatcher.
func New(cfg Config, opts ...Option) (*Dispatcher, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, core.NewError(core.ErrorTypeInvalidConfig, "invalid dispatcher config").
			WithCode(core.ErrCodeInvalidConfig).
			Wrap(err)
	}
	d := &Dispatcher{
		gate:    semaphore.NewWeighted(int64(cfg.Limit)),
		limit:   cfg.Limit,
		limiter: ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitPeriod),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Limit returns the admission bound.
func (d *Dispatcher) Limit() int {
	return d.limit
}

// Peak returns the highest number of calls observed in flight.
func (d *Dispatcher) Peak() int {
	return int(d.peak.Load())
}

// RunOption configures a single Run.
type RunOption func(*runOptions)

type runOptions struct {
	returnErrors bool
}

// WithReturnErrors selects resilient mode (true, the default), where a
// failed call only fills its own slot, or fail-fast mode (false), where the
// first failure cancels the remaining calls and is returned.
func WithReturnErrors(b bool) RunOption {
	return func(o *runOptions) {
		o.returnErrors = b
	}
}

// Run executes calls concurrently, bounded by the dispatcher's gate, and
// returns one slot per call in input order. Slot errors are *core.Error of
// type Dispatch wrapping the call's error. In fail-fast mode the first
// failure is also returned; slots of calls that never ran hold a cancelled
// error.
func Run[T any](ctx context.Context, d *Dispatcher, calls Calls[T], opts ...RunOption) (Results[T], error) {
	o := runOptions{returnErrors: true}
	for _, opt := range opts {
		opt(&o)
	}

	res := newResults(calls)
	if calls.Len() == 0 {
		return res, nil
	}

	if o.returnErrors {
		var wg sync.WaitGroup
		for i, call := range calls.calls {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res.slots[i] = invoke(ctx, d, calls, i, call)
			}()
		}
		wg.Wait()
		d.logFailures(res.Len(), res.Failed())
		return res, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls.calls {
		g.Go(func() error {
			res.slots[i] = invoke(gctx, d, calls, i, call)
			return res.slots[i].Err
		})
	}
	err := g.Wait()
	d.logFailures(res.Len(), res.Failed())
	return res, err
}

func invoke[T any](ctx context.Context, d *Dispatcher, calls Calls[T], i int, call Call[T]) (r Result[T]) {
	if err := d.gate.Acquire(ctx, 1); err != nil {
		r.Err = slotError(calls, i, core.ErrCodeCancelled, err)
		return r
	}
	defer d.gate.Release(1)

	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if err := d.limiter.Wait(ctx); err != nil {
		r.Err = slotError(calls, i, core.ErrCodeCancelled, err)
		return r
	}

	defer func() {
		if p := recover(); p != nil {
			r = Result[T]{Err: slotError(calls, i, core.ErrCodeCallPanicked, fmt.Errorf("panic: %v", p))}
		}
	}()
	v, err := call(ctx)
	if err != nil {
		return Result[T]{Err: slotError(calls, i, core.ErrCodeCallFailed, err)}
	}
	return Result[T]{Value: v}
}

func slotError[T any](calls Calls[T], i int, code core.ErrorCode, err error) *core.Error {
	msg := fmt.Sprintf("call %d", i)
	if calls.shape == shapeNested {
		g, j := calls.position(i)
		msg = fmt.Sprintf("call %d.%d", g, j)
	}
	switch code {
	case core.ErrCodeCancelled:
		msg += " cancelled"
	case core.ErrCodeCallPanicked:
		msg += " panicked"
	default:
		msg += " failed"
	}
	return core.NewError(core.ErrorTypeDispatch, msg).
		WithCode(code).
		WithRow(i).
		Wrap(err)
}

func (d *Dispatcher) logFailures(calls, failed int) {
	if failed > 0 {
		d.logger.Debug().Int("calls", calls).Int("failed", failed).Msg("dispatch finished with failures")
	}
}
