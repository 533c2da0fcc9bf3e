// Package ratelimit paces outbound exchange calls with weighted token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces requests against a shared budget plus optional named
// buckets. Every request carries a weight, as exchanges such as Binance
// charge heavier endpoints more than one unit. A nil *Limiter never blocks.
type Limiter struct {
	global   *rate.Limiter
	buckets  sync.Map
	requests int
	period   time.Duration

	acquired atomic.Int64
	denied   atomic.Int64
	weight   atomic.Int64
	nbuckets atomic.Int32
}

// New returns a limiter allowing requests units of weight per period, with a
// burst of the full budget. requests <= 0 disables pacing and returns nil.
func New(requests int, period time.Duration) *Limiter {
	if requests <= 0 || period <= 0 {
		return nil
	}
	return &Limiter{
		global:   newBucket(requests, period),
		requests: requests,
		period:   period,
	}
}

func newBucket(requests int, period time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(requests)/period.Seconds()), requests)
}

// Wait blocks until one unit of weight is available.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.WaitN(ctx, 1)
}

// WaitN blocks until weight units are available or ctx is done. Weights
// above the budget are capped at the burst so they can still proceed.
func (l *Limiter) WaitN(ctx context.Context, weight int) error {
	if l == nil {
		return nil
	}
	return l.wait(ctx, l.global, weight)
}

// WaitBucket charges weight to the named bucket and to the shared budget.
// Buckets are created on demand with the limiter's budget.
func (l *Limiter) WaitBucket(ctx context.Context, bucket string, weight int) error {
	if l == nil {
		return nil
	}
	if err := l.wait(ctx, l.bucket(bucket), weight); err != nil {
		return fmt.Errorf("bucket %s: %w", bucket, err)
	}
	return l.wait(ctx, l.global, weight)
}

func (l *Limiter) wait(ctx context.Context, lim *rate.Limiter, weight int) error {
	weight = max(1, min(weight, lim.Burst()))
	if err := lim.WaitN(ctx, weight); err != nil {
		l.denied.Add(1)
		return err
	}
	l.acquired.Add(1)
	l.weight.Add(int64(weight))
	return nil
}

// Allow reports whether one unit is available now, consuming it if so.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	if l.global.Allow() {
		l.acquired.Add(1)
		l.weight.Add(1)
		return true
	}
	l.denied.Add(1)
	return false
}

func (l *Limiter) bucket(name string) *rate.Limiter {
	if v, ok := l.buckets.Load(name); ok {
		return v.(*rate.Limiter)
	}
	actual, loaded := l.buckets.LoadOrStore(name, newBucket(l.requests, l.period))
	if !loaded {
		l.nbuckets.Add(1)
	}
	return actual.(*rate.Limiter)
}

// SetBucketLimit overrides the budget of one bucket.
func (l *Limiter) SetBucketLimit(bucket string, requests int, period time.Duration) {
	if l == nil || requests <= 0 || period <= 0 {
		return
	}
	b := l.bucket(bucket)
	b.SetLimit(rate.Limit(float64(requests) / period.Seconds()))
	b.SetBurst(requests)
}

// Stats is a point-in-time capture of limiter usage.
type Stats struct {
	// Acquired counts successful waits.
	Acquired int64
	// Denied counts waits abandoned because the context ended first.
	Denied int64
	// Weight is the total weight charged.
	Weight  int64
	Buckets int32
}

func (l *Limiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	return Stats{
		Acquired: l.acquired.Load(),
		Denied:   l.denied.Load(),
		Weight:   l.weight.Load(),
		Buckets:  l.nbuckets.Load(),
	}
}
