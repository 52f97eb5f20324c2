package network

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/recordkit/internal/otel"
	"github.com/mesh-intelligence/recordkit/internal/telemetry"
	"github.com/mesh-intelligence/recordkit/pkg/types"
)

// State is the coalescer's refresh state.
type State int

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

// RefreshFunc obtains a new token and installs it for later requests.
type RefreshFunc func(ctx context.Context) error

// CoalescerOption configures a Coalescer.
type CoalescerOption func(*Coalescer)

// WithRefreshTimeout bounds how long a refresh may run before every waiter
// fails with ErrRefreshTimeout.
func WithRefreshTimeout(d time.Duration) CoalescerOption {
	return func(c *Coalescer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the coalescer's logger.
func WithLogger(l *slog.Logger) CoalescerOption {
	return func(c *Coalescer) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTracer sets the tracer used for refresh spans.
func WithTracer(t trace.Tracer) CoalescerOption {
	return func(c *Coalescer) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithMetrics records refreshes and waiters on m.
func WithMetrics(m *otel.Metrics) CoalescerOption {
	return func(c *Coalescer) { c.metrics = m }
}

// Coalescer sends requests through a Sender and serializes token refresh:
// the first request to see an auth-expired response runs the refresh, and
// every request arriving while it runs waits for its outcome instead of
// being sent. On success all of them are sent again; on failure all of
// them receive the refresh error.
type Coalescer struct {
	sender  Sender
	refresh RefreshFunc
	timeout time.Duration
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *otel.Metrics

	mu      sync.Mutex
	state   State
	waiters []chan error
	gen     uint64 // successful refreshes so far
}

// NewCoalescer builds a coalescer that refreshes with refresh.
func NewCoalescer(sender Sender, refresh RefreshFunc, opts ...CoalescerOption) *Coalescer {
	c := &Coalescer{
		sender:  sender,
		refresh: refresh,
		timeout: types.DefaultRefreshTimeout,
		log:     telemetry.Discard(),
		tracer:  otel.Noop().Tracer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current refresh state.
func (c *Coalescer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of requests waiting on the refresh.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Do sends api, refreshing the token at most once per expiry. A caller that
// gives up through ctx stops waiting; the refresh itself keeps running.
//
// A request that fails with an expired token after another refresh has
// already completed is sent once more with the new token instead of
// refreshing again.
func (c *Coalescer) Do(ctx context.Context, api API) (Envelope[json.RawMessage], error) {
	ch, gen, refreshing := c.enqueueIfRefreshing(ctx)
	if refreshing {
		return c.await(ctx, ch, api)
	}

	env, err := c.sender.Send(ctx, api)
	if !IsAuthExpired(err) {
		return env, err
	}

	c.mu.Lock()
	switch {
	case c.state == Refreshing:
		ch := c.enqueueLocked(ctx)
		c.mu.Unlock()
		return c.await(ctx, ch, api)
	case c.gen != gen:
		c.mu.Unlock()
		c.log.Debug("token refreshed meanwhile, resending", "api", api.Path())
		return c.sender.Send(ctx, api)
	}
	c.state = Refreshing
	c.mu.Unlock()

	c.log.Info("token expired, refreshing", "api", api.Path())
	if err := c.runRefresh(ctx); err != nil {
		return Envelope[json.RawMessage]{}, err
	}
	return c.sender.Send(ctx, api)
}

// enqueueIfRefreshing registers a waiter when a refresh is in flight.
// Otherwise it returns the refresh generation the caller's send runs under.
func (c *Coalescer) enqueueIfRefreshing(ctx context.Context) (chan error, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Refreshing {
		return nil, c.gen, false
	}
	return c.enqueueLocked(ctx), c.gen, true
}

func (c *Coalescer) enqueueLocked(ctx context.Context) chan error {
	ch := make(chan error, 1)
	c.waiters = append(c.waiters, ch)
	if c.metrics != nil {
		c.metrics.Waiters.Add(ctx, 1)
	}
	return ch
}

func (c *Coalescer) await(ctx context.Context, ch chan error, api API) (Envelope[json.RawMessage], error) {
	select {
	case err := <-ch:
		if err != nil {
			return Envelope[json.RawMessage]{}, err
		}
		return c.sender.Send(ctx, api)
	case <-ctx.Done():
		return Envelope[json.RawMessage]{}, ctx.Err()
	}
}

// runRefresh runs the refresh with the configured timeout, then returns to
// Idle and hands the outcome to every waiter.
func (c *Coalescer) runRefresh(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	rctx, span := otel.StartSpan(rctx, c.tracer, "recordkit.token.refresh")
	if c.metrics != nil {
		c.metrics.Refreshes.Add(rctx, 1)
	}

	done := make(chan error, 1)
	go func() { done <- c.refresh(rctx) }()

	var err error
	select {
	case err = <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && rctx.Err() != nil {
			err = ErrRefreshTimeout
		}
	case <-rctx.Done():
		err = ErrRefreshTimeout
	}
	otel.EndSpan(span, err)

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.state = Idle
	if err == nil {
		c.gen++
	}
	c.mu.Unlock()

	if err != nil {
		if c.metrics != nil {
			c.metrics.RefreshFailures.Add(rctx, 1)
		}
		c.log.Error("token refresh failed", "waiters", len(waiters), "error", err)
	} else {
		c.log.Info("token refreshed", "waiters", len(waiters))
	}
	for _, ch := range waiters {
		ch <- err
	}
	return err
}

// Do sends api through c and decodes the envelope's data as T.
func Do[T any](ctx context.Context, c *Coalescer, api API) (Envelope[T], error) {
	raw, err := c.Do(ctx, api)
	if err != nil {
		env, _ := Decode[T](raw)
		return env, err
	}
	return Decode[T](raw)
}

// RefreshAPI adapts a refresh endpoint into a RefreshFunc. The call goes
// straight to sender, bypassing any coalescer, and its data is passed to
// onToken to install the new token.
func RefreshAPI(sender Sender, api API, onToken func(ctx context.Context, data json.RawMessage) error) RefreshFunc {
	return func(ctx context.Context) error {
		env, err := sender.Send(ctx, api)
		if err != nil {
			return err
		}
		return onToken(ctx, env.Data)
	}
}
