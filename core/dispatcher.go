package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/miladsoleymani/replymux/internal/correlation"
)

const (
	// DefaultReconnectAttempts bounds resubscription after ErrConnectionLost.
	DefaultReconnectAttempts = 5

	// DefaultDedupeSize is how many completed requests are remembered for
	// duplicate suppression.
	DefaultDedupeSize = 4096
)

// Observer receives dispatcher events. Implementations must be safe for
// concurrent use.
type Observer interface {
	InFlightChanged(n int)
	MessageDiscarded(destination, reason string)
}

// PanicError is the error produced when a handler panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("replymux: handler panic: %v", e.Value)
}

// Dispatcher pulls messages from a Broker, runs the registered handler for
// each one in its own goroutine and forwards the outcome to the Replier.
// It provides an Echo-like API for registering handlers and middleware.
type Dispatcher struct {
	broker      Broker
	replier     *Replier
	binder      Binder
	middlewares []MiddlewareFunc
	routes      map[string]HandlerFunc
	logger      *slog.Logger
	observer    Observer
	now         func() time.Time

	maxInFlight       int
	sem               *semaphore.Weighted
	reconnectAttempts int
	reconnectBackOff  func() backoff.BackOff
	fallbackReplyTo   string
	dedupeSize        int

	tracker        *inflight
	handlerCtx     context.Context
	cancelHandlers context.CancelFunc
	abandoned      atomic.Bool

	mu      sync.RWMutex
	started bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithReplier sets the reply publisher. By default a Replier over the
// dispatcher's broker with default settings is used.
func WithReplier(r *Replier) DispatcherOption {
	return func(d *Dispatcher) { d.replier = r }
}

// WithMaxInFlight caps concurrently running handler invocations.
// Zero or negative means unbounded.
func WithMaxInFlight(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxInFlight = n }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithObserver registers an Observer for in-flight and discard events.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// WithReconnectAttempts bounds resubscription after a lost connection.
func WithReconnectAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) { d.reconnectAttempts = n }
}

// WithReconnectBackOff sets the backoff used between resubscription attempts.
func WithReconnectBackOff(fn func() backoff.BackOff) DispatcherOption {
	return func(d *Dispatcher) { d.reconnectBackOff = fn }
}

// WithFallbackReplyTo sets the reply destination used for requests that carry
// a correlation id but no reply-to of their own.
func WithFallbackReplyTo(dest string) DispatcherOption {
	return func(d *Dispatcher) { d.fallbackReplyTo = dest }
}

// WithDedupeSize sets how many completed requests are remembered to suppress
// duplicate replies. Zero disables the memory.
func WithDedupeSize(n int) DispatcherOption {
	return func(d *Dispatcher) { d.dedupeSize = n }
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a Dispatcher bound to the given Broker.
// It uses JSONBinder for Context.Bind.
func NewDispatcher(b Broker, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		broker:            b,
		binder:            JSONBinder{},
		routes:            make(map[string]HandlerFunc),
		logger:            slog.Default(),
		now:               time.Now,
		reconnectAttempts: DefaultReconnectAttempts,
		reconnectBackOff:  defaultReconnectBackOff,
		dedupeSize:        DefaultDedupeSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.replier == nil {
		d.replier = NewReplier(b)
	}
	if d.maxInFlight > 0 {
		d.sem = semaphore.NewWeighted(int64(d.maxInFlight))
	}
	d.tracker = newInflight(d.dedupeSize)
	d.handlerCtx, d.cancelHandlers = context.WithCancel(context.Background())
	return d
}

func defaultReconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// SetBinder replaces the binder used by Context.Bind. Must be called before Consume.
func (d *Dispatcher) SetBinder(b Binder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.binder = b
}

// Use registers global middleware. Given middleware [A, B], the call order
// is A -> B -> handler.
func (d *Dispatcher) Use(m MiddlewareFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, m)
}

// Handle registers a handler for a source destination (queue, subject or queue URL).
func (d *Dispatcher) Handle(destination string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[destination] = h
}

// InFlight reports the number of handler invocations currently running.
func (d *Dispatcher) InFlight() int {
	return d.tracker.count()
}

// Consume subscribes to every registered destination and dispatches messages
// until ctx is cancelled or a subscription fails for good. Cancelling ctx
// only stops intake; use Drain to wait for in-flight work.
func (d *Dispatcher) Consume(ctx context.Context) error {
	d.mu.Lock()
	if d.broker == nil {
		d.mu.Unlock()
		return ErrNoBroker
	}
	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(d.routes) == 0 {
		d.mu.Unlock()
		return ErrNoHandler
	}
	d.started = true

	routes := make(map[string]HandlerFunc, len(d.routes))
	for k, v := range d.routes {
		routes[k] = v
	}
	mws := make([]MiddlewareFunc, len(d.middlewares))
	copy(mws, d.middlewares)
	binder := d.binder
	d.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for dest, h := range routes {
		handler := d.deliver(dest, applyMiddleware(h, mws), binder)
		g.Go(func() error {
			return d.subscribe(gctx, dest, handler)
		})
	}
	return g.Wait()
}

// subscribe runs one subscription, resubscribing after connection loss.
func (d *Dispatcher) subscribe(ctx context.Context, dest string, h Handler) error {
	attempt := 0
	op := func() error {
		err := d.broker.Subscribe(ctx, dest, h)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, ErrConnectionLost) {
			return backoff.Permanent(err)
		}
		attempt++
		d.logger.WarnContext(ctx, "subscription lost",
			"destination", dest, "attempt", attempt, "error", err)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(d.reconnectBackOff(), uint64(max(d.reconnectAttempts, 0))), ctx)
	if err := backoff.Retry(op, policy); err != nil && ctx.Err() == nil {
		return fmt.Errorf("replymux: subscribe %q: %w", dest, err)
	}
	return nil
}

// deliver bridges the broker-level Handler to the dispatch pipeline.
func (d *Dispatcher) deliver(dest string, h HandlerFunc, binder Binder) Handler {
	return func(ctx context.Context, msg Message) error {
		env, err := Decode(dest, msg, d.now())
		if err != nil {
			d.logger.WarnContext(ctx, "discarding undecodable message",
				"destination", dest, "error", err)
			d.discarded(dest, "decode")
			if ackErr := msg.Ack(); ackErr != nil {
				d.logger.ErrorContext(ctx, "ack failed", "destination", dest, "error", ackErr)
			}
			return nil
		}
		if _, ok := env.ReplyTo(); !ok && env.CorrelationID != "" {
			env.SetReplyTo(d.fallbackReplyTo)
		}

		release := func() {}
		if d.sem != nil {
			if err := d.sem.Acquire(ctx, 1); err != nil {
				return ErrDraining
			}
			release = func() { d.sem.Release(1) }
		}

		key := dedupeKey(env)
		switch d.tracker.acquire(key, msg) {
		case admitDraining:
			release()
			return ErrDraining
		case admitDuplicateInFlight:
			release()
			d.logger.DebugContext(ctx, "duplicate delivery parked until the original settles",
				"destination", dest, "correlation_id", env.CorrelationID)
			d.discarded(dest, "duplicate_in_flight")
			return nil
		case admitDuplicateDone:
			release()
			d.logger.InfoContext(ctx, "duplicate delivery already replied, acknowledging",
				"destination", dest, "correlation_id", env.CorrelationID)
			d.discarded(dest, "duplicate")
			if err := env.Ack(); err != nil {
				d.logger.ErrorContext(ctx, "ack failed", "destination", dest, "error", err)
			}
			return nil
		}

		d.inFlightChanged()
		go d.process(env, key, h, binder, release)
		return nil
	}
}

// process runs one invocation to completion: handler, reply, ack.
func (d *Dispatcher) process(env *Envelope, key string, h HandlerFunc, binder Binder, release func()) {
	completed := false
	defer func() {
		release()
		d.settleDuplicates(env, d.tracker.release(key, completed), completed)
		d.inFlightChanged()
	}()

	ctx := correlation.WithID(d.handlerCtx, env.CorrelationID)
	result, err := invoke(h, NewContext(ctx, env, binder))

	if d.abandoned.Load() {
		d.logger.WarnContext(ctx, "discarding result of abandoned invocation",
			"destination", env.Destination)
		return
	}

	resp := NewResponse(result, err, d.now())
	if replyTo, ok := env.ReplyTo(); ok {
		if rerr := d.replier.Reply(ctx, env, resp); rerr != nil {
			d.logger.ErrorContext(ctx, "reply dropped",
				"destination", env.Destination, "reply_to", replyTo, "error", rerr)
		}
	} else if err != nil {
		d.logger.ErrorContext(ctx, "handler failed without reply destination",
			"destination", env.Destination, "error", err)
	}

	if err := env.Ack(); err != nil {
		d.logger.ErrorContext(ctx, "ack failed", "destination", env.Destination, "error", err)
		return
	}
	completed = true
}

// Drain stops intake and waits for in-flight invocations to finish. If ctx
// ends first the remaining invocations are abandoned: their handler contexts
// are cancelled, their results discarded and their messages left unsettled
// for broker redelivery. It returns the number of abandoned invocations.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	idle := d.tracker.drain()
	select {
	case <-idle:
		return 0, nil
	case <-ctx.Done():
		d.abandoned.Store(true)
		n := d.tracker.count()
		d.cancelHandlers()
		return n, ctx.Err()
	}
}

// settleDuplicates acks deliveries parked behind env when its reply went out
// and nacks them otherwise, so the broker can hand one of them out again.
func (d *Dispatcher) settleDuplicates(env *Envelope, parked []Message, completed bool) {
	for _, msg := range parked {
		settle, op := msg.Nack, "nack"
		if completed {
			settle, op = msg.Ack, "ack"
		}
		if err := settle(); err != nil {
			d.logger.Error(op+" of duplicate failed",
				"destination", env.Destination, "correlation_id", env.CorrelationID, "error", err)
		}
	}
}

func (d *Dispatcher) inFlightChanged() {
	if d.observer != nil {
		d.observer.InFlightChanged(d.tracker.count())
	}
}

func (d *Dispatcher) discarded(dest, reason string) {
	if d.observer != nil {
		d.observer.MessageDiscarded(dest, reason)
	}
}

// invoke runs h, converting a panic into a *PanicError.
func invoke(h HandlerFunc, c Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h(c)
}

func dedupeKey(env *Envelope) string {
	replyTo, ok := env.ReplyTo()
	if !ok || env.CorrelationID == "" {
		return ""
	}
	return env.CorrelationID + "\x00" + replyTo
}

// applyMiddleware wraps a handler with middleware in reverse order.
// Given middleware [A, B, C], the call order is A -> B -> C -> handler.
func applyMiddleware(h HandlerFunc, mws []MiddlewareFunc) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
