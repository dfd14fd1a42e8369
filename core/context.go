package core

import (
	"context"
	"fmt"
	"sync"
)

// Context is the per-request handler context. It wraps the decoded envelope,
// provides deserialization via Bind and a small key/value store for middleware.
// Acknowledgement is owned by the Dispatcher, so handlers never ack directly.
type Context interface {
	// Context returns the request-scoped context.Context. It is not cancelled
	// by shutdown; it is cancelled only if the invocation is abandoned.
	Context() context.Context

	// SetContext replaces the underlying context.Context.
	// Useful for middleware that enriches the context with values or deadlines.
	SetContext(ctx context.Context)

	// Envelope returns the decoded inbound message.
	Envelope() *Envelope

	// Destination returns the destination this message was received on.
	Destination() string

	// Body returns the raw message body.
	Body() []byte

	// CorrelationID returns the request correlation id (may be empty for fire-and-forget).
	CorrelationID() string

	// ReplyTo returns the reply destination, if any.
	ReplyTo() (string, bool)

	// Header returns a single header value by key.
	Header(key string) string

	// Headers returns all message headers.
	Headers() map[string]string

	// Bind deserializes the message body into v using the dispatcher's Binder.
	Bind(v any) error

	// Set stores a key-value pair in the context store.
	Set(key string, val any)

	// Get retrieves a value from the context store.
	Get(key string) (any, bool)
}

// HandlerFunc is the application handler. The returned value becomes the
// data of a success response; a returned error becomes an error response.
//
//	d.Handle("queue_example", func(c replymux.Context) (any, error) {
//	    var req Request
//	    if err := c.Bind(&req); err != nil {
//	        return nil, err
//	    }
//	    return process(c.Context(), req)
//	})
type HandlerFunc func(c Context) (any, error)

// MiddlewareFunc wraps a HandlerFunc to add cross-cutting behavior.
type MiddlewareFunc func(HandlerFunc) HandlerFunc

type requestContext struct {
	ctx    context.Context
	env    *Envelope
	binder Binder
	store  map[string]any
	mu     sync.RWMutex
}

// NewContext creates a Context for the given envelope.
// This is called internally by the Dispatcher for each accepted message.
func NewContext(ctx context.Context, env *Envelope, binder Binder) Context {
	return &requestContext{
		ctx:    ctx,
		env:    env,
		binder: binder,
		store:  make(map[string]any),
	}
}

func (c *requestContext) Context() context.Context { return c.ctx }

func (c *requestContext) SetContext(ctx context.Context) { c.ctx = ctx }

func (c *requestContext) Envelope() *Envelope { return c.env }

func (c *requestContext) Destination() string { return c.env.Destination }

func (c *requestContext) Body() []byte { return c.env.Body }

func (c *requestContext) CorrelationID() string { return c.env.CorrelationID }

func (c *requestContext) ReplyTo() (string, bool) { return c.env.ReplyTo() }

func (c *requestContext) Header(key string) string { return c.env.Headers[key] }

func (c *requestContext) Headers() map[string]string { return c.env.Headers }

func (c *requestContext) Bind(v any) error {
	if c.binder == nil {
		return fmt.Errorf("replymux: no binder configured")
	}
	if err := c.binder.Bind(c.env.Body, v); err != nil {
		return fmt.Errorf("replymux: bind: %w", err)
	}
	return nil
}

func (c *requestContext) Set(key string, val any) {
	c.mu.Lock()
	c.store[key] = val
	c.mu.Unlock()
}

func (c *requestContext) Get(key string) (any, bool) {
	c.mu.RLock()
	val, ok := c.store[key]
	c.mu.RUnlock()
	return val, ok
}
