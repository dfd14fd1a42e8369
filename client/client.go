// Package client sends requests to a replymux worker and waits for the
// correlated replies. It backs the load generator and the integration tests.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miladsoleymani/replymux/core"
	"github.com/miladsoleymani/replymux/internal/correlation"
	"github.com/miladsoleymani/replymux/internal/ids"
	"github.com/miladsoleymani/replymux/internal/jsoncodec"
)

// DefaultTimeout bounds how long Call waits for a reply.
const DefaultTimeout = 30 * time.Second

var (
	// ErrTimeout is returned when no reply arrived within the call timeout.
	ErrTimeout = errors.New("replymux/client: timed out waiting for reply")

	// ErrNoReplyDestination is returned when neither a shared reply destination
	// is configured nor the broker can open inboxes.
	ErrNoReplyDestination = errors.New("replymux/client: no reply destination available")
)

// Reply is a decoded worker response.
type Reply struct {
	CorrelationID string          `json:"-"`
	Status        core.Status     `json:"status"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	Elapsed       time.Duration   `json:"-"`
}

// Err returns the failure carried by an error reply, or nil.
func (r *Reply) Err() error {
	if r.Status != core.StatusError {
		return nil
	}
	var msg string
	if err := jsoncodec.Unmarshal(r.Data, &msg); err != nil {
		msg = string(r.Data)
	}
	return &ReplyError{CorrelationID: r.CorrelationID, Message: msg}
}

// Decode unmarshals the reply data into v.
func (r *Reply) Decode(v any) error {
	return jsoncodec.Unmarshal(r.Data, v)
}

// ReplyError is a handler failure reported by the worker.
type ReplyError struct {
	CorrelationID string
	Message       string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("replymux/client: request %s failed: %s", e.CorrelationID, e.Message)
}

// Option configures a Caller.
type Option func(*Caller)

// WithReplyTo routes every reply to a shared, pre-provisioned destination.
// Listen must be running for replies to be matched.
func WithReplyTo(dest string) Option {
	return func(c *Caller) { c.replyTo = dest }
}

// WithTimeout sets the per-call reply timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Caller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithInboxPrefix sets the naming prefix for per-request inboxes.
// It defaults to the request destination.
func WithInboxPrefix(prefix string) Option {
	return func(c *Caller) { c.inboxPrefix = prefix }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Caller) { c.logger = l }
}

// Caller publishes requests to one destination and matches replies by
// correlation id.
type Caller struct {
	broker      core.Broker
	destination string
	replyTo     string
	inboxPrefix string
	timeout     time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[string]chan *Reply
}

// New creates a Caller for requests sent to destination.
func New(b core.Broker, destination string, opts ...Option) *Caller {
	c := &Caller{
		broker:      b,
		destination: destination,
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
		pending:     make(map[string]chan *Reply),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.inboxPrefix == "" {
		c.inboxPrefix = destination
	}
	return c
}

// Listen consumes the shared reply destination until ctx is cancelled.
// It is only needed with WithReplyTo.
func (c *Caller) Listen(ctx context.Context) error {
	if c.replyTo == "" {
		return ErrNoReplyDestination
	}
	return c.broker.Subscribe(ctx, c.replyTo, c.onReply)
}

// Send publishes a fire-and-forget message without a reply destination.
func (c *Caller) Send(ctx context.Context, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}
	return c.broker.Publish(ctx, c.destination, &core.Outbound{
		Body:        body,
		ContentType: core.ContentTypeJSON,
		MessageID:   ids.NewMessageID(),
	})
}

// Call publishes payload as a request and waits for its reply. A []byte
// payload is sent as is; anything else is JSON encoded.
func (c *Caller) Call(ctx context.Context, payload any) (*Reply, error) {
	body, err := encode(payload)
	if err != nil {
		return nil, err
	}

	corrID := correlation.NewID()
	ch := make(chan *Reply, 1)
	c.mu.Lock()
	c.pending[corrID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, corrID)
		c.mu.Unlock()
	}()

	replyTo := c.replyTo
	if replyTo == "" {
		opener, ok := c.broker.(core.InboxOpener)
		if !ok {
			return nil, ErrNoReplyDestination
		}
		inbox, err := opener.OpenInbox(ctx, c.inboxPrefix, c.onReply)
		if err != nil {
			return nil, fmt.Errorf("replymux/client: open inbox: %w", err)
		}
		defer func() {
			if err := inbox.Close(); err != nil {
				c.logger.Warn("close inbox failed", "reply_to", inbox.Destination, "error", err)
			}
		}()
		replyTo = inbox.Destination
	}

	start := time.Now()
	if err := c.broker.Publish(ctx, c.destination, &core.Outbound{
		Body:          body,
		CorrelationID: corrID,
		ReplyTo:       replyTo,
		ContentType:   core.ContentTypeJSON,
		MessageID:     ids.NewMessageID(),
	}); err != nil {
		return nil, fmt.Errorf("replymux/client: publish request: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		r.Elapsed = time.Since(start)
		return r, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w (correlation id %s)", ErrTimeout, corrID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending reports the number of calls waiting for a reply.
func (c *Caller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// onReply matches an inbound reply to its waiter. Unmatched and malformed
// replies are acknowledged and dropped.
func (c *Caller) onReply(ctx context.Context, msg core.Message) error {
	defer func() { _ = msg.Ack() }()

	headers := msg.Headers()
	corrID := headers[core.HeaderCorrelationID]

	c.mu.Lock()
	ch, ok := c.pending[corrID]
	c.mu.Unlock()
	if !ok {
		c.logger.DebugContext(ctx, "dropping unmatched reply", "correlation_id", corrID)
		return nil
	}

	r := &Reply{CorrelationID: corrID}
	if err := jsoncodec.Unmarshal(msg.Value(), r); err != nil {
		c.logger.WarnContext(ctx, "dropping malformed reply", "correlation_id", corrID, "error", err)
		return nil
	}

	select {
	case ch <- r:
	default:
	}
	return nil
}

func encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case nil:
		return []byte("{}"), nil
	default:
		body, err := jsoncodec.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("replymux/client: encode request: %w", err)
		}
		return body, nil
	}
}
