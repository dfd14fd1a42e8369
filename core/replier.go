package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/miladsoleymani/replymux/internal/ids"
	"github.com/miladsoleymani/replymux/internal/jsoncodec"
)

// ContentTypeJSON is the content type of every reply body.
const ContentTypeJSON = "application/json"

// DefaultPublishRetries is the number of retries after a failed reply publish.
const DefaultPublishRetries = 3

// ReplyOutcome classifies the result of one Reply call.
type ReplyOutcome string

const (
	ReplyPublished  ReplyOutcome = "published"
	ReplyFailed     ReplyOutcome = "failed"
	ReplySkipped    ReplyOutcome = "skipped"
	ReplyNotAllowed ReplyOutcome = "not_allowed"
)

// ReplyObserver is notified of every reply outcome.
type ReplyObserver interface {
	ReplyObserved(outcome ReplyOutcome)
}

// Replier publishes responses to the reply destination of the request that
// produced them, carrying the request's correlation id.
type Replier struct {
	broker   Broker
	retries  int
	backOff  func() backoff.BackOff
	allowed  []string
	matcher  DestinationMatcher
	observer ReplyObserver
	logger   *slog.Logger
}

// ReplierOption configures a Replier.
type ReplierOption func(*Replier)

// WithPublishRetries sets how many times a failed publish is retried.
func WithPublishRetries(n int) ReplierOption {
	return func(r *Replier) { r.retries = n }
}

// WithPublishBackOff sets the backoff between publish retries.
func WithPublishBackOff(fn func() backoff.BackOff) ReplierOption {
	return func(r *Replier) { r.backOff = fn }
}

// WithAllowedReplyTo restricts reply destinations to those matching one of
// the patterns. An empty list allows every destination.
func WithAllowedReplyTo(patterns ...string) ReplierOption {
	return func(r *Replier) { r.allowed = append(r.allowed, patterns...) }
}

// WithReplyObserver registers an observer for reply outcomes.
func WithReplyObserver(o ReplyObserver) ReplierOption {
	return func(r *Replier) { r.observer = o }
}

// WithReplierLogger sets the logger used for retry warnings.
func WithReplierLogger(l *slog.Logger) ReplierOption {
	return func(r *Replier) { r.logger = l }
}

// NewReplier creates a Replier publishing through b.
func NewReplier(b Broker, opts ...ReplierOption) *Replier {
	r := &Replier{
		broker:  b,
		retries: DefaultPublishRetries,
		backOff: defaultPublishBackOff,
		matcher: SegmentMatcher{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultPublishBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Reply sends resp to the envelope's reply destination. It is a successful
// no-op when the envelope has none. Publish failures are retried and then
// returned; they never panic.
func (r *Replier) Reply(ctx context.Context, env *Envelope, resp Response) error {
	replyTo, ok := env.ReplyTo()
	if !ok {
		r.observe(ReplySkipped)
		return nil
	}
	if !r.allow(replyTo) {
		r.observe(ReplyNotAllowed)
		return fmt.Errorf("%w: %q", ErrReplyNotAllowed, replyTo)
	}

	resp.CorrelationID = env.CorrelationID
	body, err := jsoncodec.Marshal(resp)
	if err != nil {
		body, err = jsoncodec.Marshal(Failure(fmt.Errorf("encode response: %w", err), resp.Timestamp))
		if err != nil {
			r.observe(ReplyFailed)
			return fmt.Errorf("replymux: encode response: %w", err)
		}
	}

	out := &Outbound{
		Body:          body,
		CorrelationID: env.CorrelationID,
		ContentType:   ContentTypeJSON,
		MessageID:     ids.NewMessageID(),
	}

	attempt := 0
	op := func() error {
		attempt++
		err := r.broker.Publish(ctx, replyTo, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrBrokerClosed) {
			return backoff.Permanent(err)
		}
		r.logger.WarnContext(ctx, "reply publish failed",
			"reply_to", replyTo, "attempt", attempt, "error", err)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(r.backOff(), uint64(max(r.retries, 0))), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		r.observe(ReplyFailed)
		return fmt.Errorf("replymux: publish reply to %q after %d attempts: %w", replyTo, attempt, err)
	}
	r.observe(ReplyPublished)
	return nil
}

func (r *Replier) allow(dest string) bool {
	if len(r.allowed) == 0 {
		return true
	}
	for _, p := range r.allowed {
		if r.matcher.Match(p, dest) {
			return true
		}
	}
	return false
}

func (r *Replier) observe(o ReplyOutcome) {
	if r.observer != nil {
		r.observer.ReplyObserved(o)
	}
}
