package core

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

// Envelope is the decoded form of one inbound message.
type Envelope struct {
	CorrelationID string
	Body          []byte
	Headers       map[string]string
	// Destination is the subscription the message arrived on.
	Destination string
	ReceivedAt  time.Time

	replyTo  string
	hasReply bool

	msg     Message
	settle  sync.Once
	settled error
}

// Decode builds an Envelope from a delivery. It fails when the correlation
// metadata cannot be used to route a reply.
func Decode(destination string, msg Message, now time.Time) (*Envelope, error) {
	headers := msg.Headers()
	for k, v := range headers {
		if (k == HeaderCorrelationID || k == HeaderReplyTo) && !utf8.ValidString(v) {
			return nil, fmt.Errorf("%w: header %q is not valid UTF-8", ErrMalformedMetadata, k)
		}
	}

	env := &Envelope{
		CorrelationID: headers[HeaderCorrelationID],
		Body:          msg.Value(),
		Headers:       headers,
		Destination:   destination,
		ReceivedAt:    now,
		msg:           msg,
	}
	if r := headers[HeaderReplyTo]; r != "" {
		env.replyTo, env.hasReply = r, true
	}
	if env.hasReply && env.CorrelationID == "" {
		return nil, ErrMissingCorrelationID
	}
	return env, nil
}

// ReplyTo returns the reply destination and whether one is present.
// An envelope without one is fire-and-forget.
func (e *Envelope) ReplyTo() (string, bool) {
	return e.replyTo, e.hasReply
}

// SetReplyTo assigns a reply destination. Used for configured fallbacks.
func (e *Envelope) SetReplyTo(dest string) {
	if dest == "" {
		return
	}
	e.replyTo, e.hasReply = dest, true
}

// Age reports how long ago the envelope was dequeued.
func (e *Envelope) Age(now time.Time) time.Duration {
	return now.Sub(e.ReceivedAt)
}

// Message returns the underlying delivery.
func (e *Envelope) Message() Message { return e.msg }

// Ack acknowledges the delivery. Only the first Ack or Nack reaches the broker.
func (e *Envelope) Ack() error {
	e.settle.Do(func() { e.settled = e.msg.Ack() })
	return e.settled
}

// Nack rejects the delivery. Only the first Ack or Nack reaches the broker.
func (e *Envelope) Nack() error {
	e.settle.Do(func() { e.settled = e.msg.Nack() })
	return e.settled
}

// NewEnvelope builds an envelope directly, bypassing Decode. Intended for tests
// and for callers that already hold decoded metadata.
func NewEnvelope(msg Message, correlationID, replyTo string, body []byte) *Envelope {
	env := &Envelope{
		CorrelationID: correlationID,
		Body:          body,
		Headers:       map[string]string{},
		ReceivedAt:    time.Now(),
		msg:           msg,
	}
	env.SetReplyTo(replyTo)
	return env
}
