package core

import "context"

// Canonical header names for correlation metadata. Adapters whose broker has
// native properties (AMQP correlation_id/reply_to, SQS message attributes)
// map them onto these keys on receive.
const (
	HeaderCorrelationID = "correlation-id"
	HeaderReplyTo       = "reply-to"
	HeaderMessageID     = "message-id"
	HeaderContentType   = "content-type"
)

// Message is the broker-agnostic view of one inbound delivery.
// Implementations are provided by broker plugins.
type Message interface {
	Key() []byte
	Value() []byte
	Headers() map[string]string
	Ack() error
	Nack() error
}

// Handler is the low-level callback used by broker subscriptions.
// A non-nil return tells the adapter to Nack the delivery.
type Handler func(ctx context.Context, msg Message) error

// Outbound is a message published through Broker.Publish.
type Outbound struct {
	Body          []byte
	CorrelationID string
	// ReplyTo is only set on requests.
	ReplyTo     string
	ContentType string
	MessageID   string
	Headers     map[string]string
}

// AllHeaders merges Headers with the correlation metadata under the canonical keys.
// Adapters without native correlation properties publish this map.
func (o *Outbound) AllHeaders() map[string]string {
	h := make(map[string]string, len(o.Headers)+4)
	for k, v := range o.Headers {
		h[k] = v
	}
	if o.CorrelationID != "" {
		h[HeaderCorrelationID] = o.CorrelationID
	}
	if o.ReplyTo != "" {
		h[HeaderReplyTo] = o.ReplyTo
	}
	if o.MessageID != "" {
		h[HeaderMessageID] = o.MessageID
	}
	if o.ContentType != "" {
		h[HeaderContentType] = o.ContentType
	}
	return h
}
