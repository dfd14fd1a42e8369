package sqs

import "time"

// Option configures the SQS broker.
type Option func(*options)

type options struct {
	waitTimeSeconds   int32
	maxMessages       int32
	visibilityTimeout int32
	maxReceiveErrors  int
	errorBackoff      time.Duration
	settleTimeout     time.Duration
}

func defaults() options {
	return options{
		waitTimeSeconds:  20, // long polling
		maxMessages:      10,
		maxReceiveErrors: 5,
		errorBackoff:     time.Second,
		settleTimeout:    10 * time.Second,
	}
}

// WithWaitTime sets the long-poll wait per ReceiveMessage call (0-20s).
func WithWaitTime(seconds int32) Option {
	return func(o *options) { o.waitTimeSeconds = seconds }
}

// WithMaxMessages sets the receive batch size (1-10).
func WithMaxMessages(n int32) Option {
	return func(o *options) { o.maxMessages = n }
}

// WithVisibilityTimeout overrides the queue's visibility timeout for received
// messages. It should exceed the slowest expected handler. Zero keeps the
// queue default.
func WithVisibilityTimeout(seconds int32) Option {
	return func(o *options) { o.visibilityTimeout = seconds }
}

// WithMaxReceiveErrors sets how many consecutive receive failures are
// tolerated before Subscribe reports the connection as lost.
func WithMaxReceiveErrors(n int) Option {
	return func(o *options) { o.maxReceiveErrors = n }
}

// WithErrorBackoff sets the pause after a failed receive.
func WithErrorBackoff(d time.Duration) Option {
	return func(o *options) { o.errorBackoff = d }
}
