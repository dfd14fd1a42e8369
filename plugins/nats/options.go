package nats

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Option configures the NATS broker.
type Option func(*options)

type options struct {
	// Stream
	maxMsgs   int64
	maxBytes  int64
	maxAge    time.Duration
	replicas  int
	retention jetstream.RetentionPolicy
	storage   jetstream.StorageType

	// Consumer
	ackWait    time.Duration
	maxDeliver int

	// Connection
	name         string
	flushTimeout time.Duration
	connectOpts  []nats.Option
}

func defaults() options {
	return options{
		maxMsgs:      -1, // unlimited
		maxBytes:     -1,
		maxAge:       0,
		replicas:     1,
		retention:    jetstream.LimitsPolicy,
		storage:      jetstream.FileStorage,
		ackWait:      30 * time.Second,
		maxDeliver:   5,
		name:         "replymux",
		flushTimeout: 5 * time.Second,
	}
}

// WithMaxMessages sets the maximum number of messages per stream.
func WithMaxMessages(n int64) Option {
	return func(o *options) { o.maxMsgs = n }
}

// WithMaxBytes sets the maximum total size of a stream.
func WithMaxBytes(n int64) Option {
	return func(o *options) { o.maxBytes = n }
}

// WithMaxAge sets the maximum age of messages in the stream.
func WithMaxAge(d time.Duration) Option {
	return func(o *options) { o.maxAge = d }
}

// WithReplicas sets the stream replication factor.
func WithReplicas(n int) Option {
	return func(o *options) { o.replicas = n }
}

// WithRetention sets the stream retention policy.
func WithRetention(r jetstream.RetentionPolicy) Option {
	return func(o *options) { o.retention = r }
}

// WithStorage sets the stream storage type (file or memory).
func WithStorage(s jetstream.StorageType) Option {
	return func(o *options) { o.storage = s }
}

// WithAckWait sets how long the server waits for an ack before redelivering.
// It should exceed the slowest expected handler.
func WithAckWait(d time.Duration) Option {
	return func(o *options) { o.ackWait = d }
}

// WithMaxDeliver sets the maximum number of delivery attempts.
func WithMaxDeliver(n int) Option {
	return func(o *options) { o.maxDeliver = n }
}

// WithName sets the client connection name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithFlushTimeout bounds how long Close waits for pending publishes.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) { o.flushTimeout = d }
}

// WithConnectOptions passes extra options to nats.Connect.
func WithConnectOptions(opts ...nats.Option) Option {
	return func(o *options) { o.connectOpts = append(o.connectOpts, opts...) }
}
