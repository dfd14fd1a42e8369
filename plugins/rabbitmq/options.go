package rabbitmq

// Option configures the RabbitMQ broker.
type Option func(*options)

type options struct {
	// Exchange settings
	exchange     string
	exchangeType string
	routingKey   string

	// Queue settings
	durable    bool
	autoDelete bool

	// Consumer settings
	prefetchCount int
	requeueOnNack bool
	autoAck       bool

	// Publisher settings
	persistent bool
}

func defaults() options {
	return options{
		exchange:      "",       // default exchange
		exchangeType:  "direct", // direct, fanout, topic, headers
		durable:       true,
		prefetchCount: 10,
		requeueOnNack: true,
	}
}

// WithExchange sets the exchange name and type. Requests are published to
// it and subscribed queues are bound to it. Replies always use the default
// exchange so they reach the requester's queue by name.
func WithExchange(name, kind string) Option {
	return func(o *options) {
		o.exchange = name
		o.exchangeType = kind
	}
}

// WithRoutingKey sets the routing key for queue binding.
func WithRoutingKey(key string) Option {
	return func(o *options) { o.routingKey = key }
}

// WithDurable controls whether queues survive broker restart.
func WithDurable(d bool) Option {
	return func(o *options) { o.durable = d }
}

// WithPrefetchCount sets how many unacknowledged messages a consumer may hold.
// This is the intake back-pressure for manual-ack consumers.
func WithPrefetchCount(n int) Option {
	return func(o *options) { o.prefetchCount = n }
}

// WithRequeueOnNack controls whether nacked messages are requeued.
func WithRequeueOnNack(requeue bool) Option {
	return func(o *options) { o.requeueOnNack = requeue }
}

// WithAutoDelete causes the queue to be deleted when the last consumer disconnects.
func WithAutoDelete(d bool) Option {
	return func(o *options) { o.autoDelete = d }
}

// WithAutoAck makes the broker consider messages settled at delivery.
// Ack and Nack become no-ops and a failed reply is not redelivered.
func WithAutoAck(auto bool) Option {
	return func(o *options) { o.autoAck = auto }
}

// WithPersistent marks published messages as persistent.
func WithPersistent(p bool) Option {
	return func(o *options) { o.persistent = p }
}
