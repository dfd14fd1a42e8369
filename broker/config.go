package broker

// Config holds broker-agnostic configuration.
// Broker plugins extract the fields they need.
type Config struct {
	// Brokers is a list of broker addresses: AMQP URIs, NATS URLs, Kafka
	// bootstrap servers or an SQS endpoint override.
	Brokers []string

	// Group is the consumer group, durable consumer name or queue group.
	Group string

	// Extra holds plugin-specific configuration, for example
	// "prefetch_count" (rabbitmq) or "region" (sqs).
	Extra map[string]any
}

// String returns the Extra value for key, or "".
func (c Config) String(key string) string {
	s, _ := c.Extra[key].(string)
	return s
}

// Int returns the Extra value for key, or 0.
func (c Config) Int(key string) int {
	n, _ := c.Extra[key].(int)
	return n
}

// Bool returns the Extra value for key, or false.
func (c Config) Bool(key string) bool {
	b, _ := c.Extra[key].(bool)
	return b
}
