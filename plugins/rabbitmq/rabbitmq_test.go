package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"github.com/miladsoleymani/replymux/broker"
	"github.com/miladsoleymani/replymux/core"
)

func TestMessage_HeadersMapNativeProperties(t *testing.T) {
	m := &message{delivery: amqp.Delivery{
		RoutingKey:    "queue_example",
		Body:          []byte(`{}`),
		CorrelationId: "corr-1",
		ReplyTo:       "amq.gen-abc",
		MessageId:     "01HX",
		ContentType:   "application/json",
		Headers:       amqp.Table{"tenant": "t1", "attempt": int32(2)},
	}}

	h := m.Headers()
	assert.Equal(t, "corr-1", h[core.HeaderCorrelationID])
	assert.Equal(t, "amq.gen-abc", h[core.HeaderReplyTo])
	assert.Equal(t, "01HX", h[core.HeaderMessageID])
	assert.Equal(t, "application/json", h[core.HeaderContentType])
	assert.Equal(t, "t1", h["tenant"])
	assert.Equal(t, "2", h["attempt"])
	assert.Equal(t, []byte("queue_example"), m.Key())
}

func TestMessage_FireAndForgetHasNoCorrelationHeaders(t *testing.T) {
	m := &message{delivery: amqp.Delivery{Body: []byte("x")}}
	h := m.Headers()
	_, hasCorr := h[core.HeaderCorrelationID]
	_, hasReply := h[core.HeaderReplyTo]
	assert.False(t, hasCorr)
	assert.False(t, hasReply)
}

func TestMessage_AutoAckSettlementIsNoop(t *testing.T) {
	m := &message{delivery: amqp.Delivery{}, autoAck: true}
	assert.NoError(t, m.Ack())
	assert.NoError(t, m.Nack())
}

func TestMessage_AckWithoutChannelFails(t *testing.T) {
	m := &message{delivery: amqp.Delivery{}}
	assert.Error(t, m.Ack())
	assert.Error(t, m.Nack())
}

func TestToPublishing(t *testing.T) {
	p := toPublishing(&core.Outbound{
		Body:          []byte(`{"status":"success"}`),
		CorrelationID: "corr-1",
		ContentType:   "application/json",
		MessageID:     "01HX",
		Headers:       map[string]string{"tenant": "t1"},
	}, true)

	assert.Equal(t, "corr-1", p.CorrelationId)
	assert.Empty(t, p.ReplyTo)
	assert.Equal(t, "application/json", p.ContentType)
	assert.Equal(t, "01HX", p.MessageId)
	assert.Equal(t, amqp.Persistent, p.DeliveryMode)
	assert.Equal(t, amqp.Table{"tenant": "t1"}, p.Headers)

	req := toPublishing(&core.Outbound{CorrelationID: "c", ReplyTo: "amq.gen-1"}, false)
	assert.Equal(t, "amq.gen-1", req.ReplyTo)
	assert.Zero(t, req.DeliveryMode)
	assert.Nil(t, req.Headers)
}

func TestOptsFromConfig(t *testing.T) {
	assert.Nil(t, optsFromConfig(broker.Config{}))

	fns := optsFromConfig(broker.Config{Extra: map[string]any{
		"exchange":       "rpc",
		"exchange_type":  "topic",
		"routing_key":    "tasks",
		"prefetch_count": 50,
		"auto_ack":       true,
		"persistent":     true,
	}})
	o := defaults()
	for _, fn := range fns {
		fn(&o)
	}
	assert.Equal(t, "rpc", o.exchange)
	assert.Equal(t, "topic", o.exchangeType)
	assert.Equal(t, "tasks", o.routingKey)
	assert.Equal(t, 50, o.prefetchCount)
	assert.True(t, o.autoAck)
	assert.True(t, o.persistent)
	assert.True(t, o.durable)
	assert.True(t, o.requeueOnNack)
}

func TestRegisteredFactoryRequiresURI(t *testing.T) {
	_, err := broker.Create("rabbitmq", broker.Config{})
	assert.Error(t, err)
}
