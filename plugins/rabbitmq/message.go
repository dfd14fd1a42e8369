package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/miladsoleymani/replymux/core"
)

// message adapts an amqp.Delivery to core.Message.
type message struct {
	delivery amqp.Delivery
	requeue  bool
	autoAck  bool
}

func (m *message) Key() []byte   { return []byte(m.delivery.RoutingKey) }
func (m *message) Value() []byte { return m.delivery.Body }

// Headers returns the AMQP headers with the native correlation properties
// mapped onto the canonical header names.
func (m *message) Headers() map[string]string {
	h := make(map[string]string, len(m.delivery.Headers)+4)
	for k, v := range m.delivery.Headers {
		if s, ok := v.(string); ok {
			h[k] = s
		} else {
			h[k] = fmt.Sprintf("%v", v)
		}
	}
	if m.delivery.CorrelationId != "" {
		h[core.HeaderCorrelationID] = m.delivery.CorrelationId
	}
	if m.delivery.ReplyTo != "" {
		h[core.HeaderReplyTo] = m.delivery.ReplyTo
	}
	if m.delivery.MessageId != "" {
		h[core.HeaderMessageID] = m.delivery.MessageId
	}
	if m.delivery.ContentType != "" {
		h[core.HeaderContentType] = m.delivery.ContentType
	}
	return h
}

// Ack acknowledges the message, removing it from the queue.
func (m *message) Ack() error {
	if m.autoAck {
		return nil
	}
	if err := m.delivery.Ack(false); err != nil {
		return fmt.Errorf("replymux/rabbitmq: ack: %w", err)
	}
	return nil
}

// Nack negatively acknowledges the message. If requeue is enabled,
// the message is returned to the queue for redelivery.
func (m *message) Nack() error {
	if m.autoAck {
		return nil
	}
	if err := m.delivery.Nack(false, m.requeue); err != nil {
		return fmt.Errorf("replymux/rabbitmq: nack: %w", err)
	}
	return nil
}

// toPublishing maps an Outbound onto AMQP properties. Correlation metadata
// travels in the native fields, not in the header table.
func toPublishing(out *core.Outbound, persistent bool) amqp.Publishing {
	p := amqp.Publishing{
		Body:          out.Body,
		CorrelationId: out.CorrelationID,
		ReplyTo:       out.ReplyTo,
		ContentType:   out.ContentType,
		MessageId:     out.MessageID,
	}
	if persistent {
		p.DeliveryMode = amqp.Persistent
	}
	if len(out.Headers) > 0 {
		p.Headers = make(amqp.Table, len(out.Headers))
		for k, v := range out.Headers {
			p.Headers[k] = v
		}
	}
	return p
}
