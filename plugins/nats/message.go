package nats

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/miladsoleymani/replymux/core"
)

// message adapts a JetStream message to core.Message.
type message struct {
	msg jetstream.Msg
}

func (m *message) Key() []byte                { return []byte(m.msg.Subject()) }
func (m *message) Value() []byte              { return m.msg.Data() }
func (m *message) Headers() map[string]string { return fromHeader(m.msg.Headers()) }

// Ack acknowledges the message, marking it as processed.
func (m *message) Ack() error {
	if err := m.msg.Ack(); err != nil {
		return fmt.Errorf("replymux/nats: ack: %w", err)
	}
	return nil
}

// Nack signals that the message could not be processed.
// The server will redeliver it according to the consumer's MaxDeliver setting.
func (m *message) Nack() error {
	if err := m.msg.Nak(); err != nil {
		return fmt.Errorf("replymux/nats: nack: %w", err)
	}
	return nil
}

// inboxMessage adapts a core NATS message received on an inbox.
// Core subscriptions have no acknowledgement.
type inboxMessage struct {
	msg *nats.Msg
}

func (m *inboxMessage) Key() []byte                { return []byte(m.msg.Subject) }
func (m *inboxMessage) Value() []byte              { return m.msg.Data }
func (m *inboxMessage) Headers() map[string]string { return fromHeader(m.msg.Header) }
func (m *inboxMessage) Ack() error                 { return nil }
func (m *inboxMessage) Nack() error                { return nil }

func fromHeader(raw nats.Header) map[string]string {
	h := make(map[string]string, len(raw))
	for k, v := range raw {
		if len(v) > 0 {
			h[k] = v[0]
		}
	}
	return h
}

// toMsg builds a NATS message carrying the correlation metadata as headers.
func toMsg(subject string, out *core.Outbound) *nats.Msg {
	header := nats.Header{}
	for k, v := range out.AllHeaders() {
		header.Set(k, v)
	}
	return &nats.Msg{
		Subject: subject,
		Data:    out.Body,
		Header:  header,
	}
}
