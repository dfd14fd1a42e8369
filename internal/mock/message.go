package mock

import (
	"sync"

	"github.com/miladsoleymani/replymux/core"
)

// Message is a core.Message implementation for testing. Settlement is
// recorded and safe to inspect from other goroutines.
type Message struct {
	K       []byte
	V       []byte
	H       map[string]string
	AckErr  error
	NackErr error

	mu     sync.Mutex
	acks   int
	nacks  int
	done   chan struct{}
	closed bool
}

// NewRequest builds a message carrying correlation metadata in canonical headers.
func NewRequest(correlationID, replyTo string, body []byte) *Message {
	h := map[string]string{}
	if correlationID != "" {
		h[core.HeaderCorrelationID] = correlationID
	}
	if replyTo != "" {
		h[core.HeaderReplyTo] = replyTo
	}
	return &Message{V: body, H: h}
}

func (m *Message) Key() []byte                { return m.K }
func (m *Message) Value() []byte              { return m.V }
func (m *Message) Headers() map[string]string { return m.H }

func (m *Message) Ack() error {
	m.mu.Lock()
	m.acks++
	m.settleLocked()
	m.mu.Unlock()
	return m.AckErr
}

func (m *Message) Nack() error {
	m.mu.Lock()
	m.nacks++
	m.settleLocked()
	m.mu.Unlock()
	return m.NackErr
}

func (m *Message) settleLocked() {
	if m.done == nil {
		m.done = make(chan struct{})
	}
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

// Settled returns a channel closed on the first Ack or Nack.
func (m *Message) Settled() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		m.done = make(chan struct{})
	}
	return m.done
}

// Acked reports whether Ack was called.
func (m *Message) Acked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks > 0
}

// Nacked reports whether Nack was called.
func (m *Message) Nacked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nacks > 0
}

// AckCount reports how many times Ack was called.
func (m *Message) AckCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks
}
