package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/miladsoleymani/replymux/core"
)

// Broker is an in-memory test double for core.Broker and core.InboxOpener.
type Broker struct {
	mu         sync.Mutex
	published  []PublishedMessage
	handlers   map[string]core.Handler
	subscribed chan string
	inboxes    int
	closed     bool

	// SubscribeErrs are returned by successive Subscribe calls, one per call,
	// before the subscription settles into blocking until ctx is cancelled.
	SubscribeErrs []error
	// PublishErr is returned by Publish. With FailPublishes > 0 it is returned
	// only for that many calls.
	PublishErr    error
	FailPublishes int
	publishCalls  int
	// OnPublish, if set, is called for every successful publish.
	OnPublish func(dest string, msg *core.Outbound)
}

// PublishedMessage records a message sent through Publish.
type PublishedMessage struct {
	Destination string
	Message     *core.Outbound
}

func NewBroker() *Broker {
	return &Broker{
		handlers:   make(map[string]core.Handler),
		subscribed: make(chan string, 64),
	}
}

func (b *Broker) Publish(_ context.Context, dest string, msg *core.Outbound) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	b.publishCalls++
	if b.PublishErr != nil && (b.FailPublishes == 0 || b.publishCalls <= b.FailPublishes) {
		err := b.PublishErr
		b.mu.Unlock()
		return err
	}
	b.published = append(b.published, PublishedMessage{Destination: dest, Message: msg})
	h := b.handlers[dest]
	hook := b.OnPublish
	b.mu.Unlock()

	if hook != nil {
		hook(dest, msg)
	}
	if h != nil {
		go func() {
			_ = h(context.Background(), &Message{V: msg.Body, H: msg.AllHeaders()})
		}()
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, dest string, handler core.Handler) error {
	b.mu.Lock()
	if len(b.SubscribeErrs) > 0 {
		err := b.SubscribeErrs[0]
		b.SubscribeErrs = b.SubscribeErrs[1:]
		b.mu.Unlock()
		return err
	}
	b.handlers[dest] = handler
	b.mu.Unlock()

	select {
	case b.subscribed <- dest:
	default:
	}

	// Block until context is cancelled (simulates a real subscription loop)
	<-ctx.Done()

	b.mu.Lock()
	delete(b.handlers, dest)
	b.mu.Unlock()
	return nil
}

// WaitSubscribed blocks until a subscription to dest is registered or ctx ends.
func (b *Broker) WaitSubscribed(ctx context.Context, dest string) error {
	for {
		b.mu.Lock()
		_, ok := b.handlers[dest]
		b.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-b.subscribed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OpenInbox registers handler on a generated destination.
func (b *Broker) OpenInbox(_ context.Context, prefix string, handler core.Handler) (*core.Inbox, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, core.ErrBrokerClosed
	}
	b.inboxes++
	dest := fmt.Sprintf("%s.reply.%d", prefix, b.inboxes)
	b.handlers[dest] = handler
	return core.NewInbox(dest, func() error {
		b.mu.Lock()
		delete(b.handlers, dest)
		b.mu.Unlock()
		return nil
	}), nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Deliver simulates an incoming message to a registered handler.
func (b *Broker) Deliver(ctx context.Context, dest string, msg core.Message) error {
	b.mu.Lock()
	h, ok := b.handlers[dest]
	b.mu.Unlock()
	if !ok {
		return core.ErrNoHandler
	}
	return h(ctx, msg)
}

// Published returns all messages sent via Publish.
func (b *Broker) Published() []PublishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PublishedMessage, len(b.published))
	copy(out, b.published)
	return out
}

// PublishCalls reports how many times Publish was called, failures included.
func (b *Broker) PublishCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishCalls
}

// IsClosed reports whether Close was called.
func (b *Broker) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
