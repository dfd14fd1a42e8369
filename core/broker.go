package core

import "context"

// Broker defines the contract for message broker implementations.
// Each broker plugin must implement this interface.
//
// Subscribe blocks, delivering messages to the handler until ctx is cancelled
// (returning nil) or the connection fails (returning an error wrapping
// ErrConnectionLost). Publish must be safe for concurrent use. Close completes
// in-flight sends before releasing connections and is idempotent.
type Broker interface {
	Publish(ctx context.Context, destination string, msg *Outbound) error
	Subscribe(ctx context.Context, destination string, handler Handler) error
	Close() error
}

// Inbox is a transient reply destination opened by an InboxOpener.
type Inbox struct {
	Destination string
	close       func() error
}

// NewInbox is used by plugins to build an Inbox.
func NewInbox(destination string, closeFn func() error) *Inbox {
	return &Inbox{Destination: destination, close: closeFn}
}

// Close tears the inbox down.
func (i *Inbox) Close() error {
	if i == nil || i.close == nil {
		return nil
	}
	return i.close()
}

// InboxOpener is implemented by brokers that can open temporary reply
// destinations (exclusive AMQP queues, NATS core subscriptions).
// prefix is a naming hint; brokers with server-named queues ignore it.
type InboxOpener interface {
	OpenInbox(ctx context.Context, prefix string, handler Handler) (*Inbox, error)
}
