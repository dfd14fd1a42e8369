package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/miladsoleymani/replymux/broker"
	"github.com/miladsoleymani/replymux/core"
)

func init() {
	broker.Register("nats", func(cfg broker.Config) (core.Broker, error) {
		opts := optsFromConfig(cfg)
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("replymux/nats: at least one broker URL is required")
		}
		return New(cfg.Brokers[0], cfg.Group, opts...)
	})
}

// Broker implements core.Broker and core.InboxOpener for NATS JetStream.
//
// Design decisions:
//   - One NATS connection per Broker instance, redialed after it closes.
//   - Requests are consumed from a JetStream stream bound to the exact
//     subject, so reply subjects below it are never captured.
//   - Manual ack via Ack(); Nack() triggers server-side redelivery.
//   - Replies are published on core NATS because requesters listen on
//     transient subscriptions. Requests (messages with a reply-to) are
//     published through JetStream.
//   - Graceful shutdown: context cancellation stops consumers, Close()
//     flushes pending publishes and closes the connection.
type Broker struct {
	url   string
	group string
	opts  options

	mu      sync.Mutex
	conn    *nats.Conn
	js      jetstream.JetStream
	lost    chan struct{}
	streams map[string]bool
	closed  bool
}

// New creates a NATS JetStream Broker. url is a standard NATS URL (nats://host:port).
func New(url, group string, fns ...Option) (*Broker, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	b := &Broker{
		url:     url,
		group:   group,
		opts:    opts,
		streams: make(map[string]bool),
	}
	if _, _, _, err := b.connection(); err != nil {
		return nil, err
	}
	return b, nil
}

// connection returns the live connection and its JetStream context,
// reconnecting if the previous connection was closed.
func (b *Broker) connection() (*nats.Conn, jetstream.JetStream, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, nil, core.ErrBrokerClosed
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, b.js, b.lost, nil
	}

	lost := make(chan struct{})
	var once sync.Once
	connectOpts := connectOptions(b.opts.name, b.opts.connectOpts, func() { once.Do(func() { close(lost) }) })

	nc, err := nats.Connect(b.url, connectOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("replymux/nats: connect to %q: %w: %w", b.url, core.ErrConnectionLost, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, nil, fmt.Errorf("replymux/nats: init jetstream: %w", err)
	}

	b.conn, b.js, b.lost = nc, js, lost
	b.streams = make(map[string]bool)
	return nc, js, lost, nil
}

// connectOptions applies user after the defaults and installs a
// ClosedHandler that calls onClosed before any handler user sets.
func connectOptions(name string, user []nats.Option, onClosed func()) []nats.Option {
	applied := nats.GetDefaultOptions()
	for _, opt := range user {
		_ = opt(&applied)
	}
	userClosed := applied.ClosedCB

	opts := append([]nats.Option{nats.Name(name)}, user...)
	return append(opts, nats.ClosedHandler(func(nc *nats.Conn) {
		onClosed()
		if userClosed != nil {
			userClosed(nc)
		}
	}))
}

// ensureStream creates or updates the stream capturing exactly subject.
func (b *Broker) ensureStream(ctx context.Context, js jetstream.JetStream, subject string) (jetstream.Stream, error) {
	streamName := sanitizeStreamName(subject)
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		MaxMsgs:   b.opts.maxMsgs,
		MaxBytes:  b.opts.maxBytes,
		MaxAge:    b.opts.maxAge,
		Replicas:  b.opts.replicas,
		Retention: b.opts.retention,
		Storage:   b.opts.storage,
	})
	if err != nil {
		return nil, fmt.Errorf("replymux/nats: create stream %q: %w", streamName, err)
	}
	b.mu.Lock()
	b.streams[subject] = true
	b.mu.Unlock()
	return stream, nil
}

func (b *Broker) hasStream(subject string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[subject]
}

// Publish sends a request through JetStream or a reply on core NATS.
func (b *Broker) Publish(ctx context.Context, subject string, msg *core.Outbound) error {
	nc, js, _, err := b.connection()
	if err != nil {
		return err
	}

	nm := toMsg(subject, msg)
	if msg.ReplyTo == "" {
		if err := nc.PublishMsg(nm); err != nil {
			return fmt.Errorf("replymux/nats: publish to %q: %w", subject, err)
		}
		return nil
	}

	if !b.hasStream(subject) {
		if _, err := b.ensureStream(ctx, js, subject); err != nil {
			return err
		}
	}
	if _, err := js.PublishMsg(ctx, nm); err != nil {
		return fmt.Errorf("replymux/nats: publish to %q: %w", subject, err)
	}
	return nil
}

// Subscribe creates or updates a JetStream stream and durable consumer
// for the given subject, then consumes messages until the context is cancelled.
func (b *Broker) Subscribe(ctx context.Context, subject string, handler core.Handler) error {
	_, js, lost, err := b.connection()
	if err != nil {
		return err
	}

	stream, err := b.ensureStream(ctx, js, subject)
	if err != nil {
		return err
	}

	consumerName := b.group
	if consumerName == "" {
		consumerName = "replymux-" + sanitizeStreamName(subject)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.opts.ackWait,
		MaxDeliver:    b.opts.maxDeliver,
	})
	if err != nil {
		return fmt.Errorf("replymux/nats: create consumer %q: %w", consumerName, err)
	}

	cc, err := cons.Consume(func(jsMsg jetstream.Msg) {
		msg := &message{msg: jsMsg}
		if err := handler(ctx, msg); err != nil {
			_ = msg.Nack()
		}
	})
	if err != nil {
		return fmt.Errorf("replymux/nats: start consume on %q: %w", consumerName, err)
	}
	defer cc.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-lost:
		return fmt.Errorf("replymux/nats: connection closed: %w", core.ErrConnectionLost)
	}
}

// OpenInbox subscribes on core NATS to "<prefix>.reply.<uuid>".
func (b *Broker) OpenInbox(ctx context.Context, prefix string, handler core.Handler) (*core.Inbox, error) {
	nc, _, _, err := b.connection()
	if err != nil {
		return nil, err
	}

	subject := InboxSubject(prefix)
	inboxCtx := context.WithoutCancel(ctx)
	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		_ = handler(inboxCtx, &inboxMessage{msg: m})
	})
	if err != nil {
		return nil, fmt.Errorf("replymux/nats: subscribe inbox %q: %w", subject, err)
	}
	// The subscription must be registered server-side before the request goes out.
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("replymux/nats: flush inbox %q: %w", subject, err)
	}

	return core.NewInbox(subject, func() error {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			return fmt.Errorf("replymux/nats: unsubscribe inbox %q: %w", subject, err)
		}
		return nil
	}), nil
}

// InboxSubject returns a per-request reply subject below prefix.
func InboxSubject(prefix string) string {
	return prefix + ".reply." + uuid.NewString()
}

// Close flushes pending publishes and closes the NATS connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}

	var err error
	if ferr := b.conn.FlushTimeout(b.opts.flushTimeout); ferr != nil {
		err = fmt.Errorf("replymux/nats: flush: %w", ferr)
	}
	b.conn.Close()
	return err
}

// sanitizeStreamName converts a subject to a valid stream name
// by replacing special characters.
func sanitizeStreamName(subject string) string {
	buf := make([]byte, len(subject))
	for i := range len(subject) {
		c := subject[i]
		if c == '.' || c == '*' || c == '>' {
			buf[i] = '-'
		} else {
			buf[i] = c
		}
	}
	return string(buf)
}

// optsFromConfig extracts options from broker.Config.Extra.
func optsFromConfig(cfg broker.Config) []Option {
	if cfg.Extra == nil {
		return nil
	}
	var opts []Option
	if v := cfg.Int("max_deliver"); v > 0 {
		opts = append(opts, WithMaxDeliver(v))
	}
	if v := cfg.Int("replicas"); v > 0 {
		opts = append(opts, WithReplicas(v))
	}
	if cfg.String("storage") == "memory" {
		opts = append(opts, WithStorage(jetstream.MemoryStorage))
	}
	return opts
}
