package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/miladsoleymani/replymux/core"
)

// commitTimeout bounds offset commits, which run after intake has stopped.
const commitTimeout = 10 * time.Second

type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// message adapts a kafka.Message to core.Message.
// It holds a reference to the reader for offset management. tracker is nil
// when the reader has no consumer group.
type message struct {
	raw     kafka.Message
	reader  committer
	tracker *offsetTracker
}

// newMessage wraps a fetched message, registering its offset with tracker
// when offsets are committed.
func newMessage(raw kafka.Message, r committer, tracker *offsetTracker) *message {
	if tracker != nil {
		tracker.track(raw.Partition, raw.Offset)
	}
	return &message{raw: raw, reader: r, tracker: tracker}
}

func (m *message) Key() []byte   { return m.raw.Key }
func (m *message) Value() []byte { return m.raw.Value }

func (m *message) Headers() map[string]string {
	h := make(map[string]string, len(m.raw.Headers))
	for _, kh := range m.raw.Headers {
		h[kh.Key] = string(kh.Value)
	}
	return h
}

// Ack marks the message done and commits the partition's contiguous
// completed prefix. Without a consumer group there is nothing to commit.
func (m *message) Ack() error {
	if m.tracker == nil {
		return nil
	}
	offset, ok := m.tracker.complete(m.raw.Partition, m.raw.Offset)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	commit := kafka.Message{Topic: m.raw.Topic, Partition: m.raw.Partition, Offset: offset}
	if err := m.reader.CommitMessages(ctx, commit); err != nil {
		return fmt.Errorf("replymux/kafka: commit offset: %w", err)
	}
	return nil
}

// Nack is a no-op for Kafka. Not committing the offset causes the message
// to be redelivered on the next consumer group rebalance or restart.
func (m *message) Nack() error {
	return nil
}

// toMessage builds a Kafka message carrying correlation metadata as headers.
// The correlation id doubles as the key so a request and its reply land on
// partitions deterministically.
func toMessage(topic string, out *core.Outbound) kafka.Message {
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(out.CorrelationID),
		Value:   out.Body,
		Headers: toHeaders(out.AllHeaders()),
	}
}

// toHeaders converts a string map to Kafka headers.
func toHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	headers := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
