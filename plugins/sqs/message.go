package sqs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/miladsoleymani/replymux/core"
)

// Message attribute names carrying correlation metadata.
const (
	AttrCorrelationID = "correlationId"
	AttrReplyTo       = "replyTo"
)

// message adapts an SQS message to core.Message.
type message struct {
	raw      types.Message
	queueURL string
	client   API
	opts     options
}

func (m *message) Key() []byte   { return []byte(aws.ToString(m.raw.MessageId)) }
func (m *message) Value() []byte { return []byte(aws.ToString(m.raw.Body)) }

// Headers returns the string message attributes with the correlation
// attributes mapped onto the canonical header names.
func (m *message) Headers() map[string]string {
	return fromAttributes(m.raw.MessageAttributes)
}

// Ack deletes the message from the queue. It runs on its own context since
// acknowledgement happens after intake has stopped.
func (m *message) Ack() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.settleTimeout)
	defer cancel()
	if _, err := m.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(m.queueURL),
		ReceiptHandle: m.raw.ReceiptHandle,
	}); err != nil {
		return fmt.Errorf("replymux/sqs: delete message: %w", err)
	}
	return nil
}

// Nack makes the message visible again immediately for redelivery.
func (m *message) Nack() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.settleTimeout)
	defer cancel()
	if _, err := m.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(m.queueURL),
		ReceiptHandle:     m.raw.ReceiptHandle,
		VisibilityTimeout: 0,
	}); err != nil {
		return fmt.Errorf("replymux/sqs: change visibility: %w", err)
	}
	return nil
}

func fromAttributes(attrs map[string]types.MessageAttributeValue) map[string]string {
	h := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if v.StringValue == nil {
			continue
		}
		switch k {
		case AttrCorrelationID:
			h[core.HeaderCorrelationID] = *v.StringValue
		case AttrReplyTo:
			h[core.HeaderReplyTo] = *v.StringValue
		default:
			h[k] = *v.StringValue
		}
	}
	return h
}

// toAttributes maps an Outbound onto SQS string message attributes.
func toAttributes(out *core.Outbound) map[string]types.MessageAttributeValue {
	attrs := make(map[string]types.MessageAttributeValue)
	for k, v := range out.AllHeaders() {
		if v == "" {
			continue
		}
		switch k {
		case core.HeaderCorrelationID:
			k = AttrCorrelationID
		case core.HeaderReplyTo:
			k = AttrReplyTo
		}
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return attrs
}
