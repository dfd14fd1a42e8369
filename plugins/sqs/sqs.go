// Package sqs implements core.Broker on Amazon SQS. Requests and replies use
// an explicit queue pair; correlation metadata travels as message attributes.
package sqs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/miladsoleymani/replymux/broker"
	"github.com/miladsoleymani/replymux/core"
)

// API is the subset of the SQS client used by the broker.
type API interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// ClientFactory allows overriding client creation for testing.
var ClientFactory = func(cfg aws.Config) API {
	return sqs.NewFromConfig(cfg)
}

// AWSConfig selects the AWS account, region and endpoint.
type AWSConfig struct {
	Region          string
	Endpoint        string // e.g. http://127.0.0.1:4566 for LocalStack
	AccessKeyID     string
	SecretAccessKey string
}

func init() {
	broker.Register("sqs", func(cfg broker.Config) (core.Broker, error) {
		awsCfg := AWSConfig{
			Region:          cfg.String("region"),
			AccessKeyID:     cfg.String("access_key_id"),
			SecretAccessKey: cfg.String("secret_access_key"),
		}
		if len(cfg.Brokers) > 0 {
			awsCfg.Endpoint = cfg.Brokers[0]
		}
		return New(context.Background(), awsCfg, optsFromConfig(cfg)...)
	})
}

// Broker implements core.Broker for Amazon SQS.
//
// Design decisions:
//   - Long-poll ReceiveMessage loop per subscription.
//   - Ack deletes the message; Nack resets its visibility to zero.
//   - Destinations are queue URLs. Bare queue names are resolved once with
//     GetQueueUrl and cached.
//   - Repeated receive failures are reported as core.ErrConnectionLost.
type Broker struct {
	client API
	opts   options

	mu     sync.Mutex
	urls   map[string]string
	closed bool
	sends  sync.WaitGroup
}

// New loads the AWS configuration and creates an SQS Broker.
func New(ctx context.Context, cfg AWSConfig, fns ...Option) (*Broker, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			staticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey)))
	}

	awsCfg, err := DefaultConfigLoader(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("replymux/sqs: load aws config: %w", err)
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return NewWithClient(ClientFactory(awsCfg), fns...), nil
}

// NewWithClient creates a Broker around an existing client.
func NewWithClient(client API, fns ...Option) *Broker {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}
	return &Broker{
		client: client,
		opts:   opts,
		urls:   make(map[string]string),
	}
}

// queueURL resolves a destination to a queue URL.
func (b *Broker) queueURL(ctx context.Context, destination string) (string, error) {
	if strings.HasPrefix(destination, "https://") || strings.HasPrefix(destination, "http://") {
		return destination, nil
	}

	b.mu.Lock()
	url, ok := b.urls[destination]
	b.mu.Unlock()
	if ok {
		return url, nil
	}

	out, err := b.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(destination)})
	if err != nil {
		return "", fmt.Errorf("replymux/sqs: resolve queue %q: %w", destination, err)
	}
	url = aws.ToString(out.QueueUrl)

	b.mu.Lock()
	b.urls[destination] = url
	b.mu.Unlock()
	return url, nil
}

// Publish sends a message with the correlation metadata as attributes.
func (b *Broker) Publish(ctx context.Context, destination string, msg *core.Outbound) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	b.sends.Add(1)
	b.mu.Unlock()
	defer b.sends.Done()

	url, err := b.queueURL(ctx, destination)
	if err != nil {
		return err
	}
	if _, err := b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(url),
		MessageBody:       aws.String(string(msg.Body)),
		MessageAttributes: toAttributes(msg),
	}); err != nil {
		return fmt.Errorf("replymux/sqs: send to %q: %w", destination, err)
	}
	return nil
}

// Subscribe long-polls the queue and delivers messages until ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, destination string, handler core.Handler) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return core.ErrBrokerClosed
	}

	url, err := b.queueURL(ctx, destination)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %w", core.ErrConnectionLost, err)
	}

	failures := 0
	for {
		out, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(url),
			MaxNumberOfMessages:   b.opts.maxMessages,
			WaitTimeSeconds:       b.opts.waitTimeSeconds,
			VisibilityTimeout:     b.opts.visibilityTimeout,
			MessageAttributeNames: []string{"All"},
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			failures++
			if failures >= b.opts.maxReceiveErrors {
				return fmt.Errorf("replymux/sqs: receive from %q: %w: %w", destination, core.ErrConnectionLost, err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.opts.errorBackoff):
			}
			continue
		}
		failures = 0

		for _, raw := range out.Messages {
			msg := &message{raw: raw, queueURL: url, client: b.client, opts: b.opts}
			if err := handler(ctx, msg); err != nil {
				_ = msg.Nack()
			}
		}
	}
}

// Close rejects new publishes and waits for in-progress sends.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.sends.Wait()
	return nil
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}

// optsFromConfig extracts options from broker.Config.Extra.
func optsFromConfig(cfg broker.Config) []Option {
	if cfg.Extra == nil {
		return nil
	}
	var opts []Option
	if v := cfg.Int("visibility_timeout"); v > 0 {
		opts = append(opts, WithVisibilityTimeout(int32(v)))
	}
	if v := cfg.Int("max_messages"); v > 0 {
		opts = append(opts, WithMaxMessages(int32(v)))
	}
	return opts
}
