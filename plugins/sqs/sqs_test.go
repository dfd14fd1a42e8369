package sqs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/replymux/broker"
	"github.com/miladsoleymani/replymux/core"
)

const queueURL = "http://localhost:4566/000000000000/test_subject"

type fakeAPI struct {
	mu          sync.Mutex
	batches     [][]types.Message
	receiveErr  error
	receives    int
	sent        []*sqs.SendMessageInput
	deleted     []string
	visibility  []string
	lookups     int
	lookupErr   error
	receiveWait time.Duration
}

func (f *fakeAPI) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.receives++
	if f.receiveErr != nil {
		err := f.receiveErr
		f.mu.Unlock()
		return nil, err
	}
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.receiveWait):
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func (f *fakeAPI) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeAPI) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visibility = append(f.visibility, aws.ToString(in.ReceiptHandle))
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeAPI) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("http://localhost:4566/000000000000/" + aws.ToString(in.QueueName))}, nil
}

func (f *fakeAPI) snapshot() (deleted, visibility []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...), append([]string(nil), f.visibility...)
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

func TestPublish_MapsCorrelationAttributes(t *testing.T) {
	api := &fakeAPI{}
	b := NewWithClient(api)

	err := b.Publish(context.Background(), "test_subject", &core.Outbound{
		Body:          []byte(`{"value":1}`),
		CorrelationID: "corr-1",
		ReplyTo:       "test_subject_reply",
		ContentType:   "application/json",
	})
	require.NoError(t, err)

	require.Len(t, api.sent, 1)
	in := api.sent[0]
	assert.Equal(t, queueURL, aws.ToString(in.QueueUrl))
	assert.Equal(t, `{"value":1}`, aws.ToString(in.MessageBody))
	assert.Equal(t, "corr-1", aws.ToString(in.MessageAttributes[AttrCorrelationID].StringValue))
	assert.Equal(t, "test_subject_reply", aws.ToString(in.MessageAttributes[AttrReplyTo].StringValue))
	assert.Equal(t, "String", aws.ToString(in.MessageAttributes[AttrReplyTo].DataType))
}

func TestQueueURL_ResolvedOnceAndURLsPassThrough(t *testing.T) {
	api := &fakeAPI{}
	b := NewWithClient(api)
	ctx := context.Background()

	for range 3 {
		url, err := b.queueURL(ctx, "test_subject")
		require.NoError(t, err)
		assert.Equal(t, queueURL, url)
	}
	assert.Equal(t, 1, api.lookups)

	url, err := b.queueURL(ctx, "https://sqs.eu-west-1.amazonaws.com/1/q")
	require.NoError(t, err)
	assert.Equal(t, "https://sqs.eu-west-1.amazonaws.com/1/q", url)
	assert.Equal(t, 1, api.lookups)
}

func TestPublish_AfterClose(t *testing.T) {
	b := NewWithClient(&fakeAPI{})
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), queueURL, &core.Outbound{Body: []byte("x")})
	assert.ErrorIs(t, err, core.ErrBrokerClosed)
}

func TestSubscribe_DeliversAndSettles(t *testing.T) {
	api := &fakeAPI{
		receiveWait: 10 * time.Millisecond,
		batches: [][]types.Message{{
			{
				MessageId:     aws.String("m-1"),
				ReceiptHandle: aws.String("rh-ok"),
				Body:          aws.String(`{"value":1}`),
				MessageAttributes: map[string]types.MessageAttributeValue{
					AttrCorrelationID: stringAttr("corr-1"),
					AttrReplyTo:       stringAttr("test_subject_reply"),
				},
			},
			{
				MessageId:     aws.String("m-2"),
				ReceiptHandle: aws.String("rh-fail"),
				Body:          aws.String(`{}`),
			},
		}},
	}
	b := NewWithClient(api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var headers []map[string]string
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Subscribe(ctx, queueURL, func(_ context.Context, msg core.Message) error {
			mu.Lock()
			headers = append(headers, msg.Headers())
			mu.Unlock()
			if string(msg.Key()) == "m-2" {
				return errors.New("rejected")
			}
			return msg.Ack()
		})
	}()

	require.Eventually(t, func() bool {
		deleted, visibility := api.snapshot()
		return len(deleted) == 1 && len(visibility) == 1
	}, time.Second, 5*time.Millisecond)

	deleted, visibility := api.snapshot()
	assert.Equal(t, []string{"rh-ok"}, deleted)
	assert.Equal(t, []string{"rh-fail"}, visibility)

	mu.Lock()
	assert.Equal(t, "corr-1", headers[0][core.HeaderCorrelationID])
	assert.Equal(t, "test_subject_reply", headers[0][core.HeaderReplyTo])
	mu.Unlock()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

func TestSubscribe_RepeatedReceiveErrorsReportConnectionLost(t *testing.T) {
	api := &fakeAPI{receiveErr: errors.New("dial tcp: connection refused")}
	b := NewWithClient(api, WithMaxReceiveErrors(3), WithErrorBackoff(time.Millisecond))

	err := b.Subscribe(context.Background(), queueURL, func(context.Context, core.Message) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConnectionLost)
	assert.Equal(t, 3, api.receives)
}

func TestSubscribe_UnresolvableQueue(t *testing.T) {
	api := &fakeAPI{lookupErr: errors.New("AWS.SimpleQueueService.NonExistentQueue")}
	b := NewWithClient(api)

	err := b.Subscribe(context.Background(), "missing", func(context.Context, core.Message) error { return nil })
	assert.ErrorIs(t, err, core.ErrConnectionLost)
}

func TestNew_AppliesEndpointAndStaticCredentials(t *testing.T) {
	origLoader, origFactory := DefaultConfigLoader, ClientFactory
	t.Cleanup(func() {
		DefaultConfigLoader, ClientFactory = origLoader, origFactory
	})

	var got aws.Config
	DefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		return aws.Config{Region: lo.Region, Credentials: lo.Credentials}, nil
	}
	ClientFactory = func(cfg aws.Config) API {
		got = cfg
		return &fakeAPI{}
	}

	_, err := New(context.Background(), AWSConfig{
		Region:          "us-east-1",
		Endpoint:        "http://127.0.0.1:4566",
		AccessKeyID:     "test",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", got.Region)
	assert.Equal(t, "http://127.0.0.1:4566", aws.ToString(got.BaseEndpoint))
	creds, err := got.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}

func TestNew_LoaderError(t *testing.T) {
	orig := DefaultConfigLoader
	t.Cleanup(func() { DefaultConfigLoader = orig })
	DefaultConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no profile")
	}

	_, err := New(context.Background(), AWSConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replymux/sqs: load aws config")
}

func TestOptsFromConfig(t *testing.T) {
	assert.Nil(t, optsFromConfig(broker.Config{}))

	fns := optsFromConfig(broker.Config{Extra: map[string]any{
		"visibility_timeout": 45,
		"max_messages":       5,
	}})
	o := defaults()
	for _, fn := range fns {
		fn(&o)
	}
	assert.Equal(t, int32(45), o.visibilityTimeout)
	assert.Equal(t, int32(5), o.maxMessages)
	assert.Equal(t, int32(20), o.waitTimeSeconds)
}
