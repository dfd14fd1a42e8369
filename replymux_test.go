package replymux_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/replymux"
	"github.com/miladsoleymani/replymux/internal/logger"
	"github.com/miladsoleymani/replymux/internal/mock"
)

func TestTopLevelAPI(t *testing.T) {
	mb := mock.NewBroker()
	d := replymux.NewDispatcher(mb)
	d.Handle("queue_example", func(c replymux.Context) (any, error) {
		return map[string]string{"echo": c.CorrelationID()}, nil
	})

	ctrl, err := replymux.NewController(replymux.App{Broker: mb, Dispatcher: d, Logger: logger.Discard()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, mb.WaitSubscribed(waitCtx, "queue_example"))

	msg := mock.NewRequest("corr-1", "replies", []byte(`{}`))
	require.NoError(t, mb.Deliver(context.Background(), "queue_example", msg))
	select {
	case <-msg.Settled():
	case <-time.After(2 * time.Second):
		t.Fatal("message was not settled")
	}

	cancel()
	require.NoError(t, <-errCh)

	published := mb.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "replies", published[0].Destination)
	assert.Equal(t, "corr-1", published[0].Message.CorrelationID)
	assert.Contains(t, string(published[0].Message.Body), `"echo":"corr-1"`)
}
