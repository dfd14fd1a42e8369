package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/replymux/core"
	"github.com/miladsoleymani/replymux/internal/logger"
	"github.com/miladsoleymani/replymux/internal/mock"
)

func newController(t *testing.T, mb *mock.Broker, d *core.Dispatcher, grace time.Duration) *core.Controller {
	t.Helper()
	c, err := core.NewController(core.App{
		Broker:        mb,
		Dispatcher:    d,
		Logger:        logger.Discard(),
		ShutdownGrace: grace,
	})
	require.NoError(t, err)
	return c
}

func runController(ctx context.Context, c *core.Controller) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	return errCh
}

func TestController_StopDuringInFlightRepliesBeforeStopped(t *testing.T) {
	mb := mock.NewBroker()
	d := newDispatcher(mb)
	started := make(chan struct{})
	d.Handle(queue, func(c core.Context) (any, error) {
		close(started)
		select {
		case <-time.After(300 * time.Millisecond):
		case <-c.Context().Done():
			return nil, c.Context().Err()
		}
		return "slow result", nil
	})
	c := newController(t, mb, d, 5*time.Second)
	assert.Equal(t, core.StateCreated, c.State())

	runErr := runController(context.Background(), c)
	require.NoError(t, mb.WaitSubscribed(context.Background(), queue))
	assert.Equal(t, core.StateRunning, c.State())

	msg := mock.NewRequest("slow-1", "replies", nil)
	require.NoError(t, mb.Deliver(context.Background(), queue, msg))
	<-started

	time.Sleep(100 * time.Millisecond)
	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(context.Background()) }()

	require.NoError(t, <-runErr)
	require.NoError(t, <-stopped)

	assert.Equal(t, core.StateStopped, c.State())
	assert.True(t, mb.IsClosed())
	assert.True(t, msg.Acked())

	pubs := mb.Published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "slow-1", pubs[0].Message.CorrelationID)
	r := decodeReply(t, pubs[0])
	assert.Equal(t, "success", r.Status)
	assert.Equal(t, "slow result", r.Data)
}

func TestController_ContextCancelDrains(t *testing.T) {
	mb := mock.NewBroker()
	d := newDispatcher(mb)
	started := make(chan struct{})
	d.Handle(queue, func(c core.Context) (any, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return 1, nil
	})
	c := newController(t, mb, d, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := runController(ctx, c)
	require.NoError(t, mb.WaitSubscribed(context.Background(), queue))

	msg := mock.NewRequest("c", "replies", nil)
	require.NoError(t, mb.Deliver(context.Background(), queue, msg))
	<-started
	cancel()

	require.NoError(t, <-runErr)
	assert.True(t, msg.Acked())
	assert.Len(t, mb.Published(), 1)
	<-c.Done()
}

func TestController_GracePeriodAbandons(t *testing.T) {
	mb := mock.NewBroker()
	d := newDispatcher(mb)
	started := make(chan struct{})
	d.Handle(queue, func(c core.Context) (any, error) {
		close(started)
		<-c.Context().Done()
		return "late", nil
	})
	c := newController(t, mb, d, 30*time.Millisecond)

	runErr := runController(context.Background(), c)
	require.NoError(t, mb.WaitSubscribed(context.Background(), queue))

	msg := mock.NewRequest("hung", "replies", nil)
	require.NoError(t, mb.Deliver(context.Background(), queue, msg))
	<-started

	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, <-runErr)
	assert.Equal(t, core.StateStopped, c.State())
	assert.True(t, mb.IsClosed())

	assert.Eventually(t, func() bool { return d.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, mb.Published())
	assert.False(t, msg.Acked())
}

func TestController_StopIsIdempotent(t *testing.T) {
	mb := mock.NewBroker()
	d := newDispatcher(mb)
	d.Handle(queue, func(c core.Context) (any, error) { return nil, nil })
	c := newController(t, mb, d, time.Second)

	runErr := runController(context.Background(), c)
	require.NoError(t, mb.WaitSubscribed(context.Background(), queue))

	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, <-runErr)
	assert.ErrorIs(t, c.Run(context.Background()), core.ErrStopped)
}

func TestController_StopBeforeRun(t *testing.T) {
	mb := mock.NewBroker()
	d := newDispatcher(mb)
	d.Handle(queue, func(c core.Context) (any, error) { return nil, nil })
	c := newController(t, mb, d, time.Second)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, core.StateStopped, c.State())
	assert.True(t, mb.IsClosed())
	assert.ErrorIs(t, c.Run(context.Background()), core.ErrStopped)
}

func TestController_RunTwice(t *testing.T) {
	mb := mock.NewBroker()
	d := newDispatcher(mb)
	d.Handle(queue, func(c core.Context) (any, error) { return nil, nil })
	c := newController(t, mb, d, time.Second)

	runErr := runController(context.Background(), c)
	require.NoError(t, mb.WaitSubscribed(context.Background(), queue))
	assert.ErrorIs(t, c.Run(context.Background()), core.ErrAlreadyStarted)

	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, <-runErr)
}

func TestController_ConnectionLossEndsRun(t *testing.T) {
	mb := mock.NewBroker()
	lost := fmt.Errorf("dial: %w", core.ErrConnectionLost)
	mb.SubscribeErrs = []error{lost, lost}
	d := newDispatcher(mb,
		core.WithReconnectAttempts(1),
		core.WithReconnectBackOff(fastBackOff))
	d.Handle(queue, func(c core.Context) (any, error) { return nil, nil })
	c := newController(t, mb, d, time.Second)

	err := c.Run(context.Background())
	assert.True(t, errors.Is(err, core.ErrConnectionLost))
	assert.Equal(t, core.StateStopped, c.State())
	assert.True(t, mb.IsClosed())
}

func TestNewController_Validation(t *testing.T) {
	_, err := core.NewController(core.App{})
	assert.ErrorIs(t, err, core.ErrNoBroker)

	_, err = core.NewController(core.App{Broker: mock.NewBroker()})
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", core.StateCreated.String())
	assert.Equal(t, "running", core.StateRunning.String())
	assert.Equal(t, "draining", core.StateDraining.String())
	assert.Equal(t, "stopped", core.StateStopped.String())
	assert.Equal(t, "state(9)", core.State(9).String())
}
