package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultShutdownGrace bounds how long Run waits for in-flight work on shutdown.
const DefaultShutdownGrace = 30 * time.Second

// State is a Controller lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// App holds everything a Controller drives. It is built once at process
// entry and passed in explicitly.
type App struct {
	Broker        Broker
	Dispatcher    *Dispatcher
	Logger        *slog.Logger
	ShutdownGrace time.Duration
}

// Controller owns start and stop of a Dispatcher and its Broker.
type Controller struct {
	app    App
	logger *slog.Logger

	state atomic.Int32

	mu            sync.Mutex
	stopIntake    context.CancelFunc
	stopRequested bool
	stopped       chan struct{}
	stopOnce      sync.Once
}

// NewController validates app and returns a Controller in StateCreated.
func NewController(app App) (*Controller, error) {
	if app.Broker == nil {
		return nil, ErrNoBroker
	}
	if app.Dispatcher == nil {
		return nil, errors.New("replymux: dispatcher is nil")
	}
	if app.ShutdownGrace <= 0 {
		app.ShutdownGrace = DefaultShutdownGrace
	}
	logger := app.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		app:     app,
		logger:  logger,
		stopped: make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Done is closed once the controller reaches StateStopped.
func (c *Controller) Done() <-chan struct{} {
	return c.stopped
}

// Run starts consumption and blocks until the controller is Stopped.
// Cancelling ctx or calling Stop begins draining: intake stops, in-flight
// invocations run to completion or until the grace period ends, then the
// broker is closed. Run returns the consumption error if a subscription
// failed for good, nil after a requested shutdown.
func (c *Controller) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		if c.State() == StateStopped {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}

	// Handlers keep running after ctx is cancelled; only intake stops.
	intake, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.stopIntake = cancel
	if c.stopRequested {
		cancel()
	}
	c.mu.Unlock()

	consumeErr := make(chan error, 1)
	go func() { consumeErr <- c.app.Dispatcher.Consume(intake) }()

	c.logger.InfoContext(ctx, "controller running")

	var runErr error
	select {
	case <-ctx.Done():
		c.logger.InfoContext(ctx, "shutdown requested")
	case <-intake.Done():
	case err := <-consumeErr:
		consumeErr <- err
		if err != nil {
			c.logger.ErrorContext(ctx, "consumption failed", "error", err)
			runErr = err
		}
	}

	c.shutdown(cancel, consumeErr)
	return runErr
}

func (c *Controller) shutdown(cancel context.CancelFunc, consumeErr <-chan error) {
	c.state.Store(int32(StateDraining))
	cancel()
	<-consumeErr

	start := time.Now()
	graceCtx, stop := context.WithTimeout(context.Background(), c.app.ShutdownGrace)
	defer stop()

	c.logger.Info("draining in-flight work", "in_flight", c.app.Dispatcher.InFlight())
	if abandoned, err := c.app.Dispatcher.Drain(graceCtx); err != nil {
		c.logger.Warn("shutdown grace period exceeded",
			"abandoned", abandoned, "elapsed", time.Since(start))
	} else {
		c.logger.Info("drain complete", "elapsed", time.Since(start))
	}

	c.finish()
}

func (c *Controller) finish() {
	c.stopOnce.Do(func() {
		if err := c.app.Broker.Close(); err != nil {
			c.logger.Error("broker close failed", "error", err)
		}
		c.state.Store(int32(StateStopped))
		close(c.stopped)
		c.logger.Info("controller stopped")
	})
}

// Stop begins shutdown and waits until the controller is Stopped or ctx ends.
// It is safe to call more than once. Stop before Run moves straight to
// Stopped and closes the broker.
func (c *Controller) Stop(ctx context.Context) error {
	if c.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
		c.stopOnce.Do(func() {
			if err := c.app.Broker.Close(); err != nil {
				c.logger.Error("broker close failed", "error", err)
			}
			close(c.stopped)
		})
		return nil
	}

	c.mu.Lock()
	c.stopRequested = true
	cancel := c.stopIntake
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
