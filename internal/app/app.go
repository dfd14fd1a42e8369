// Package app wires configuration, broker, dispatcher and controller into a
// runnable worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/miladsoleymani/replymux/broker"
	"github.com/miladsoleymani/replymux/config"
	"github.com/miladsoleymani/replymux/core"
	"github.com/miladsoleymani/replymux/core/middleware"
	"github.com/miladsoleymani/replymux/internal/handler"
	"github.com/miladsoleymani/replymux/internal/metrics"

	// Import plugins to trigger self-registration via init()
	_ "github.com/miladsoleymani/replymux/plugins/kafka"
	_ "github.com/miladsoleymani/replymux/plugins/nats"
	_ "github.com/miladsoleymani/replymux/plugins/rabbitmq"
	_ "github.com/miladsoleymani/replymux/plugins/sqs"
)

const metricsShutdownTimeout = 5 * time.Second

// Worker is a fully wired request/reply worker.
type Worker struct {
	Config     config.Config
	Logger     *slog.Logger
	Broker     core.Broker
	Dispatcher *core.Dispatcher
	Controller *core.Controller
	Metrics    *metrics.Collector
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	broker         core.Broker
	handler        core.HandlerFunc
	registry       *prometheus.Registry
	dispatcherOpts []core.DispatcherOption
	replierOpts    []core.ReplierOption
	routes         map[string]core.HandlerFunc
}

// WithBroker uses b instead of creating one from the configuration.
func WithBroker(b core.Broker) Option {
	return func(o *buildOptions) { o.broker = b }
}

// WithHandler serves h instead of the version handler.
func WithHandler(h core.HandlerFunc) Option {
	return func(o *buildOptions) { o.handler = h }
}

// WithRoute serves h on destination next to the configured source.
func WithRoute(destination string, h core.HandlerFunc) Option {
	return func(o *buildOptions) {
		if o.routes == nil {
			o.routes = make(map[string]core.HandlerFunc)
		}
		o.routes[destination] = h
	}
}

// WithRegistry registers metrics with reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *buildOptions) { o.registry = reg }
}

// WithDispatcherOptions appends options applied after the configured ones.
func WithDispatcherOptions(opts ...core.DispatcherOption) Option {
	return func(o *buildOptions) { o.dispatcherOpts = append(o.dispatcherOpts, opts...) }
}

// WithReplierOptions appends options applied after the configured ones.
func WithReplierOptions(opts ...core.ReplierOption) Option {
	return func(o *buildOptions) { o.replierOpts = append(o.replierOpts, opts...) }
}

// Build validates cfg and assembles a Worker.
func Build(cfg config.Config, logger *slog.Logger, opts ...Option) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	b := o.broker
	if b == nil {
		var err error
		b, err = broker.Create(cfg.Broker, cfg.BrokerConfig())
		if err != nil {
			return nil, fmt.Errorf("create broker: %w", err)
		}
	}

	m := metrics.New(o.registry)

	replier := core.NewReplier(b, append([]core.ReplierOption{
		core.WithPublishRetries(cfg.PublishRetries),
		core.WithAllowedReplyTo(cfg.ReplyAllow...),
		core.WithReplyObserver(m),
		core.WithReplierLogger(logger),
	}, o.replierOpts...)...)

	d := core.NewDispatcher(b, append([]core.DispatcherOption{
		core.WithReplier(replier),
		core.WithMaxInFlight(cfg.MaxInFlight),
		core.WithLogger(logger),
		core.WithObserver(m),
		core.WithReconnectAttempts(cfg.ReconnectAttempts),
		core.WithFallbackReplyTo(cfg.ReplyDestination),
	}, o.dispatcherOpts...)...)

	d.Use(middleware.Recovery(logger))
	d.Use(middleware.Logging(logger))
	d.Use(middleware.Tracing())
	d.Use(middleware.Metrics(m))
	d.Use(middleware.Timeout(cfg.HandlerTimeout))

	h := o.handler
	if h == nil {
		h = handler.NewVersion(cfg.BaseURL, cfg.HandlerDelay, nil).Handle
	}
	d.Handle(cfg.Source(), h)
	for _, q := range cfg.ExtraQueues {
		d.Handle(q, handler.Empty)
	}
	for dest, rh := range o.routes {
		d.Handle(dest, rh)
	}

	ctrl, err := core.NewController(core.App{
		Broker:        b,
		Dispatcher:    d,
		Logger:        logger,
		ShutdownGrace: cfg.ShutdownGrace,
	})
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	return &Worker{
		Config:     cfg,
		Logger:     logger,
		Broker:     b,
		Dispatcher: d,
		Controller: ctrl,
		Metrics:    m,
	}, nil
}

// Run serves until ctx is cancelled or consumption fails, then drains.
// With METRICS_ADDR set the Prometheus endpoint runs alongside.
func (w *Worker) Run(ctx context.Context) error {
	w.Logger.InfoContext(ctx, "starting worker",
		"broker", w.Config.Broker, "destination", w.Config.Source(),
		"max_in_flight", w.Config.MaxInFlight, "shutdown_grace", w.Config.ShutdownGrace)
	w.Logger.DebugContext(ctx, "configuration", "config", w.Config.String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Controller.Run(gctx)
	})

	if w.Config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", w.Metrics.Handler())
		srv := &http.Server{
			Addr:              w.Config.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			w.Logger.Info("metrics server listening", "addr", w.Config.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-w.Controller.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
