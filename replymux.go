// Package replymux provides the top-level API for building request/reply
// workers on top of a message broker. It re-exports core types for
// convenience, so users can write:
//
//	d := replymux.NewDispatcher(b)
//	d.Handle("queue_example", handler)
//	ctrl, _ := replymux.NewController(replymux.App{Broker: b, Dispatcher: d})
//	ctrl.Run(ctx)
package replymux

import (
	"github.com/miladsoleymani/replymux/core"
)

// Re-export core types at the package level for ergonomic usage.
type (
	Message        = core.Message
	Broker         = core.Broker
	Context        = core.Context
	HandlerFunc    = core.HandlerFunc
	MiddlewareFunc = core.MiddlewareFunc
	Dispatcher     = core.Dispatcher
	Replier        = core.Replier
	Controller     = core.Controller
	App            = core.App
	Response       = core.Response
	Envelope       = core.Envelope
)

// NewDispatcher creates a Dispatcher bound to the given Broker.
func NewDispatcher(b Broker, opts ...core.DispatcherOption) *Dispatcher {
	return core.NewDispatcher(b, opts...)
}

// NewController creates a lifecycle Controller for app.
func NewController(app App) (*Controller, error) {
	return core.NewController(app)
}
