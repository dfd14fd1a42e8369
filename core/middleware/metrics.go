package middleware

import (
	"time"

	"github.com/miladsoleymani/replymux/core"
)

// MetricsCollector is the interface that metrics backends must implement.
// This keeps the middleware decoupled from any specific metrics library.
type MetricsCollector interface {
	// MessageProcessed records that a handler invocation finished.
	// destination is the source destination, duration is processing time,
	// and err is nil on success.
	MessageProcessed(destination string, duration time.Duration, err error)
}

// Metrics returns middleware that reports processing metrics to the given collector.
func Metrics(collector MetricsCollector) core.MiddlewareFunc {
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) (any, error) {
			start := time.Now()
			res, err := next(c)
			collector.MessageProcessed(c.Destination(), time.Since(start), err)
			return res, err
		}
	}
}
