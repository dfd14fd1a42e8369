package middleware

import (
	"context"
	"time"

	"github.com/miladsoleymani/replymux/core"
)

// Timeout bounds each invocation's context with d. A zero or negative d
// disables the deadline. The handler must observe c.Context() for the
// deadline to take effect.
func Timeout(d time.Duration) core.MiddlewareFunc {
	return func(next core.HandlerFunc) core.HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(c core.Context) (any, error) {
			ctx, cancel := context.WithTimeout(c.Context(), d)
			defer cancel()
			c.SetContext(ctx)
			return next(c)
		}
	}
}
