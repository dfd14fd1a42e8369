package middleware

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/miladsoleymani/replymux/core"
)

// Recovery returns middleware that recovers from panics in handlers,
// logs the stack trace, and returns the panic as an error.
func Recovery(logger *slog.Logger) core.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) (res any, err error) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					logger.ErrorContext(c.Context(), "panic recovered",
						"destination", c.Destination(), "panic", r, "stack", string(buf[:n]))
					res, err = nil, fmt.Errorf("replymux: panic recovered: %v", r)
				}
			}()
			return next(c)
		}
	}
}
