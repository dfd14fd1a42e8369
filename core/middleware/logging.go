package middleware

import (
	"log/slog"
	"time"

	"github.com/miladsoleymani/replymux/core"
)

// Logging returns middleware that logs handler duration and errors.
func Logging(logger *slog.Logger) core.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) (any, error) {
			start := time.Now()
			res, err := next(c)
			elapsed := time.Since(start)

			replyTo, _ := c.ReplyTo()
			attrs := []any{
				"destination", c.Destination(),
				"reply_to", replyTo,
				"elapsed", elapsed,
			}
			if err != nil {
				logger.ErrorContext(c.Context(), "handler failed", append(attrs, "error", err)...)
			} else {
				logger.InfoContext(c.Context(), "handler succeeded", attrs...)
			}
			return res, err
		}
	}
}
