package middleware

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miladsoleymani/replymux/core"
)

const tracerName = "github.com/miladsoleymani/replymux"

// Tracing wraps each invocation in an OpenTelemetry span carrying the
// correlation metadata. The span context replaces the handler context.
func Tracing() core.MiddlewareFunc {
	return func(next core.HandlerFunc) core.HandlerFunc {
		return func(c core.Context) (any, error) {
			replyTo, _ := c.ReplyTo()
			ctx, span := otel.Tracer(tracerName).Start(c.Context(), "ProcessRequest",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.destination.name", c.Destination()),
					attribute.String("messaging.message.conversation_id", c.CorrelationID()),
					attribute.String("replymux.reply_to", replyTo),
				))
			defer span.End()
			c.SetContext(ctx)

			res, err := next(c)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return res, err
		}
	}
}
