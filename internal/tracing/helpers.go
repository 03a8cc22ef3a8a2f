package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartProcessorSpan creates a span around an outbound payment processor
// call. Returns the new context and a function to end the span with the
// call's outcome.
//
// Example usage:
//
//	ctx, end := tracing.StartProcessorSpan(ctx, "create_payment_intent")
//	pi, err := paymentintent.New(params)
//	end(err)
func StartProcessorSpan(ctx context.Context, operation string) (context.Context, func(error)) {
	tracer := otel.Tracer("merchflow/processor")

	ctx, span := tracer.Start(ctx, "stripe "+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("peer.service", "stripe"),
			attribute.String("processor.operation", operation),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
