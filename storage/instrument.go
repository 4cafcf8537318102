package storage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/guard/instrumentation"
)

// Operation tracks one traced and metered storage call.
// The zero value (and a nil *Operation) is a no-op.
type Operation struct {
	inst  *instrumentation.Instrumentation
	span  trace.Span
	name  string
	start time.Time
}

// StartOperation opens a span named "storage.<name>" and returns the derived context.
// Backends call End with the operation's error once it completes.
func StartOperation(ctx context.Context, inst *instrumentation.Instrumentation, storageType, name string) (context.Context, *Operation) {
	if inst == nil {
		return ctx, nil
	}

	ctx, span := inst.Tracer("storage").Start(ctx, "storage."+name)
	instrumentation.AddStorageAttributes(span, name, storageType)

	return ctx, &Operation{inst: inst, span: span, name: name, start: time.Now()}
}

// End records the operation result and ends the span.
// ErrEntryNotFound counts as a successful lookup.
func (o *Operation) End(ctx context.Context, err error) {
	if o == nil {
		return
	}
	defer o.span.End()

	result := "success"
	if err != nil && !errors.Is(err, ErrEntryNotFound) {
		result = "error"
		instrumentation.RecordError(o.span, err)
	} else {
		instrumentation.SetSpanSuccess(o.span)
	}

	durationMs := float64(time.Since(o.start).Microseconds()) / 1000
	o.inst.Metrics().RecordStorageOperation(ctx, o.name, result, durationMs)
}
