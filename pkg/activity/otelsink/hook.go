// Package otelsink records bridge sync events as OpenTelemetry spans.
package otelsink

import (
	"context"
	"fmt"

	"github.com/goliatone/go-query-state/pkg/activity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/goliatone/go-query-state"

// Hook starts and ends one span per activity event.
type Hook struct {
	tracer trace.Tracer
}

// New creates a hook on tp. A nil provider falls back to the global one.
func New(tp trace.TracerProvider) *Hook {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Hook{tracer: tp.Tracer(instrumentationName)}
}

// Notify implements activity.ActivityHook.
func (h *Hook) Notify(ctx context.Context, event activity.Event) error {
	if h == nil || h.tracer == nil {
		return nil
	}
	normalized := activity.NormalizeEvent(event)
	if !normalized.Valid() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := []attribute.KeyValue{
		attribute.String("querystate.object_type", normalized.ObjectType),
		attribute.String("querystate.bridge_id", normalized.ObjectID),
		attribute.String("querystate.channel", normalized.Channel),
	}
	if normalized.ActorID != "" {
		attrs = append(attrs, attribute.String("querystate.actor_id", normalized.ActorID))
	}
	if normalized.TenantID != "" {
		attrs = append(attrs, attribute.String("querystate.tenant_id", normalized.TenantID))
	}
	attrs = append(attrs, metadataAttributes(normalized.Metadata)...)

	_, span := h.tracer.Start(ctx, normalized.Verb,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(normalized.OccurredAt),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	if msg, failed := normalized.Metadata["error"]; failed {
		span.SetStatus(codes.Error, fmt.Sprint(msg))
	}
	span.End(trace.WithTimestamp(normalized.OccurredAt))
	return nil
}

func metadataAttributes(meta map[string]any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for key, value := range meta {
		if key == "error" {
			continue
		}
		name := "querystate." + key
		switch typed := value.(type) {
		case string:
			attrs = append(attrs, attribute.String(name, typed))
		case []string:
			attrs = append(attrs, attribute.StringSlice(name, typed))
		case bool:
			attrs = append(attrs, attribute.Bool(name, typed))
		case int:
			attrs = append(attrs, attribute.Int(name, typed))
		case int64:
			attrs = append(attrs, attribute.Int64(name, typed))
		case uint64:
			attrs = append(attrs, attribute.Int64(name, int64(typed)))
		case float64:
			attrs = append(attrs, attribute.Float64(name, typed))
		default:
			attrs = append(attrs, attribute.String(name, fmt.Sprint(typed)))
		}
	}
	return attrs
}
