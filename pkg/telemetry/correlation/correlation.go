package correlation

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

// Message header names carried on every published event.
const (
	HeaderCorrelationID = "correlation_id"
	HeaderTraceID       = "trace_id"
	HeaderSpanID        = "span_id"
	HeaderPublishedAt   = "published_at"
)

// correlationKey is an unexported type for context keys within this package.
type correlationKey struct{}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// InjectIntoHeaders appends correlation and trace headers to a Kafka message,
// replacing any values already present under the same keys.
func InjectIntoHeaders(ctx context.Context, msg *kafka.Message, now time.Time) {
	if msg == nil {
		return
	}
	_, cid := EnsureCorrelationID(ctx)
	sc := trace.SpanContextFromContext(ctx)

	set := map[string]string{
		HeaderCorrelationID: cid,
		HeaderPublishedAt:   now.UTC().Format(time.RFC3339),
	}
	if sc.IsValid() {
		set[HeaderTraceID] = sc.TraceID().String()
		set[HeaderSpanID] = sc.SpanID().String()
	}

	headers := make([]kafka.Header, 0, len(msg.Headers)+len(set))
	for _, h := range msg.Headers {
		if _, replaced := set[h.Key]; replaced {
			continue
		}
		headers = append(headers, h)
	}
	for _, key := range []string{HeaderCorrelationID, HeaderTraceID, HeaderSpanID, HeaderPublishedAt} {
		if v, ok := set[key]; ok {
			headers = append(headers, kafka.Header{Key: key, Value: []byte(v)})
		}
	}
	msg.Headers = headers
}

// ContextFromHeaders restores correlation and remote span context from message headers.
func ContextFromHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	var cid, traceID, spanID string
	for _, h := range headers {
		switch h.Key {
		case HeaderCorrelationID:
			cid = string(h.Value)
		case HeaderTraceID:
			traceID = string(h.Value)
		case HeaderSpanID:
			spanID = string(h.Value)
		}
	}
	ctx = ContextWithCorrelationID(ctx, cid)
	return ContextWithRemoteSpan(ctx, traceID, spanID)
}

// ContextWithRemoteSpan seeds the context with a remote span if valid identifiers are provided.
func ContextWithRemoteSpan(ctx context.Context, traceIDHex, spanIDHex string) context.Context {
	if traceIDHex == "" || spanIDHex == "" {
		return ctx
	}

	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil {
		return ctx
	}

	parent := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled, Remote: true})
	return trace.ContextWithSpanContext(ctx, parent)
}
