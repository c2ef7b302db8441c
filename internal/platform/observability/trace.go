package observability

import (
	"encoding/binary"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/printy-garments/api/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/printy-garments/api/internal/platform/observability")

// TraceMiddleware joins the Cloud Trace context propagated by the load
// balancer, opens a server span for the request and records the trace IDs
// where the request logger can find them.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		next = orNoopHandler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			info, remote, joined := cloudTraceFromHeader(r.Header.Get(cloudTraceHeader))
			if joined {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			ctx, span := tracer.Start(ctx, serverSpanName(r), trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			span.SetAttributes(requestSpanAttributes(r)...)

			spanCtx := span.SpanContext()
			info.TraceID = spanCtx.TraceID().String()
			info.SpanID = spanCtx.SpanID().String()
			info.Sampled = spanCtx.IsSampled()
			info.ProjectID = projectID

			ctx = requestctx.WithTrace(ctx, info)
			if echoed := cloudTraceHeaderValue(info); echoed != "" {
				w.Header().Set(cloudTraceHeader, echoed)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// cloudTraceFromHeader parses "TRACE_ID/SPAN_ID;o=1" as sent by Google's
// front ends.
func cloudTraceFromHeader(header string) (requestctx.TraceInfo, trace.SpanContext, bool) {
	traceToken, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}

	traceToken = strings.TrimSpace(traceToken)
	if len(traceToken) != 32 {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceToken)
	if err != nil {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}

	spanToken, options, _ := strings.Cut(rest, ";")
	spanID, ok := spanIDFromToken(spanToken)
	if !ok {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}

	sampled := sampledFromOptions(options)
	var flags trace.TraceFlags
	if sampled {
		flags = trace.FlagsSampled
	}

	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	info := requestctx.TraceInfo{
		TraceID: traceID.String(),
		SpanID:  spanID.String(),
		Sampled: sampled,
	}
	return info, remote, true
}

func spanIDFromToken(token string) (trace.SpanID, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return trace.SpanID{}, false
	}

	if len(token) <= 16 {
		if _, err := hex.DecodeString(token); err == nil {
			padded := strings.Repeat("0", 16-len(token)) + token
			if spanID, err := trace.SpanIDFromHex(padded); err == nil {
				return spanID, true
			}
		}
	}

	// The load balancer sometimes sends the span ID in decimal.
	if num, err := strconv.ParseUint(token, 10, 64); err == nil {
		var spanID trace.SpanID
		binary.BigEndian.PutUint64(spanID[:], num)
		if spanID.IsValid() {
			return spanID, true
		}
	}

	return trace.SpanID{}, false
}

func sampledFromOptions(options string) bool {
	for _, segment := range strings.Split(options, ";") {
		segment = strings.TrimSpace(segment)
		if strings.HasPrefix(segment, "o=") {
			return segment == "o=1"
		}
	}
	return false
}

func cloudTraceHeaderValue(info requestctx.TraceInfo) string {
	if info.TraceID == "" || info.SpanID == "" {
		return ""
	}
	option := ";o=0"
	if info.Sampled {
		option = ";o=1"
	}
	return info.TraceID + "/" + info.SpanID + option
}

func serverSpanName(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return r.Method + " " + path
}

func requestSpanAttributes(r *http.Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 6)
	appendAttr := func(key, value string) {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}

	appendAttr("http.request.method", r.Method)
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	appendAttr("url.scheme", scheme)

	if r.URL != nil {
		appendAttr("url.path", r.URL.Path)
		appendAttr("url.full", r.URL.RequestURI())
	}
	appendAttr("server.address", r.Host)
	appendAttr("user_agent.original", r.UserAgent())
	return attrs
}
