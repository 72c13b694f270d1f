package log

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader is propagated on every outgoing request made through Transport.
const CorrelationHeader = "X-Correlation-ID"

const tracerName = "github.com/akeren/waitlist-gate/internal/log"

// Transport forwards the request correlation ID and trace context to upstream
// services and logs each round trip at debug level.
type Transport struct {
	Base   http.RoundTripper
	Logger *Logger
}

func NewTransport(base http.RoundTripper, logger *Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Logger: logger}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "HTTP "+r.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("server.address", r.URL.Host),
			attribute.String("url.path", r.URL.Path),
		),
	)
	defer span.End()

	r = r.Clone(ctx)
	if id, ok := CorrelationIDFromContext(ctx); ok && r.Header.Get(CorrelationHeader) == "" {
		r.Header.Set(CorrelationHeader, id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(r.Header))

	start := time.Now()
	resp, err := t.Base.RoundTrip(r)

	logger := GetLoggerInstanceFromContext(ctx, t.Logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("Upstream request failed", "method", r.Method, "host", r.URL.Host, "path", r.URL.Path, "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, resp.Status)
	}

	logger.Debug("Upstream request",
		"method", r.Method,
		"host", r.URL.Host,
		"path", r.URL.Path,
		"status", resp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}
