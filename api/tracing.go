package api

import (
	"net/http"
	"strconv"
	"time"

	"bookguard/fingerprint"
	"bookguard/identity"
	"bookguard/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "bookguard/api"

	// RequestIDHeader carries the correlation id in both directions
	RequestIDHeader = "X-Request-ID"

	maxRequestIDLength = 64
)

// requestIDMiddleware adds request ID tracking and timing to all requests.
// A client supplied X-Request-ID is kept after sanitizing, otherwise a UUID
// is generated. The id is echoed on the response.
func (a *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := sanitizeRequestID(r.Header.Get(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := identity.WithRequestID(r.Context(), requestID)

		a.logger.Debugw("request_started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", identity.ClientIP(r, a.config.API.TrustProxy, a.config.API.TrustedProxyNetworks),
			"user_agent", r.UserAgent(),
		)

		wrapped := &responseWriterWrapper{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		duration := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(duration.Seconds())
		a.logger.Infow("request_completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", duration.Milliseconds(),
		)
	})
}

// tracingMiddleware starts the server span that the guards attach their events to
func (a *API) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + fingerprint.NormalizePath(r.URL.Path)
		ctx, span := a.tracer.Start(r.Context(), route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.String("bookguard.request_id", identity.GetRequestIDOrDefault(r.Context())),
			),
		)
		defer span.End()

		wrapped, ok := w.(*responseWriterWrapper)
		if !ok {
			wrapped = &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		}
		next.ServeHTTP(wrapped, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.response.status_code", wrapped.statusCode))
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture the status code.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader captures the status code before writing it.
func (w *responseWriterWrapper) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Write implements http.ResponseWriter.Write and ensures status code is captured.
func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *responseWriterWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// sanitizeRequestID cleans request ID to prevent log injection.
// Only alphanumeric characters, dashes, and underscores survive.
func sanitizeRequestID(id string) string {
	if len(id) > maxRequestIDLength {
		id = id[:maxRequestIDLength]
	}

	result := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') ||
			c == '-' || c == '_' {
			result = append(result, c)
		}
	}

	return string(result)
}
