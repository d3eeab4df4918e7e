package dedup

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"bookguard/identity"
	"bookguard/metrics"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DuplicateResponse is the body of a 429 duplicate rejection
type DuplicateResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
	RetryAfter int    `json:"retryAfter"`
}

// Middleware rejects duplicate submissions with 429. Skipped requests and
// requests the cache fails on pass through untouched.
func Middleware(c *Cache, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c.ShouldSkip(r) {
				metrics.DedupRequests.WithLabelValues("skipped").Inc()
				next.ServeHTTP(w, r)
				return
			}

			out, err := c.Check(r)
			if err != nil {
				var ie *InternalError
				if !errors.As(err, &ie) {
					ie = &InternalError{Op: "check", Err: err}
				}
				logger.Errorw("Deduplication check failed, allowing request",
					"op", ie.Op,
					"error", ie.Err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", identity.GetRequestIDOrDefault(r.Context()))
				metrics.DedupRequests.WithLabelValues("error").Inc()
				metrics.FailOpen.WithLabelValues("dedup").Inc()
				next.ServeHTTP(w, r)
				return
			}

			if out.Duplicate {
				metrics.DedupRequests.WithLabelValues("duplicate").Inc()
				trace.SpanFromContext(r.Context()).AddEvent("dedup.duplicate_rejected",
					trace.WithAttributes(
						attribute.String("http.method", r.Method),
						attribute.String("http.path", r.URL.Path),
						attribute.Int64("dedup.retry_after_ms", out.RetryAfter.Milliseconds()),
					))
				logger.Infow("Rejected duplicate request",
					"method", r.Method,
					"path", r.URL.Path,
					"fingerprint", out.Fingerprint[:12],
					"retry_after", out.RetryAfter,
					"request_id", identity.GetRequestIDOrDefault(r.Context()))
				writeDuplicateResponse(w, r, out.RetryAfter, c.clock.Now())
				return
			}

			metrics.DedupRequests.WithLabelValues("proceed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

// RetryAfterSeconds rounds a window up to whole seconds, never below one
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func writeDuplicateResponse(w http.ResponseWriter, r *http.Request, retryAfter time.Duration, now time.Time) {
	secs := RetryAfterSeconds(retryAfter)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(DuplicateResponse{
		StatusCode: http.StatusTooManyRequests,
		Message:    "Duplicate request detected. Please wait before retrying.",
		Error:      "Too Many Requests",
		Timestamp:  now.UTC().Format(time.RFC3339),
		Path:       r.URL.Path,
		RetryAfter: secs,
	})
}
