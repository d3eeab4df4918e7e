package dedup

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// echoHandler records how many requests reached it and echoes the body back
type echoHandler struct {
	calls int
}

func (h *echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls++
	body, _ := io.ReadAll(r.Body)
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func TestMiddleware_RejectsDuplicate(t *testing.T) {
	c, mock := newTestCache(t)
	next := &echoHandler{}
	handler := Middleware(c, zaptest.NewLogger(t).Sugar())(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(http.MethodPost, "/bookings", `{"hotel":3}`, "user-1"))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"hotel":3}`, rec.Body.String(), "downstream handler must see the original body")

	mock.Add(200 * time.Millisecond)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(http.MethodPost, "/bookings", `{"hotel":3}`, "user-1"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, next.calls)

	var resp DuplicateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Too Many Requests", resp.Error)
	assert.Equal(t, "/bookings", resp.Path)
	assert.Equal(t, 5, resp.RetryAfter)
	assert.NotEmpty(t, resp.Message)
	_, err := time.Parse(time.RFC3339, resp.Timestamp)
	assert.NoError(t, err)
}

func TestMiddleware_RetryAfterWindow(t *testing.T) {
	c, mock := newTestCache(t)
	next := &echoHandler{}
	handler := Middleware(c, zaptest.NewLogger(t).Sugar())(next)

	send := func() int {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest(http.MethodPost, "/bookings", `{"hotel":3}`, "user-1"))
		return rec.Code
	}

	assert.Equal(t, http.StatusCreated, send())
	mock.Add(5100 * time.Millisecond)
	assert.Equal(t, http.StatusCreated, send(), "a retry after the window is a new submission")
	assert.Equal(t, 2, next.calls)
}

func TestMiddleware_SkipsSafeMethods(t *testing.T) {
	c, _ := newTestCache(t)
	next := &echoHandler{}
	handler := Middleware(c, zaptest.NewLogger(t).Sugar())(next)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bookings", nil))
		assert.Equal(t, http.StatusCreated, rec.Code)
	}
	assert.Equal(t, 3, next.calls)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestMiddleware_FailsOpen(t *testing.T) {
	c, _ := newTestCache(t, func(c *Config) { c.MaxBodyBytes = 8 })
	core, logs := observer.New(zap.WarnLevel)
	next := &echoHandler{}
	handler := Middleware(c, zap.New(core).Sugar())(next)

	payload := `{"notes":"` + strings.Repeat("y", 32) + `"}`
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest(http.MethodPost, "/bookings", payload, "u"))
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, payload, rec.Body.String())
	}

	assert.Equal(t, 2, next.calls, "internal failures must never block a request")
	entries := logs.FilterMessage("Deduplication check failed, allowing request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "read body", entries[0].ContextMap()["op"])
}

func TestMiddleware_RecordsSpanEvent(t *testing.T) {
	c, _ := newTestCache(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	handler := Middleware(c, zaptest.NewLogger(t).Sugar())(&echoHandler{})

	for i := 0; i < 2; i++ {
		req := newRequest(http.MethodPost, "/bookings", `{"a":1}`, "u")
		ctx, span := tp.Tracer("test").Start(req.Context(), "request")
		handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))
		span.End()
	}

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Empty(t, spans[0].Events())
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "dedup.duplicate_rejected", spans[1].Events()[0].Name)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(300*time.Millisecond))
	assert.Equal(t, 1, RetryAfterSeconds(time.Second))
	assert.Equal(t, 2, RetryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, 5, RetryAfterSeconds(5*time.Second))
}
