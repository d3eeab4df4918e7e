package api

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
	"go.opentelemetry.io/otel/trace"
)

func TestHealthCheck(t *testing.T) {
	g := newTestGateway(t)
	token := g.issueToken(t)
	require.Equal(t, http.StatusAccepted, g.do(http.MethodPost, "/orders", `{"n":1}`, token).Code)

	rec := g.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, HealthResponse{Status: "ok", DedupSize: 1, TokenStore: "ok"}, resp)
}

func TestHealthCheck_TokenStoreDown(t *testing.T) {
	g := newTestGateway(t)
	g.mr.Close()

	rec := g.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code, "the gateway keeps serving while the store is down")

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unavailable", resp.TokenStore)
}

func TestDedupStats(t *testing.T) {
	g := newTestGateway(t)
	token := g.issueToken(t)
	g.do(http.MethodPost, "/sessions", `{"hotelId":"h-1"}`, token)
	g.do(http.MethodPost, "/sessions", `{"hotelId":"h-1"}`, token)

	rec := g.do(http.MethodGet, DedupStatsPath, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, float64(1), stats["size"])
	assert.Equal(t, float64(1), stats["recentDuplicateCount"])
	assert.Equal(t, float64(10000), stats["maxSize"])
	assert.Equal(t, "2s", stats["window"])
	assert.Equal(t, false, stats["running"])
}

func TestMetricsEndpoint(t *testing.T) {
	g := newTestGateway(t)
	g.do(http.MethodGet, "/health", "", "")

	rec := g.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bookguard_http_requests_total")
}

func TestUpstreamProxy(t *testing.T) {
	var gotActor, gotRequestID, gotBody, gotForwarded string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor = r.Header.Get(ActorHeader)
		gotRequestID = r.Header.Get(RequestIDHeader)
		gotForwarded = r.Header.Get("X-Forwarded-For")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"bookingId":"b-1"}`)
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.API.UpstreamURL = upstream.URL
	g := newTestGatewayWithConfig(t, cfg)
	token := g.issueToken(t)

	req := httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader(`{"room":"suite"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.bearer)
	req.Header.Set("X-CSRF-Token", token)
	req.Header.Set(ActorHeader, "spoofed")
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"bookingId":"b-1"}`, rec.Body.String())
	assert.Equal(t, "user-1", gotActor, "the actor header is set by the gateway, never by the client")
	assert.Equal(t, "req-42", gotRequestID)
	assert.Equal(t, `{"room":"suite"}`, gotBody, "the upstream must receive the body the guards read")
	assert.NotEmpty(t, gotForwarded)
}

func TestUpstreamProxy_Unavailable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	cfg := testConfig()
	cfg.API.UpstreamURL = url
	g := newTestGatewayWithConfig(t, cfg)

	rec := g.do(http.MethodGet, "/hotels", "", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func spanEvents(spans []sdktrace.ReadOnlySpan) []string {
	var names []string
	for _, s := range spans {
		for _, e := range s.Events() {
			names = append(names, e.Name)
		}
	}
	return names
}

func TestTracing_SpanEvents(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	g := newTestGateway(t, WithTracerProvider(tp))
	token := g.issueToken(t)

	g.do(http.MethodPost, "/sessions", `{"hotelId":"h-1"}`, token)
	g.do(http.MethodPost, "/sessions", `{"hotelId":"h-1"}`, token)
	g.do(http.MethodPost, "/orders", `{"n":1}`, "")
	g.clock.Add(31 * time.Minute)
	g.do(http.MethodPost, "/orders", `{"n":2}`, token)

	spans := recorder.Ended()
	require.Len(t, spans, 5)
	assert.Equal(t, "GET /csrf-token", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
	assert.Equal(t, []string{"dedup.duplicate_rejected", "csrf.rejected", "csrf.rotated"}, spanEvents(spans))
}
