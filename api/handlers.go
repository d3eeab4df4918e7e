package api

import (
	"context"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status     string `json:"status"`
	DedupSize  int    `json:"dedup_size"`
	TokenStore string `json:"token_store"`
}

// AckResponse is returned for forwarded requests when no upstream is configured
type AckResponse struct {
	Status string `json:"status"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

// healthCheck reports "degraded" rather than failing when the token store is down:
// the guard fails open, so the gateway keeps serving.
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		DedupSize:  a.cache.Stats().Size,
		TokenStore: "ok",
	}

	if a.tokenStore != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := a.tokenStore.Ping(ctx); err != nil {
			a.logger.Warnw("Token store health check failed", "error", err)
			resp.Status = "degraded"
			resp.TokenStore = "unavailable"
		}
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		a.logger.Errorw("Failed to encode health response", "error", err)
	}
}

func (a *API) getDedupStats(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusOK, a.cache.Stats()); err != nil {
		a.logger.Errorw("Failed to encode dedup stats", "error", err)
	}
}

// acknowledge stands in for the booking application
func (a *API) acknowledge(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusAccepted, AckResponse{
		Status: "accepted",
		Method: r.Method,
		Path:   r.URL.Path,
	}); err != nil {
		a.logger.Errorw("Failed to encode acknowledgement", "error", err)
	}
}
