package api

import (
	"fmt"
	"net/http"
	"runtime"

	"bookguard/fingerprint"
	"bookguard/identity"
	"bookguard/metrics"
)

// securityHeadersMiddleware adds the response headers every gateway reply carries.
// Upstream responses may override them.
func (a *API) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")

		if r.TLS != nil || a.config.IsProduction() {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// errorRecoveryMiddleware turns a handler panic into a 500 with the stack logged server side
func (a *API) errorRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			// the reverse proxy aborts copies this way; net/http handles it
			if err == http.ErrAbortHandler {
				panic(err)
			}

			stackBuf := make([]byte, 4096)
			stackLen := runtime.Stack(stackBuf, false)
			path := fingerprint.NormalizePath(r.URL.Path)
			id := identity.FromRequest(r)

			a.logger.Errorw("PANIC RECOVERED",
				"error", fmt.Sprintf("%v", err),
				"request_id", identity.GetRequestIDOrDefault(r.Context()),
				"method", r.Method,
				"path", path,
				"actor", id.ActorID,
				"client_ip", id.ClientAddr,
				"stack_trace", string(stackBuf[:stackLen]),
			)
			metrics.APIPanicsRecovered.WithLabelValues(r.Method, path).Inc()

			writeError(w, http.StatusInternalServerError, "Internal server error")
		}()

		next.ServeHTTP(w, r)
	})
}
