package csrf

import (
	"context"
	"encoding/json"
	"net/http"

	"bookguard/identity"
	"bookguard/metrics"
	"bookguard/util/goroutine"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Middleware enforces token validation on mutating requests. A rotated
// token is sent back on the same response; a successful logout revokes the
// caller's token.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.ShouldSkip(r) {
			next.ServeHTTP(w, r)
			return
		}

		var res *Result
		err := goroutine.Catch("csrf-validate", g.logger, func() error {
			var err error
			res, err = g.Validate(r.Context(), r)
			return err
		})
		if err != nil {
			g.failOpen(r, "validate", err)
			next.ServeHTTP(w, r)
			return
		}

		span := trace.SpanFromContext(r.Context())
		if !res.Valid() {
			metrics.CSRFValidations.WithLabelValues(res.Err.Code).Inc()
			span.AddEvent("csrf.rejected", trace.WithAttributes(
				attribute.String("csrf.code", res.Err.Code),
				attribute.String("http.path", r.URL.Path),
			))
			g.logger.Infow("Rejected request with failed CSRF validation",
				"code", res.Err.Code,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", identity.GetRequestIDOrDefault(r.Context()))
			if err := writeError(w, res.Err); err != nil {
				g.logger.Errorw("Failed to encode CSRF error response", "error", err)
			}
			return
		}

		metrics.CSRFValidations.WithLabelValues("ok").Inc()
		if res.Rotated != nil {
			metrics.CSRFRotations.Inc()
			span.AddEvent("csrf.rotated")
			g.setCookie(w, r, res.Rotated.Token)
			w.Header().Set(g.cfg.HeaderName, res.Rotated.Token)
		}

		if g.isLogout(r) {
			g.serveLogout(w, r, next)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// serveLogout revokes the caller's token only once the downstream logout
// has answered with a 2xx; a failed logout keeps the session's token.
func (g *Guard) serveLogout(w http.ResponseWriter, r *http.Request, next http.Handler) {
	sw := &statusWriter{ResponseWriter: w}
	sw.beforeHeader = func(status int) {
		if isSuccess(status) {
			g.clearCookie(w, r)
		}
	}

	next.ServeHTTP(sw, r)

	status := sw.status
	if !sw.wroteHeader {
		// nothing written: the server answers 200 once we return
		status = http.StatusOK
		g.clearCookie(w, r)
	}
	if !isSuccess(status) {
		return
	}

	// the logout already happened upstream even if the client has gone
	ctx := context.WithoutCancel(r.Context())
	if err := g.Revoke(ctx, g.OwnerKey(r)); err != nil {
		g.failOpen(r, "revoke", err)
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// statusWriter records the final status and runs beforeHeader just before
// the header is sent, while cookies can still be added.
type statusWriter struct {
	http.ResponseWriter
	status       int
	wroteHeader  bool
	beforeHeader func(status int)
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader && code >= 200 {
		w.wroteHeader = true
		w.status = code
		if w.beforeHeader != nil {
			w.beforeHeader(code)
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// TokenHandler issues a token. The token is returned even when it could not
// be stored; validation fails open while the store is unavailable.
func (g *Guard) TokenHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := g.IssueToken(r.Context(), r)
	if resp == nil {
		g.logger.Errorw("Failed to issue CSRF token", "error", err)
		http.Error(w, "failed to issue csrf token", http.StatusInternalServerError)
		return
	}
	if err != nil {
		g.failOpen(r, "issue", err)
	}

	metrics.CSRFTokensIssued.Inc()
	g.setCookie(w, r, resp.CSRFToken)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Errorw("Failed to encode CSRF token response", "error", err)
	}
}

func (g *Guard) isLogout(r *http.Request) bool {
	return g.cfg.LogoutPath != "" && r.Method == http.MethodPost && r.URL.Path == g.cfg.LogoutPath
}

func (g *Guard) failOpen(r *http.Request, op string, err error) {
	metrics.FailOpen.WithLabelValues("csrf").Inc()
	if g.failOpenLog.Allow() {
		g.logger.Errorw("CSRF guard failed, allowing request",
			"op", op,
			"error", err,
			"path", r.URL.Path,
			"request_id", identity.GetRequestIDOrDefault(r.Context()))
	}
}

// setCookie exposes the token to the browser; it must stay readable by scripts
func (g *Guard) setCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    token,
		Path:     g.cfg.CookiePath,
		HttpOnly: false,
		Secure:   g.cfg.SecureCookie || r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(g.cfg.HardExpiry.Seconds()),
	})
}

func (g *Guard) clearCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    "",
		Path:     g.cfg.CookiePath,
		HttpOnly: false,
		Secure:   g.cfg.SecureCookie || r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}
