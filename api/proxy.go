package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"bookguard/identity"
	"bookguard/metrics"

	"go.uber.org/zap"
)

// Headers the booking application can read to learn what the gateway resolved
const (
	ActorHeader = "X-Bookguard-Actor"
)

// newUpstreamProxy forwards surviving requests to the booking application
func newUpstreamProxy(rawURL string, logger *zap.SugaredLogger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host are required", rawURL)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del(ActorHeader)
			if id, ok := identity.FromContext(pr.In.Context()); ok && id.ActorID != "" {
				pr.Out.Header.Set(ActorHeader, id.ActorID)
			}
			if requestID, ok := identity.GetRequestID(pr.In.Context()); ok {
				pr.Out.Header.Set(RequestIDHeader, requestID)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			metrics.UpstreamErrors.Inc()
			if errors.Is(err, r.Context().Err()) {
				// client went away; nothing to answer
				return
			}
			logger.Errorw("Upstream request failed",
				"error", err,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", identity.GetRequestIDOrDefault(r.Context()))
			writeError(w, http.StatusBadGateway, "Upstream unavailable")
		},
	}, nil
}
