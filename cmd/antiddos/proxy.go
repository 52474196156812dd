package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// newUpstream returns the handler that serves admitted traffic: a reverse proxy
// to upstreamURL, or a plain 404 when no upstream is configured.
func newUpstream(upstreamURL string, trustProxyHeaders bool, logger *slog.Logger) (http.Handler, error) {
	if upstreamURL == "" {
		return http.NotFoundHandler(), nil
	}
	target, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if trustProxyHeaders {
				pr.Out.Header["X-Forwarded-For"] = pr.In.Header["X-Forwarded-For"]
			}
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("Upstream request failed", "upstream", target.Host, "path", r.URL.Path, "error", err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}, nil
}
