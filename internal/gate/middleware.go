package gate

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

const blockedPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Too Many Requests</title></head>
<body>
<h1>Too Many Requests</h1>
<p>You have sent too many requests. Please try again later.</p>
</body>
</html>
`

// MiddlewareOptions configures Middleware.
type MiddlewareOptions struct {
	Exemptions Exemptions
	// TrustProxyHeaders makes the client address come from X-Forwarded-For or
	// X-Real-IP when present. Only enable behind a trusted reverse proxy.
	TrustProxyHeaders bool
}

// Middleware runs the gate in front of next. Denied requests get a 429 page and
// never reach next.
func Middleware(g *Gate, opts MiddlewareOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Exemptions.Exempt(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithEvaluation(r.Context())
			r = r.WithContext(ctx)

			verdict := g.Admit(ctx, Request{
				Address: ClientAddress(r, opts.TrustProxyHeaders),
				Target:  r.URL.RequestURI(),
			})
			if verdict.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			WriteBlocked(w, verdict)
		})
	}
}

// WriteBlocked writes the terminal rate-limit response for a denied verdict.
func WriteBlocked(w http.ResponseWriter, v Verdict) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Retry-After", strconv.Itoa(int(v.RetryAfter.Seconds())))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(blockedPage))
}

// maxAddressLength bounds proxy header values considered as client addresses.
const maxAddressLength = 64

// ClientAddress extracts the client address from r. With trustProxyHeaders the
// last X-Forwarded-For entry is used, because entries to its left come from the
// client. Header values that are not IP addresses are ignored.
func ClientAddress(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if ip, ok := lastForwarded(r.Header.Values("X-Forwarded-For")); ok {
			return ip
		}
		if ip, ok := parseAddress(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func lastForwarded(values []string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}
	last := values[len(values)-1]
	if i := strings.LastIndexByte(last, ','); i >= 0 {
		last = last[i+1:]
	}
	return parseAddress(last)
}

// parseAddress returns the canonical form of an IP address, optionally
// followed by a port.
func parseAddress(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxAddressLength {
		return "", false
	}
	ip := net.ParseIP(value)
	if ip == nil {
		host, _, err := net.SplitHostPort(value)
		if err != nil {
			return "", false
		}
		if ip = net.ParseIP(host); ip == nil {
			return "", false
		}
	}
	return ip.String(), true
}
