// Package httpmw provides HTTP middleware for capturing request audit
// attributes used by downstream handlers.
package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const auditKey contextKey = "audit"

// Audit holds the client attributes recorded alongside a saved session.
type Audit struct {
	IPAddress string
	UserAgent string
}

// Capture extracts the client IP and user agent from the request and stores
// them on the context for handlers to read via FromContext.
func Capture() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			audit := Audit{
				IPAddress: clientIP(r),
				UserAgent: r.UserAgent(),
			}

			ctx := context.WithValue(r.Context(), auditKey, audit)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the audit attributes captured for this request, or a
// zero value when the middleware is not installed.
func FromContext(ctx context.Context) Audit {
	audit, ok := ctx.Value(auditKey).(Audit)
	if !ok {
		return Audit{}
	}

	return audit
}

// clientIP resolves the originating client address, preferring proxy headers
// when present. Header values are client controlled, so anything that does
// not parse as an IP is skipped in favour of the next source.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// first entry is the originating client
		if idx := strings.Index(fwd, ","); idx != -1 {
			fwd = fwd[:idx]
		}

		if ip := strings.TrimSpace(fwd); net.ParseIP(ip) != nil {
			return ip
		}
	}

	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" && net.ParseIP(real) != nil {
		return real
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if net.ParseIP(host) == nil {
		return ""
	}

	return host
}
