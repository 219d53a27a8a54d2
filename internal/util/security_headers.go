package util

import (
	"net/http"
	"strings"
)

// WithSecurityHeaders sets the headers every JSON response of the API
// carries. Responses hold bearer tokens and private documents, so nothing is
// cacheable. HSTS is sent on direct TLS, or when a trusted proxy reports
// X-Forwarded-Proto: https.
func WithSecurityHeaders(trusted *TrustedProxies, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")

		forwardedHTTPS := strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
		if r.TLS != nil || (forwardedHTTPS && trusted.trustsPeer(r)) {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
