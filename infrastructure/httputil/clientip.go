package httputil

import (
	"net"
	"net/http"
	"strings"
)

// defaultTrustedProxyHeaders is the header order ClientIP falls back to when
// no caller-configured list is supplied.
var defaultTrustedProxyHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// ClientIP extracts the best-effort client IP address from the request,
// trusting the default X-Forwarded-For / X-Real-IP header pair.
//
// Security model:
//   - If the direct peer is on a private network (typical for ingress/proxy),
//     trust the configured forwarding headers.
//   - If the request comes directly from the internet, ignore spoofable forwarded
//     headers and fall back to RemoteAddr.
func ClientIP(r *http.Request) string {
	return ClientIPFromHeaders(r, defaultTrustedProxyHeaders)
}

// ClientIPFromHeaders is like ClientIP but checks the given header names, in
// order, instead of the hardcoded X-Forwarded-For/X-Real-IP pair. This lets
// callers honor an operator-configured trusted-proxy header list (e.g.
// security.trusted_proxy_headers) rather than a fixed pair.
func ClientIPFromHeaders(r *http.Request, trustedHeaders []string) string {
	if r == nil {
		return ""
	}

	remoteIP := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}

	parsedRemote := net.ParseIP(remoteIP)
	trustForwarded := parsedRemote != nil && (parsedRemote.IsPrivate() || parsedRemote.IsLoopback() || parsedRemote.IsLinkLocalUnicast())

	if trustForwarded {
		for _, header := range trustedHeaders {
			raw := strings.TrimSpace(r.Header.Get(header))
			if raw == "" {
				continue
			}
			candidate := strings.TrimSpace(strings.Split(raw, ",")[0])
			if host, _, err := net.SplitHostPort(candidate); err == nil {
				candidate = host
			}
			if candidate != "" {
				return candidate
			}
		}
	}

	return remoteIP
}
