package main

import (
	"context"
	"net/http"
	"time"

	"github.com/verus-rpc/gateway/infrastructure/httputil"
	"github.com/verus-rpc/gateway/internal/rpctypes"
	"github.com/verus-rpc/gateway/internal/token"
)

type clientInfoKey struct{}

// clientInfoMiddleware extracts the bearer credential and connection
// metadata every pipeline stage and REST handler needs, and stores it in
// the request context as a rpctypes.ClientInfo. It never rejects a
// request itself — an absent or malformed token simply yields an empty
// AuthToken, which internal/policy resolves per method.
func clientInfoMiddleware(trustedProxyHeaders []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authToken, _ := token.ExtractFromHeader(r.Header.Get("Authorization"))
			info := rpctypes.ClientInfo{
				IP:        httputil.ClientIPFromHeaders(r, trustedProxyHeaders),
				UserAgent: r.Header.Get("User-Agent"),
				AuthToken: authToken,
				Timestamp: time.Now(),
			}
			ctx := context.WithValue(r.Context(), clientInfoKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientInfoFromContext recovers the ClientInfo clientInfoMiddleware stored,
// falling back to a zero-value info derived directly from r when the
// middleware wasn't run (e.g. in a test harness).
func clientInfoFromContext(r *http.Request) rpctypes.ClientInfo {
	if info, ok := r.Context().Value(clientInfoKey{}).(rpctypes.ClientInfo); ok {
		return info
	}
	authToken, _ := token.ExtractFromHeader(r.Header.Get("Authorization"))
	return rpctypes.ClientInfo{
		IP:        httputil.ClientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
		AuthToken: authToken,
		Timestamp: time.Now(),
	}
}
