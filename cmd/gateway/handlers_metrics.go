package main

import (
	"net/http"
	"time"

	"github.com/verus-rpc/gateway/infrastructure/httputil"
	"github.com/verus-rpc/gateway/internal/pool"
)

// metricsSnapshot is the payload for GET /metrics (spec.md §6): a JSON
// aggregate view distinct from /prometheus's text exposition format,
// intended for dashboards that don't speak Prometheus.
type metricsSnapshot struct {
	UptimeSeconds       float64        `json:"uptime_seconds"`
	CacheBytes          int64          `json:"cache_bytes"`
	CacheEntries        int            `json:"cache_entries"`
	UpstreamBreakerState string        `json:"upstream_breaker_state"`
	Pool                *pool.Metrics  `json:"pool,omitempty"`
	PaymentSessions     map[string]int `json:"payment_sessions,omitempty"`
}

var gatewayStartedAt = time.Now()

// metricsSnapshotHandler serves GET /metrics. Unlike /prometheus, this
// never mutates state — payment session counts are read via StatusCounts,
// not Sweep, so polling this endpoint has no side effects.
func metricsSnapshotHandler(deps *dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bytes, count := deps.cache.Size()

		snapshot := metricsSnapshot{
			UptimeSeconds:        time.Since(gatewayStartedAt).Seconds(),
			CacheBytes:           bytes,
			CacheEntries:         count,
			UpstreamBreakerState: deps.upstream.BreakerState().String(),
		}
		if deps.pool != nil {
			m := deps.pool.Snapshot()
			snapshot.Pool = &m
		}
		if deps.payments != nil {
			snapshot.PaymentSessions = deps.payments.StatusCounts()
		}

		httputil.WriteJSON(w, http.StatusOK, snapshot)
	}
}
