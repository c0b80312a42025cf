package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total JSON-RPC calls proxied to the Verus daemon, by method and outcome.",
		},
		[]string{"method", "status"},
	)

	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Duration of proxied JSON-RPC calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"method", "status"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Response cache lookups by tier and result.",
		},
		[]string{"tier", "result"},
	)

	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted from the in-memory cache tier due to size pressure.",
		},
		[]string{"tier"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state per protected dependency (0=closed, 1=half_open, 2=open).",
		},
		[]string{"dependency"},
	)

	breakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "trips_total",
			Help:      "Number of times a circuit breaker transitioned to open.",
		},
		[]string{"dependency"},
	)

	powChallenges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "challenges_total",
			Help:      "Proof-of-work challenges issued.",
		},
		[]string{"algorithm"},
	)

	powVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "verifications_total",
			Help:      "Proof-of-work verification attempts by outcome.",
		},
		[]string{"result"},
	)

	poolShares = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "shares_total",
			Help:      "Mining pool shares submitted for validation by outcome.",
		},
		[]string{"result"},
	)

	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "issued_total",
			Help:      "JWTs issued by issuance mode.",
		},
		[]string{"mode"},
	)

	tokensRevoked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "revoked_total",
			Help:      "JWTs revoked before natural expiry.",
		},
		[]string{"reason"},
	)

	paymentSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "sessions",
			Help:      "Current payment sessions grouped by status.",
		},
		[]string{"status"},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		},
		[]string{"client_kind"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		rpcRequests,
		rpcDuration,
		cacheLookups,
		cacheEvictions,
		breakerState,
		breakerTrips,
		powChallenges,
		powVerifications,
		poolShares,
		tokensIssued,
		tokensRevoked,
		paymentSessions,
		rateLimitRejections,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics
// in text exposition format, served at GET /prometheus.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/prometheus" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordRPCCall records the outcome and duration of a proxied JSON-RPC call.
func RecordRPCCall(method, status string, dur time.Duration) {
	method = normalizeLabel(method)
	status = normalizeLabel(status)
	rpcRequests.WithLabelValues(method, status).Inc()
	rpcDuration.WithLabelValues(method, status).Observe(dur.Seconds())
}

// RecordCacheLookup records a cache lookup outcome ("hit" or "miss") for a tier label (the pipeline passes "response").
func RecordCacheLookup(tier, result string) {
	cacheLookups.WithLabelValues(normalizeLabel(tier), normalizeLabel(result)).Inc()
}

// RecordCacheEviction records a size-pressure eviction from a cache tier.
func RecordCacheEviction(tier string, count int) {
	if count <= 0 {
		return
	}
	cacheEvictions.WithLabelValues(normalizeLabel(tier)).Add(float64(count))
}

// RecordBreakerState publishes the current state of a named circuit breaker.
// state must be one of 0 (closed), 1 (half-open), 2 (open).
func RecordBreakerState(dependency string, state float64) {
	breakerState.WithLabelValues(normalizeLabel(dependency)).Set(state)
}

// RecordBreakerTrip increments the trip counter when a breaker opens.
func RecordBreakerTrip(dependency string) {
	breakerTrips.WithLabelValues(normalizeLabel(dependency)).Inc()
}

// RecordPoWChallenge records issuance of a proof-of-work challenge.
func RecordPoWChallenge(algorithm string) {
	powChallenges.WithLabelValues(normalizeLabel(algorithm)).Inc()
}

// RecordPoWVerification records a proof-of-work verification outcome ("accepted", "rejected").
func RecordPoWVerification(result string) {
	powVerifications.WithLabelValues(normalizeLabel(result)).Inc()
}

// RecordPoolShare records a mining pool share submission outcome ("valid", "invalid", "error").
func RecordPoolShare(result string) {
	poolShares.WithLabelValues(normalizeLabel(result)).Inc()
}

// RecordTokenIssued records a JWT issuance by mode ("anonymous", "pow", "pool", "partner").
func RecordTokenIssued(mode string) {
	tokensIssued.WithLabelValues(normalizeLabel(mode)).Inc()
}

// RecordTokenRevoked records a JWT revocation by reason ("payment_failed", "manual", "expired_early").
func RecordTokenRevoked(reason string) {
	tokensRevoked.WithLabelValues(normalizeLabel(reason)).Inc()
}

// SetPaymentSessionGauge publishes the current count of payment sessions per status.
func SetPaymentSessionGauge(counts map[string]int) {
	paymentSessions.Reset()
	for status, n := range counts {
		paymentSessions.WithLabelValues(normalizeLabel(status)).Set(float64(n))
	}
}

// RecordRateLimitRejection records a request rejected by the rate limiter.
func RecordRateLimitRejection(clientKind string) {
	rateLimitRejections.WithLabelValues(normalizeLabel(clientKind)).Inc()
}

func normalizeLabel(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return "unknown"
	}
	return s
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters so HTTP metrics don't explode
// cardinality per distinct payment id.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "payments" {
		return "/" + parts[0]
	}
	if len(parts) <= 1 {
		return "/payments"
	}
	if parts[1] == "status" {
		return "/payments/status/:id"
	}
	return "/payments/" + parts[1]
}
