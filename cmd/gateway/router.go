package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/verus-rpc/gateway/infrastructure/logging"
	slmiddleware "github.com/verus-rpc/gateway/infrastructure/middleware"
	"github.com/verus-rpc/gateway/pkg/metrics"
)

// buildRouter assembles the gateway's HTTP surface (spec.md §6): the
// JSON-RPC endpoint, health/metrics, and the REST endpoints for mining pool
// shares, payments, and token issuance.
func buildRouter(deps *dependencies, logger *logging.Logger) *mux.Router {
	router := mux.NewRouter()

	router.Use(slmiddleware.LoggingMiddleware(logger))
	router.Use(slmiddleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(slmiddleware.NewCORSMiddleware(&slmiddleware.CORSConfig{
		AllowedOrigins:   deps.cfg.Security.CORSAllowedOrigins,
		AllowedMethods:   deps.cfg.Security.CORSAllowedMethods,
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Trace-ID"},
		MaxAgeSeconds:    3600,
		PreflightStatus:  http.StatusOK,
	}).Handler)
	router.Use(slmiddleware.NewBodyLimitMiddleware(deps.cfg.Server.MaxRequestSize).Handler)
	router.Use(slmiddleware.NewTimeoutMiddleware(30 * time.Second).Handler)
	if deps.cfg.Security.EnableSecurityHeaders {
		router.Use(slmiddleware.NewSecurityHeadersMiddleware(nil).Handler)
	}
	router.Use(clientInfoMiddleware(deps.cfg.Security.TrustedProxyHeaders))

	health := slmiddleware.NewHealthChecker("verus-rpc-gateway")
	health.RegisterCheck("upstream_breaker", func() error {
		return nil // liveness only; breaker state is exposed via /prometheus and /metrics
	})

	router.Handle("/health", health.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/live", slmiddleware.LivenessHandler()).Methods(http.MethodGet)
	router.Handle("/prometheus", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/metrics", metricsSnapshotHandler(deps)).Methods(http.MethodGet)

	router.HandleFunc("/", rpcHandler(deps)).Methods(http.MethodPost)

	restLimiter := slmiddleware.NewRateLimiterWithWindow(deps.cfg.RateLimit.RequestsPerMinute, time.Minute, deps.cfg.RateLimit.BurstSize, logger)

	auth := router.PathPrefix("/auth").Subrouter()
	auth.Use(restLimiter.Handler)
	auth.HandleFunc("/anonymous", authAnonymousHandler(deps)).Methods(http.MethodPost)
	if deps.pow != nil {
		auth.HandleFunc("/pow/challenge", authPoWChallengeHandler(deps)).Methods(http.MethodPost)
		auth.HandleFunc("/pow/verify", authPoWVerifyHandler(deps)).Methods(http.MethodPost)
	}
	if len(deps.cfg.Security.JWT.PartnerIDs) > 0 {
		auth.HandleFunc("/partner", authPartnerHandler(deps)).Methods(http.MethodPost)
	}

	if deps.pool != nil {
		poolRouter := router.PathPrefix("/pool").Subrouter()
		poolRouter.Use(restLimiter.Handler)
		poolRouter.HandleFunc("/share", poolShareHandler(deps)).Methods(http.MethodPost)
		poolRouter.HandleFunc("/metrics", poolMetricsHandler(deps)).Methods(http.MethodGet)
	}

	if deps.payments != nil {
		paymentsRouter := router.PathPrefix("/payments").Subrouter()
		paymentsRouter.Use(restLimiter.Handler)
		paymentsRouter.HandleFunc("/request", paymentsRequestHandler(deps)).Methods(http.MethodPost)
		paymentsRouter.HandleFunc("/submit", paymentsSubmitHandler(deps)).Methods(http.MethodPost)
		paymentsRouter.HandleFunc("/status/{id}", paymentsStatusHandler(deps)).Methods(http.MethodGet)
	}

	return router
}
