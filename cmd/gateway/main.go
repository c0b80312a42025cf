// Package main is the Verus RPC Gateway entry point: it loads
// configuration, wires the request pipeline and supporting services
// (spec.md §4), and serves the HTTP surface described in spec.md §6.
package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/verus-rpc/gateway/infrastructure/logging"
	slmiddleware "github.com/verus-rpc/gateway/infrastructure/middleware"
	"github.com/verus-rpc/gateway/infrastructure/resilience"
	"github.com/verus-rpc/gateway/internal/cache"
	"github.com/verus-rpc/gateway/internal/payments"
	"github.com/verus-rpc/gateway/internal/pipeline"
	"github.com/verus-rpc/gateway/internal/pool"
	"github.com/verus-rpc/gateway/internal/pow"
	"github.com/verus-rpc/gateway/internal/ratelimiter"
	"github.com/verus-rpc/gateway/internal/registry"
	"github.com/verus-rpc/gateway/internal/revocation"
	"github.com/verus-rpc/gateway/internal/token"
	"github.com/verus-rpc/gateway/internal/upstream"
	"github.com/verus-rpc/gateway/pkg/config"
	pkglogger "github.com/verus-rpc/gateway/pkg/logger"
	"github.com/verus-rpc/gateway/pkg/metrics"
)

// dependencies holds every constructed service the HTTP handlers dispatch
// into. The pool, PoW, and payments services are nil when their feature is
// disabled in configuration.
type dependencies struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *registry.Registry
	limiter  *ratelimiter.Limiter
	cache    *cache.Cache
	issuer   *token.Issuer
	upstream *upstream.Client
	pow      *pow.Manager
	pool     *pool.Client
	payments *payments.Service
	pipeline *pipeline.Pipeline
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	httpLogger := logging.New("verus-rpc-gateway", cfg.Logging.Level, cfg.Logging.Format)
	domainLogger := pkglogger.New(pkglogger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	deps := buildDependencies(cfg, domainLogger.Logger)

	janitor := startJanitor(deps)
	defer janitor.Stop()

	router := buildRouter(deps, httpLogger)

	server := &http.Server{
		Addr:         cfg.Server.BindAddress + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      metrics.InstrumentHandler(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdown := slmiddleware.NewGracefulShutdown(server, 30*time.Second)
	shutdown.OnShutdown(func() {
		deps.logger.Info("shutting down gateway")
	})
	shutdown.ListenForSignals()

	deps.logger.WithField("addr", server.Addr).Info("verus rpc gateway listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		deps.logger.WithError(err).Fatal("gateway server stopped")
	}
	shutdown.Wait()
}

func buildDependencies(cfg *config.Config, rawLogger *logrus.Logger) *dependencies {
	reg := registry.Shared()

	limiter := ratelimiter.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
	limiter.StartCleanup(5*time.Minute, 30*time.Minute)

	cacheStore := cache.New(cache.Config{
		RedisURL:   cfg.Cache.RedisURL,
		DefaultTTL: time.Duration(cfg.Cache.DefaultTTL) * time.Second,
		MaxSize:    cfg.Cache.MaxSize,
	}, rawLogger)
	cacheStore.StartCleanup(time.Minute)

	revoke := revocation.New(cfg.Cache.RedisURL, rawLogger)

	issuer := token.New(token.Config{
		SecretKey:         cfg.Security.JWT.SecretKey,
		ExpirationSeconds: cfg.Security.JWT.ExpirationSeconds,
		Issuer:            cfg.Security.JWT.Issuer,
		Audience:          cfg.Security.JWT.Audience,
		AllowedAnonymous:  cfg.Security.JWT.AllowedAnonymous,
	}, revoke)

	upstreamClient := upstream.New(upstream.Config{
		RPCURL:         cfg.Verus.RPCURL,
		RPCUser:        cfg.Verus.RPCUser,
		RPCPassword:    cfg.Verus.RPCPassword,
		TimeoutSeconds: cfg.Verus.TimeoutSeconds,
		MaxRetries:     cfg.Verus.MaxRetries,
		BreakerConfig: resilience.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			OnStateChange: func(_, to resilience.State) {
				if to == resilience.StateOpen {
					metrics.RecordBreakerTrip("verus_daemon")
				}
			},
		},
	})

	var powManager *pow.Manager
	if cfg.Security.PoW != nil && cfg.Security.PoW.Enabled {
		powManager = pow.NewManager(pow.Config{
			TargetDifficulty:           cfg.Security.PoW.TargetDifficulty,
			ChallengeExpirationMinutes: cfg.Security.PoW.ChallengeExpirationMinutes,
			TokenDurationSeconds:       cfg.Security.PoW.TokenDurationSeconds,
			RateLimitMultiplier:        cfg.Security.PoW.RateLimitMultiplier,
			Algorithm:                  pow.Algorithm(cfg.Security.PoW.Algorithm),
		})
	}

	var poolClient *pool.Client
	if cfg.Security.MiningPool != nil && cfg.Security.MiningPool.Enabled {
		poolClient = pool.New(pool.Config{
			ValidationURL:      cfg.Security.MiningPool.ValidationURL,
			APIKey:             cfg.Security.MiningPool.APIKey,
			PublicKeyHex:       cfg.Security.MiningPool.PublicKeyHex,
			BreakerMaxFailures: cfg.Security.MiningPool.BreakerMaxFailures,
			BreakerTimeoutSecs: cfg.Security.MiningPool.BreakerTimeoutSecs,
		})
	}

	var paymentsService *payments.Service
	if cfg.Payments.Enabled {
		tiers := make([]payments.Tier, 0, len(cfg.Payments.Tiers))
		for _, t := range cfg.Payments.Tiers {
			tiers = append(tiers, payments.Tier{ID: t.ID, AmountVRSC: t.AmountVRSC, Permissions: t.Permissions})
		}
		paymentsService = payments.New(payments.Config{
			AddressTypes:       cfg.Payments.AddressTypes,
			DefaultAddressType: cfg.Payments.DefaultAddressType,
			MinConfirmations:   cfg.Payments.MinConfirmations,
			SessionTTLMinutes:  cfg.Payments.SessionTTLMinutes,
			Tiers:              tiers,
			RequireViewingKey:  cfg.Payments.RequireViewingKey,
		}, upstreamClient, issuer)
	}

	pipe := pipeline.New(pipeline.Config{
		Registry:         reg,
		RateLimiter:      limiter,
		Cache:            cacheStore,
		Upstream:         upstreamClient,
		Issuer:           issuer,
		Logger:           rawLogger,
		CacheTTL:         time.Duration(cfg.Cache.DefaultTTL) * time.Second,
		CacheEnabled:     cfg.Cache.Enabled,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		DevelopmentMode:  cfg.Security.DevelopmentMode,
	})

	return &dependencies{
		cfg:      cfg,
		logger:   rawLogger,
		registry: reg,
		limiter:  limiter,
		cache:    cacheStore,
		issuer:   issuer,
		upstream: upstreamClient,
		pow:      powManager,
		pool:     poolClient,
		payments: paymentsService,
		pipeline: pipe,
	}
}

// startJanitor runs the periodic sweeps that keep in-memory state bounded
// and the Prometheus breaker/session gauges current. Grounded on the
// teacher's use of robfig/cron/v3 for scheduled background maintenance.
func startJanitor(deps *dependencies) *cron.Cron {
	c := cron.New()

	if deps.pow != nil {
		pw := deps.pow
		c.AddFunc("@every 5m", func() { pw.Sweep() })
	}

	if deps.payments != nil {
		svc := deps.payments
		c.AddFunc("@every 1m", func() {
			metrics.SetPaymentSessionGauge(svc.Sweep())
		})
	}

	up := deps.upstream
	poolClient := deps.pool
	c.AddFunc("@every 15s", func() {
		metrics.RecordBreakerState("verus_daemon", breakerStateValue(up.BreakerState()))
		if poolClient != nil {
			metrics.RecordBreakerState("mining_pool", breakerStateLabel(poolClient.Snapshot().CircuitBreakerState))
		}
	})

	c.Start()
	return c
}

// breakerStateValue maps resilience.State onto the encoding documented on
// pkg/metrics's breaker_state gauge (0=closed, 1=half_open, 2=open).
func breakerStateValue(s resilience.State) float64 {
	switch s {
	case resilience.StateHalfOpen:
		return 1
	case resilience.StateOpen:
		return 2
	default:
		return 0
	}
}

func breakerStateLabel(label string) float64 {
	switch label {
	case "half-open", "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
