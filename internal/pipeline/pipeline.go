// Package pipeline wires the gateway's eleven-step request pipeline
// (spec.md §4.10): parse, extract credential, validate token, build
// security context, apply policy, apply rate limiting, validate
// parameters, check the cache, dispatch upstream (with breaker-aware
// fallback), store successful cacheable results, and record metrics.
// Grounded on the fixed ordering spec.md §4.10 describes, assembled from
// every other internal/ package built for its own stage.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	gwerrors "github.com/verus-rpc/gateway/infrastructure/errors"
	"github.com/verus-rpc/gateway/internal/cache"
	"github.com/verus-rpc/gateway/internal/policy"
	"github.com/verus-rpc/gateway/internal/ratelimiter"
	"github.com/verus-rpc/gateway/internal/registry"
	"github.com/verus-rpc/gateway/internal/rpctypes"
	"github.com/verus-rpc/gateway/internal/token"
	"github.com/verus-rpc/gateway/internal/upstream"
	"github.com/verus-rpc/gateway/internal/validator"
	"github.com/verus-rpc/gateway/pkg/metrics"
)

// Pipeline holds every stage's dependency and evaluates requests end to
// end. It is stateless across calls; all mutable state lives in its
// constituent stores (rate limiter buckets, cache entries, breaker state).
type Pipeline struct {
	registry    *registry.Registry
	policy      policyConfig
	limiter     *ratelimiter.Limiter
	cache       *cache.Cache
	upstream    *upstream.Client
	issuer      *token.Issuer
	logger      *logrus.Logger
	cacheTTL    time.Duration
	cacheOn     bool
	rateLimitOn bool
}

type policyConfig struct {
	developmentMode bool
}

// Config configures a Pipeline.
type Config struct {
	Registry        *registry.Registry
	RateLimiter     *ratelimiter.Limiter
	Cache           *cache.Cache
	Upstream        *upstream.Client
	Issuer          *token.Issuer
	Logger          *logrus.Logger
	CacheTTL        time.Duration
	CacheEnabled    bool
	RateLimitEnabled bool
	DevelopmentMode bool
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		registry:    cfg.Registry,
		policy:      policyConfig{developmentMode: cfg.DevelopmentMode},
		limiter:     cfg.RateLimiter,
		cache:       cfg.Cache,
		upstream:    cfg.Upstream,
		issuer:      cfg.Issuer,
		logger:      cfg.Logger,
		cacheTTL:    cfg.CacheTTL,
		cacheOn:     cfg.CacheEnabled,
		rateLimitOn: cfg.RateLimitEnabled,
	}
}

// Handle runs req through all eleven pipeline stages and returns the
// response envelope to write back to the caller. It never returns a Go
// error: every failure mode is represented in the returned RpcResponse's
// Error field, per JSON-RPC 2.0 semantics.
func (p *Pipeline) Handle(ctx context.Context, req *rpctypes.RpcRequest) *rpctypes.RpcResponse {
	start := time.Now()
	outcome := "success"
	defer func() {
		metrics.RecordRPCCall(req.Method, outcome, time.Since(start))
	}()

	def := p.registry.Get(req.Method)
	if def == nil {
		outcome = "not_found"
		return p.errorResponse(req, gwerrors.MethodNotFound(req.Method))
	}

	secCtx, authErr := p.buildSecurityContext(req)
	if authErr != nil {
		outcome = "unauthorized"
		return p.errorResponse(req, authErr)
	}

	admit, policyWarning := policy.Evaluate(def, secCtx.policyCtx)
	if policyWarning != nil {
		if admit {
			p.logger.WithFields(logrus.Fields{"method": req.Method}).Warn("policy: admitting in development mode despite: " + policyWarning.Message)
		} else {
			outcome = "forbidden"
			return p.errorResponse(req, policyWarning)
		}
	}

	if p.rateLimitOn && p.limiter != nil {
		clientKey := secCtx.clientKey(req)
		if !p.limiter.Allow(clientKey, secCtx.permissions) {
			outcome = "rate_limited"
			metrics.RecordRateLimitRejection(clientKind(secCtx))
			return p.errorResponse(req, gwerrors.RateLimitExceeded(0, "1m"))
		}
	}

	if vErr := validator.Validate(def, req); vErr != nil {
		outcome = "invalid_params"
		return p.errorResponse(req, vErr)
	}

	cacheable := p.cacheOn && p.cache != nil && p.registry.Cacheable(req.Method)
	var cacheKey string
	if cacheable {
		key, keyErr := cache.Key(req.Method, req.Params)
		if keyErr == nil {
			cacheKey = key
			if cached, hit := p.cache.Get(ctx, cacheKey); hit {
				outcome = "cache_hit"
				metrics.RecordCacheLookup("response", "hit")
				return rpctypes.NewResult(req.ID, json.RawMessage(cached))
			}
			metrics.RecordCacheLookup("response", "miss")
		}
	}

	result, callErr := p.upstream.Call(ctx, req.Method, req.Params)
	if callErr != nil {
		se := gwerrors.GetServiceError(callErr)
		if se != nil && se.Code == gwerrors.ErrCodeUpstreamUnavailable && p.registry.Fallbackable(req.Method) {
			outcome = "fallback"
			fallback := upstream.Fallback(req.Method)
			if fallback != nil {
				return rpctypes.NewResult(req.ID, json.RawMessage(fallback))
			}
		}
		outcome = "upstream_error"
		return p.errorResponse(req, se)
	}

	if cacheable && cacheKey != "" {
		p.cache.Set(ctx, cacheKey, result, p.cacheTTL)
	}

	return rpctypes.NewResult(req.ID, json.RawMessage(result))
}

// securityContext bundles what buildSecurityContext derives for a request.
type securityContext struct {
	policyCtx   *policy.SecurityContext
	permissions map[string]struct{}
	subject     string
}

func (s *securityContext) clientKey(req *rpctypes.RpcRequest) string {
	if s.subject != "" {
		return s.subject
	}
	return req.ClientInfo.IP
}

func clientKind(s *securityContext) string {
	if s.subject != "" {
		return "authenticated"
	}
	return "anonymous"
}

// buildSecurityContext extracts and validates the bearer credential, if
// any. An absent or invalid token is not necessarily rejected here — it
// simply yields an unauthenticated context, which internal/policy may or
// may not admit depending on the method's requirements.
func (p *Pipeline) buildSecurityContext(req *rpctypes.RpcRequest) (*securityContext, *gwerrors.ServiceError) {
	if req.ClientInfo.AuthToken == "" {
		return &securityContext{
			policyCtx: &policy.SecurityContext{Authenticated: false, Permissions: map[string]struct{}{}, DevelopmentMode: p.policy.developmentMode},
		}, nil
	}

	claims, err := p.issuer.Validate(req.ClientInfo.AuthToken)
	if err != nil {
		return &securityContext{
			policyCtx: &policy.SecurityContext{Authenticated: false, Permissions: map[string]struct{}{}, DevelopmentMode: p.policy.developmentMode},
		}, nil
	}

	perms := claims.PermissionSet()
	return &securityContext{
		policyCtx:   &policy.SecurityContext{Authenticated: true, Permissions: perms, DevelopmentMode: p.policy.developmentMode},
		permissions: perms,
		subject:     claims.Subject,
	}, nil
}

func (p *Pipeline) errorResponse(req *rpctypes.RpcRequest, err *gwerrors.ServiceError) *rpctypes.RpcResponse {
	if err == nil {
		err = gwerrors.Internal("unknown pipeline error", nil)
	}
	return rpctypes.NewError(req.ID, err.RPCCode, err.Message, err.Details)
}
