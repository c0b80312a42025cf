// Package pool implements the Mining Pool Client (spec.md §4.9): share
// submission to an external pool's validation endpoint, Ed25519 signature
// verification of the pool's response, per-miner fixed-window rate
// limiting, and running share metrics. Grounded on MiningPoolClient in
// original_source/src/infrastructure/adapters/mining_pool.rs, with its
// hand-rolled CircuitBreaker/RetryMechanism replaced by
// infrastructure/resilience's already-adapted breaker and retry rather than
// duplicated (see DESIGN.md).
package pool

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	gwerrors "github.com/verus-rpc/gateway/infrastructure/errors"
	"github.com/verus-rpc/gateway/infrastructure/resilience"
)

// Share is a miner's submitted proof-of-work share, forwarded to the pool
// for validation.
type Share struct {
	ChallengeID    string  `json:"challenge_id"`
	MinerAddress   string  `json:"miner_address"`
	Nonce          string  `json:"nonce"`
	Solution       string  `json:"solution"`
	Difficulty     float64 `json:"difficulty"`
	Timestamp      int64   `json:"timestamp"`
	PoolSignature  string  `json:"pool_signature,omitempty"`
}

// ValidationResponse is the pool's verdict on a submitted Share.
type ValidationResponse struct {
	Valid               bool    `json:"valid"`
	ShareID             string  `json:"share_id,omitempty"`
	PoolSignature       string  `json:"pool_signature,omitempty"`
	DifficultyAchieved  float64 `json:"difficulty_achieved,omitempty"`
	MinerReputation     float64 `json:"miner_reputation,omitempty"`
	Error               string  `json:"error,omitempty"`
}

// Metrics tracks running pool-interaction statistics (spec.md §4.9's
// PoolMetrics), updated on every ValidateShare call.
type Metrics struct {
	TotalShares        int64
	ValidShares        int64
	InvalidShares      int64
	AvgResponseTimeMs  float64
	CircuitBreakerState string
	LastSuccess        *time.Time
	LastError          string
	ErrorRatePercent   float64
}

// Config configures the pool client.
type Config struct {
	ValidationURL      string
	APIKey             string
	PublicKeyHex       string
	BreakerMaxFailures int
	BreakerTimeoutSecs int
	RateWindow         time.Duration
	RateLimit          int
}

// Client talks to an external mining pool's share-validation API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
	publicKey  ed25519.PublicKey

	mu      sync.Mutex
	metrics Metrics
	windows map[string]*rateWindow
}

type rateWindow struct {
	count       int
	windowStart time.Time
}

// New builds a Client. An invalid or absent PublicKeyHex disables pool
// signature verification rather than failing construction — the pool may
// simply not sign its responses.
func New(cfg Config) *Client {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = 60 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	breakerCfg := resilience.Config{
		MaxFailures: cfg.BreakerMaxFailures,
		Timeout:     time.Duration(cfg.BreakerTimeoutSecs) * time.Second,
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    resilience.New(breakerCfg),
		retry:      resilience.DefaultRetryConfig(),
		windows:    make(map[string]*rateWindow),
	}
	if cfg.PublicKeyHex != "" {
		if raw, err := hex.DecodeString(cfg.PublicKeyHex); err == nil && len(raw) == ed25519.PublicKeySize {
			c.publicKey = ed25519.PublicKey(raw)
		}
	}
	return c
}

// CheckRateLimit reports whether minerAddress may submit another share in
// the current fixed window, incrementing its count as a side effect when
// allowed. The count resets to zero once the window start is RateWindow or
// more in the past, matching the original's count+window_start reset logic.
// The window does not slide: up to twice RateLimit shares can pass within
// one RateWindow that spans a reset.
func (c *Client) CheckRateLimit(minerAddress string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	w, ok := c.windows[minerAddress]
	if !ok || now.Sub(w.windowStart) >= c.cfg.RateWindow {
		w = &rateWindow{count: 0, windowStart: now}
		c.windows[minerAddress] = w
	}
	if w.count >= c.cfg.RateLimit {
		return false
	}
	w.count++
	return true
}

// ValidateShare submits share to the pool, verifies its signature if
// present and a public key is configured, and updates running metrics.
func (c *Client) ValidateShare(ctx context.Context, share Share) (*ValidationResponse, *gwerrors.ServiceError) {
	if !c.CheckRateLimit(share.MinerAddress) {
		return nil, gwerrors.RateLimitExceeded(c.cfg.RateLimit, c.cfg.RateWindow.String())
	}

	start := time.Now()
	var resp *ValidationResponse

	breakerErr := c.breaker.Execute(ctx, func() error {
		var err error
		err = resilience.Retry(ctx, c.retry, func() error {
			r, attemptErr := c.submit(ctx, share)
			if attemptErr != nil {
				return attemptErr
			}
			resp = r
			return nil
		})
		return err
	})

	elapsed := time.Since(start)
	c.updateMetrics(breakerErr, resp, elapsed)

	if breakerErr != nil {
		return nil, gwerrors.ExternalAPIError("mining-pool", breakerErr)
	}

	if resp.PoolSignature != "" && c.publicKey != nil {
		if !c.verifySignature(share, resp) {
			return nil, gwerrors.VerificationFailed(fmt.Errorf("pool signature verification failed"))
		}
	}

	return resp, nil
}

func (c *Client) submit(ctx context.Context, share Share) (*ValidationResponse, error) {
	body, err := json.Marshal(share)
	if err != nil {
		return nil, fmt.Errorf("encode share: %w", err)
	}

	url := strings.TrimRight(c.cfg.ValidationURL, "/") + "/api/v1/share/validate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("pool returned status %d", resp.StatusCode)
	}

	var decoded ValidationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &decoded, nil
}

// canonicalMessage builds the message the pool is expected to have signed:
// "{challenge_id}:{miner_address}:{nonce}:{solution}:{difficulty}:{timestamp}",
// matching the original's exact field order and separator.
func canonicalMessage(share Share) string {
	return fmt.Sprintf("%s:%s:%s:%s:%v:%d",
		share.ChallengeID, share.MinerAddress, share.Nonce, share.Solution, share.Difficulty, share.Timestamp)
}

func (c *Client) verifySignature(share Share, resp *ValidationResponse) bool {
	sig, err := hex.DecodeString(resp.PoolSignature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(c.publicKey, []byte(canonicalMessage(share)), sig)
}

func (c *Client) updateMetrics(breakerErr error, resp *ValidationResponse, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.TotalShares++
	c.metrics.CircuitBreakerState = c.breaker.State().String()

	if breakerErr != nil || resp == nil || !resp.Valid {
		c.metrics.InvalidShares++
		if breakerErr != nil {
			c.metrics.LastError = breakerErr.Error()
		} else if resp != nil {
			c.metrics.LastError = resp.Error
		}
	} else {
		c.metrics.ValidShares++
		now := time.Now()
		c.metrics.LastSuccess = &now
	}

	// Running average response time, weighted by total observations so far.
	n := float64(c.metrics.TotalShares)
	c.metrics.AvgResponseTimeMs = ((c.metrics.AvgResponseTimeMs * (n - 1)) + float64(elapsed.Milliseconds())) / n

	if c.metrics.TotalShares > 0 {
		c.metrics.ErrorRatePercent = float64(c.metrics.InvalidShares) / float64(c.metrics.TotalShares) * 100
	}
}

// Snapshot returns a copy of the client's current metrics.
func (c *Client) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// HealthCheck pings the pool's health endpoint with a short timeout,
// independent of the circuit breaker (an operator-facing diagnostic, not a
// share-validation call).
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := strings.TrimRight(c.cfg.ValidationURL, "/") + "/api/v1/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("pool health check returned status %d", resp.StatusCode)
	}
	return nil
}
