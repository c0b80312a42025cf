// Package upstream implements the Upstream Client (spec.md §4.6): an HTTP
// JSON-RPC client to the Verus daemon, wrapped by a circuit breaker and a
// bounded retry, with deterministic fallback synthesis for a handful of
// informational methods when the daemon is unreachable. Grounded on the
// teacher's infrastructure/httputil client-building pattern and
// infrastructure/resilience's breaker/retry, with the transport-vs-application
// failure distinction cross-checked against original_source's RPC client.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	gwerrors "github.com/verus-rpc/gateway/infrastructure/errors"
	"github.com/verus-rpc/gateway/infrastructure/resilience"
)

// Client talks JSON-RPC to a single Verus daemon.
type Client struct {
	httpClient *http.Client
	url        string
	user       string
	password   string
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
	idCounter  uint64
}

// Config configures the upstream client.
type Config struct {
	RPCURL         string
	RPCUser        string
	RPCPassword    string
	TimeoutSeconds int
	MaxRetries     int
	BreakerConfig  resilience.Config
}

// New builds a Client against the configured daemon.
func New(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryCfg := resilience.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        cfg.RPCURL,
		user:       cfg.RPCUser,
		password:   cfg.RPCPassword,
		breaker:    resilience.New(cfg.BreakerConfig),
		retry:      retryCfg,
	}
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// BreakerState reports the circuit breaker's current state, for metrics and
// health endpoints.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// Call dispatches method/params to the daemon. Transport-level failures
// (connection refused, timeout, 5xx status, malformed JSON body) are
// retried per the client's retry policy and count as circuit breaker
// failures. A successfully decoded JSON-RPC error response from the daemon
// is returned as *errors.ServiceError via UpstreamApplication and does NOT
// count as a breaker failure — the daemon is reachable and answering, it
// simply rejected this call.
func (c *Client) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	var result json.RawMessage
	var appErr *gwerrors.ServiceError

	breakerErr := c.breaker.Execute(ctx, func() error {
		reply, err := c.doRequest(ctx, method, params)
		if err != nil {
			return err
		}
		if reply.Error != nil {
			appErr = gwerrors.UpstreamApplication(method, reply.Error.Code, reply.Error.Message)
			return nil
		}
		result = reply.Result
		return nil
	})

	if breakerErr != nil {
		return nil, gwerrors.UpstreamUnavailable(method, breakerErr)
	}
	if appErr != nil {
		return nil, appErr
	}
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, method string, params json.RawMessage) (*rpcReply, error) {
	var reply *rpcReply
	err := resilience.Retry(ctx, c.retry, func() error {
		r, err := c.attempt(ctx, method, params)
		if err != nil {
			return err
		}
		reply = r
		return nil
	})
	return reply, err
}

func (c *Client) attempt(ctx context.Context, method string, params json.RawMessage) (*rpcReply, error) {
	body, err := json.Marshal(rpcEnvelope{
		JSONRPC: "1.0",
		ID:      atomic.AddUint64(&c.idCounter, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	var reply rpcReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &reply, nil
}

// Fallback synthesizes a deterministic "degraded" response for the
// informational methods spec.md §4.6 names, used when the breaker is open
// or a connectivity error occurred. Every other method must propagate the
// structured error instead.
func Fallback(method string) json.RawMessage {
	payload := map[string]interface{}{
		"degraded": true,
		"warnings": "upstream daemon unavailable; response synthesized by gateway fallback",
	}
	switch method {
	case "getinfo", "getblockchaininfo", "getnetworkinfo", "getwalletinfo":
		raw, _ := json.Marshal(payload)
		return raw
	default:
		return nil
	}
}
