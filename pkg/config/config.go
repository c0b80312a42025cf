// Package config loads gateway configuration from a YAML file, overlaid with
// environment variables, following the same file-then-env precedence the
// rest of this codebase's services use.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	BindAddress     string `json:"bind_address" yaml:"bind_address" env:"SERVER_BIND_ADDRESS"`
	Port            int    `json:"port" yaml:"port" env:"SERVER_PORT"`
	MaxRequestSize  int64  `json:"max_request_size" yaml:"max_request_size" env:"SERVER_MAX_REQUEST_SIZE"`
	WorkerThreads   int    `json:"worker_threads" yaml:"worker_threads" env:"SERVER_WORKER_THREADS"`
}

// VerusConfig controls the upstream Verus daemon connection.
type VerusConfig struct {
	RPCURL         string `json:"rpc_url" yaml:"rpc_url" env:"VERUS_RPC_URL"`
	RPCUser        string `json:"rpc_user" yaml:"rpc_user" env:"VERUS_RPC_USER"`
	RPCPassword    string `json:"rpc_password" yaml:"rpc_password" env:"VERUS_RPC_PASSWORD"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" env:"VERUS_RPC_TIMEOUT_SECONDS"`
	MaxRetries     int    `json:"max_retries" yaml:"max_retries" env:"VERUS_RPC_MAX_RETRIES"`
}

// JWTConfig controls token issuance and validation.
type JWTConfig struct {
	SecretKey         string   `json:"secret_key" yaml:"secret_key" env:"JWT_SECRET_KEY"`
	ExpirationSeconds int      `json:"expiration_seconds" yaml:"expiration_seconds" env:"JWT_EXPIRATION_SECONDS"`
	Issuer            string   `json:"issuer" yaml:"issuer" env:"JWT_ISSUER"`
	Audience          string   `json:"audience" yaml:"audience" env:"JWT_AUDIENCE"`
	AllowedAnonymous  []string `json:"allowed_anonymous" yaml:"allowed_anonymous"`
	// PartnerIDs is the static allow-list backing the partner admission mode
	// (spec.md §4.7): a caller presenting one of these identifiers to
	// POST /auth/partner is issued a partner-scoped token with no further
	// verification. Empty disables the partner admission path entirely.
	PartnerIDs []string `json:"partner_ids" yaml:"partner_ids"`
}

// PoWConfig controls the optional proof-of-work challenge/token issuance path.
type PoWConfig struct {
	Enabled                   bool    `json:"enabled" yaml:"enabled" env:"POW_ENABLED"`
	TargetDifficulty          string  `json:"target_difficulty" yaml:"target_difficulty" env:"POW_TARGET_DIFFICULTY"`
	ChallengeExpirationMinutes int    `json:"challenge_expiration_minutes" yaml:"challenge_expiration_minutes" env:"POW_CHALLENGE_EXPIRATION_MINUTES"`
	TokenDurationSeconds      int     `json:"token_duration_seconds" yaml:"token_duration_seconds" env:"POW_TOKEN_DURATION_SECONDS"`
	RateLimitMultiplier       float64 `json:"rate_limit_multiplier" yaml:"rate_limit_multiplier" env:"POW_RATE_LIMIT_MULTIPLIER"`
	Algorithm                 string  `json:"algorithm" yaml:"algorithm" env:"POW_ALGORITHM"`
}

// MiningPoolConfig controls the optional pool-share validation and token issuance path.
type MiningPoolConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled" env:"MINING_POOL_ENABLED"`
	ValidationURL      string `json:"validation_url" yaml:"validation_url" env:"MINING_POOL_VALIDATION_URL"`
	APIKey             string `json:"api_key" yaml:"api_key" env:"MINING_POOL_API_KEY"`
	PublicKeyHex       string `json:"public_key_hex" yaml:"public_key_hex" env:"MINING_POOL_PUBLIC_KEY_HEX"`
	BreakerMaxFailures int    `json:"breaker_max_failures" yaml:"breaker_max_failures" env:"MINING_POOL_BREAKER_MAX_FAILURES"`
	BreakerTimeoutSecs int    `json:"breaker_timeout_seconds" yaml:"breaker_timeout_seconds" env:"MINING_POOL_BREAKER_TIMEOUT_SECONDS"`
}

// SecurityConfig controls CORS, auth, and the gateway's operating mode.
type SecurityConfig struct {
	CORSAllowedOrigins   []string          `json:"cors_allowed_origins" yaml:"cors_allowed_origins"`
	CORSAllowedMethods   []string          `json:"cors_allowed_methods" yaml:"cors_allowed_methods"`
	EnableRequestLogging bool              `json:"enable_request_logging" yaml:"enable_request_logging" env:"SECURITY_ENABLE_REQUEST_LOGGING"`
	EnableSecurityHeaders bool             `json:"enable_security_headers" yaml:"enable_security_headers" env:"SECURITY_ENABLE_SECURITY_HEADERS"`
	TrustedProxyHeaders  []string          `json:"trusted_proxy_headers" yaml:"trusted_proxy_headers"`
	JWT                  JWTConfig         `json:"jwt" yaml:"jwt"`
	PoW                  *PoWConfig        `json:"pow,omitempty" yaml:"pow,omitempty"`
	MiningPool           *MiningPoolConfig `json:"mining_pool,omitempty" yaml:"mining_pool,omitempty"`
	DevelopmentMode      bool              `json:"development_mode" yaml:"development_mode" env:"SECURITY_DEVELOPMENT_MODE"`
}

// RateLimitConfig controls the per-client token bucket limiter.
type RateLimitConfig struct {
	RequestsPerMinute int  `json:"requests_per_minute" yaml:"requests_per_minute" env:"RATE_LIMIT_REQUESTS_PER_MINUTE"`
	BurstSize         int  `json:"burst_size" yaml:"burst_size" env:"RATE_LIMIT_BURST_SIZE"`
	Enabled           bool `json:"enabled" yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
}

// CacheConfig controls the two-tier response cache.
type CacheConfig struct {
	RedisURL   string `json:"redis_url" yaml:"redis_url" env:"CACHE_REDIS_URL"`
	DefaultTTL int    `json:"default_ttl" yaml:"default_ttl" env:"CACHE_DEFAULT_TTL"`
	Enabled    bool   `json:"enabled" yaml:"enabled" env:"CACHE_ENABLED"`
	MaxSize    int64  `json:"max_size" yaml:"max_size" env:"CACHE_MAX_SIZE"`
}

// PaymentTier describes one purchasable access tier.
type PaymentTier struct {
	ID          string   `json:"id" yaml:"id"`
	AmountVRSC  float64  `json:"amount_vrsc" yaml:"amount_vrsc"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// PaymentsConfig controls the pay-for-access session flow.
type PaymentsConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled" env:"PAYMENTS_ENABLED"`
	AddressTypes        []string          `json:"address_types" yaml:"address_types"`
	DefaultAddressType  string            `json:"default_address_type" yaml:"default_address_type" env:"PAYMENTS_DEFAULT_ADDRESS_TYPE"`
	MinConfirmations    int               `json:"min_confirmations" yaml:"min_confirmations" env:"PAYMENTS_MIN_CONFIRMATIONS"`
	SessionTTLMinutes   int               `json:"session_ttl_minutes" yaml:"session_ttl_minutes" env:"PAYMENTS_SESSION_TTL_MINUTES"`
	Tiers               []PaymentTier     `json:"tiers" yaml:"tiers"`
	RequireViewingKey   bool              `json:"require_viewing_key" yaml:"require_viewing_key" env:"PAYMENTS_REQUIRE_VIEWING_KEY"`
	ViewingKeys         map[string]string `json:"viewing_keys" yaml:"viewing_keys"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Verus     VerusConfig     `json:"verus" yaml:"verus"`
	Security  SecurityConfig  `json:"security" yaml:"security"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Payments  PaymentsConfig  `json:"payments" yaml:"payments"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:    "0.0.0.0",
			Port:           8080,
			MaxRequestSize: 1 << 20, // 1 MiB
			WorkerThreads:  4,
		},
		Verus: VerusConfig{
			RPCURL:         "http://127.0.0.1:27486",
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Security: SecurityConfig{
			CORSAllowedOrigins:    []string{"*"},
			CORSAllowedMethods:    []string{"GET", "POST", "OPTIONS"},
			EnableSecurityHeaders: true,
			JWT: JWTConfig{
				ExpirationSeconds: 3600,
				Issuer:            "verus-rpc-gateway",
				Audience:          "verus-rpc-clients",
				AllowedAnonymous:  []string{"read"},
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         10,
			Enabled:           true,
		},
		Cache: CacheConfig{
			DefaultTTL: 30,
			Enabled:    true,
			MaxSize:    64 << 20, // 64 MiB
		},
		Payments: PaymentsConfig{
			AddressTypes:       []string{"sprout", "sapling", "orchard"},
			DefaultAddressType: "sapling",
			MinConfirmations:   1,
			SessionTTLMinutes:  30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "verus-rpc-gateway",
		},
	}
}

// Load loads configuration from a YAML file (if present) and overlays
// environment variables on top of it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file without applying environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads a JSON config file over New()'s defaults. It applies no
// env overrides and no validation.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	if len(c.Security.CORSAllowedMethods) == 0 {
		c.Security.CORSAllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if c.Payments.DefaultAddressType == "" && len(c.Payments.AddressTypes) > 0 {
		c.Payments.DefaultAddressType = c.Payments.AddressTypes[0]
	}
}

var validCORSMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "OPTIONS": true, "PATCH": true,
}

// Validate checks the configuration against the gateway's invariants and
// returns a descriptive error identifying the first violation found.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}

	u, err := url.Parse(c.Verus.RPCURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("config: verus.rpc_url must be an http(s) URL, got %q", c.Verus.RPCURL)
	}
	if u.Scheme == "http" && !isLoopbackHost(u.Hostname()) {
		return fmt.Errorf("config: verus.rpc_url %q must use https for non-loopback hosts", c.Verus.RPCURL)
	}

	for _, m := range c.Security.CORSAllowedMethods {
		if !validCORSMethods[strings.ToUpper(m)] {
			return fmt.Errorf("config: security.cors_allowed_methods contains unsupported method %q", m)
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("config: rate_limit.requests_per_minute must be positive when rate limiting is enabled")
		}
		if c.RateLimit.BurstSize > c.RateLimit.RequestsPerMinute {
			return fmt.Errorf("config: rate_limit.burst_size (%d) must not exceed requests_per_minute (%d)", c.RateLimit.BurstSize, c.RateLimit.RequestsPerMinute)
		}
	}

	return nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
