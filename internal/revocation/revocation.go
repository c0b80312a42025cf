// Package revocation implements the Revocation Store (spec.md §4.12): a
// TTL-bound deny list keyed by JWT id (jti), consulted by internal/token on
// every validation. In-memory by default; an external key-value service may
// back it when configured, per spec.md §5's "back onto an external service
// when configured, otherwise in-process guarded maps" framing — grounded on
// the same store-selection pattern internal/cache applies to the response
// cache.
package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Store is a TTL-bound set of revoked token IDs.
type Store struct {
	client *redis.Client
	logger *logrus.Logger

	mu      sync.Mutex
	entries map[string]time.Time // jti -> expires at
}

// New builds a Store. If redisURL is empty, the store is purely in-memory.
func New(redisURL string, logger *logrus.Logger) *Store {
	s := &Store{
		logger:  logger,
		entries: make(map[string]time.Time),
	}
	if redisURL != "" {
		if opts, err := redis.ParseURL(redisURL); err == nil {
			s.client = redis.NewClient(opts)
		} else {
			logger.WithError(err).Warn("revocation: invalid redis url, falling back to in-memory only")
		}
	}
	return s
}

// Revoke marks jti as revoked for ttl, floored by the caller (internal/token
// floors to at least one hour for already-expired tokens).
func (s *Store) Revoke(jti string, ttl time.Duration) {
	if s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.client.Set(ctx, redisKey(jti), "1", ttl).Err(); err != nil {
			s.logger.WithError(err).Warn("revocation: external store write failed, continuing with in-memory tier")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = time.Now().Add(ttl)
}

// IsRevoked reports whether jti is currently on the deny list. Expired
// entries are treated as not revoked (lazy eviction).
func (s *Store) IsRevoked(jti string) bool {
	if jti == "" {
		return false
	}

	if s.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := s.client.Exists(ctx, redisKey(jti)).Result()
		if err == nil {
			if n > 0 {
				return true
			}
		} else {
			s.logger.WithError(err).Warn("revocation: external store lookup failed, trying in-memory tier")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.entries[jti]
	if !ok {
		return false
	}
	if time.Now().After(expiresAt) {
		delete(s.entries, jti)
		return false
	}
	return true
}

func redisKey(jti string) string {
	return "gateway:revoked-jti:" + jti
}
