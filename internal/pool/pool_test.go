package pool

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateShareAcceptsValidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ValidationResponse{Valid: true, ShareID: "abc"})
	}))
	defer srv.Close()

	c := New(Config{ValidationURL: srv.URL, APIKey: "key", BreakerMaxFailures: 3, BreakerTimeoutSecs: 30})
	resp, err := c.ValidateShare(context.Background(), Share{ChallengeID: "c1", MinerAddress: "miner1"})
	require.Nil(t, err)
	assert.True(t, resp.Valid)

	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.TotalShares)
	assert.Equal(t, int64(1), snap.ValidShares)
}

func TestValidateShareVerifiesSignatureWhenConfigured(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	share := Share{ChallengeID: "c1", MinerAddress: "miner1", Nonce: "n1", Solution: "s1", Difficulty: 1.5, Timestamp: 1000}
	sig := ed25519.Sign(priv, []byte(canonicalMessage(share)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ValidationResponse{Valid: true, PoolSignature: hex.EncodeToString(sig)})
	}))
	defer srv.Close()

	c := New(Config{ValidationURL: srv.URL, APIKey: "key", PublicKeyHex: hex.EncodeToString(pub), BreakerMaxFailures: 3, BreakerTimeoutSecs: 30})
	resp, vErr := c.ValidateShare(context.Background(), share)
	require.Nil(t, vErr)
	assert.True(t, resp.Valid)
}

func TestValidateShareRejectsBadSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	share := Share{ChallengeID: "c1", MinerAddress: "miner1"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ValidationResponse{Valid: true, PoolSignature: hex.EncodeToString(make([]byte, 64))})
	}))
	defer srv.Close()

	c := New(Config{ValidationURL: srv.URL, APIKey: "key", PublicKeyHex: hex.EncodeToString(pub), BreakerMaxFailures: 3, BreakerTimeoutSecs: 30})
	_, vErr := c.ValidateShare(context.Background(), share)
	require.NotNil(t, vErr)
}

func TestRateLimitPerMiner(t *testing.T) {
	c := New(Config{RateWindow: time.Minute, RateLimit: 2})
	assert.True(t, c.CheckRateLimit("miner1"))
	assert.True(t, c.CheckRateLimit("miner1"))
	assert.False(t, c.CheckRateLimit("miner1"))
	assert.True(t, c.CheckRateLimit("miner2"))
}

func TestCanonicalMessageFormat(t *testing.T) {
	share := Share{ChallengeID: "c", MinerAddress: "m", Nonce: "n", Solution: "s", Difficulty: 1, Timestamp: 42}
	assert.Equal(t, "c:m:n:s:1:42", canonicalMessage(share))
}
