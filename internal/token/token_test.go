package token

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verus-rpc/gateway/internal/pow"
	"github.com/verus-rpc/gateway/internal/revocation"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testIssuer() *Issuer {
	store := revocation.New("", testLogger())
	return New(Config{
		SecretKey:         "test-secret",
		ExpirationSeconds: 3600,
		Issuer:            "verus-rpc-gateway",
		Audience:          "verus-rpc-clients",
		AllowedAnonymous:  []string{"read"},
	}, store)
}

func TestIssueAnonymousSynthesizesSubject(t *testing.T) {
	i := testIssuer()
	tok, claims, err := i.IssueAnonymous(AnonymousRequest{RequestedPerms: []string{"read", "write"}})
	require.Nil(t, err)
	assert.NotEmpty(t, tok)
	assert.Contains(t, claims.Subject, "anon_user_")
	assert.Equal(t, []string{"read"}, claims.Permissions)
}

func TestIssueAnonymousRejectsOutOfBoundsExpiration(t *testing.T) {
	i := testIssuer()
	_, _, err := i.IssueAnonymous(AnonymousRequest{CustomExpireSecs: 30})
	require.NotNil(t, err)

	_, _, err = i.IssueAnonymous(AnonymousRequest{CustomExpireSecs: 90000})
	require.NotNil(t, err)
}

func TestIssueThenValidateRoundTrip(t *testing.T) {
	i := testIssuer()
	tok, _, err := i.IssueAnonymous(AnonymousRequest{RequestedPerms: []string{"read"}})
	require.Nil(t, err)

	claims, verr := i.Validate(tok)
	require.Nil(t, verr)
	assert.True(t, claims.HasPermission("read"))
}

func TestRevokedTokenFailsValidation(t *testing.T) {
	i := testIssuer()
	tok, _, err := i.IssueAnonymous(AnonymousRequest{RequestedPerms: []string{"read"}})
	require.Nil(t, err)

	require.Nil(t, i.Revoke(tok))

	_, verr := i.Validate(tok)
	require.NotNil(t, verr)
}

func TestIssuePoWSucceedsWithValidProof(t *testing.T) {
	i := testIssuer()
	manager := pow.NewManager(pow.Config{TargetDifficulty: "ffffffff"})
	challenge := manager.GenerateChallenge()

	nonce, solution := bruteForce(challenge.ChallengeString, challenge.TargetDifficulty)
	tok, claims, err := i.IssuePoW(manager, pow.Proof{ChallengeID: challenge.ID, Nonce: nonce, Solution: solution}, "1.2.3.4", "test-agent")
	require.Nil(t, err)
	assert.NotEmpty(t, tok)
	assert.True(t, claims.HasPermission("pow_validated"))
}

func TestIssuePoWRejectsInvalidProof(t *testing.T) {
	i := testIssuer()
	manager := pow.NewManager(pow.Config{TargetDifficulty: "00000001"})
	challenge := manager.GenerateChallenge()

	_, _, err := i.IssuePoW(manager, pow.Proof{ChallengeID: challenge.ID, Nonce: "wrong", Solution: "deadbeef"}, "", "")
	require.NotNil(t, err)
}

func TestIssuePoolValidatedGrantsMinerPermission(t *testing.T) {
	i := testIssuer()
	_, claims, err := i.IssuePoolValidated("RMinerAddress123", "", "")
	require.Nil(t, err)
	assert.True(t, claims.HasPermission("pool_validated"))
	assert.True(t, claims.HasPermission("miner_RMinerAddress123"))
	assert.True(t, claims.HasPermission("rate_multiplier_2"))
}

func TestIssuePartnerGrantsWritePermission(t *testing.T) {
	i := testIssuer()
	_, claims, err := i.IssuePartner("partner-1", "", "")
	require.Nil(t, err)
	assert.True(t, claims.HasPermission("write"))
	assert.True(t, claims.HasPermission("partner_partner-1"))
}

func TestExtractFromHeaderRequiresBearerPrefix(t *testing.T) {
	tok, ok := ExtractFromHeader("Bearer abc123")
	assert.True(t, ok)
	assert.Equal(t, "abc123", tok)

	_, ok = ExtractFromHeader("abc123")
	assert.False(t, ok)

	_, ok = ExtractFromHeader("")
	assert.False(t, ok)
}

func bruteForce(challengeString, target string) (nonce, solution string) {
	for i := 0; ; i++ {
		n := strconv.Itoa(i)
		sum := sha256.Sum256([]byte(challengeString + n))
		s := hex.EncodeToString(sum[:])
		if meetsDifficultyForTest(s, target) {
			return n, s
		}
		if i > 2_000_000 {
			panic("no solution found within bound for test")
		}
	}
}

func meetsDifficultyForTest(hash, target string) bool {
	hashInt, err1 := strconv.ParseUint(strings.ToLower(hash)[:8], 16, 64)
	targetInt, err2 := strconv.ParseUint(strings.ToLower(target)[:8], 16, 64)
	if err1 != nil || err2 != nil {
		return false
	}
	return hashInt <= targetInt
}
