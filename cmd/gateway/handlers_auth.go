package main

import (
	"net/http"

	gwerrors "github.com/verus-rpc/gateway/infrastructure/errors"
	"github.com/verus-rpc/gateway/infrastructure/httputil"
	"github.com/verus-rpc/gateway/internal/pow"
	"github.com/verus-rpc/gateway/internal/token"
	"github.com/verus-rpc/gateway/pkg/metrics"
)

// Token issuance has no literal spec.md HTTP route — every registered
// JSON-RPC method requires a permission internal/policy only grants to an
// authenticated caller, so something has to hand out the first token. These
// three/four endpoints supplement spec.md §4.7's four issuance modes with
// the HTTP surface the original Rust implementation never exposed either
// (see DESIGN.md).

type tokenResponse struct {
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expires_at"`
	Perms     []string `json:"permissions"`
}

func writeToken(w http.ResponseWriter, mode, signed string, claims *token.Claims) {
	metrics.RecordTokenIssued(mode)
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		Token:     signed,
		ExpiresAt: claims.ExpiresAt.Time.UTC().Format(http.TimeFormat),
		Perms:     claims.Permissions,
	})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err *gwerrors.ServiceError) {
	if err == nil {
		err = gwerrors.Internal("unknown error", nil)
	}
	httputil.WriteErrorResponse(w, r, err.HTTPStatus, string(err.Code), err.Message, err.Details)
}

type anonymousRequestBody struct {
	Permissions      []string `json:"permissions"`
	ExpirationSeconds int     `json:"expiration_seconds"`
}

// authAnonymousHandler serves POST /auth/anonymous: issues a token scoped to
// the intersection of the caller's requested permissions and the
// operator-configured anonymous allow-list (security.jwt.allowed_anonymous).
func authAnonymousHandler(deps *dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body anonymousRequestBody
		if !httputil.DecodeJSONOptional(w, r, &body) {
			return
		}
		info := clientInfoFromContext(r)

		signed, claims, err := deps.issuer.IssueAnonymous(token.AnonymousRequest{
			RequestedPerms:   body.Permissions,
			CustomExpireSecs: body.ExpirationSeconds,
			ClientIP:         info.IP,
			UserAgent:        info.UserAgent,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeToken(w, "anonymous", signed, claims)
	}
}

// authPoWChallengeHandler serves POST /auth/pow/challenge: issues a fresh
// proof-of-work puzzle (spec.md §4.8).
func authPoWChallengeHandler(deps *dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challenge := deps.pow.GenerateChallenge()
		metrics.RecordPoWChallenge(string(challenge.Algorithm))
		httputil.WriteJSON(w, http.StatusOK, challenge)
	}
}

type powVerifyRequestBody struct {
	ChallengeID string `json:"challenge_id"`
	Nonce       string `json:"nonce"`
	Solution    string `json:"solution"`
}

// authPoWVerifyHandler serves POST /auth/pow/verify: validates a claimed
// solution and, on success, issues a pow_validated token.
func authPoWVerifyHandler(deps *dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body powVerifyRequestBody
		if !httputil.DecodeJSON(w, r, &body) {
			return
		}
		info := clientInfoFromContext(r)

		signed, claims, err := deps.issuer.IssuePoW(deps.pow, pow.Proof{
			ChallengeID: body.ChallengeID,
			Nonce:       body.Nonce,
			Solution:    body.Solution,
		}, info.IP, info.UserAgent)
		if err != nil {
			metrics.RecordPoWVerification("rejected")
			writeServiceError(w, r, err)
			return
		}
		metrics.RecordPoWVerification("accepted")
		writeToken(w, "pow", signed, claims)
	}
}

type partnerRequestBody struct {
	PartnerID string `json:"partner_id"`
}

// authPartnerHandler serves POST /auth/partner: admits any partner ID on
// the operator-configured static allow-list (security.jwt.partner_ids).
func authPartnerHandler(deps *dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body partnerRequestBody
		if !httputil.DecodeJSON(w, r, &body) {
			return
		}
		if !partnerAllowed(deps.cfg.Security.JWT.PartnerIDs, body.PartnerID) {
			writeServiceError(w, r, gwerrors.Unauthorized("unknown partner id"))
			return
		}
		info := clientInfoFromContext(r)

		signed, claims, err := deps.issuer.IssuePartner(body.PartnerID, info.IP, info.UserAgent)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeToken(w, "partner", signed, claims)
	}
}

func partnerAllowed(allowed []string, id string) bool {
	if id == "" {
		return false
	}
	for _, a := range allowed {
		if a == id {
			return true
		}
	}
	return false
}
