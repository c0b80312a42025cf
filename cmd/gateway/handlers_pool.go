package main

import (
	"net/http"

	"github.com/verus-rpc/gateway/infrastructure/httputil"
	"github.com/verus-rpc/gateway/internal/pool"
	"github.com/verus-rpc/gateway/pkg/metrics"
)

// poolShareHandler serves POST /pool/share (spec.md §6): validates a
// submitted mining-pool share against the configured pool's signature
// service and, once valid, issues the miner a pool_validated token whose
// rate multiplier permission doubles its rate limit on later JSON-RPC calls.
func poolShareHandler(deps *dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var share pool.Share
		if !httputil.DecodeJSON(w, r, &share) {
			return
		}

		result, err := deps.pool.ValidateShare(r.Context(), share)
		if err != nil {
			metrics.RecordPoolShare("error")
			writeServiceError(w, r, err)
			return
		}
		if !result.Valid {
			metrics.RecordPoolShare("invalid")
			httputil.WriteJSON(w, http.StatusOK, result)
			return
		}
		metrics.RecordPoolShare("valid")

		info := clientInfoFromContext(r)
		signed, _, issueErr := deps.issuer.IssuePoolValidated(share.MinerAddress, info.IP, info.UserAgent)
		if issueErr != nil {
			// Share was valid but token issuance failed; report the validation
			// result so the miner knows the share counted, with no token.
			httputil.WriteJSON(w, http.StatusOK, result)
			return
		}

		httputil.WriteJSON(w, http.StatusOK, struct {
			*pool.ValidationResponse
			Token string `json:"token"`
		}{ValidationResponse: result, Token: signed})
	}
}

// poolMetricsHandler serves GET /pool/metrics (spec.md §6): the running
// share-validation statistics tracked by the pool client.
func poolMetricsHandler(deps *dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, deps.pool.Snapshot())
	}
}
