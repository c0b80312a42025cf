package main

import (
	"encoding/json"
	"net/http"

	"github.com/verus-rpc/gateway/infrastructure/httputil"
	"github.com/verus-rpc/gateway/internal/rpctypes"
)

// rpcHandler serves POST / (spec.md §6): a single JSON-RPC 2.0 request,
// dispatched through the eleven-stage pipeline. Every outcome — including
// malformed input — is represented in the JSON-RPC response envelope
// rather than the HTTP status line, per JSON-RPC 2.0 convention.
func rpcHandler(deps *dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpctypes.RpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteJSON(w, http.StatusOK, rpctypes.NewError(nil, -32700, "parse error", err.Error()))
			return
		}
		if req.Method == "" {
			httputil.WriteJSON(w, http.StatusOK, rpctypes.NewError(req.ID, -32600, "invalid request: method is required", nil))
			return
		}

		req.ClientInfo = clientInfoFromContext(r)

		resp := deps.pipeline.Handle(r.Context(), &req)
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}
