package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/verus-rpc/gateway/infrastructure/httputil"
)

type paymentsRequestBody struct {
	TierID      string `json:"tier_id"`
	AddressType string `json:"address_type"`
}

// paymentsRequestHandler serves POST /payments/request (spec.md §6):
// allocates a payment session for a configured tier and returns the
// address the caller should fund.
func paymentsRequestHandler(deps *dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body paymentsRequestBody
		if !httputil.DecodeJSON(w, r, &body) {
			return
		}
		info := clientInfoFromContext(r)

		quote, err := deps.payments.CreateQuote(r.Context(), body.TierID, body.AddressType, info.IP, info.UserAgent)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, quote)
	}
}

type paymentsSubmitBody struct {
	PaymentID string `json:"payment_id"`
	RawTxHex  string `json:"rawtx_hex"`
}

// paymentsSubmitHandler serves POST /payments/submit (spec.md §6):
// broadcasts the caller's funding transaction for an allocated session.
func paymentsSubmitHandler(deps *dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body paymentsSubmitBody
		if !httputil.DecodeJSON(w, r, &body) {
			return
		}

		resp, err := deps.payments.SubmitRawTransaction(r.Context(), body.PaymentID, body.RawTxHex)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// paymentsStatusHandler serves GET /payments/status/{id} (spec.md §6):
// reports a session's confirmation progress, minting provisional/final
// tokens as the state machine advances.
func paymentsStatusHandler(deps *dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		resp, err := deps.payments.CheckStatus(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}
