// Package payments implements the pay-for-access state machine (spec.md
// §4.11): quoting a shielded-address payment, accepting the broadcast
// transaction, and polling the upstream daemon until enough confirmations
// justify minting provisional and final access tokens. Grounded on
// PaymentsService in
// original_source/src/application/services/payments_service.rs, including
// its exact state transitions, the 1e-12 epsilon for VRSC amount
// comparisons, and its issue_token/revoke_token_by_string helpers.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	gwerrors "github.com/verus-rpc/gateway/infrastructure/errors"
	"github.com/verus-rpc/gateway/internal/token"
	"github.com/verus-rpc/gateway/internal/upstream"
)

// amountEpsilon tolerates floating point drift when comparing VRSC amounts,
// matching the original's 1e-12 threshold.
const amountEpsilon = 1e-12

// Status enumerates a PaymentSession's lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSubmitted  Status = "submitted"
	StatusVerified   Status = "verified"
	StatusConfirmed1 Status = "confirmed_1"
	StatusFinalized  Status = "finalized"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Tier is a purchasable access level (spec.md §6 PaymentTier).
type Tier struct {
	ID          string
	AmountVRSC  float64
	Permissions []string
}

// Session is one in-flight or completed payment.
type Session struct {
	PaymentID        string
	TierID           string
	Address          string
	AddressType      string
	AmountVRSC       float64
	CreatedAt        time.Time
	ExpiresAt        time.Time
	ClientIP         string
	UserAgent        string
	Status           Status
	Txid             string
	Confirmations    int
	ProvisionalToken string
	FinalToken       string
}

// Config configures the payments service (spec.md §6 PaymentsConfig).
type Config struct {
	AddressTypes       []string
	DefaultAddressType string
	MinConfirmations   int
	SessionTTLMinutes  int
	Tiers              []Tier
	RequireViewingKey  bool
}

// Service implements the payments state machine, backed by an upstream
// daemon client and a token issuer.
type Service struct {
	cfg      Config
	upstream *upstream.Client
	issuer   *token.Issuer

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New builds a Service.
func New(cfg Config, upstreamClient *upstream.Client, issuer *token.Issuer) *Service {
	if cfg.MinConfirmations <= 0 {
		cfg.MinConfirmations = 1
	}
	if cfg.SessionTTLMinutes <= 0 {
		cfg.SessionTTLMinutes = 30
	}
	return &Service{
		cfg:      cfg,
		upstream: upstreamClient,
		issuer:   issuer,
		sessions: make(map[string]*Session),
	}
}

func (s *Service) findTier(tierID string) (*Tier, bool) {
	for i := range s.cfg.Tiers {
		if s.cfg.Tiers[i].ID == tierID {
			return &s.cfg.Tiers[i], true
		}
	}
	return nil, false
}

// QuoteResponse is returned from CreateQuote.
type QuoteResponse struct {
	PaymentID   string
	AmountVRSC  float64
	Address     string
	AddressType string
	ExpiresAt   time.Time
}

// CreateQuote allocates a new payment session for tierID, either by
// validating an existing shielded address of the requested type (when
// RequireViewingKey is set) or by requesting a brand new one from the
// daemon.
func (s *Service) CreateQuote(ctx context.Context, tierID, addressType, clientIP, userAgent string) (*QuoteResponse, *gwerrors.ServiceError) {
	tier, ok := s.findTier(tierID)
	if !ok {
		return nil, gwerrors.NotFound("payment tier", tierID)
	}
	if addressType == "" {
		addressType = s.cfg.DefaultAddressType
	}

	var address string
	var err *gwerrors.ServiceError
	if s.cfg.RequireViewingKey {
		address, err = s.findCompatibleAddress(ctx, addressType)
	} else {
		address, err = s.allocateAddress(ctx, addressType)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &Session{
		PaymentID:   newPaymentID(),
		TierID:      tier.ID,
		Address:     address,
		AddressType: addressType,
		AmountVRSC:  tier.AmountVRSC,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(s.cfg.SessionTTLMinutes) * time.Minute),
		ClientIP:    clientIP,
		UserAgent:   userAgent,
		Status:      StatusPending,
	}

	s.mu.Lock()
	s.sessions[session.PaymentID] = session
	s.mu.Unlock()

	return &QuoteResponse{
		PaymentID:   session.PaymentID,
		AmountVRSC:  session.AmountVRSC,
		Address:     session.Address,
		AddressType: session.AddressType,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func (s *Service) findCompatibleAddress(ctx context.Context, addressType string) (string, *gwerrors.ServiceError) {
	raw, err := s.upstream.Call(ctx, "z_listaddresses", nil)
	if err != nil {
		return "", asServiceError(err)
	}
	var addresses []string
	if jsonErr := json.Unmarshal(raw, &addresses); jsonErr != nil {
		return "", gwerrors.Internal("decode z_listaddresses response", jsonErr)
	}

	for _, addr := range addresses {
		params, _ := json.Marshal([]string{addr})
		validateRaw, callErr := s.upstream.Call(ctx, "z_validateaddress", params)
		if callErr != nil {
			continue
		}
		var validation struct {
			IsValid bool   `json:"isvalid"`
			Type    string `json:"type"`
		}
		if jsonErr := json.Unmarshal(validateRaw, &validation); jsonErr != nil {
			continue
		}
		if validation.IsValid && validation.Type == addressType {
			return addr, nil
		}
	}
	return "", gwerrors.NotFound("compatible shielded address", addressType)
}

func (s *Service) allocateAddress(ctx context.Context, addressType string) (string, *gwerrors.ServiceError) {
	params, _ := json.Marshal([]string{addressType})
	raw, err := s.upstream.Call(ctx, "z_getnewaddress", params)
	if err != nil {
		return "", asServiceError(err)
	}
	var address string
	if jsonErr := json.Unmarshal(raw, &address); jsonErr != nil {
		return "", gwerrors.Internal("decode z_getnewaddress response", jsonErr)
	}
	return address, nil
}

// SubmitResponse is returned from SubmitRawTransaction.
type SubmitResponse struct {
	PaymentID string
	Txid      string
}

// SubmitRawTransaction broadcasts rawtxHex for paymentID's session. The
// session must be pending or already submitted (idempotent resubmission)
// and unexpired.
func (s *Service) SubmitRawTransaction(ctx context.Context, paymentID, rawtxHex string) (*SubmitResponse, *gwerrors.ServiceError) {
	s.mu.Lock()
	session, ok := s.sessions[paymentID]
	s.mu.Unlock()
	if !ok {
		return nil, gwerrors.NotFound("payment session", paymentID)
	}

	if time.Now().After(session.ExpiresAt) {
		return nil, gwerrors.Conflict("payment session has expired")
	}
	if session.Status != StatusPending && session.Status != StatusSubmitted {
		return nil, gwerrors.Conflict(fmt.Sprintf("payment session is in state %q and cannot accept a transaction", session.Status))
	}

	params, _ := json.Marshal([]string{rawtxHex})
	raw, err := s.upstream.Call(ctx, "sendrawtransaction", params)
	if err != nil {
		return nil, asServiceError(err)
	}
	var txid string
	if jsonErr := json.Unmarshal(raw, &txid); jsonErr != nil {
		return nil, gwerrors.Internal("decode sendrawtransaction response", jsonErr)
	}

	s.mu.Lock()
	session.Txid = txid
	session.Status = StatusSubmitted
	s.mu.Unlock()

	return &SubmitResponse{PaymentID: paymentID, Txid: txid}, nil
}

// StatusResponse is returned from CheckStatus.
type StatusResponse struct {
	PaymentID        string
	Status           Status
	Confirmations    int
	ProvisionalToken string
	FinalToken       string
}

// CheckStatus re-evaluates paymentID's session against the upstream
// daemon's view of its transaction, advancing the state machine and minting
// provisional/final tokens as confirmations accrue. Mirrors
// PaymentsService::check_status's exact sequence and thresholds.
func (s *Service) CheckStatus(ctx context.Context, paymentID string) (*StatusResponse, *gwerrors.ServiceError) {
	s.mu.Lock()
	session, ok := s.sessions[paymentID]
	s.mu.Unlock()
	if !ok {
		return nil, gwerrors.NotFound("payment session", paymentID)
	}

	if time.Now().After(session.ExpiresAt) && session.Status != StatusFinalized {
		s.expireSession(session)
		return s.statusResponse(session), nil
	}

	if session.Txid == "" {
		return s.statusResponse(session), nil
	}

	paidAmount, matched, viewErr := s.viewTransaction(ctx, session)
	if viewErr != nil {
		return nil, viewErr
	}

	if !matched || paidAmount+amountEpsilon < session.AmountVRSC {
		return s.statusResponse(session), nil
	}

	confirmations, confErr := s.confirmations(ctx, session.Txid)
	if confErr != nil {
		return nil, confErr
	}
	session.Confirmations = confirmations

	s.mu.Lock()
	defer s.mu.Unlock()

	if confirmations >= s.cfg.MinConfirmations && session.ProvisionalToken == "" {
		if err := s.mintProvisional(session); err != nil {
			return nil, err
		}
		session.Status = StatusConfirmed1
	} else if session.ProvisionalToken == "" {
		session.Status = StatusVerified
	}

	finalThreshold := s.cfg.MinConfirmations
	if finalThreshold < 2 {
		finalThreshold = 2
	}
	if confirmations >= finalThreshold && session.FinalToken == "" {
		if err := s.mintFinal(session); err != nil {
			return nil, err
		}
		session.Status = StatusFinalized
	}

	return s.statusResponse(session), nil
}

// expireSession revokes any provisional token and marks the session
// expired. Revocation is best-effort: a failure does not block expiry.
func (s *Service) expireSession(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ProvisionalToken != "" {
		_ = s.issuer.Revoke(session.ProvisionalToken)
	}
	session.Status = StatusExpired
}

func (s *Service) viewTransaction(ctx context.Context, session *Session) (paidAmount float64, matched bool, err *gwerrors.ServiceError) {
	params, _ := json.Marshal([]string{session.Txid})
	raw, callErr := s.upstream.Call(ctx, "z_viewtransaction", params)
	if callErr != nil {
		return 0, false, asServiceError(callErr)
	}

	var decoded struct {
		Outputs []struct {
			Address string  `json:"address"`
			Amount  float64 `json:"amount"`
		} `json:"outputs"`
	}
	if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
		return 0, false, gwerrors.Internal("decode z_viewtransaction response", jsonErr)
	}

	for _, out := range decoded.Outputs {
		if out.Address == session.Address {
			paidAmount += out.Amount
			matched = true
		}
	}

	if !matched && session.ProvisionalToken != "" {
		// A previously-confirmed payment stopped matching — a reorg or
		// misattribution. Revoke the provisional grant.
		s.mu.Lock()
		_ = s.issuer.Revoke(session.ProvisionalToken)
		session.ProvisionalToken = ""
		session.Status = StatusFailed
		s.mu.Unlock()
	}

	return paidAmount, matched, nil
}

func (s *Service) confirmations(ctx context.Context, txid string) (int, *gwerrors.ServiceError) {
	params, _ := json.Marshal([]interface{}{txid, 1})
	raw, err := s.upstream.Call(ctx, "getrawtransaction", params)
	if err != nil {
		return 0, asServiceError(err)
	}
	var decoded struct {
		Confirmations int `json:"confirmations"`
	}
	if jsonErr := json.Unmarshal(raw, &decoded); jsonErr != nil {
		return 0, gwerrors.Internal("decode getrawtransaction response", jsonErr)
	}
	return decoded.Confirmations, nil
}

func (s *Service) mintProvisional(session *Session) *gwerrors.ServiceError {
	tier, _ := s.findTier(session.TierID)
	perms := append(append([]string{}, tier.Permissions...), "provisional")
	tok, _, err := s.issuer.IssuePrivileged("pay_"+session.PaymentID, perms, 0, session.ClientIP, session.UserAgent)
	if err != nil {
		return err
	}
	session.ProvisionalToken = tok
	return nil
}

func (s *Service) mintFinal(session *Session) *gwerrors.ServiceError {
	tier, _ := s.findTier(session.TierID)
	perms := append(append([]string{}, tier.Permissions...), "paid")
	tok, _, err := s.issuer.IssuePrivileged("pay_"+session.PaymentID, perms, 0, session.ClientIP, session.UserAgent)
	if err != nil {
		return err
	}
	session.FinalToken = tok
	return nil
}

func (s *Service) statusResponse(session *Session) *StatusResponse {
	return &StatusResponse{
		PaymentID:        session.PaymentID,
		Status:           session.Status,
		Confirmations:    session.Confirmations,
		ProvisionalToken: session.ProvisionalToken,
		FinalToken:       session.FinalToken,
	}
}

// Sweep expires sessions past their TTL that never finalized, revoking any
// provisional token they hold, and reports how many counts exist per status
// for the payments-session gauge. Intended to run periodically from a
// janitor scheduler.
func (s *Service) Sweep() map[string]int {
	now := time.Now()

	s.mu.Lock()
	var toExpire []*Session
	for _, session := range s.sessions {
		if session.Status != StatusFinalized && session.Status != StatusExpired && now.After(session.ExpiresAt) {
			toExpire = append(toExpire, session)
		}
	}
	s.mu.Unlock()

	for _, session := range toExpire {
		s.expireSession(session)
	}

	counts := make(map[string]int)
	s.mu.RLock()
	for _, session := range s.sessions {
		counts[string(session.Status)]++
	}
	s.mu.RUnlock()
	return counts
}

// StatusCounts reports the current per-status session counts without
// expiring anything, for read-only snapshot endpoints.
func (s *Service) StatusCounts() map[string]int {
	counts := make(map[string]int)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		counts[string(session.Status)]++
	}
	return counts
}

func asServiceError(err error) *gwerrors.ServiceError {
	if se := gwerrors.GetServiceError(err); se != nil {
		return se
	}
	return gwerrors.Internal("upstream call failed", err)
}

func newPaymentID() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return fmt.Sprintf("pay_%x", buf)
}
