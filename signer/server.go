// Package signer is the custody boundary. It is the only process holding
// private keys, and it exposes exactly two authenticated operations: issue a
// fresh deposit address and execute an approved payout. Every request must
// carry a valid HMAC envelope, and every payout passes the kill switch,
// volume limits, and a row-locked state check before a key touches it.
package signer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"trustora/auth"
	"trustora/chainrpc"
	"trustora/chains"
	"trustora/escrow"
	"trustora/keys"
	"trustora/kv"
	"trustora/models"
	"trustora/storage"
)

// killSwitchEnv disables payouts immediately without a config round trip.
const killSwitchEnv = "SIGNER_DISABLE_PAYOUTS"

// Server carries the signer's wiring.
type Server struct {
	cfg      Config
	store    *storage.Store
	coord    kv.Store
	pool     *keys.Pool
	backends map[chains.Chain]chainrpc.Backend
	gate     *limitGate
	log      *slog.Logger
	nowFn    func() time.Time
	metrics  *Metrics
}

// Option customizes a Server.
type Option func(*Server)

// WithClock overrides the server's clock.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.nowFn = now }
}

// WithMetrics attaches a metrics set.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer wires the signer.
func NewServer(cfg Config, store *storage.Store, coord kv.Store, pool *keys.Pool,
	backends map[chains.Chain]chainrpc.Backend, log *slog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		coord:    coord,
		pool:     pool,
		backends: backends,
		gate:     &limitGate{coord: coord, limits: cfg.Limits},
		log:      log,
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/address", s.handleAddress)
	r.Post("/payout", s.handlePayout)
	return r
}

type addressRequest struct {
	Chain     string `json:"chain"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

type payoutRequest struct {
	EscrowID      string `json:"escrow_id"`
	Chain         string `json:"chain"`
	PayoutAddress string `json:"payout_address"`
	Amount        string `json:"amount"`
	Timestamp     int64  `json:"timestamp"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
}

type payoutResponse struct {
	SellerTxHash string `json:"seller_tx_hash"`
	FeeTxHash    string `json:"fee_tx_hash,omitempty"`
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, http.StatusBadRequest, "malformed request", "decode")
		return
	}
	chain, err := chains.Parse(req.Chain)
	if err != nil {
		s.reject(w, http.StatusBadRequest, "unsupported chain", "chain")
		return
	}
	message := auth.AddressMessage(string(chain), req.Timestamp, req.Nonce)
	if !s.verifyEnvelope(w, r, message, req.Timestamp, req.Nonce, req.Signature) {
		return
	}

	used, err := s.store.UsedDepositAddresses(r.Context(), chain)
	if err != nil {
		s.log.Error("load used addresses", "error", err)
		s.reject(w, http.StatusInternalServerError, "internal error", "storage")
		return
	}
	for _, addr := range s.pool.Addresses(chain) {
		if used[addr] {
			continue
		}
		if s.metrics != nil {
			s.metrics.AddressesIssued.WithLabelValues(string(chain)).Inc()
		}
		s.log.Info("deposit address issued", "chain", string(chain), "address", addr)
		respondJSON(w, http.StatusOK, map[string]string{"address": addr})
		return
	}
	s.reject(w, http.StatusServiceUnavailable, "no deposit addresses available", "pool_exhausted")
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, http.StatusBadRequest, "malformed request", "decode")
		return
	}
	chain, err := chains.Parse(req.Chain)
	if err != nil {
		s.reject(w, http.StatusBadRequest, "unsupported chain", "chain")
		return
	}
	message := auth.PayoutMessage(req.EscrowID, string(chain), req.PayoutAddress, req.Amount, req.Timestamp, req.Nonce)
	if !s.verifyEnvelope(w, r, message, req.Timestamp, req.Nonce, req.Signature) {
		return
	}

	escrowID, err := uuid.Parse(req.EscrowID)
	if err != nil {
		s.reject(w, http.StatusBadRequest, "bad escrow id", "escrow_id")
		return
	}
	if !chains.ValidateAddress(chain, req.PayoutAddress) {
		s.reject(w, http.StatusBadRequest, "bad payout address", "address")
		return
	}
	amount, err := escrow.ParseAmount(req.Amount)
	if err != nil || !amount.IsPositive() {
		s.reject(w, http.StatusBadRequest, "bad amount", "amount")
		return
	}

	paused, err := s.payoutsPaused(r)
	if err != nil {
		s.log.Error("read kill switch", "error", err)
		s.reject(w, http.StatusInternalServerError, "internal error", "config")
		return
	}
	if paused {
		s.reject(w, http.StatusServiceUnavailable, "payouts are paused", "kill_switch")
		return
	}

	// Limit gates run before any row lock so a rejected request consumes no
	// escrow state. Consumed counter quota is not refunded.
	if err := s.gate.CheckAndTrack(r.Context(), amount, s.nowFn()); err != nil {
		s.respondPayoutError(w, chain, err)
		return
	}

	// Phase one: under the row lock, settle idempotency, verify the request
	// against the deal, and move to PAYOUT_QUEUED. A deal already sitting in
	// PAYOUT_QUEUED is a retry of an interrupted attempt and passes through.
	var (
		done        payoutResponse
		alreadyDone bool
		depositAddr string
		netAmount   decimal.Decimal
		feeAmount   decimal.Decimal
	)
	err = s.store.WithEscrowForUpdate(r.Context(), escrowID, func(tx *gorm.DB, e *models.Escrow) error {
		if !escrow.CanSendPayout(e.PayoutTxHash) {
			done = payoutResponse{SellerTxHash: *e.PayoutTxHash}
			if e.FeeTxHash != nil {
				done.FeeTxHash = *e.FeeTxHash
			}
			alreadyDone = true
			return nil
		}
		if e.Status != escrow.StatusReleaseApproved && e.Status != escrow.StatusPayoutQueued {
			return &stateConflictError{status: e.Status}
		}
		if e.Chain != chain {
			return &requestMismatchError{field: "chain"}
		}
		if e.PayoutAddress != req.PayoutAddress {
			return &requestMismatchError{field: "payout_address"}
		}
		netAmount = e.NetAmount
		feeAmount = e.FeeAmount
		if !amount.Equal(netAmount) {
			return &requestMismatchError{field: "amount"}
		}
		depositAddr = e.DepositAddress
		if e.Status == escrow.StatusPayoutQueued {
			return nil
		}
		return s.store.Transition(e, escrow.StatusPayoutQueued)
	})
	if err != nil {
		s.respondPayoutError(w, chain, err)
		return
	}
	if alreadyDone {
		respondJSON(w, http.StatusOK, done)
		return
	}

	// Phase two: outside the lock, sign and broadcast. The deal sits in
	// PAYOUT_QUEUED while transactions are in flight.
	backend, ok := s.backends[chain]
	if !ok {
		s.failPayout(w, escrowID, chain, "no backend configured")
		return
	}
	key, err := s.pool.Key(depositAddr)
	if err != nil {
		s.log.Error("key lookup failed", "escrow", escrowID, "error", err)
		s.failPayout(w, escrowID, chain, "signing key unavailable")
		return
	}
	sellerTx, err := backend.TransferToken(r.Context(), key, req.PayoutAddress, escrow.ToMicroUnits(netAmount))
	if err != nil {
		s.log.Error("seller transfer failed", "escrow", escrowID, "error", err)
		s.failPayout(w, escrowID, chain, "broadcast failed")
		return
	}

	feeTx := ""
	feeAddress := s.cfg.Chains[chain].FeeAddress
	if feeAmount.IsPositive() && feeAddress != "" {
		feeTx, err = backend.TransferToken(r.Context(), key, feeAddress, escrow.ToMicroUnits(feeAmount))
		if err != nil {
			// The seller leg is already on chain; record what happened and
			// leave the fee leg for the operator.
			s.log.Error("fee transfer failed", "escrow", escrowID, "error", err)
			feeTx = ""
		}
	}

	// Phase three: re-lock and record the result.
	err = s.store.WithEscrowForUpdate(r.Context(), escrowID, func(tx *gorm.DB, e *models.Escrow) error {
		seller := sellerTx
		e.PayoutTxHash = &seller
		if feeTx != "" {
			fee := feeTx
			e.FeeTxHash = &fee
			rev := &models.Revenue{EscrowID: e.ID, Chain: chain, Amount: feeAmount, TxHash: feeTx}
			if err := s.store.RecordRevenue(r.Context(), tx, rev); err != nil {
				return err
			}
		}
		return s.store.Transition(e, escrow.StatusPayoutSent)
	})
	if err != nil {
		// The transfer is on chain but the record did not land. Surface it
		// loudly; the operator reconciles from the audit trail.
		s.log.Error("payout record failed", "escrow", escrowID, "tx", sellerTx, "error", err)
		s.reject(w, http.StatusInternalServerError, "payout sent but not recorded", "record")
		return
	}
	if aerr := s.store.Audit(r.Context(), 0, "payout_sent", &escrowID, sellerTx); aerr != nil {
		s.log.Error("audit failed", "error", aerr)
	}
	if s.metrics != nil {
		s.metrics.Payouts.WithLabelValues(string(chain), "sent").Inc()
	}
	s.log.Info("payout sent",
		"escrow", escrowID, "chain", string(chain),
		"amount", escrow.FormatAmount(netAmount), "tx", sellerTx)
	respondJSON(w, http.StatusOK, payoutResponse{
		SellerTxHash: sellerTx,
		FeeTxHash:    feeTx,
	})
}

// failPayout answers 502. The deal stays in PAYOUT_QUEUED; a later retry
// finishes it, or an admin walks it through PAYOUT_FAILED to re-approve.
func (s *Server) failPayout(w http.ResponseWriter, id uuid.UUID, chain chains.Chain, msg string) {
	s.log.Warn("payout left queued", "escrow", id)
	if s.metrics != nil {
		s.metrics.Payouts.WithLabelValues(string(chain), "failed").Inc()
	}
	s.reject(w, http.StatusBadGateway, msg, "broadcast")
}

func (s *Server) payoutsPaused(r *http.Request) (bool, error) {
	switch os.Getenv(killSwitchEnv) {
	case "1", "true", "TRUE":
		return true, nil
	}
	cfg, err := s.store.GetConfig(r.Context())
	if err != nil {
		return false, err
	}
	return cfg.PausePayouts, nil
}

// verifyEnvelope checks timestamp, nonce, then signature. The nonce is
// reserved even when a later check fails, so a replay of a rejected request
// still dies on the reservation. It writes the 401 itself and reports whether
// the request may proceed.
func (s *Server) verifyEnvelope(w http.ResponseWriter, r *http.Request, message string, ts int64, nonce, sig string) bool {
	if err := auth.VerifyTimestamp(ts, s.nowFn()); err != nil {
		s.reject(w, http.StatusUnauthorized, "stale timestamp", "timestamp")
		return false
	}
	if err := auth.VerifyNonce(r.Context(), s.coord, nonce); err != nil {
		if errors.Is(err, auth.ErrReplayDetected) {
			s.reject(w, http.StatusUnauthorized, "nonce already used", "replay")
			return false
		}
		s.log.Error("nonce check failed", "error", err)
		s.reject(w, http.StatusInternalServerError, "internal error", "nonce")
		return false
	}
	if err := auth.Verify(s.cfg.HMACSecret, message, sig); err != nil {
		s.reject(w, http.StatusUnauthorized, "bad signature", "signature")
		return false
	}
	return true
}

type stateConflictError struct {
	status escrow.Status
}

func (e *stateConflictError) Error() string {
	return "signer: escrow not payable in state " + string(e.status)
}

type requestMismatchError struct {
	field string
}

func (e *requestMismatchError) Error() string {
	return "signer: request does not match escrow " + e.field
}

func (s *Server) respondPayoutError(w http.ResponseWriter, chain chains.Chain, err error) {
	var conflict *stateConflictError
	var mismatch *requestMismatchError
	switch {
	case errors.As(err, &conflict):
		s.reject(w, http.StatusConflict, conflict.Error(), "state")
	case errors.As(err, &mismatch):
		s.reject(w, http.StatusBadRequest, mismatch.Error(), "mismatch")
	case errors.Is(err, ErrPayoutTooLarge),
		errors.Is(err, ErrAboveAutoPayoutMax),
		errors.Is(err, ErrDailyCapExceeded),
		errors.Is(err, ErrHourlyLimitExceeded):
		s.reject(w, http.StatusServiceUnavailable, err.Error(), "limits")
	case errors.Is(err, storage.ErrEscrowNotFound):
		s.reject(w, http.StatusNotFound, "escrow not found", "not_found")
	default:
		s.log.Error("payout lock phase failed", "error", err)
		s.reject(w, http.StatusInternalServerError, "internal error", "storage")
	}
}

func (s *Server) reject(w http.ResponseWriter, code int, msg, reason string) {
	if s.metrics != nil && code >= 400 {
		s.metrics.Rejections.WithLabelValues(reason).Inc()
	}
	respondJSON(w, code, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
