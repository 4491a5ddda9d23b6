package coordinator

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"trustora/chains"
	"trustora/escrow"
	"trustora/models"
	"trustora/storage"
)

type createEscrowRequest struct {
	SellerID int64  `json:"seller_id"`
	Chain    string `json:"chain"`
	Amount   string `json:"amount"`
}

type escrowView struct {
	ID             string  `json:"id"`
	RoomCode       string  `json:"room_code"`
	BuyerID        int64   `json:"buyer_id"`
	SellerID       int64   `json:"seller_id"`
	Chain          string  `json:"chain"`
	Token          string  `json:"token"`
	Amount         string  `json:"amount"`
	Fee            string  `json:"fee"`
	Net            string  `json:"net"`
	DepositAddress string  `json:"deposit_address"`
	ReceivedAmount string  `json:"received_amount"`
	Status         string  `json:"status"`
	DepositTxHash  *string `json:"deposit_tx_hash,omitempty"`
	PayoutTxHash   *string `json:"payout_tx_hash,omitempty"`
	ChatFrozen     bool    `json:"chat_frozen"`
}

func viewOf(e *models.Escrow) escrowView {
	return escrowView{
		ID:             e.ID.String(),
		RoomCode:       e.RoomCode,
		BuyerID:        e.BuyerID,
		SellerID:       e.SellerID,
		Chain:          string(e.Chain),
		Token:          string(e.Token),
		Amount:         escrow.FormatAmount(e.Amount),
		Fee:            escrow.FormatAmount(e.FeeAmount),
		Net:            escrow.FormatAmount(e.NetAmount),
		DepositAddress: e.DepositAddress,
		ReceivedAmount: escrow.FormatAmount(e.ReceivedAmount),
		Status:         string(e.Status),
		DepositTxHash:  e.DepositTxHash,
		PayoutTxHash:   e.PayoutTxHash,
		ChatFrozen:     e.ChatFrozen,
	}
}

// handleCreateEscrow opens a new deal: freeze the fee terms, reserve a
// deposit address from the signer, and park the deal in AWAITING_DEPOSIT.
func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	var req createEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if req.SellerID <= 0 || req.SellerID == u.ID {
		respondError(w, http.StatusBadRequest, "bad seller")
		return
	}
	chain, err := chains.Parse(req.Chain)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unsupported chain")
		return
	}
	amount, err := escrow.ParseAmount(req.Amount)
	if err != nil || !amount.IsPositive() {
		respondError(w, http.StatusBadRequest, "bad amount")
		return
	}

	cfg, err := s.store.GetConfig(r.Context())
	if err != nil {
		s.log.Error("load config", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	address, err := s.signer.RequestAddress(r.Context(), chain)
	if err != nil {
		s.log.Error("request deposit address", "error", err)
		respondError(w, http.StatusServiceUnavailable, "no deposit address available")
		return
	}

	// The fee terms are frozen at creation. The stored fee and net columns are
	// what the payout moves later; config changes never touch a live deal.
	snapshot := cfg.Snapshot()
	e := &models.Escrow{
		ID:             uuid.New(),
		RoomCode:       newRoomCode(),
		BuyerID:        u.ID,
		SellerID:       req.SellerID,
		Chain:          chain,
		Token:          chains.TokenUSDT,
		Amount:         amount,
		FeeAmount:      snapshot.Fee(amount),
		NetAmount:      snapshot.Net(amount),
		FeeSnapshot:    snapshot,
		DepositAddress: address,
		Status:         escrow.StatusCreated,
	}
	if err := s.store.CreateEscrow(r.Context(), e); err != nil {
		s.log.Error("create escrow", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	err = s.store.WithEscrowForUpdate(r.Context(), e.ID, func(tx *gorm.DB, row *models.Escrow) error {
		return s.store.Transition(row, escrow.StatusAwaitingDeposit)
	})
	if err != nil {
		s.log.Error("open escrow", "escrow", e.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	e.Status = escrow.StatusAwaitingDeposit

	if err := s.store.Audit(r.Context(), u.ID, "escrow_created", &e.ID, e.RoomCode); err != nil {
		s.log.Error("audit failed", "error", err)
	}
	if s.metrics != nil {
		s.metrics.EscrowsCreated.WithLabelValues(string(chain)).Inc()
	}
	s.log.Info("escrow created",
		"escrow", e.ID, "room", e.RoomCode, "chain", string(chain),
		"amount", escrow.FormatAmount(amount))
	respondJSON(w, http.StatusCreated, viewOf(e))
}

func (s *Server) handleListEscrows(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	rows, err := s.store.ListEscrowsForUser(r.Context(), u.ID, 100)
	if err != nil {
		s.log.Error("list escrows", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]escrowView, 0, len(rows))
	for i := range rows {
		out = append(out, viewOf(&rows[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	e, ok := s.loadParticipantEscrow(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, viewOf(e))
}

// loadParticipantEscrow loads the escrow in the URL and enforces that the
// caller is the buyer or seller. It writes the error response itself.
func (s *Server) loadParticipantEscrow(w http.ResponseWriter, r *http.Request) (*models.Escrow, bool) {
	u := currentUser(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad escrow id")
		return nil, false
	}
	e, err := s.store.GetEscrow(r.Context(), id)
	if errors.Is(err, storage.ErrEscrowNotFound) {
		respondError(w, http.StatusNotFound, "escrow not found")
		return nil, false
	}
	if err != nil {
		s.log.Error("load escrow", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if e.BuyerID != u.ID && e.SellerID != u.ID {
		respondError(w, http.StatusNotFound, "escrow not found")
		return nil, false
	}
	return e, true
}

// newRoomCode returns a short human-shareable deal code: "TR-" plus six
// uppercase hex digits.
func newRoomCode() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is broken.
		panic(fmt.Sprintf("coordinator: room code entropy: %v", err))
	}
	return "TR-" + strings.ToUpper(hex.EncodeToString(buf))
}
