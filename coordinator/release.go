package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"trustora/chains"
	"trustora/escrow"
	"trustora/models"
)

// releaseConfirmTTL is how long the first release tap stays armed. The buyer
// must repeat the request inside this window to actually move funds.
const releaseConfirmTTL = 120 * time.Second

type releaseRequest struct {
	PayoutAddress string `json:"payout_address"`
}

// handleRelease runs the buyer's release flow. The first call arms a confirm
// flag; the second call within the window moves the deal to
// RELEASE_REQUESTED and, below the auto-payout ceiling, straight through
// approval to the signer. The coordinator never writes PAYOUT_SENT or
// COMPLETED; those belong to the signer and the review flow.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	e, ok := s.loadParticipantEscrow(w, r)
	if !ok {
		return
	}
	if e.BuyerID != u.ID {
		respondError(w, http.StatusForbidden, "only the buyer can release")
		return
	}
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if !chains.ValidateAddress(e.Chain, req.PayoutAddress) {
		respondError(w, http.StatusBadRequest, "bad payout address")
		return
	}
	if e.Status != escrow.StatusFundsLocked {
		respondError(w, http.StatusConflict, "deal is not ready for release")
		return
	}

	confirmKey := releaseConfirmKey(u.ID, e.ID)
	armed, err := s.coord.SetNX(r.Context(), confirmKey, req.PayoutAddress, releaseConfirmTTL)
	if err != nil {
		s.log.Error("arm release confirm", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if armed {
		respondJSON(w, http.StatusAccepted, map[string]any{
			"confirm_required":   true,
			"confirm_window_sec": int(releaseConfirmTTL / time.Second),
		})
		return
	}
	// Second tap: the armed flag must carry the same destination.
	stored, err := s.coord.Get(r.Context(), confirmKey)
	if err != nil {
		s.log.Error("read release confirm", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if stored != req.PayoutAddress {
		respondError(w, http.StatusBadRequest, "payout address changed between taps")
		return
	}
	if err := s.coord.Del(r.Context(), confirmKey); err != nil {
		s.log.Error("clear release confirm", "error", err)
	}

	err = s.store.WithEscrowForUpdate(r.Context(), e.ID, func(tx *gorm.DB, row *models.Escrow) error {
		if err := s.store.Transition(row, escrow.StatusReleaseRequested); err != nil {
			return err
		}
		row.BuyerConfirmedRelease = true
		row.PayoutAddress = req.PayoutAddress
		return nil
	})
	if err != nil {
		s.log.Error("request release", "escrow", e.ID, "error", err)
		respondError(w, http.StatusConflict, "deal is not ready for release")
		return
	}
	if err := s.store.Audit(r.Context(), u.ID, "release_requested", &e.ID, req.PayoutAddress); err != nil {
		s.log.Error("audit failed", "error", err)
	}

	net := e.NetAmount
	if net.GreaterThan(s.cfg.AutoPayoutMax) {
		if s.metrics != nil {
			s.metrics.Releases.WithLabelValues("manual").Inc()
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"status":            string(escrow.StatusReleaseRequested),
			"approval_required": true,
		})
		return
	}

	result, err := s.approveAndPay(r.Context(), e.ID, u.ID, false)
	if err != nil {
		// The deal stays RELEASE_APPROVED; an operator or a retry finishes
		// the payout.
		s.log.Error("auto payout failed", "escrow", e.ID, "error", err)
		respondJSON(w, http.StatusAccepted, map[string]any{
			"status":         string(escrow.StatusReleaseApproved),
			"payout_pending": true,
		})
		return
	}
	if s.metrics != nil {
		s.metrics.Releases.WithLabelValues("auto").Inc()
	}
	respondJSON(w, http.StatusOK, result)
}

// approveAndPay moves the deal to RELEASE_APPROVED and asks the signer to
// execute. adminApproved marks operator involvement.
func (s *Server) approveAndPay(ctx context.Context, id uuid.UUID, actorID int64, adminApproved bool) (PayoutResult, error) {
	var (
		chain   chains.Chain
		address string
		amount  string
	)
	err := s.store.WithEscrowForUpdate(ctx, id, func(tx *gorm.DB, row *models.Escrow) error {
		// Approved and already-queued deals pass through so a payout retry
		// does not trip the transition table.
		if row.Status != escrow.StatusReleaseApproved && row.Status != escrow.StatusPayoutQueued {
			if err := s.store.Transition(row, escrow.StatusReleaseApproved); err != nil {
				return err
			}
		}
		row.AdminApproved = row.AdminApproved || adminApproved
		chain = row.Chain
		address = row.PayoutAddress
		amount = escrow.FormatAmount(row.NetAmount)
		return nil
	})
	if err != nil {
		return PayoutResult{}, err
	}
	if err := s.store.Audit(ctx, actorID, "release_approved", &id, address); err != nil {
		s.log.Error("audit failed", "error", err)
	}
	return s.signer.SendPayout(ctx, id, chain, address, amount)
}

func releaseConfirmKey(userID int64, escrowID uuid.UUID) string {
	return "release_confirm:" + strconv.FormatInt(userID, 10) + ":" + escrowID.String()
}
