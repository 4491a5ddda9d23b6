package coordinator

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"trustora/escrow"
	"trustora/models"
	"trustora/storage"
)

const adminConfirmTTL = 120 * time.Second

// adminConfirm is the two-tap guard on destructive operator actions. The
// first call arms a short-lived flag and answers 202; the repeat inside the
// window goes through.
func (s *Server) adminConfirm(w http.ResponseWriter, r *http.Request, action, target string) bool {
	u := currentUser(r.Context())
	key := "admin:confirm:" + strconv.FormatInt(u.ID, 10) + ":" + action + ":" + target
	armed, err := s.coord.SetNX(r.Context(), key, "1", adminConfirmTTL)
	if err != nil {
		s.log.Error("arm admin confirm", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if armed {
		respondJSON(w, http.StatusAccepted, map[string]any{"confirm_required": true, "action": action})
		return false
	}
	if err := s.coord.Del(r.Context(), key); err != nil {
		s.log.Error("clear admin confirm", "error", err)
	}
	return true
}

// handleAdminApprovals lists the deals waiting on an operator.
func (s *Server) handleAdminApprovals(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListEscrowsByStatus(r.Context(),
		escrow.StatusReleaseRequested,
		escrow.StatusDisputed,
		escrow.StatusOverpaidReview,
		escrow.StatusPayoutFailed,
	)
	if err != nil {
		s.log.Error("list approvals", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]escrowView, 0, len(rows))
	for i := range rows {
		out = append(out, viewOf(&rows[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleAdminApprove approves a pending release (or retries a failed payout)
// and drives it to the signer.
func (s *Server) handleAdminApprove(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad escrow id")
		return
	}
	if !s.adminConfirm(w, r, "approve", id.String()) {
		return
	}

	// PAYOUT_FAILED deals go back through RELEASE_APPROVED before the retry.
	err = s.store.WithEscrowForUpdate(r.Context(), id, func(tx *gorm.DB, row *models.Escrow) error {
		if row.Status == escrow.StatusPayoutFailed {
			return s.store.Transition(row, escrow.StatusReleaseApproved)
		}
		return nil
	})
	if err != nil {
		s.respondAdminError(w, err)
		return
	}

	result, err := s.approveAndPay(r.Context(), id, u.ID, true)
	if err != nil {
		s.log.Error("admin payout failed", "escrow", id, "error", err)
		respondJSON(w, http.StatusAccepted, map[string]any{
			"status":         string(escrow.StatusReleaseApproved),
			"payout_pending": true,
		})
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type resolveRequest struct {
	Action     string `json:"action"`
	Resolution string `json:"resolution"`
}

// handleAdminResolve settles a disputed or overpaid deal. Action "approve"
// releases the funds; "close" sends the deal through review without a
// payout.
func (s *Server) handleAdminResolve(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad escrow id")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request")
		return
	}

	switch req.Action {
	case "approve":
		if dispute, derr := s.store.OpenDispute(r.Context(), id); derr == nil {
			if rerr := s.store.ResolveDispute(r.Context(), dispute.ID, req.Resolution); rerr != nil {
				s.log.Error("resolve dispute", "error", rerr)
			}
		}
		result, err := s.approveAndPay(r.Context(), id, u.ID, true)
		if err != nil {
			s.respondAdminError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	case "close":
		err := s.store.WithEscrowForUpdate(r.Context(), id, func(tx *gorm.DB, row *models.Escrow) error {
			if err := s.store.Transition(row, escrow.StatusReview); err != nil {
				return err
			}
			return s.store.Transition(row, escrow.StatusCompleted)
		})
		if err != nil {
			s.respondAdminError(w, err)
			return
		}
		if dispute, derr := s.store.OpenDispute(r.Context(), id); derr == nil {
			if rerr := s.store.ResolveDispute(r.Context(), dispute.ID, req.Resolution); rerr != nil {
				s.log.Error("resolve dispute", "error", rerr)
			}
		}
		if err := s.store.Audit(r.Context(), u.ID, "dispute_closed", &id, req.Resolution); err != nil {
			s.log.Error("audit failed", "error", err)
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": string(escrow.StatusCompleted)})
	default:
		respondError(w, http.StatusBadRequest, "action must be approve or close")
	}
}

// handleAdminFreeze toggles the chat freeze on a deal.
func (s *Server) handleAdminFreeze(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad escrow id")
		return
	}
	var req struct {
		Frozen bool `json:"frozen"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if !s.adminConfirm(w, r, "freeze", id.String()) {
		return
	}
	err = s.store.WithEscrowForUpdate(r.Context(), id, func(tx *gorm.DB, row *models.Escrow) error {
		row.ChatFrozen = req.Frozen
		return nil
	})
	if err != nil {
		s.respondAdminError(w, err)
		return
	}
	if err := s.store.Audit(r.Context(), u.ID, "chat_freeze", &id, strconv.FormatBool(req.Frozen)); err != nil {
		s.log.Error("audit failed", "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]bool{"frozen": req.Frozen})
}

// handleAdminBlock blocks or unblocks a user.
func (s *Server) handleAdminBlock(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	targetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || targetID <= 0 {
		respondError(w, http.StatusBadRequest, "bad user id")
		return
	}
	var req struct {
		Blocked bool `json:"blocked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if !s.adminConfirm(w, r, "block", strconv.FormatInt(targetID, 10)) {
		return
	}
	if err := s.store.SetUserBlocked(r.Context(), targetID, req.Blocked); err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err := s.store.Audit(r.Context(), u.ID, "user_block", nil,
		strconv.FormatInt(targetID, 10)+"="+strconv.FormatBool(req.Blocked)); err != nil {
		s.log.Error("audit failed", "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]bool{"blocked": req.Blocked})
}

type adminConfigRequest struct {
	FeeFlat      *string `json:"fee_flat"`
	FeePercent   *string `json:"fee_percent"`
	FeeThreshold *string `json:"fee_threshold"`
	PausePayouts *bool   `json:"pause_payouts"`
}

// handleAdminConfig updates fee terms and the payout kill switch. Changes
// apply to new deals only; live deals keep their frozen snapshot.
func (s *Server) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	var req adminConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if !s.adminConfirm(w, r, "config", "") {
		return
	}
	cfg, err := s.store.GetConfig(r.Context())
	if err != nil {
		s.log.Error("load config", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	apply := func(target *decimal.Decimal, raw *string) error {
		if raw == nil {
			return nil
		}
		v, err := decimal.NewFromString(*raw)
		if err != nil || v.IsNegative() {
			return errors.New("bad decimal")
		}
		*target = v
		return nil
	}
	if apply(&cfg.FeeFlat, req.FeeFlat) != nil ||
		apply(&cfg.FeePercent, req.FeePercent) != nil ||
		apply(&cfg.FeeThreshold, req.FeeThreshold) != nil {
		respondError(w, http.StatusBadRequest, "bad fee value")
		return
	}
	if req.PausePayouts != nil {
		cfg.PausePayouts = *req.PausePayouts
	}
	if err := s.store.UpdateConfig(r.Context(), u.ID, cfg); err != nil {
		s.log.Error("update config", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.log.Info("config updated", "by", u.ID, "pause_payouts", cfg.PausePayouts)
	respondJSON(w, http.StatusOK, cfg)
}

// handleAdminSearch finds deals by id, room code, tx hash, or participant id.
func (s *Server) handleAdminSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	rows, err := s.store.FindEscrows(r.Context(), q, 50)
	if err != nil {
		s.log.Error("escrow search", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]escrowView, 0, len(rows))
	for i := range rows {
		out = append(out, viewOf(&rows[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleAdminAudit serves the recent action trail.
func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListRecentAudit(r.Context(), 100)
	if err != nil {
		s.log.Error("list audit", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// handleAdminBroadcast records a platform announcement. Delivery to opted-in
// users is the front end's job; the coordinator audits the text and reports
// the audience size.
func (s *Server) handleAdminBroadcast(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if !s.adminConfirm(w, r, "broadcast", "") {
		return
	}
	recipients, err := s.store.CountBroadcastUsers(r.Context())
	if err != nil {
		s.log.Error("count broadcast users", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.store.Audit(r.Context(), u.ID, "broadcast", nil, text); err != nil {
		s.log.Error("audit failed", "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]any{"recipients": recipients})
}

// handleAdminAnalytics serves the operator dashboard counters.
func (s *Server) handleAdminAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAnalytics(r.Context())
	if err != nil {
		s.log.Error("analytics", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) respondAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrEscrowNotFound):
		respondError(w, http.StatusNotFound, "escrow not found")
	case errors.Is(err, escrow.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "deal state does not allow this action")
	default:
		s.log.Error("admin action failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
