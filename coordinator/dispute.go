package coordinator

import (
	"encoding/json"
	"net/http"

	"gorm.io/gorm"

	"trustora/escrow"
	"trustora/models"
)

type disputeRequest struct {
	Reason string `json:"reason"`
}

// handleDispute lets either participant freeze the deal for operator review.
func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	e, ok := s.loadParticipantEscrow(w, r)
	if !ok {
		return
	}
	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if req.Reason == "" {
		respondError(w, http.StatusBadRequest, "reason is required")
		return
	}

	err := s.store.WithEscrowForUpdate(r.Context(), e.ID, func(tx *gorm.DB, row *models.Escrow) error {
		if err := s.store.Transition(row, escrow.StatusDisputed); err != nil {
			return err
		}
		dispute := &models.Dispute{EscrowID: row.ID, OpenedByID: u.ID, Reason: req.Reason}
		return tx.Create(dispute).Error
	})
	if err != nil {
		respondError(w, http.StatusConflict, "deal cannot be disputed in its current state")
		return
	}
	if err := s.store.Audit(r.Context(), u.ID, "dispute_opened", &e.ID, req.Reason); err != nil {
		s.log.Error("audit failed", "error", err)
	}
	if s.metrics != nil {
		s.metrics.Disputes.Inc()
	}
	s.log.Info("dispute opened", "escrow", e.ID, "by", u.ID)
	respondJSON(w, http.StatusOK, map[string]string{"status": string(escrow.StatusDisputed)})
}
