package coordinator

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"trustora/escrow"
	"trustora/models"
	"trustora/reviews"
)

type reviewRequest struct {
	Rating int    `json:"rating"`
	Body   string `json:"body"`
}

// handlePostReview records buyer feedback once the payout is on chain. The
// deal walks PAYOUT_SENT -> COMPLETED -> REVIEW -> COMPLETED so the review
// always lands on a settled deal.
func (s *Server) handlePostReview(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	e, ok := s.loadParticipantEscrow(w, r)
	if !ok {
		return
	}
	if e.BuyerID != u.ID {
		respondError(w, http.StatusForbidden, "only the buyer can review")
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		respondError(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}
	if containsLink(req.Body) {
		respondError(w, http.StatusBadRequest, "links are not allowed in reviews")
		return
	}
	if containsProfanity(req.Body) {
		respondError(w, http.StatusBadRequest, "review text rejected")
		return
	}

	err := s.store.WithEscrowForUpdate(r.Context(), e.ID, func(tx *gorm.DB, row *models.Escrow) error {
		if row.Status == escrow.StatusPayoutSent {
			if err := s.store.Transition(row, escrow.StatusCompleted); err != nil {
				return err
			}
		}
		if err := s.store.Transition(row, escrow.StatusReview); err != nil {
			return err
		}
		review := &models.Review{
			EscrowID:  row.ID,
			AuthorID:  u.ID,
			SubjectID: row.SellerID,
			Rating:    req.Rating,
			Body:      req.Body,
			Published: true,
		}
		if err := tx.Create(review).Error; err != nil {
			return err
		}
		return s.store.Transition(row, escrow.StatusCompleted)
	})
	if err != nil {
		respondError(w, http.StatusConflict, "deal is not ready for review")
		return
	}

	post := reviews.BuildPost(u.ID, e.SellerID, s.cfg.PublicHashSalt,
		e.RoomCode, e.Chain, e.Amount, req.Rating, req.Body)
	respondJSON(w, http.StatusCreated, map[string]any{
		"post":   post.Render(),
		"status": string(escrow.StatusCompleted),
	})
}

var profanity = []string{"scam", "fuck", "shit", "bitch"}

// containsProfanity screens review text before it reaches the public feed.
func containsProfanity(body string) bool {
	lower := strings.ToLower(body)
	for _, word := range profanity {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// handleListReviews serves the public review feed for a user.
func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	subjectID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || subjectID <= 0 {
		respondError(w, http.StatusBadRequest, "bad user id")
		return
	}
	rows, err := s.store.ListPublishedReviews(r.Context(), subjectID, 50)
	if err != nil {
		s.log.Error("list reviews", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	type reviewView struct {
		Author string `json:"author"`
		Rating int    `json:"rating"`
		Body   string `json:"body"`
	}
	out := make([]reviewView, 0, len(rows))
	for _, rv := range rows {
		out = append(out, reviewView{
			Author: reviews.PublicHash(rv.AuthorID, s.cfg.PublicHashSalt),
			Rating: rv.Rating,
			Body:   rv.Body,
		})
	}
	respondJSON(w, http.StatusOK, out)
}
