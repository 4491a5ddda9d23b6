package coordinator

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"trustora/escrow"
	"trustora/models"
)

const (
	chatRateWindow = time.Minute
	chatRateLimit  = 10
	chatMaxLength  = 2000
	// Image bodies are data URIs or file references; capped at 5 MiB.
	chatImageMaxLength = 5 << 20
)

type messageRequest struct {
	Kind string `json:"kind"`
	Body string `json:"body"`
}

type messageView struct {
	SenderID  int64     `json:"sender_id"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// handlePostMessage relays a chat line between the deal's participants. Chat
// is rate limited per sender and closed once an operator freezes the deal.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	e, ok := s.loadParticipantEscrow(w, r)
	if !ok {
		return
	}
	if e.ChatFrozen {
		respondError(w, http.StatusForbidden, "chat is frozen")
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request")
		return
	}
	kind := req.Kind
	if kind == "" {
		kind = "text"
	}
	body := strings.TrimSpace(req.Body)
	switch kind {
	case "text":
		if body == "" || len(body) > chatMaxLength {
			respondError(w, http.StatusBadRequest, "bad message body")
			return
		}
		if containsLink(body) {
			respondError(w, http.StatusBadRequest, "links are not allowed in deal chat")
			return
		}
	case "image":
		// Evidence uploads are only accepted while an operator is involved.
		if e.Status != escrow.StatusDisputed {
			respondError(w, http.StatusBadRequest, "images are only accepted on disputed deals")
			return
		}
		if body == "" || len(body) > chatImageMaxLength {
			respondError(w, http.StatusBadRequest, "image too large")
			return
		}
	default:
		respondError(w, http.StatusBadRequest, "kind must be text or image")
		return
	}

	key := chatRateKey(e.ID, u.ID, s.nowFn())
	count, err := s.coord.Incr(r.Context(), key)
	if err != nil {
		s.log.Error("chat rate counter", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if count == 1 {
		if err := s.coord.Expire(r.Context(), key, chatRateWindow); err != nil {
			s.log.Error("chat rate expire", "error", err)
		}
	}
	if count > chatRateLimit {
		respondError(w, http.StatusTooManyRequests, "slow down")
		return
	}

	msg := &models.Message{EscrowID: e.ID, SenderID: u.ID, Kind: kind, Body: body}
	if err := s.store.CreateMessage(r.Context(), msg); err != nil {
		s.log.Error("store message", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if s.metrics != nil {
		s.metrics.ChatMessages.Inc()
	}
	respondJSON(w, http.StatusCreated, messageView{
		SenderID:  msg.SenderID,
		Kind:      msg.Kind,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	e, ok := s.loadParticipantEscrow(w, r)
	if !ok {
		return
	}
	rows, err := s.store.ListMessages(r.Context(), e.ID, 200)
	if err != nil {
		s.log.Error("list messages", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]messageView, 0, len(rows))
	for _, m := range rows {
		out = append(out, messageView{SenderID: m.SenderID, Kind: m.Kind, Body: m.Body, CreatedAt: m.CreatedAt})
	}
	respondJSON(w, http.StatusOK, out)
}

func chatRateKey(escrowID uuid.UUID, userID int64, now time.Time) string {
	return "chat:" + escrowID.String() + ":" + strconv.FormatInt(userID, 10) +
		":" + now.UTC().Format("200601021504")
}

func containsLink(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "http://") || strings.Contains(lower, "https://") ||
		strings.Contains(lower, "t.me/")
}
