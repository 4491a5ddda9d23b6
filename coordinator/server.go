// Package coordinator is the user-facing service. It creates deals, relays
// chat, runs the release and dispute flows, and drives approved payouts to
// the signer. It never touches private keys and never writes the states that
// belong to the signer or the watcher.
package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"trustora/kv"
	"trustora/models"
	"trustora/reviews"
	"trustora/storage"
)

// Server carries the coordinator's wiring.
type Server struct {
	cfg     Config
	store   *storage.Store
	coord   kv.Store
	signer  Signer
	log     *slog.Logger
	nowFn   func() time.Time
	metrics *Metrics
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

// NewServer wires the coordinator.
func NewServer(cfg Config, store *storage.Store, coord kv.Store, signer Signer, log *slog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		coord:  coord,
		signer: signer,
		log:    log,
		nowFn:  time.Now,
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

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.withUser)
		r.Post("/escrows", s.handleCreateEscrow)
		r.Get("/escrows", s.handleListEscrows)
		r.Get("/escrows/{id}", s.handleGetEscrow)
		r.Post("/escrows/{id}/release", s.handleRelease)
		r.Post("/escrows/{id}/dispute", s.handleDispute)
		r.Post("/escrows/{id}/chat", s.handlePostMessage)
		r.Get("/escrows/{id}/chat", s.handleListMessages)
		r.Post("/escrows/{id}/review", s.handlePostReview)
		r.Get("/users/{id}/reviews", s.handleListReviews)
		r.Post("/me/broadcast", s.handleBroadcastOptIn)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/session", s.handleAdminSession)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdminSession)
				r.Get("/approvals", s.handleAdminApprovals)
				r.Get("/escrows", s.handleAdminSearch)
				r.Post("/escrows/{id}/approve", s.handleAdminApprove)
				r.Post("/escrows/{id}/resolve", s.handleAdminResolve)
				r.Post("/escrows/{id}/freeze", s.handleAdminFreeze)
				r.Post("/users/{id}/block", s.handleAdminBlock)
				r.Post("/config", s.handleAdminConfig)
				r.Post("/broadcast", s.handleAdminBroadcast)
				r.Get("/analytics", s.handleAdminAnalytics)
				r.Get("/audit", s.handleAdminAudit)
			})
		})
	})
	return r
}

type userKey struct{}

// currentUser returns the authenticated user placed by withUser.
func currentUser(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey{}).(*models.User)
	return u
}

// withUser resolves the caller from the X-User-ID header the front end
// injects after its own authentication, creating the user row on first
// sight.
func (s *Server) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respondError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		u, err := s.store.GetOrCreateUser(r.Context(), id, reviews.PublicHash(id, s.cfg.PublicHashSalt))
		if err != nil {
			s.log.Error("resolve user", "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if u.Blocked {
			respondError(w, http.StatusForbidden, "account is blocked")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
	})
}

// requireAdmin limits the subtree to configured operator IDs.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(r.Context())
		if u == nil || !s.cfg.AdminIDs[u.ID] {
			respondError(w, http.StatusForbidden, "not an operator")
			return
		}
		next.ServeHTTP(w, r)
	})
}

const adminSessionTTL = 600 * time.Second

// requireAdminSession demands a live operator session started via
// /admin/session. Sensitive actions time out after ten minutes of the
// session flag expiring.
func (s *Server) requireAdminSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(r.Context())
		flag, err := s.coord.Get(r.Context(), adminSessionKey(u.ID))
		if err != nil {
			s.log.Error("read admin session", "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if flag == "" {
			respondError(w, http.StatusForbidden, "operator session expired")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func adminSessionKey(id int64) string {
	return "admin:session:" + strconv.FormatInt(id, 10)
}

// handleAdminSession opens a timed operator session.
func (s *Server) handleAdminSession(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	if err := s.coord.Set(r.Context(), adminSessionKey(u.ID), "1", adminSessionTTL); err != nil {
		s.log.Error("open admin session", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.store.Audit(r.Context(), u.ID, "admin_session", nil, ""); err != nil {
		s.log.Error("audit failed", "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]any{"expires_in_seconds": int(adminSessionTTL / time.Second)})
}

// handleBroadcastOptIn lets a user mute or re-enable platform announcements.
func (s *Server) handleBroadcastOptIn(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	var req struct {
		OptIn bool `json:"opt_in"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if err := s.store.SetUserBroadcast(r.Context(), u.ID, req.OptIn); err != nil {
		s.log.Error("set broadcast opt-in", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"opt_in": req.OptIn})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
