// Package api provides the HTTP surface of the chat service: auth endpoints,
// profile management, health checks, metrics and the WebSocket entry point.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	store        store.Store
	auth         *auth.Service
	hub          *chat.Hub
	logger       *slog.Logger
	mux          *chi.Mux
	startTime    time.Time
	maxBodyBytes int64
	authRL       *ipLimiter
}

// NewServer creates a new API server.
func NewServer(s store.Store, a *auth.Service, hub *chat.Hub, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:        s,
		auth:         a,
		hub:          hub,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if srv.maxBodyBytes == 0 {
		srv.maxBodyBytes = 1 << 20
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health and metrics (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	// Auth endpoints, rate limited per IP.
	srv.authRL = newIPLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(ipRateLimitMiddleware(srv.authRL))
		r.Post("/api/auth/guest", srv.handleGuest)
		r.Post("/api/auth/register", srv.handleRegister)
		r.Post("/api/auth/login", srv.handleLogin)
	})

	// WebSocket endpoint (auth handled inside)
	mux.Get("/ws", hub.HandleWS)

	// Authenticated API routes
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Get("/api/me", srv.handleGetMe)
		r.Put("/api/me/name", srv.handleRename)
		r.Get("/api/users/online", srv.handleOnlineUsers)
	})

	// Serve UI static files if configured.
	uiDir := cfg.Server.UIStaticDir
	if uiDir != "" {
		fileServer := http.FileServer(http.Dir(uiDir))
		mux.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Try serving the file, fall back to index.html for SPA routing.
			path := r.URL.Path
			if path != "/" && !strings.Contains(path, ".") {
				r.URL.Path = "/"
			}
			fileServer.ServeHTTP(w, r)
		}))
	}

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup of rate limiter state.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.authRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

// --- Auth handlers ---

type tokenResponse struct {
	Token       string `json:"token"`
	IdentityID  string `json:"identityId"`
	DisplayName string `json:"displayName"`
}

func (s *Server) handleGuest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	identity, token, err := s.auth.Guest(r.Context(), req.DisplayName)
	switch {
	case errors.Is(err, auth.ErrGuestsDisabled):
		writeError(w, http.StatusForbidden, "guest access is disabled")
		return
	case errors.Is(err, auth.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid display name")
		return
	case errors.Is(err, auth.ErrNameTaken):
		writeError(w, http.StatusConflict, "display name is registered")
		return
	case err != nil:
		s.logger.Error("guest login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "guest login failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:       token,
		IdentityID:  identity.UserID,
		DisplayName: identity.DisplayName,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := s.auth.Register(r.Context(), req.Username, req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			writeError(w, http.StatusConflict, "username already taken")
		case errors.Is(err, auth.ErrInvalidName):
			writeError(w, http.StatusBadRequest, "invalid username")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	// Log the fresh account in right away.
	identity, token, err := s.auth.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		s.logger.Error("post-register login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "account created but login failed")
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{
		Token:       token,
		IdentityID:  identity.UserID,
		DisplayName: identity.DisplayName,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	identity, token, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:       token,
		IdentityID:  identity.UserID,
		DisplayName: identity.DisplayName,
	})
}

// --- Profile handlers ---

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"identityId":  identity.UserID,
		"displayName": identity.DisplayName,
	})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name, err := s.auth.Rename(r.Context(), identity.UserID, req.DisplayName)
	switch {
	case errors.Is(err, auth.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid display name")
		return
	case errors.Is(err, auth.ErrNameTaken):
		writeError(w, http.StatusConflict, "display name already taken")
		return
	case err != nil:
		s.logger.Error("rename failed", "identity", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "rename failed")
		return
	}

	s.hub.NotifyRename(identity.UserID, name)
	writeJSON(w, http.StatusOK, map[string]string{
		"identityId":  identity.UserID,
		"displayName": name,
	})
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users := s.hub.Registry().Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
