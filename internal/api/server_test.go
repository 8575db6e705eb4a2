package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/store"
)

func setupTestServer(t *testing.T) (*Server, *auth.Service) {
	t.Helper()

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	group, err := s.EnsureGroup(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			Addr:           ":0",
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1024 * 1024,
		},
		Auth: config.AuthConfig{
			JWTSecret:   "test-secret-at-least-32-chars-long",
			JWTExpiry:   config.Duration{Duration: 1 * time.Hour},
			AllowGuests: true,
		},
		Chat: config.ChatConfig{
			MaxConnsPerIdentity: 10,
			MaxMessageBytes:     1 << 20,
			MaxInlineImageBytes: 500 * 1024,
			HistoryLimit:        100,
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := auth.NewService(s, cfg.Auth)
	hub := chat.New(s, authSvc, group, logger, metrics.New(), cfg.Chat, cfg.Server.AllowedOrigins)
	srv := NewServer(s, authSvc, hub, cfg, logger)
	return srv, authSvc
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeToken(t *testing.T, rec *httptest.ResponseRecorder) tokenResponse {
	t.Helper()
	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return resp
}

func TestGuestLogin(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/guest", "", map[string]string{"displayName": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeToken(t, rec)
	if resp.Token == "" || resp.DisplayName != "alice" {
		t.Errorf("unexpected response: %+v", resp)
	}

	// Same name resolves to the same identity.
	rec2 := doJSON(t, srv, http.MethodPost, "/api/auth/guest", "", map[string]string{"displayName": "alice"})
	if decodeToken(t, rec2).IdentityID != resp.IdentityID {
		t.Error("repeat guest login changed identity")
	}
}

func TestGuestLogin_InvalidName(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/guest", "", map[string]string{"displayName": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "bob", "password": "supersecret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	if decodeToken(t, rec).Token == "" {
		t.Error("register should return a session token")
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "bob", "password": "othersecret",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "bob", "password": "supersecret",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("login status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "bob", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", rec.Code)
	}
}

func TestGetMe(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/guest", "", map[string]string{"displayName": "carol"})
	token := decodeToken(t, rec).Token

	rec = doJSON(t, srv, http.MethodGet, "/api/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var me map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatal(err)
	}
	if me["displayName"] != "carol" {
		t.Errorf("displayName = %q, want carol", me["displayName"])
	}
}

func TestGetMe_Unauthorized(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/me", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRename(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/guest", "", map[string]string{"displayName": "dave"})
	token := decodeToken(t, rec).Token
	doJSON(t, srv, http.MethodPost, "/api/auth/guest", "", map[string]string{"displayName": "erin"})

	rec = doJSON(t, srv, http.MethodPut, "/api/me/name", token, map[string]string{"displayName": "david"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Taking another identity's name conflicts.
	rec = doJSON(t, srv, http.MethodPut, "/api/me/name", token, map[string]string{"displayName": "erin"})
	if rec.Code != http.StatusConflict {
		t.Errorf("rename to taken name status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPut, "/api/me/name", token, map[string]string{"displayName": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("rename to blank status = %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
}

func TestOnlineUsers_EmptyRoster(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/guest", "", map[string]string{"displayName": "frank"})
	token := decodeToken(t, rec).Token

	rec = doJSON(t, srv, http.MethodGet, "/api/users/online", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 0 {
		t.Errorf("count = %d, want 0 with no websocket connections", resp.Count)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := setupTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options header")
	}
}
