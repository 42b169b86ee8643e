package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/llpmimic/llp/internal/config"
	"github.com/llpmimic/llp/internal/daemon"
	"github.com/llpmimic/llp/internal/logging"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.AdminConfig{
		Listen:    "127.0.0.1:0",
		Database:  "sqlite://" + filepath.Join(t.TempDir(), "admin.db"),
		JWTSecret: "test-secret",
		Username:  "admin",
		Password:  "hunter2",
	}
	s, err := New(cfg, daemon.NewSessionTable(), logging.NopLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Username: "admin", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestLoginThenListSessions(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", loginRequest{Username: "admin", Password: "hunter2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token == "" {
		t.Fatalf("login response carried no token")
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/sessions", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /sessions status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/sessions", resp.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated /sessions status = %d, body %s", rec.Code, rec.Body.String())
	}
	var sessions []sessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode sessions response: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions in a fresh table, got %d", len(sessions))
	}
}

func TestMetricsEndpointIsUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rec.Code)
	}
}
