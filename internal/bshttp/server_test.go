package bshttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type mockCoordinator struct {
	joined bool
}

func (m *mockCoordinator) IsJoined() bool { return m.joined }

func newTestServer(joined bool) *Server {
	logger := zap.NewNop()
	return NewServer(":0", &mockCoordinator{joined: joined}, logger)
}

func TestHealthz_AlwaysOK(t *testing.T) {
	s := newTestServer(false)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", body["status"])
	}
}

func TestHealthz_ContentType(t *testing.T) {
	s := newTestServer(false)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}

func TestReadyz_NotReady_CoordinatorNotOn(t *testing.T) {
	s := newTestServer(false)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%v'", body["status"])
	}

	checks := body["checks"].(map[string]any)
	if checks["coordinator"] != "not_on" {
		t.Errorf("expected coordinator 'not_on', got '%v'", checks["coordinator"])
	}
}

func TestReadyz_AllHealthy(t *testing.T) {
	s := newTestServer(true)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("expected status 'ready', got '%v'", body["status"])
	}

	checks := body["checks"].(map[string]any)
	if checks["coordinator"] != "ok" {
		t.Errorf("expected coordinator 'ok', got '%v'", checks["coordinator"])
	}
}

func TestReadyz_ContentType(t *testing.T) {
	s := newTestServer(true)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}
