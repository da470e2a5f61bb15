package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wricardo/lens-relay/relay/metrics"
	"github.com/wricardo/lens-relay/relay/session"
	"github.com/wricardo/lens-relay/transport/websocket"
)

// MockRegistry implements Registry for testing
type MockRegistry struct {
	ListFunc  func() []*session.Info
	GetFunc   func(displayCode string) (*session.Info, error)
	StatsFunc func() session.Stats
}

func (m *MockRegistry) List() []*session.Info {
	if m.ListFunc != nil {
		return m.ListFunc()
	}
	return []*session.Info{}
}

func (m *MockRegistry) Get(displayCode string) (*session.Info, error) {
	if m.GetFunc != nil {
		return m.GetFunc(displayCode)
	}
	return nil, session.ErrSessionNotFound
}

func (m *MockRegistry) Stats() session.Stats {
	if m.StatsFunc != nil {
		return m.StatsFunc()
	}
	return session.Stats{}
}

type stubPeer struct{ id string }

func (p *stubPeer) ID() string        { return p.id }
func (p *stubPeer) Send(msg any) bool { return true }
func (p *stubPeer) Close()            {}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	server := NewServer(&MockRegistry{}, nil, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	decode(t, w, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", resp)
	}
}

func TestHandleStats(t *testing.T) {
	registry := &MockRegistry{
		StatsFunc: func() session.Stats {
			return session.Stats{Sessions: 1, Hosts: 2, Webs: 3, Codes: 4}
		},
	}
	server := NewServer(registry, nil, nil)

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	var resp StatsResponse
	decode(t, w, &resp)
	if resp.Sessions != 1 || resp.Hosts != 2 || resp.Webs != 3 || resp.Codes != 4 {
		t.Errorf("Unexpected stats %+v", resp)
	}
	if resp.Connections != 0 {
		t.Errorf("Expected 0 connections without a hub, got %d", resp.Connections)
	}
}

func TestHandleListSessions(t *testing.T) {
	now := time.Now()
	registry := &MockRegistry{
		ListFunc: func() []*session.Info {
			return []*session.Info{
				{DisplayCode: "AAAAAA", CreatedAt: now.Add(-3 * time.Hour), LastActivityAt: now.Add(-time.Hour)},
				{DisplayCode: "BBBBBB", CreatedAt: now.Add(-2 * time.Hour), LastActivityAt: now},
				{DisplayCode: "CCCCCC", CreatedAt: now.Add(-1 * time.Hour), LastActivityAt: now.Add(-2 * time.Hour)},
			}
		},
	}
	server := NewServer(registry, nil, nil)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"default activity desc", "", []string{"BBBBBB", "AAAAAA", "CCCCCC"}},
		{"created asc", "?sort=created&order=asc", []string{"AAAAAA", "BBBBBB", "CCCCCC"}},
		{"limit", "?limit=1", []string{"BBBBBB"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/sessions"+tt.query, nil)
			w := httptest.NewRecorder()
			server.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}

			var resp struct {
				Count    int             `json:"count"`
				Total    int             `json:"total"`
				Sessions []*session.Info `json:"sessions"`
			}
			decode(t, w, &resp)

			if resp.Total != 3 || resp.Count != len(tt.want) {
				t.Errorf("Expected count %d of 3, got %d of %d", len(tt.want), resp.Count, resp.Total)
			}
			for i, code := range tt.want {
				if i >= len(resp.Sessions) || resp.Sessions[i].DisplayCode != code {
					t.Errorf("Position %d: expected %s, got %+v", i, code, resp.Sessions)
					break
				}
			}
		})
	}
}

func TestHandleGetSession(t *testing.T) {
	manager := session.NewManager()
	info, err := manager.CreateSession("secret-key", "h1", &stubPeer{id: "p1"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	server := NewServer(manager, nil, nil)

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/sessions/"+strings.ToLower(info.DisplayCode), nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		if strings.Contains(w.Body.String(), "secret-key") {
			t.Error("Session key must not be exposed")
		}

		var got session.Info
		decode(t, w, &got)
		if got.DisplayCode != info.DisplayCode {
			t.Errorf("Expected %s, got %s", info.DisplayCode, got.DisplayCode)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/sessions/ZZZZZZ", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", w.Code)
		}
	})
}

func TestReadOnlyRoutes(t *testing.T) {
	server := NewServer(&MockRegistry{}, nil, nil)

	paths := []string{"/health", "/metrics", "/api/stats", "/api/sessions", "/api/sessions/AAAAAA"}
	for _, method := range []string{"POST", "PUT", "DELETE"} {
		for _, path := range paths {
			req := httptest.NewRequest(method, path, nil)
			w := httptest.NewRecorder()
			server.ServeHTTP(w, req)

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s %s: expected 405, got %d", method, path, w.Code)
			}
			if allow := w.Header().Get("Allow"); allow != "GET" {
				t.Errorf("%s %s: expected Allow GET, got %q", method, path, allow)
			}
		}
	}

	t.Run("get still served", func(t *testing.T) {
		for _, path := range []string{"/health", "/api/stats", "/api/sessions"} {
			req := httptest.NewRequest("GET", path, nil)
			w := httptest.NewRecorder()
			server.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Errorf("GET %s: expected 200, got %d", path, w.Code)
			}
		}
	})

	t.Run("unknown path", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/unknown", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404 for unknown path, got %d", w.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	manager := session.NewManager()
	m := metrics.New(manager.Stats)
	server := NewServer(manager, nil, m)

	if _, err := manager.CreateSession("k", "h1", &stubPeer{id: "p1"}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "lens_relay_sessions 1") {
		t.Errorf("Expected sessions gauge in exposition, got:\n%s", w.Body.String())
	}

	t.Run("not configured", func(t *testing.T) {
		server := NewServer(manager, nil, nil)
		req := httptest.NewRequest("GET", "/metrics", nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404 without metrics, got %d", w.Code)
		}
	})
}

func TestWebSocketRoute(t *testing.T) {
	manager := session.NewManager()
	hub := websocket.NewHub(manager, nil, nil, websocket.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ts := httptest.NewServer(NewServer(manager, hub, nil))
	defer ts.Close()

	// A plain GET without upgrade headers is rejected by the upgrader.
	resp, err := http.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-upgrade request, got %d", resp.StatusCode)
	}
}
