package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockServer is a single BattleMetrics server record served by MockBattleMetrics.
type MockServer struct {
	ID         string
	Name       string
	Status     string
	Players    any
	MaxPlayers int
	Official   bool
	GameID     string
	IP         string
	Port       int
}

func (s MockServer) resource() map[string]any {
	game := s.GameID
	if game == "" {
		game = "48815"
	}
	return map[string]any{
		"type": "server",
		"id":   s.ID,
		"attributes": map[string]any{
			"name":       s.Name,
			"status":     s.Status,
			"players":    s.Players,
			"maxPlayers": s.MaxPlayers,
			"ip":         s.IP,
			"port":       s.Port,
			"details":    map[string]any{"official": s.Official},
		},
		"relationships": map[string]any{
			"game": map[string]any{"data": map[string]any{"type": "game", "id": game}},
		},
	}
}

// MockBattleMetrics serves /servers/{id} and /servers?filter[search]=... from an
// in-memory set of records. Tests mutate Servers between calls to script status changes.
type MockBattleMetrics struct {
	*httptest.Server

	mu      sync.Mutex
	servers map[string]MockServer
	// Fail maps server id to an HTTP status returned instead of the record.
	fail     map[string]int
	Searches []string
	Lookups  []string
}

// NewMockBattleMetrics starts a mock API closed at test cleanup.
func NewMockBattleMetrics(t *testing.T, servers ...MockServer) *MockBattleMetrics {
	t.Helper()
	m := &MockBattleMetrics{servers: map[string]MockServer{}, fail: map[string]int{}}
	for _, s := range servers {
		m.servers[s.ID] = s
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Close)
	return m
}

// Set adds or replaces a record.
func (m *MockBattleMetrics) Set(s MockServer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[s.ID] = s
	delete(m.fail, s.ID)
}

// SetStatus changes the status of an existing record.
func (m *MockBattleMetrics) SetStatus(id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.servers[id]
	s.Status = status
	m.servers[id] = s
}

// Fail makes lookups of id return the given HTTP status.
func (m *MockBattleMetrics) Fail(id string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[id] = status
}

// LookupCount returns how many single-server lookups were made for id.
func (m *MockBattleMetrics) LookupCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.Lookups {
		if l == id {
			n++
		}
	}
	return n
}

func (m *MockBattleMetrics) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/servers" {
		term := r.URL.Query().Get("filter[search]")
		m.Searches = append(m.Searches, term)
		words := strings.Fields(strings.ToLower(strings.TrimPrefix(term, "Official ")))
		data := []map[string]any{}
		for _, s := range m.servers {
			name := strings.ToLower(s.Name)
			match := true
			for _, w := range words {
				if !strings.Contains(name, w) {
					match = false
					break
				}
			}
			if match {
				data = append(data, s.resource())
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data}) //nolint:errcheck // test mock response
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/servers/")
	m.Lookups = append(m.Lookups, id)
	if code, ok := m.fail[id]; ok {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"errors":[{"title":"scripted failure"}]}`))
		return
	}
	s, ok := m.servers[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"title":"Unknown Server"}]}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"data": s.resource()}) //nolint:errcheck // test mock response
}
