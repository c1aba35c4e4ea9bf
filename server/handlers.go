package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/arkpop/chart"
	"github.com/onnwee/arkpop/db"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// Unwatcher removes a monitor and its cached status.
type Unwatcher interface {
	Unwatch(ctx context.Context, serverID string) error
}

// Deps are the collaborators the handlers need. Store and Renderer are required.
type Deps struct {
	Store    db.Store
	Tracker  Unwatcher
	Renderer chart.Renderer
	Location *time.Location
	Now      func() time.Time

	// AdminToken guards /monitors. Empty disables those routes.
	AdminToken string
	// OAuth is the bot account's authorization code config. Nil disables /auth/twitch.
	OAuth *oauth2.Config
	// ChatConfigured reports whether a chat or whisper path is set up, for /readyz.
	ChatConfigured bool
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps   Deps
	charts singleflight.Group

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handlers{
		deps:       deps,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records a state value. It reports false when the store is full.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState deletes state and reports whether it was present and unexpired.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}
