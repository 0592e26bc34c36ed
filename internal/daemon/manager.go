package daemon

import (
	"sync"
	"time"

	"github.com/rawblock/payjoin-receiver/internal/persist"
	"github.com/rawblock/payjoin-receiver/internal/session"
)

// Status is a snapshot of one tracked session's progress through the
// receiver pipeline, the shape pushed to the Hub and returned by the
// operator API's session endpoints.
type Status struct {
	Subdirectory string    `json:"subdirectory"`
	State        string    `json:"state"`
	UpdatedAt    time.Time `json:"updated_at"`
	Expiry       time.Time `json:"expiry"`
	LastError    string    `json:"last_error,omitempty"`
}

// Manager tracks every session this daemon process is driving, independent
// of the persister's durable record of them — it is the live, in-memory
// view the operator API and websocket feed read from.
type Manager struct {
	persister persist.Persister
	hub       *Hub

	mu       sync.RWMutex
	sessions map[string]*Status
}

// NewManager wires a Manager to its durable store and live-event hub. hub
// may be nil if no websocket feed is needed (e.g. in tests).
func NewManager(p persist.Persister, hub *Hub) *Manager {
	return &Manager{persister: p, hub: hub, sessions: make(map[string]*Status)}
}

// Track registers a session under management, reporting its initial state.
func (m *Manager) Track(subdir string, expiry time.Time) {
	m.setStatus(&Status{
		Subdirectory: subdir,
		State:        "enrolled",
		UpdatedAt:    time.Now(),
		Expiry:       expiry,
	})
}

// Advance records a session's transition to a new pipeline state (spec
// §4.6's typestate names: unchecked, provisional, payjoin_proposal,
// complete), clearing any prior error.
func (m *Manager) Advance(subdir, state string) {
	m.mu.RLock()
	existing, ok := m.sessions[subdir]
	m.mu.RUnlock()

	st := &Status{Subdirectory: subdir, State: state, UpdatedAt: time.Now()}
	if ok {
		st.Expiry = existing.Expiry
	}
	m.setStatus(st)
}

// Fail records a session's terminal or transient error without removing it
// from tracking, so the operator can see why a resume attempt stalled.
func (m *Manager) Fail(subdir string, err error) {
	m.mu.RLock()
	existing, ok := m.sessions[subdir]
	m.mu.RUnlock()

	st := &Status{Subdirectory: subdir, State: "error", UpdatedAt: time.Now(), LastError: err.Error()}
	if ok {
		st.Expiry = existing.Expiry
	}
	m.setStatus(st)
}

func (m *Manager) setStatus(st *Status) {
	m.mu.Lock()
	m.sessions[st.Subdirectory] = st
	m.mu.Unlock()

	if m.hub == nil {
		return
	}
	m.hub.Broadcast(st)
}

// List returns every tracked session's current status.
func (m *Manager) List() []*Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Status, 0, len(m.sessions))
	for _, st := range m.sessions {
		out = append(out, st)
	}
	return out
}

// Get returns one tracked session's status.
func (m *Manager) Get(subdir string) (*Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.sessions[subdir]
	return st, ok
}

// ReloadAll restores tracking for every non-expired session found in the
// persister, the daemon's half of the "resume" subcommand (spec §6 already
// names `resume`; reloading every persisted session rather than one by
// name generalizes it to the many-independent-sessions model spec §5
// allows).
func (m *Manager) ReloadAll(snapshots map[string]session.Snapshot) []string {
	now := time.Now()
	var resumable []string
	for subdir, snap := range snapshots {
		if !now.Before(snap.Expiry) {
			m.setStatus(&Status{Subdirectory: subdir, State: "expired", UpdatedAt: now, Expiry: snap.Expiry})
			continue
		}
		m.setStatus(&Status{Subdirectory: subdir, State: "resuming", UpdatedAt: now, Expiry: snap.Expiry})
		resumable = append(resumable, subdir)
	}
	return resumable
}
