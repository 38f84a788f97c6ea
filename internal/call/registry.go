package call

import (
	"errors"
	"sync"
)

// ErrCallInProgress is returned when a user already has a live call of the
// same media type.
var ErrCallInProgress = errors.New("call: a call of this media type is already in progress")

// Registry tracks the live call managers per user. At most one call of each
// media type may be live per user at a time; a second start of the same
// media type is rejected while the first is not yet ended.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]map[string]*Manager // uid -> media -> manager
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]map[string]*Manager)}
}

// Add registers a manager for its local user. Returns ErrCallInProgress if
// the user already has a non-ended call of the same media type; the stale
// entry is replaced silently if its session already ended.
func (r *Registry) Add(m *Manager) error {
	uid := m.LocalUID()
	media := m.Session().Media

	r.mu.Lock()
	defer r.mu.Unlock()

	calls := r.byUser[uid]
	if calls == nil {
		calls = make(map[string]*Manager)
		r.byUser[uid] = calls
	}
	if existing, ok := calls[media]; ok && existing.Session().Phase() != PhaseEnded {
		return ErrCallInProgress
	}
	calls[media] = m
	return nil
}

// Remove drops the manager registered for the user's media type, but only if
// it is the given manager. A replacement registered meanwhile stays.
func (r *Registry) Remove(m *Manager) {
	uid := m.LocalUID()
	media := m.Session().Media

	r.mu.Lock()
	defer r.mu.Unlock()

	if calls, ok := r.byUser[uid]; ok {
		if calls[media] == m {
			delete(calls, media)
		}
		if len(calls) == 0 {
			delete(r.byUser, uid)
		}
	}
}

// Get returns the user's manager for the given media type, or nil.
func (r *Registry) Get(uid, media string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byUser[uid][media]
}

// Find returns the user's manager running the given channel, or nil.
func (r *Registry) Find(uid, channel string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.byUser[uid] {
		if m.Session().Channel == channel {
			return m
		}
	}
	return nil
}

// ForUser returns all of the user's live managers.
func (r *Registry) ForUser(uid string) []*Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := r.byUser[uid]
	out := make([]*Manager, 0, len(calls))
	for _, m := range calls {
		out = append(out, m)
	}
	return out
}

// Count returns the number of registered managers for a media type.
func (r *Registry) Count(media string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, calls := range r.byUser {
		if _, ok := calls[media]; ok {
			n++
		}
	}
	return n
}
