package game

import "sync"

// Registry indexes live sessions by game id. GetOrCreate is atomic so two
// racing START frames for the same id land in the same session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetOrCreate returns the session for id, creating it when absent. The
// second result reports whether this call created it.
func (r *Registry) GetOrCreate(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, false
	}
	s := newSession(id)
	r.sessions[id] = s
	return s, true
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Range calls fn for each session until fn returns false. The callback runs
// outside the registry lock on a copied slice so it may take session locks.
func (r *Registry) Range(fn func(s *Session) bool) {
	r.mu.Lock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()
	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
