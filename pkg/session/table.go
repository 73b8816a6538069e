package session

import "sync"

// Table addresses live sessions by ID.  It guards the map only;  callers
// never hold the table's lock while forwarding, so a slow handler cannot
// stall lookups for other sessions.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewTable() *Table {
	return &Table{
		sessions: map[string]*Session{},
	}
}

func (t *Table) Lookup(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Insert adds s unless a session with the same ID already exists.  On
// conflict the existing session is returned and ok is false;  the caller
// decides what to do with the loser.
func (t *Table) Insert(s *Session) (existing *Session, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, found := t.sessions[s.ID]; found {
		return cur, false
	}
	t.sessions[s.ID] = s
	return s, true
}

// Remove deletes the session with the given ID, returning it if present.
// It does not close the session;  teardown belongs to the caller.
func (t *Table) Remove(id string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	return s, ok
}

// Drain empties the table and returns every session that was registered,
// for shutdown teardown.
func (t *Table) Drain() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		all = append(all, s)
	}
	t.sessions = map[string]*Session{}
	return all
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
