package worker

import (
	"sync"

	"estatechat/internal/models"
)

// sessionState caches a chat session and its history between turns.
// The document text never changes once a session is in chat, so the cache
// only has to follow the turns this worker appends itself.
type sessionState struct {
	mu      sync.RWMutex
	loaded  bool
	session *models.Session
	history []*models.Turn
}

func (s *sessionState) isLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func (s *sessionState) load(session *models.Session, history []*models.Turn) {
	s.mu.Lock()
	s.session = session
	s.history = history
	s.loaded = true
	s.mu.Unlock()
}

func (s *sessionState) getSession() *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *sessionState) appendHistory(turn *models.Turn) {
	if turn == nil {
		return
	}
	s.mu.Lock()
	s.history = append(s.history, turn)
	s.mu.Unlock()
}

// snapshot returns a copy of the history safe to hand to the prompt builder.
func (s *sessionState) snapshot() []*models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Turn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *sessionState) reset() {
	s.mu.Lock()
	s.loaded = false
	s.session = nil
	s.history = nil
	s.mu.Unlock()
}
