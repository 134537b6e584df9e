package handlers

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"pupilform-server-go/flow"
)

// SessionStore keeps one page controller per browser session
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	maxAge   time.Duration
	maxCount int
	newFlow  func() (*flow.Controller, error)
}

type session struct {
	ctrl     *flow.Controller
	lastUsed time.Time
}

// NewSessionStore creates a store; sessions idle for longer than maxAge
// are dropped when new ones are created. With maxCount > 0 the least
// recently used session is evicted to make room for a new one.
func NewSessionStore(maxAge time.Duration, maxCount int, newFlow func() (*flow.Controller, error)) *SessionStore {
	return &SessionStore{
		sessions: map[string]*session{},
		maxAge:   maxAge,
		maxCount: maxCount,
		newFlow:  newFlow,
	}
}

// Get returns the controller of session id. Unknown ids get a new session;
// the returned id is the one to hand back to the browser.
func (s *SessionStore) Get(id string) (string, *flow.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if sess, ok := s.sessions[id]; ok {
		sess.lastUsed = now
		return id, sess.ctrl, nil
	}

	s.prune(now)
	if s.maxCount > 0 {
		for len(s.sessions) >= s.maxCount {
			s.evictOldest()
		}
	}
	ctrl, err := s.newFlow()
	if err != nil {
		return "", nil, err
	}
	id = uuid.NewString()
	s.sessions[id] = &session{ctrl: ctrl, lastUsed: now}
	return id, ctrl, nil
}

// Len returns the number of live sessions
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) prune(now time.Time) {
	if s.maxAge <= 0 {
		return
	}
	for id, sess := range s.sessions {
		if now.Sub(sess.lastUsed) > s.maxAge {
			delete(s.sessions, id)
		}
	}
}

func (s *SessionStore) evictOldest() {
	var oldest string
	var oldestUsed time.Time
	for id, sess := range s.sessions {
		if oldest == "" || sess.lastUsed.Before(oldestUsed) {
			oldest, oldestUsed = id, sess.lastUsed
		}
	}
	delete(s.sessions, oldest)
}
