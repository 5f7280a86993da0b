package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/farmmap/internal/lookup"
)

var (
	// ErrNotFound is returned when no session exists for an id.
	ErrNotFound = errors.New("session not found")
)

// MemoryStore is a concurrency-safe in-memory registry of map sessions.
type MemoryStore struct {
	mu sync.RWMutex

	// key: session id
	data map[string]*lookup.Session

	// retention configuration
	maxSessions int           // max number of live sessions
	maxIdle     time.Duration // sessions idle longer than this are evicted
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxSessions or maxIdle is <= 0, it is treated as unlimited.
func NewMemoryStore(maxSessions int, maxIdle time.Duration) *MemoryStore {
	return &MemoryStore{
		data:        make(map[string]*lookup.Session),
		maxSessions: maxSessions,
		maxIdle:     maxIdle,
	}
}

// Create allocates a session id, builds the session with newSession and
// stores it. When the store is full the least recently active session is
// closed and dropped.
func (s *MemoryStore) Create(newSession func(id string) *lookup.Session) *lookup.Session {
	sess := newSession(uuid.NewString())

	s.mu.Lock()
	s.data[sess.ID()] = sess

	var evicted []*lookup.Session
	if s.maxSessions > 0 && len(s.data) > s.maxSessions {
		evicted = s.oldestLocked(len(s.data)-s.maxSessions, sess.ID())
		for _, old := range evicted {
			delete(s.data, old.ID())
		}
	}
	s.mu.Unlock()

	for _, old := range evicted {
		log.Info().Str("session", old.ID()).Msg("Session evicted: capacity reached")
		old.Close()
	}

	return sess
}

func (s *MemoryStore) oldestLocked(n int, keep string) []*lookup.Session {
	all := make([]*lookup.Session, 0, len(s.data))
	for id, sess := range s.data {
		if id != keep {
			all = append(all, sess)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastActive().Before(all[j].LastActive())
	})
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}

// Get returns the session for id.
func (s *MemoryStore) Get(id string) (*lookup.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete closes and removes the session for id.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	sess, ok := s.data[id]
	delete(s.data, id)
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	sess.Close()
	return nil
}

// List returns all live sessions.
func (s *MemoryStore) List() []*lookup.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*lookup.Session, 0, len(s.data))
	for _, sess := range s.data {
		out = append(out, sess)
	}
	return out
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// EvictIdle closes and removes sessions inactive since before now-maxIdle.
// It returns the number of evicted sessions.
func (s *MemoryStore) EvictIdle(now time.Time) int {
	if s.maxIdle <= 0 {
		return 0
	}
	cutoff := now.Add(-s.maxIdle)

	s.mu.Lock()
	var evicted []*lookup.Session
	for id, sess := range s.data {
		if sess.LastActive().Before(cutoff) {
			evicted = append(evicted, sess)
			delete(s.data, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range evicted {
		sess.Close()
	}
	return len(evicted)
}

// CloseAll closes every session, waiting for running lookups.
func (s *MemoryStore) CloseAll() {
	s.mu.Lock()
	all := make([]*lookup.Session, 0, len(s.data))
	for id, sess := range s.data {
		all = append(all, sess)
		delete(s.data, id)
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.Close()
	}
}
