package widget

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/podc/assistant-widget/internal/model/widget"
)

var ErrSessionNotFound = errors.New("session not found")

// sweepInterval is how often Run looks for idle sessions.
const sweepInterval = time.Minute

// Service keeps one Session per widget mount, in memory only.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      widget.Config
	deps     Deps
	idleTTL  time.Duration
}

// NewService creates a registry whose sessions share cfg and deps. Sessions
// idle for longer than idleTTL are dropped by Sweep; zero disables that.
func NewService(cfg widget.Config, deps Deps, idleTTL time.Duration) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		deps:     deps,
		idleTTL:  idleTTL,
	}
}

// Config returns the embedding configuration handed to new mounts.
func (s *Service) Config() widget.Config {
	return s.cfg
}

// Mount provisions a session for a new widget mount.
func (s *Service) Mount(_ context.Context) (*Session, error) {
	session := newSession(s.cfg, s.deps)

	s.mu.Lock()
	s.sessions[session.ID()] = session
	count := len(s.sessions)
	s.mu.Unlock()

	s.observe(count)
	log.Printf("[widget] mounted session=%s", session.ID())
	return session, nil
}

// Get retrieves a mounted session.
func (s *Service) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Unmount discards a session, as on page unload.
func (s *Service) Unmount(_ context.Context, sessionID string) error {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	count := len(s.sessions)
	s.mu.Unlock()

	s.observe(count)
	log.Printf("[widget] unmounted session=%s", sessionID)
	return nil
}

// Sweep drops sessions idle longer than the configured TTL and returns how
// many were removed.
func (s *Service) Sweep(now time.Time) int {
	if s.idleTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	removed := 0
	for id, session := range s.sessions {
		if now.Sub(session.LastActive()) > s.idleTTL {
			delete(s.sessions, id)
			removed++
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	if removed > 0 {
		s.observe(count)
		log.Printf("[widget] swept %d idle sessions", removed)
	}
	return removed
}

// Run sweeps idle sessions until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if s.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.deps.Now())
		}
	}
}

func (s *Service) observe(count int) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveSessions.Set(float64(count))
	}
}
