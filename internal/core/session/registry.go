package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Registry holds independent sessions keyed by id, e.g. one per camera.
type Registry struct {
	canonicalizer Canonicalizer
	opts          []Option

	mu        sync.RWMutex
	sessions  map[string]*Session
	listeners []OutcomeListener
}

// NewRegistry creates a registry whose sessions share the canonicalizer and options.
func NewRegistry(canonicalizer Canonicalizer, opts ...Option) *Registry {
	return &Registry{
		canonicalizer: canonicalizer,
		opts:          opts,
		sessions:      make(map[string]*Session),
	}
}

// OnOutcome registers a listener on every existing and future session.
func (r *Registry) OnOutcome(l OutcomeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
	for _, s := range r.sessions {
		s.OnOutcome(l)
	}
}

// Create starts a new session with a random id.
func (r *Registry) Create(cfg Config) (*Session, error) {
	return r.CreateWithID(uuid.NewString(), cfg)
}

// CreateWithID starts a new session under a caller-chosen id.
func (r *Registry) CreateWithID(id string, cfg Config) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	opts := append([]Option(nil), r.opts...)
	for _, l := range r.listeners {
		opts = append(opts, WithListener(l))
	}

	s, err := New(id, cfg, r.canonicalizer, opts...)
	if err != nil {
		return nil, err
	}
	r.sessions[id] = s

	log.WithFields(log.Fields{"session": id, "window": cfg.RequiredPassFrames}).Info("Verification session created")
	return s, nil
}

// Get looks up a session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all sessions ordered by id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// Remove deletes a session and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	log.WithField("session", id).Info("Verification session removed")
	return true
}

// RemoveIdle deletes every session not active since cutoff and returns their ids.
func (r *Registry) RemoveIdle(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, s := range r.sessions {
		if s.LastActive().Before(cutoff) {
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
