package cleanup

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// IdleRemover removes sessions whose last activity lies before cutoff and
// returns their ids. session.Registry implements it.
type IdleRemover interface {
	RemoveIdle(cutoff time.Time) []string
}

// EvictionHandler is called with the ids removed in one cycle.
type EvictionHandler func(ids []string)

// Service handles the automatic eviction of idle verification sessions.
type Service struct {
	sessions      IdleRemover
	idleTimeout   time.Duration
	checkInterval time.Duration
	onEvict       []EvictionHandler
	now           func() time.Time
	stopChan      chan struct{} // Channel to signal stopping the background routine
}

// NewService creates a new cleanup Service. It returns nil if idleTimeout or
// checkInterval is not positive, which disables eviction.
func NewService(sessions IdleRemover, idleTimeout, checkInterval time.Duration, onEvict ...EvictionHandler) *Service {
	if idleTimeout <= 0 || checkInterval <= 0 {
		log.Info("Idle session eviction disabled (idle_timeout or check_interval <= 0).")
		return nil
	}
	if sessions == nil {
		log.Error("Cannot initialize cleanup Service: session registry is nil")
		return nil
	}
	log.Infof("Initializing cleanup Service: IdleTimeout=%s, CheckInterval=%s", idleTimeout, checkInterval)
	return &Service{
		sessions:      sessions,
		idleTimeout:   idleTimeout,
		checkInterval: checkInterval,
		onEvict:       onEvict,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

// StartBackgroundCleanup starts a goroutine that periodically runs the cleanup cycle.
func (s *Service) StartBackgroundCleanup() {
	if s == nil {
		return // eviction disabled
	}
	log.Info("Starting background session eviction...")

	ticker := time.NewTicker(s.checkInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunCleanupCycle()
			case <-s.stopChan:
				log.Info("Stopping background session eviction.")
				return
			}
		}
	}()
}

// StopBackgroundCleanup signals the background routine to stop. It is safe to call twice.
func (s *Service) StopBackgroundCleanup() {
	if s == nil || s.stopChan == nil {
		return
	}
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
}

// RunCleanupCycle removes every session idle for longer than the timeout and
// returns the removed ids.
func (s *Service) RunCleanupCycle() []string {
	if s == nil {
		return nil
	}

	cutoff := s.now().Add(-s.idleTimeout)
	removed := s.sessions.RemoveIdle(cutoff)
	if len(removed) == 0 {
		log.Debug("Cleanup: no idle sessions")
		return nil
	}

	log.Infof("Cleanup: removed %d idle session(s) inactive since %s", len(removed), cutoff.Format(time.RFC3339))
	for _, h := range s.onEvict {
		h(removed)
	}
	return removed
}
