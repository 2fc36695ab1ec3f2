package worker

import (
	"sync"
	"time"

	"ezliveAnalytics/models"
)

// RuntimeState is the worker's view of its own producing pipeline. Only the
// producer controller and the config-change engine drive transitions; the
// discovery service reads it to answer pings.
type RuntimeState struct {
	mu         sync.Mutex
	running    bool
	paused     bool
	restarting bool
	startedAt  time.Time
}

// StateSnapshot is a consistent copy of the runtime flags.
type StateSnapshot struct {
	Running    bool
	Paused     bool
	Restarting bool
	StartedAt  time.Time
}

func NewRuntimeState() *RuntimeState {
	return &RuntimeState{startedAt: time.Now()}
}

func (s *RuntimeState) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StateSnapshot{
		Running:    s.running,
		Paused:     s.paused,
		Restarting: s.restarting,
		StartedAt:  s.startedAt,
	}
}

// Uptime is the time since worker startup, as reported in PONGs.
func (s *RuntimeState) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.startedAt)
}

func (s *RuntimeState) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

func (s *RuntimeState) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

func (s *RuntimeState) SetRestarting(restarting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarting = restarting
}

// Status maps the flags to the wire status enum.
func (s *RuntimeState) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.restarting:
		return models.STATUS_RESTARTING
	case s.paused:
		return models.STATUS_PAUSED
	case s.running:
		return models.STATUS_RUNNING
	}

	return models.STATUS_STARTING
}
