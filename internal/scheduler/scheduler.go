package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/farmmap/internal/store"
)

// Scheduler periodically refreshes the weather of sessions with an active
// region and evicts idle sessions.
type Scheduler struct {
	scheduler       *gocron.Scheduler
	sessions        *store.MemoryStore
	refreshInterval time.Duration
	evictInterval   time.Duration
}

// New creates a new Scheduler. A zero interval disables the matching job.
func New(sessions *store.MemoryStore, refreshInterval, evictInterval time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	s.WaitForScheduleAll()

	return &Scheduler{
		scheduler:       s,
		sessions:        sessions,
		refreshInterval: refreshInterval,
		evictInterval:   evictInterval,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.refreshInterval > 0 {
		if _, err := s.scheduler.Every(s.refreshInterval).Do(func() { s.RefreshAll() }); err != nil {
			return err
		}
	}
	if s.evictInterval > 0 {
		if _, err := s.scheduler.Every(s.evictInterval).Do(func() { s.EvictIdle(time.Now()) }); err != nil {
			return err
		}
	}

	if len(s.scheduler.Jobs()) == 0 {
		log.Info().Msg("scheduler: no jobs configured")
		return nil
	}

	s.scheduler.StartAsync()
	return nil
}

// RefreshAll re-fetches the weather of every session that has a region and
// no lookup in flight. It returns the number of refreshed sessions.
func (s *Scheduler) RefreshAll() int {
	var n int
	for _, sess := range s.sessions.List() {
		if sess.Refresh() {
			n++
		}
	}
	log.Debug().Int("sessions", n).Msg("scheduler: refreshed region weather")
	return n
}

// EvictIdle drops sessions that have been idle past the store's limit.
func (s *Scheduler) EvictIdle(now time.Time) int {
	n := s.sessions.EvictIdle(now)
	if n > 0 {
		log.Info().Int("sessions", n).Msg("scheduler: evicted idle sessions")
	}
	return n
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
