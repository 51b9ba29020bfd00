package world

import (
	"fmt"

	"github.com/go-co-op/gocron/v2"
)

// RegisterJobs schedules the matchmaking pass and the inactivity sweep.
// Both run in singleton mode so a slow run is never overlapped by the next.
func (h *Hub) RegisterJobs(s gocron.Scheduler) error {
	if _, err := s.NewJob(
		gocron.DurationJob(h.cfg.MatchInterval),
		gocron.NewTask(func() { h.MatchmakingPass(h.deps.Clock.Now()) }),
		gocron.WithName("matchmaking-pass"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("schedule matchmaking pass: %w", err)
	}

	if _, err := s.NewJob(
		gocron.DurationJob(h.cfg.SweepInterval),
		gocron.NewTask(func() { h.Sweep(h.deps.Clock.Now()) }),
		gocron.WithName("inactivity-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("schedule inactivity sweep: %w", err)
	}
	return nil
}
