package infra

import (
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// NewScheduler creates a gocron scheduler driven by clock. Jobs are added by
// their owners; the caller starts and shuts it down.
func NewScheduler(clock clockwork.Clock, logger *slog.Logger) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLogger(logger.With("component", "scheduler")),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return s, nil
}
