// Package scheduler runs the nightly folder sweep.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/eyeconlabs/bump-service/internal/tasks"
)

// Scheduler triggers the folder join sweep on a cron spec so accounts that
// were kicked or left chats get their shared folders restored.
type Scheduler struct {
	cron   *cron.Cron
	orch   *tasks.Orchestrator
	logger zerolog.Logger
}

// New creates a scheduler. spec is a standard 5-field cron expression.
func New(orch *tasks.Orchestrator, spec string, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		orch:   orch,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}

	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) sweep() {
	taskID := s.orch.StartFolderJoinAll()
	s.logger.Info().Str("task_id", taskID).Msg("started nightly folder sweep")
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
}

// Stop waits for any running job before returning.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
