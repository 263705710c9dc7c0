// Package scheduler runs the periodic coordination sweep that keeps pipeline
// graphs moving when no worker event triggers coordination, recovering from
// lost queue deliveries and crashed workers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/VariantEffect/mavedb-api-sub004/internal/db/repository"
	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
	"github.com/VariantEffect/mavedb-api-sub004/internal/worker"
)

// Sweeper periodically coordinates every live pipeline. CREATED pipelines
// are swept too, so a lost bootstrap delivery still gets its first layer of
// jobs enqueued.
type Sweeper struct {
	cron      *cron.Cron
	pipelines *repository.PipelineRepo
	pm        *worker.PipelineManager
	schedule  string
	logger    *slog.Logger
}

// NewSweeper creates a Sweeper firing on the given cron schedule.
func NewSweeper(pipelines *repository.PipelineRepo, pm *worker.PipelineManager,
	schedule string, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cron:      cron.New(),
		pipelines: pipelines,
		pm:        pm,
		schedule:  schedule,
		logger:    logger,
	}
}

// Start registers the sweep and starts the cron runner.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Warn("coordination sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("coordination sweeper started", "schedule", s.schedule)
	return nil
}

// Stop gracefully stops the cron runner.
func (s *Sweeper) Stop() {
	s.cron.Stop()
	s.logger.Info("coordination sweeper stopped")
}

// Sweep coordinates every CREATED and RUNNING pipeline once. Failures on one
// pipeline are logged and do not block the rest of the sweep.
func (s *Sweeper) Sweep(ctx context.Context) error {
	var live []domain.Pipeline
	for _, status := range []domain.PipelineStatus{
		domain.PipelineStatusCreated,
		domain.PipelineStatusRunning,
	} {
		batch, err := s.pipelines.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("list %s pipelines: %w", status, err)
		}
		live = append(live, batch...)
	}

	for i := range live {
		if err := s.pm.Coordinate(ctx, live[i].ID); err != nil {
			s.logger.Warn("sweep coordination failed",
				"pipeline_id", live[i].ID,
				"pipeline", live[i].Name,
				"error", err,
			)
		}
	}
	return nil
}
