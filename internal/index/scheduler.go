package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// RebuildJobName names the scheduled full rebuild.
const RebuildJobName = "appointment-index-rebuild"

// JobInfo describes the scheduled rebuild for status output.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	LastRun  time.Time `json:"last_run,omitempty"`
	NextRun  time.Time `json:"next_run,omitempty"`
}

// Scheduler triggers RebuildAll on a five-field cron schedule.
type Scheduler struct {
	scheduler gocron.Scheduler
	job       gocron.Job
	schedule  string
	logger    *slog.Logger
}

// NewScheduler registers a rebuild job for schedule. The scheduler does
// nothing until Start.
func NewScheduler(coord *Coordinator, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create cron scheduler: %w", err)
	}

	j, err := s.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(func() {
			if err := coord.RebuildAll(context.Background()); err != nil {
				logger.Warn("scheduled_rebuild_skipped", slog.String("error", err.Error()))
			}
		}),
		gocron.WithName(RebuildJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("create scheduled job %s: %w", RebuildJobName, err)
	}

	return &Scheduler{
		scheduler: s,
		job:       j,
		schedule:  schedule,
		logger:    logger,
	}, nil
}

// Start begins executing the rebuild job.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("scheduler_started", slog.String("schedule", s.schedule))
}

// Stop shuts down the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// Job returns the rebuild job details.
func (s *Scheduler) Job() JobInfo {
	info := JobInfo{Name: RebuildJobName, Schedule: s.schedule}
	if lr, err := s.job.LastRun(); err == nil {
		info.LastRun = lr
	}
	if nr, err := s.job.NextRun(); err == nil {
		info.NextRun = nr
	}
	return info
}
