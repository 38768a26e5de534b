package master

import (
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"

	"github.com/argos-vision/argos/internal/config"
)

// Scheduler drives the daily operation window: streaming is started fleet
// wide at start_hour and stopped at stop_hour, local time.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewScheduler builds the two daily jobs. onStart and onStop broadcast the
// stream toggle to every registered node.
func NewScheduler(cfg config.ScheduleSettings, onStart, onStop func(), logger *slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	log := logger.With("component", "scheduler")

	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(cfg.StartHour), 0, 0))),
		gocron.NewTask(func() {
			log.Info("Operation window opening", "hour", cfg.StartHour)
			onStart()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule start job: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(cfg.StopHour), 0, 0))),
		gocron.NewTask(func() {
			log.Info("Operation window closing", "hour", cfg.StopHour)
			onStop()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule stop job: %w", err)
	}

	return &Scheduler{scheduler: sched, logger: log}, nil
}

// Start begins running the daily jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("Operation schedule active")
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
