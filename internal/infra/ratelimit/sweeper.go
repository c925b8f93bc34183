package ratelimit

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

type Sweeper interface {
	Sweep() int
}

// StartSweeper schedules a periodic sweep of expired windows. The caller
// owns the returned scheduler and must shut it down.
func StartSweeper(s Sweeper, interval time.Duration, logger *slog.Logger) (gocron.Scheduler, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if removed := s.Sweep(); removed > 0 {
				logger.Debug("rate limit sweep", "removed", removed)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	sched.Start()
	return sched, nil
}
