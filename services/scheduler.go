// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const refreshBatchSize = 500

// StartRefreshScheduler recomputes stale referral summaries every interval.
// The returned scheduler must be shut down by the caller.
func (s *ReferralService) StartRefreshScheduler(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			started := s.Now()
			n, err := s.RefreshStale(ctx, started.Add(-interval), refreshBatchSize)
			if err != nil {
				s.log.Error().Err(err).Int("refreshed", n).Msg("scheduled referral refresh failed")
				return
			}
			if n > 0 {
				s.log.Info().Int("refreshed", n).Dur("took", s.Now().Sub(started)).Msg("referral summaries refreshed")
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
