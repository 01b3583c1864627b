package team

import (
	"context"
	"time"

	"minerush-rewardplane/pkg/config"
	"minerush-rewardplane/services/reward"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler drives the daily maintenance pass: team earnings distribution for
// the prior UTC day, then the locked-capital release sweep. Both jobs are
// idempotent, so a restart that replays a day is harmless.
type Scheduler struct {
	team    *Service
	rewards *reward.Service
	hourUTC int
}

func NewScheduler(team *Service, rewards *reward.Service, cfg *config.Config) *Scheduler {
	return &Scheduler{team: team, rewards: rewards, hourUTC: cfg.Team.RunHourUTC}
}

// StartScheduler hooks the loop into the fx lifecycle.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started daily team earnings scheduler",
		zap.Int("run_hour_utc", s.hourUTC),
	)

	for {
		now := time.Now().UTC()
		next := nextRunTime(now, s.hourUTC, 0)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.runDaily(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Scheduler] running daily distribution")

	if _, err := s.team.RunDailyTeamEarnings(ctx, time.Now().UTC()); err != nil {
		zap.L().Error("[Scheduler] team earnings distribution failed", zap.Error(err))
	}

	if _, err := s.rewards.ReleaseMaturedLots(ctx, time.Now().UTC()); err != nil {
		zap.L().Error("[Scheduler] lot release failed", zap.Error(err))
	}

	zap.L().Info("[Scheduler] daily distribution finished",
		zap.Duration("duration", time.Since(start)),
	)
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
