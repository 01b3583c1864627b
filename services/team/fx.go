package team

import (
	"minerush-rewardplane/services/reward"

	"go.uber.org/fx"
)

var Module = fx.Module("team",
	fx.Provide(
		NewService,
		fx.Annotate(func(s *Service) *Service { return s }, fx.As(new(reward.ProfitAccruer))),
	),
)

// SchedulerModule runs the daily distribution loop; only the worker binary
// includes it.
var SchedulerModule = fx.Module("team.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)
