package main

import (
	"context"
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	pkgasynq "minerush-rewardplane/pkg/asynq"
	"minerush-rewardplane/pkg/config"
	"minerush-rewardplane/pkg/db"
	"minerush-rewardplane/pkg/logger"
	"minerush-rewardplane/pkg/redis"
	"minerush-rewardplane/services/account"
	"minerush-rewardplane/services/notify"
	"minerush-rewardplane/services/reward"
	"minerush-rewardplane/services/status"
	"minerush-rewardplane/services/team"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		pkgasynq.Client,
		pkgasynq.Inspector,
		fx.Provide(
			provideSnowflakeNode,
			registerServerMux,
			registerAsynqServer,
		),
		fx.Invoke(
			autoMigrate,
			registerHandlers,
			runAsynqServer,
		),
		account.Module,
		notify.Module,
		status.Module,
		reward.Module,
		reward.TaskModule,
		team.Module,
		team.SchedulerModule,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}

func registerServerMux() *asynq.ServeMux {
	return asynq.NewServeMux()
}

func registerAsynqServer(cfg *config.Config) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency:    cfg.Asynq.Concurrency,
			RetryDelayFunc: reward.RetryDelay,
			Queues: map[string]int{
				reward.QueueRewards: 10,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				zap.L().Error("asynq task failed",
					zap.String("task_type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)
}

func registerHandlers(mux *asynq.ServeMux, task *reward.Task) {
	mux.HandleFunc(reward.TaskMiningReward, task.HandleMiningReward)
}

func runAsynqServer(lc fx.Lifecycle, srv *asynq.Server, mux *asynq.ServeMux) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				zap.L().Info("[Asynq] starting worker server")
				if err := srv.Run(mux); err != nil {
					zap.L().Fatal("[Asynq] worker server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Shutdown()
			return nil
		},
	})
}

func autoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&account.Account{},
		&reward.Balance{},
		&reward.LockedCapitalLot{},
		&reward.MiningSession{},
		&reward.LedgerTransaction{},
		&team.BonusPayout{},
		&team.TeamDailyProfit{},
		&notify.Notification{},
	)
}
