package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	pkgasynq "minerush-rewardplane/pkg/asynq"
	"minerush-rewardplane/pkg/config"
	"minerush-rewardplane/pkg/db"
	"minerush-rewardplane/pkg/logger"
	"minerush-rewardplane/pkg/ratelimit"
	"minerush-rewardplane/pkg/redis"
	"minerush-rewardplane/pkg/server"
	"minerush-rewardplane/services/account"
	"minerush-rewardplane/services/identity"
	"minerush-rewardplane/services/mining"
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
		ratelimit.Module,
		fx.Provide(provideSnowflakeNode),
		fx.Invoke(autoMigrate, db.Otel, db.Metric),
		account.Module,
		notify.Module,
		identity.Module,
		status.Module,
		reward.Module,
		reward.TaskModule,
		team.Module,
		mining.Module,
		server.ProvideHTTPServer,
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
	return snowflake.NewNode(1)
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
