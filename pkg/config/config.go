package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

// Config is the application configuration for both the API server and the
// reward worker. Values come from config.yaml with environment overrides.
type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Asynq struct {
		Concurrency int           `mapstructure:"CONCURRENCY"`
		MaxRetry    int           `mapstructure:"MAX_RETRY"`
		TaskTimeout time.Duration `mapstructure:"TASK_TIMEOUT"`
		Retention   time.Duration `mapstructure:"RETENTION"`
	} `mapstructure:"ASYNQ"`
	Status struct {
		PendingTTL  time.Duration `mapstructure:"PENDING_TTL"`
		TerminalTTL time.Duration `mapstructure:"TERMINAL_TTL"`
	} `mapstructure:"STATUS"`
	Mining struct {
		DailyRateBps     int64         `mapstructure:"DAILY_RATE_BPS"`
		MinRateBps       int64         `mapstructure:"MIN_RATE_BPS"`
		MaxRateBps       int64         `mapstructure:"MAX_RATE_BPS"`
		RoiCapPct        int64         `mapstructure:"ROI_CAP_PCT"`
		Cooldown         time.Duration `mapstructure:"COOLDOWN"`
		MinimumBaseCents int64         `mapstructure:"MINIMUM_BASE_CENTS"`
	} `mapstructure:"MINING"`
	RateLimit struct {
		FailOpen bool                  `mapstructure:"FAIL_OPEN"`
		Routes   map[string]RouteLimit `mapstructure:"ROUTES"`
	} `mapstructure:"RATELIMIT"`
	Team struct {
		EarnL1Bps      int64 `mapstructure:"EARN_L1_BPS"`
		EarnL2Bps      int64 `mapstructure:"EARN_L2_BPS"`
		DepositSelfBps int64 `mapstructure:"DEPOSIT_SELF_BPS"`
		DepositL1Bps   int64 `mapstructure:"DEPOSIT_L1_BPS"`
		DepositL2Bps   int64 `mapstructure:"DEPOSIT_L2_BPS"`
		RunHourUTC     int   `mapstructure:"RUN_HOUR_UTC"`
	} `mapstructure:"TEAM"`
}

// RouteLimit is the token bucket configuration for one admission-controlled
// route. FailOpen decides what happens when the limiter backend is unavailable.
type RouteLimit struct {
	TokensPerInterval int64         `mapstructure:"TOKENS_PER_INTERVAL"`
	Interval          time.Duration `mapstructure:"INTERVAL"`
	MaxTokens         int64         `mapstructure:"MAX_TOKENS"`
	FailOpen          bool          `mapstructure:"FAIL_OPEN"`
}

// Route returns the limit for the named route, falling back to a conservative
// default bucket that inherits the global fail-open policy.
func (c *Config) Route(name string) RouteLimit {
	if rl, ok := c.RateLimit.Routes[name]; ok {
		return rl
	}
	return RouteLimit{
		TokensPerInterval: 5,
		Interval:          time.Second,
		MaxTokens:         5,
		FailOpen:          c.RateLimit.FailOpen,
	}
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults() {
	config.SetDefault("APP_ENV", "development")
	config.SetDefault("APP_NAME", "rewardplane")
	config.SetDefault("HTTP_SERVER.ADDR", ":8080")
	config.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	config.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	config.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	config.SetDefault("DATABASE.TYPE", "postgres")
	config.SetDefault("DATABASE.HOST", "127.0.0.1")
	config.SetDefault("DATABASE.PORT", "5432")
	config.SetDefault("DATABASE.SSLMODE", "disable")
	config.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	config.SetDefault("REDIS.POOL_SIZE", 10)
	config.SetDefault("REDIS.POOL_TIMEOUT", 30*time.Second)
	config.SetDefault("ASYNQ.CONCURRENCY", 10)
	config.SetDefault("ASYNQ.MAX_RETRY", 5)
	config.SetDefault("ASYNQ.TASK_TIMEOUT", 30*time.Second)
	config.SetDefault("ASYNQ.RETENTION", 10*time.Minute)
	config.SetDefault("STATUS.PENDING_TTL", 30*time.Minute)
	config.SetDefault("STATUS.TERMINAL_TTL", 10*time.Minute)
	config.SetDefault("MINING.DAILY_RATE_BPS", 200)
	config.SetDefault("MINING.MIN_RATE_BPS", 150)
	config.SetDefault("MINING.MAX_RATE_BPS", 500)
	config.SetDefault("MINING.ROI_CAP_PCT", 300)
	config.SetDefault("MINING.COOLDOWN", 24*time.Hour)
	config.SetDefault("MINING.MINIMUM_BASE_CENTS", 1000)
	config.SetDefault("RATELIMIT.FAIL_OPEN", true)
	config.SetDefault("TEAM.EARN_L1_BPS", 200)
	config.SetDefault("TEAM.EARN_L2_BPS", 100)
	config.SetDefault("TEAM.DEPOSIT_SELF_BPS", 500)
	config.SetDefault("TEAM.DEPOSIT_L1_BPS", 300)
	config.SetDefault("TEAM.DEPOSIT_L2_BPS", 100)
	config.SetDefault("TEAM.RUN_HOUR_UTC", 0)
}

func LoadConfig() (*Config, error) {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults()

	if err := config.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		zap.L().Warn("config.yaml not found, using defaults and environment")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
