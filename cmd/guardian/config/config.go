package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	RunAddress   string  `env:"RUN_ADDRESS" envDefault:":8080"`
	StoreDriver  string  `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURI  string  `env:"DATABASE_URI"`
	StoreRPS     float64 `env:"STORE_RPS" envDefault:"1.0"`
	StoreBurst   int     `env:"STORE_BURST" envDefault:"5"`
	JWTSecret    string  `env:"JWT_SECRET" envDefault:"guardian-dev-secret"`
	CronToken    string  `env:"CRON_TOKEN"`
	TZOffsetHrs  int     `env:"TIMEZONE_OFFSET_HOURS" envDefault:"9"`
	StudyMaxMin  int64   `env:"STUDY_MAX_MINUTES" envDefault:"90"`
	TimeoutMin   int64   `env:"STUDY_TIMEOUT_MINUTES" envDefault:"90"`
	AMQPURL      string  `env:"AMQP_URL"`
	AMQPExchange string  `env:"AMQP_EXCHANGE" envDefault:"guardian.notifications"`
	RedisURL     string  `env:"REDIS_URL"`

	DebounceWindow  time.Duration `env:"DEBOUNCE_WINDOW" envDefault:"5s"`
	CacheShopTTL    time.Duration `env:"CACHE_SHOP_TTL" envDefault:"10m"`
	CacheJobsTTL    time.Duration `env:"CACHE_JOBS_TTL" envDefault:"60s"`
	CachePendingTTL time.Duration `env:"CACHE_PENDING_TTL" envDefault:"30s"`
	CacheRankingTTL time.Duration `env:"CACHE_RANKING_TTL" envDefault:"5m"`
	StateTTL        time.Duration `env:"STATE_TTL" envDefault:"5m"`
}

// New reads the configuration from the environment.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location is the fixed zone that study timestamps are written in.
func (c *Config) Location() *time.Location {
	return time.FixedZone("local", c.TZOffsetHrs*60*60)
}

// Timeout is how long a session may stay open before the sweep closes it.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMin) * time.Minute
}
