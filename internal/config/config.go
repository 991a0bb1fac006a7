package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env string `env:"ENV" default:"dev"`

	Port string `env:"PORT" default:"8080"`

	StateBackend string `env:"STATE_BACKEND" default:"memory"` // memory | mysql
	MySQLDSN     string `env:"DB_DSN" default:""`              // required when STATE_BACKEND=mysql
	DBMaxOpen    int    `env:"DB_MAX_OPEN_CONNS" default:"20"`

	// Optional: run migrations at startup (dev convenience)
	RunMigrations bool `env:"RUN_MIGRATIONS" default:"false"`

	FeedBaseURL string        `env:"FEED_BASE_URL" default:"https://mall.bilibili.com"`
	FeedTimeout time.Duration `env:"FEED_TIMEOUT" default:"10s"`

	LogFile string `env:"LOG_FILE" default:""`

	// PEM encoded RSA public key; required outside dev.
	JWTPublicKey string `env:"JWT_PUBLIC_KEY" default:""`

	SMTP SMTP

	RecheckWorkers int           `env:"RECHECK_WORKERS" default:"5"`
	SchedulerPoll  time.Duration `env:"SCHEDULER_POLL" default:"30s"`
}

// SMTP holds the process-level mail settings. Values stored under smtp_*
// keys in system_config take precedence at send time.
type SMTP struct {
	Server   string `env:"SMTP_SERVER" default:"smtp.qq.com"`
	Port     int    `env:"SMTP_PORT" default:"465"`
	User     string `env:"SMTP_USER" default:""`
	Password string `env:"SMTP_PASSWORD" default:""`
	FromName string `env:"SMTP_FROM_NAME" default:"pricewatch"`
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:           getenv("ENV", "dev"),
		Port:          getenv("PORT", "8080"),
		StateBackend:  getenv("STATE_BACKEND", "memory"),
		MySQLDSN:      getenv("DB_DSN", ""),
		DBMaxOpen:     getint("DB_MAX_OPEN_CONNS", 20),
		RunMigrations: getenv("RUN_MIGRATIONS", "false") == "true",
		FeedBaseURL:   getenv("FEED_BASE_URL", "https://mall.bilibili.com"),
		FeedTimeout:   getduration("FEED_TIMEOUT", 10*time.Second),
		LogFile:       getenv("LOG_FILE", ""),
		JWTPublicKey:  getenv("JWT_PUBLIC_KEY", ""),
		SMTP: SMTP{
			Server:   getenv("SMTP_SERVER", "smtp.qq.com"),
			Port:     getint("SMTP_PORT", 465),
			User:     getenv("SMTP_USER", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			FromName: getenv("SMTP_FROM_NAME", "pricewatch"),
		},
		RecheckWorkers: getint("RECHECK_WORKERS", 5),
		SchedulerPoll:  getduration("SCHEDULER_POLL", 30*time.Second),
	}
	return cfg
}

// IsDev reports whether auth and other production guards are relaxed.
func (c Config) IsDev() bool {
	return c.Env == "" || c.Env == "dev"
}

func getenv(key string, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getint(key string, fallback int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getduration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getenv(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
