package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	Port                 string        `env:"PORT"`
	DatabaseURL          string        `env:"DATABASE_URL"`
	DBMaxOpenConns       int           `env:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns       int           `env:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetime    time.Duration `env:"DB_CONN_MAX_LIFETIME"`
	DBConnMaxIdleTime    time.Duration `env:"DB_CONN_MAX_IDLE_TIME"`
	HostTimeout          time.Duration `env:"HOST_TIMEOUT"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL"`
	IntroDuration        time.Duration `env:"INTRO_DURATION"`
	VoteDuration         time.Duration `env:"VOTE_DURATION"`
	RevealDuration       time.Duration `env:"REVEAL_DURATION"`
	ScoresDuration       time.Duration `env:"SCORES_DURATION"`
	AdvanceGrace         time.Duration `env:"ADVANCE_GRACE"`
	AbandonAfter         time.Duration `env:"ABANDON_AFTER"`
	EvictAfter           time.Duration `env:"EVICT_AFTER"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL"`
	ReactionInterval     time.Duration `env:"REACTION_INTERVAL"`
	CreateRatePerMinute  int           `env:"CREATE_RATE_PER_MINUTE"`
	LogLevel             string        `env:"LOG_LEVEL"`
	LogFormat            string        `env:"LOG_FORMAT"`
	OtelEndpoint         string        `env:"OTEL_ENDPOINT"`
	AllowedOrigins       []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	SandboxFrameInterval time.Duration `env:"SANDBOX_FRAME_INTERVAL"`
}

func Default() Config {
	return Config{
		Port:                 "8080",
		DBMaxOpenConns:       10,
		DBMaxIdleConns:       10,
		DBConnMaxLifetime:    5 * time.Minute,
		DBConnMaxIdleTime:    time.Minute,
		HostTimeout:          30 * time.Second,
		HeartbeatInterval:    10 * time.Second,
		IntroDuration:        4 * time.Second,
		VoteDuration:         20 * time.Second,
		RevealDuration:       5 * time.Second,
		ScoresDuration:       0,
		AdvanceGrace:         1500 * time.Millisecond,
		AbandonAfter:         10 * time.Minute,
		EvictAfter:           time.Hour,
		SweepInterval:        30 * time.Second,
		ReactionInterval:     time.Second,
		CreateRatePerMinute:  30,
		LogLevel:             "info",
		LogFormat:            "console",
		AllowedOrigins:       []string{"*"},
		SandboxFrameInterval: 33 * time.Millisecond,
	}
}

// Load starts from Default and overrides every field whose variable is set.
func Load() (Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.HostTimeout <= 0 {
		cfg.HostTimeout = Default().HostTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = Default().HeartbeatInterval
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	return cfg, nil
}

func (c Config) Addr() string {
	port := strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
	if port == "" {
		port = Default().Port
	}
	return ":" + port
}
