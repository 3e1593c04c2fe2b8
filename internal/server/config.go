// Package server provides configuration loaded from the environment, with
// defaults and sanitizing for the ChatNet service.
package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST,default=5"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
}

// OriginList is a comma separated list of allowed WebSocket origins.
type OriginList []string

func (o *OriginList) UnmarshalEnvironmentValue(data string) error {
	*o = parseOrigins(data)
	return nil
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string     `env:"SERVER_PORT,default=:8080"`
	AllowedOrigins OriginList `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize int64      `env:"MAX_MESSAGE_SIZE,default=4096"`
	RateLimit      RateLimitConfig

	JWTSecret        string        `env:"JWT_SECRET"`
	PendingTimeout   time.Duration `env:"PENDING_TIMEOUT,default=30s"`
	AllowUnverified  bool          `env:"ALLOW_UNVERIFIED_CLAIMS,default=true"`
	MaxContentLength int           `env:"MAX_CONTENT_LENGTH,default=2000"`
	HistoryLimit     int           `env:"HISTORY_DEFAULT_LIMIT,default=50"`

	BadgerFilepath  string        `env:"BADGER_FILEPATH"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

var ErrMissingSecret = errors.New("JWT_SECRET must be set")

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() Config {
	var cfg Config
	// Only the tag defaults apply to an empty set, and those always parse.
	_ = env.Unmarshal(env.EnvSet{}, &cfg)
	return cfg.Sanitize()
}

// LoadConfig reads envFile, when given, into the process environment and
// builds a Config from it. Variables already set in the environment win.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if cfg.JWTSecret == "" {
		return Config{}, ErrMissingSecret
	}
	return cfg.Sanitize(), nil
}

// Sanitize replaces zero or invalid values with their defaults.
func (cfg Config) Sanitize() Config {
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	if cfg.PendingTimeout < 0 {
		cfg.PendingTimeout = 0
	}

	if cfg.MaxContentLength < 0 {
		cfg.MaxContentLength = 0
	}

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}

	cfg.AllowedOrigins = append(OriginList(nil), cfg.AllowedOrigins...)
	return cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
