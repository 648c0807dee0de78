// Package config loads service configuration from the environment, with an
// optional config file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sinuapp/sinu-api/pkg/lifecycle"
)

// Config is the full service configuration.
type Config struct {
	// Port the HTTP server listens on.
	Port int `mapstructure:"port"`

	// FirebaseAPIKey is the Identity Toolkit web API key (required).
	FirebaseAPIKey string `mapstructure:"firebase_api_key"`

	// ProjectID is the Google Cloud project holding the Firestore database
	// (required).
	ProjectID string `mapstructure:"project_id"`

	// SchedulerKey protects the internal recalculation endpoint (required).
	SchedulerKey string `mapstructure:"scheduler_key"`

	// SweepSchedule is the cron expression for the recalculation sweep.
	// Empty disables the in-process scheduler.
	SweepSchedule string `mapstructure:"sweep_schedule"`

	// SweepBatchSize caps writes per sweep batch commit.
	SweepBatchSize int `mapstructure:"sweep_batch_size"`

	// SendGridAPIKey enables outbound support email; empty logs instead.
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	FromEmail      string `mapstructure:"from_email"`
	SupportEmail   string `mapstructure:"support_email"`

	// RedisAddr enables the login rate limiter; empty disables it.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`

	// AllowedOrigins is the CORS allowlist, comma separated.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads configuration from SINU_* environment variables, falling back to
// an optional sinu-config file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("sinu-config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("sinu")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 8080)
	v.SetDefault("sweep_schedule", "0 3 * * *")
	v.SetDefault("sweep_batch_size", lifecycle.DefaultSweepBatchSize)
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", 10*time.Second)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; env-only configuration is the normal deploy.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// AutomaticEnv does not feed Unmarshal, so keys must be touched explicitly.
	for _, key := range []string{
		"port", "firebase_api_key", "project_id", "scheduler_key",
		"sweep_schedule", "sweep_batch_size", "sendgrid_api_key",
		"from_email", "support_email", "redis_addr", "redis_password",
		"allowed_origins", "log_level", "shutdown_timeout",
	} {
		if val := v.Get(key); val != nil {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if origins := v.GetString("allowed_origins"); strings.Contains(origins, ",") {
		cfg.AllowedOrigins = splitAndTrim(origins)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the required settings are present and consistent.
func (c *Config) Validate() error {
	if c.FirebaseAPIKey == "" {
		return fmt.Errorf("firebase_api_key is required")
	}
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if c.SchedulerKey == "" {
		return fmt.Errorf("scheduler_key is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.SweepBatchSize < 1 || c.SweepBatchSize > lifecycle.MaxSweepBatchSize {
		return fmt.Errorf("sweep_batch_size must be between 1 and %d", lifecycle.MaxSweepBatchSize)
	}
	return nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
