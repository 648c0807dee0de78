package api

import (
	"context"
	"fmt"

	gongin "github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sinuapp/sinu-api/pkg/auth"
	"github.com/sinuapp/sinu-api/pkg/lifecycle"
	"github.com/sinuapp/sinu-api/pkg/mail"
)

// AuthClient is the credential surface the handler needs; *auth.Client
// satisfies it. It exists so tests can fake the identity provider without
// an HTTP round trip.
type AuthClient interface {
	SignUp(ctx context.Context, email, password string) (*auth.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error)
	SignInWithGoogle(ctx context.Context, googleIDToken string) (*auth.Session, error)
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*auth.Session, error)
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Claims, error)
}

// Mailer delivers support-contact messages; *mail.Mailer satisfies it.
type Mailer interface {
	SendContact(msg mail.ContactMessage) error
}

// Config holds API handler configuration
type Config struct {
	// Manager drives subscription lifecycle operations (required)
	Manager *lifecycle.Manager

	// Store gives the handler direct record access for CRUD and profiles
	// (required)
	Store lifecycle.Store

	// Auth is the identity provider client (required)
	Auth AuthClient

	// Mailer handles support-contact messages (optional; nil disables the
	// /support/contact route)
	Mailer Mailer

	// SchedulerKey protects POST /internal/recalculate (required)
	SchedulerKey string

	// AllowedOrigins is the CORS allowlist.
	// Default: http://localhost:3000
	AllowedOrigins []string

	// Logger is used for structured logging (default: NoopLogger).
	Logger lifecycle.Logger

	// MetricsRegistry, when set, is served on GET /metrics.
	MetricsRegistry *prometheus.Registry

	// LoginLimiter optionally throttles the credential routes; see
	// middleware/gin.RateLimit.
	LoginLimiter gongin.HandlerFunc
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Auth == nil {
		return fmt.Errorf("auth client is required")
	}
	if c.SchedulerKey == "" {
		return fmt.Errorf("scheduler key is required")
	}
	return nil
}
