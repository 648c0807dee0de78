// Package gin provides Gin middleware for request authentication, scheduler
// endpoint protection, and login rate limiting.
package gin

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	gongin "github.com/gin-gonic/gin"

	"github.com/sinuapp/sinu-api/pkg/auth"
)

// ContextUIDKey is the gin context key holding the authenticated account uid.
const ContextUIDKey = "uid"

// TokenVerifier resolves a bearer ID token to the account it belongs to.
// *auth.Client satisfies this.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Claims, error)
}

// UID returns the authenticated account uid set by RequireAuth.
func UID(c *gongin.Context) string {
	return c.GetString(ContextUIDKey)
}

// RequireAuth creates middleware that authenticates requests via a bearer ID
// token and stores the resolved uid in the context.
func RequireAuth(verifier TokenVerifier) gongin.HandlerFunc {
	if verifier == nil {
		panic("sinu/gin: verifier is required")
	}

	return func(c *gongin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"detail": "Missing token"})
			return
		}

		claims, err := verifier.VerifyIDToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"detail": "Invalid token"})
			return
		}

		c.Set(ContextUIDKey, claims.UID)
		c.Next()
	}
}

// RequireSchedulerKey creates middleware that guards internal endpoints with
// a shared secret carried in the X-Scheduler-Key header.
func RequireSchedulerKey(secret string) gongin.HandlerFunc {
	if secret == "" {
		panic("sinu/gin: scheduler key is required")
	}

	return func(c *gongin.Context) {
		provided := c.GetHeader("X-Scheduler-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gongin.H{"detail": "Forbidden"})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gongin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
