package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mri-screening-server/internal/access"
	"github.com/mri-screening-server/internal/domain"
)

// Context keys set by the middleware in this package
const (
	CorrelationIDKey = "correlation_id"
	PrincipalKey     = "principal"
	UserKey          = "user"
)

// Authenticator resolves a bearer token to an account.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, access.Principal, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller in the context.
func RequireAuth(authenticator Authenticator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			RespondError(c, logger, domain.ErrAuthentication)
			c.Abort()
			return
		}

		user, principal, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"correlation_id": c.GetString(CorrelationIDKey),
				"error":          err,
			}).Warn("Invalid token")
			RespondError(c, logger, err)
			c.Abort()
			return
		}

		c.Set(UserKey, user)
		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// CurrentPrincipal returns the authenticated caller.
func CurrentPrincipal(c *gin.Context) (access.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(access.Principal)
	return p, ok
}

// CurrentUser returns the authenticated account.
func CurrentUser(c *gin.Context) (*domain.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*domain.User)
	return u, ok
}
