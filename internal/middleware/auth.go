package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chat-plugin/internal/apperrors"
	"chat-plugin/internal/models"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey = "userID"
	UserKey   = "user"
)

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

// UserLoader loads the chat user of an authenticated id.
type UserLoader interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
}

// Toucher records user activity for @here.
type Toucher interface {
	Touch(ctx context.Context, userID int, at time.Time) error
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware validates the Authorization header against the identity
// service, loads the user and marks it present.
func AuthMiddleware(auth TokenValidator, users UserLoader, presence Toucher, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, "missing authorization")
			return
		}
		token, ok := BearerToken(header)
		if !ok {
			abort(c, "invalid authorization header")
			return
		}

		ctx := c.Request.Context()
		userID, err := auth.ValidateToken(ctx, token)
		if err != nil {
			abort(c, "invalid token")
			return
		}
		user, err := users.GetUser(ctx, userID)
		if err != nil {
			logger.Warn("authenticated user unavailable", "user_id", userID, "error", err)
			abort(c, "unknown user")
			return
		}
		if presence != nil {
			if err := presence.Touch(ctx, userID, time.Now()); err != nil {
				logger.Warn("presence touch failed", "user_id", userID, "error", err)
			}
		}

		c.Set(UserIDKey, userID)
		c.Set(UserKey, user)
		c.Next()
	}
}

func abort(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "reason": strings.ToLower(string(apperrors.CodeUnauthenticated))})
}

// CurrentUser returns the user stored by AuthMiddleware.
func CurrentUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return models.User{}, false
	}
	u, ok := v.(models.User)
	return u, ok
}
