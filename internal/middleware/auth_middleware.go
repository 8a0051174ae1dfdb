package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Baaaki/heartscan/internal/models"
	"github.com/Baaaki/heartscan/internal/service"
	"github.com/Baaaki/heartscan/internal/utils"
	"github.com/Baaaki/heartscan/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketTokenParam carries the token on websocket upgrades, since browsers
// cannot set headers on a WebSocket handshake. Plain requests ignore it.
const WebSocketTokenParam = "access_token"

// Context keys set by AuthMiddleware.
const (
	ContextUser   = "user"
	ContextUserID = "user_id"
	ContextRole   = "user_role"
	ContextClaims = "claims"
)

// UserResolver loads the live account behind a token subject.
type UserResolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (*models.User, error)
}

func AuthMiddleware(jwtSecret string, users UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" && websocket.IsWebSocketUpgrade(c.Request) {
			if token := c.Query(WebSocketTokenParam); token != "" {
				authHeader = "Bearer " + token
			}
		}
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "Authorization header required")
			return
		}

		tokenString, ok := bearerToken(authHeader)
		if !ok {
			abort(c, http.StatusUnauthorized, "Invalid authorization format. Use: Bearer <token>")
			return
		}

		claims, err := utils.ValidateToken(tokenString, jwtSecret)
		if err != nil {
			msg := "Invalid or expired token"
			if errors.Is(err, utils.ErrExpiredToken) {
				msg = "Token has expired"
			}
			abort(c, http.StatusUnauthorized, msg)
			return
		}

		user, err := users.Resolve(c.Request.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				abort(c, http.StatusUnauthorized, "user no longer exists")
				return
			}
			logger.Log.Error("Failed to resolve token subject",
				zap.String("user_id", claims.UserID.String()),
				zap.Error(err),
			)
			abort(c, http.StatusInternalServerError, "internal server error")
			return
		}
		if user.IsBlocked {
			abort(c, http.StatusForbidden, service.ErrUserBlocked.Error())
			return
		}

		// The stored role wins over the one baked into the token.
		c.Set(ContextUser, user)
		c.Set(ContextUserID, user.ID)
		c.Set(ContextRole, user.Role)
		c.Set(ContextClaims, claims)

		c.Next()
	}
}

// RequireRoles admits only users whose role is one of roles. Roles are not
// ranked: an admin does not pass a moderator-only check.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "Unauthorized")
			return
		}

		for _, role := range roles {
			if user.Role == role {
				c.Next()
				return
			}
		}

		logger.Log.Warn("Role check failed",
			zap.String("user_id", user.ID.String()),
			zap.String("role", string(user.Role)),
			zap.String("path", c.FullPath()),
		)
		abort(c, http.StatusForbidden, "insufficient permissions")
	}
}

func AdminOnly() gin.HandlerFunc {
	return RequireRoles(models.RoleAdmin)
}

func ModeratorOnly() gin.HandlerFunc {
	return RequireRoles(models.RoleModerator)
}

// CurrentUser returns the account AuthMiddleware attached to the request.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, exists := c.Get(ContextUser)
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok && user != nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
