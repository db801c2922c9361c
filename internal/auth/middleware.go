package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	permissionsKey = "permissions"
	userIDKey      = "user_id"
	usernameKey    = "username"
	roleKey        = "role"
)

// AuthMiddleware validates bearer tokens. Websocket clients may pass the
// token as ?token= since browsers cannot set headers on upgrade requests.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed authorization header",
				"code":  "AUTH_401",
			})
			return
		}

		claims, perms, err := a.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
				"code":  "AUTH_401",
			})
			return
		}

		c.Set(permissionsKey, perms)
		c.Set(userIDKey, claims.UserID)
		c.Set(usernameKey, claims.Username)
		c.Set(roleKey, claims.Role)
		c.Next()
	}
}

// AllowAll grants every permission. Used when authentication is disabled.
func AllowAll() gin.HandlerFunc {
	perms := RoleToPermissions(string(PermAdmin))
	return func(c *gin.Context) {
		c.Set(permissionsKey, perms)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if t := c.Query("token"); t != "" {
			return t, true
		}
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// RequirePermission checks if user has required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasPermission(c, required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"code":     "AUTH_403",
				"required": string(required),
			})
			return
		}
		c.Next()
	}
}

func HasPermission(c *gin.Context, required Permission) bool {
	for _, p := range GetUserPermissions(c) {
		if p == required {
			return true
		}
	}
	return false
}

// GetUserPermissions extracts permissions from context
func GetUserPermissions(c *gin.Context) []Permission {
	if perms, ok := c.Get(permissionsKey); ok {
		if p, ok := perms.([]Permission); ok {
			return p
		}
	}
	return nil
}

// GetUserID returns the authenticated user id, if any.
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
