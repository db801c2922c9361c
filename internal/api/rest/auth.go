package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stlehmann/qthmi.ads/internal/auth"
	"github.com/stlehmann/qthmi.ads/internal/types"
)

// Login request/response types
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
	Role        string `json:"role"`
}

// Auth handlers
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("AUTH_400", "Invalid request body", err.Error()))
		return
	}

	res, err := s.authService.LoginUser(
		c.Request.Context(),
		req.Username,
		req.Password,
		c.ClientIP(),
		c.GetHeader("User-Agent"),
	)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountLocked):
			c.JSON(http.StatusForbidden, types.NewErrorResponse("AUTH_423", "Account locked", err.Error()))
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid credentials", nil))
		default:
			s.logger.Error("Login failed", zap.String("username", req.Username), zap.Error(err))
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse("AUTH_500", "Login failed", nil))
		}
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(res.ExpiresAt).Seconds()),
		Role:        res.User.Role,
	})
}

// GET /api/v1/auth/me
func (s *Server) getCurrentUser(c *gin.Context) {
	perms := auth.GetUserPermissions(c)

	userID, ok := auth.GetUserID(c)
	if !ok || s.authService == nil {
		c.JSON(http.StatusOK, gin.H{
			"authenticated": false,
			"permissions":   perms,
		})
		return
	}

	user, err := s.authService.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("AUTH_404", "User not found", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user":          user,
		"permissions":   perms,
	})
}
