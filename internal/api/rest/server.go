package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stlehmann/qthmi.ads/internal/api/websocket"
	"github.com/stlehmann/qthmi.ads/internal/auth"
	"github.com/stlehmann/qthmi.ads/internal/config"
	"github.com/stlehmann/qthmi.ads/internal/interfaces"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService // nil wenn Auth deaktiviert
}

// NewServer builds the REST API. authService may be nil, in which case
// every request is granted all permissions.
func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) authenticate() gin.HandlerFunc {
	if s.authService == nil {
		return auth.AllowAll()
	}
	return s.authService.AuthMiddleware()
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")

	// ==================== AUTH ====================
	if s.authService != nil {
		v1.POST("/auth/login", s.login)
	}
	v1.GET("/auth/me", s.authenticate(), s.getCurrentUser)

	api := v1.Group("", s.authenticate())

	// ==================== SYSTEM (OPERATOR+) ====================
	api.GET("/system/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)

	// ==================== SCREENS ====================
	screens := api.Group("/screens")
	{
		screens.GET("", auth.RequirePermission(auth.PermOperator), s.listScreens)
		screens.GET("/:id", auth.RequirePermission(auth.PermOperator), s.getScreen)
		screens.PUT("/:id", auth.RequirePermission(auth.PermAdmin), s.putScreen)
	}

	// ==================== VARIABLES ====================
	variables := api.Group("/variables")
	{
		// Read operations: Operator+
		variables.GET("", auth.RequirePermission(auth.PermOperator), s.listVariables)
		variables.GET("/:name", auth.RequirePermission(auth.PermOperator), s.getVariable)
		variables.POST("/:name/read", auth.RequirePermission(auth.PermOperator), s.readVariable)

		// Write operations: Technician+
		variables.POST("/:name/write", auth.RequirePermission(auth.PermTechnician), s.writeVariable)
	}

	// ==================== WIDGETS / DEVICE (OPERATOR+) ====================
	api.GET("/widgets", auth.RequirePermission(auth.PermOperator), s.listWidgets)
	api.GET("/widgets/:id", auth.RequirePermission(auth.PermOperator), s.getWidget)
	api.GET("/device", auth.RequirePermission(auth.PermOperator), s.getDevice)

	// ==================== WEBSOCKET ====================
	api.GET("/ws/live", auth.RequirePermission(auth.PermOperator), s.wsLiveConnection)
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	if s.wsHub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "websocket hub not available"})
		return
	}
	websocket.ServeWs(s.wsHub, c.Writer, c.Request, auth.GetUserPermissions(c))
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"state":     s.lm.GetCurrentStatus().State,
		"timestamp": time.Now().Unix(),
	})
}
