package router

import (
	"time"

	"mobile-chat/backend/pkg/di"
	"mobile-chat/backend/pkg/errors"
	"mobile-chat/backend/pkg/logger"
	"mobile-chat/backend/shared/observability"

	"github.com/gin-gonic/gin"
)

// Track server start time for uptime calculations
var startTime = time.Now()

// Router is the relay's HTTP router
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)

	if container.Config.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
	}
}

// SetupRoutes registers all relay routes
func (r *Router) SetupRoutes() {
	healthHandler := r.Container.Health.Handler(r.Container.Config.Server.Version)

	// Register both health endpoint paths for compatibility
	r.Engine.GET("/health", healthHandler)
	r.Engine.GET("/api/health", healthHandler)
	r.Engine.GET("/api/v1/status", r.statusHandler())

	if r.Container.Config.Metrics.Enabled {
		r.Engine.GET("/metrics", gin.WrapH(observability.MetricsHandler()))
	}

	// Websocket upgrades are limited per participant before they reach the hub
	r.Engine.GET("/ws", r.Container.RateLimiter.Middleware(), r.Container.Hub.ServeWs)
}

func (r *Router) statusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":             "ok",
			"env":                r.Container.Config.Server.Env,
			"version":            r.Container.Config.Server.Version,
			"uptime":             time.Since(startTime).Round(time.Second).String(),
			"active_connections": r.Container.Hub.ActiveConnections(),
			"session_breaker":    r.Container.Breaker.Stats(),
			"time":               time.Now().Format(time.RFC3339),
		})
	}
}

// Enhance CORS middleware to explicitly allow WebSocket-specific headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
