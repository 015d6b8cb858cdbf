package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/edulab/proctor-bridge/internal/config"
	"github.com/edulab/proctor-bridge/internal/handler"
	"github.com/edulab/proctor-bridge/internal/middleware"
	"github.com/edulab/proctor-bridge/internal/remote"
	"github.com/edulab/proctor-bridge/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Event    *handler.EventHandler
	Entry    *handler.EntryHandler
	Callback *handler.CallbackHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(remoteClient *remote.Client, handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Arrival (Public) ───────────────────────────────────────────
	// Learners land here from the provider with only an access code.
	router.GET("/api/v1/arrival", handlers.Entry.Arrival)

	// ─── 2. Platform Events (Platform JWT) ─────────────────────────────
	events := router.Group("/api/v1/events")
	events.Use(middleware.RequirePlatformToken(cfg.PlatformJWTSecret))
	{
		events.POST("/attempt-started", handlers.Event.AttemptStarted)
		events.POST("/attempt-submitted", handlers.Event.AttemptSubmitted)
		events.POST("/attempt-deleted", handlers.Event.AttemptDeleted)
		events.POST("/enrollment-removed", handlers.Event.EnrollmentRemoved)
		events.POST("/module-deleted", handlers.Event.ModuleDeleted)
	}

	// ─── 3. Admin Operations (Platform JWT) ────────────────────────────
	admin := router.Group("/api/v1/admin")
	admin.Use(middleware.RequirePlatformToken(cfg.PlatformJWTSecret))
	{
		admin.GET("/entries", handlers.Entry.ListEntries)
		admin.POST("/entries/reset", handlers.Entry.ResetEntry)
		admin.POST("/modules/:module_id/reconcile", handlers.Entry.ReconcileModule)
	}

	// ─── 4. Provider Callbacks (Integration JWT) ───────────────────────
	callback := router.Group("/api/v1/callback")
	callback.Use(middleware.RequireCallbackJWT(remoteClient))
	{
		callback.POST("", handlers.Callback.Handle)
	}

	return router
}
