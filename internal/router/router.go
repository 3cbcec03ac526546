package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/cleslab/cles-backend/internal/config"
	"github.com/cleslab/cles-backend/internal/handler"
	"github.com/cleslab/cles-backend/internal/middleware"
	"github.com/cleslab/cles-backend/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	Report  *handler.ReportHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(tokens *middleware.TokenService, handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
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

	// Session creation is the entry point: it mints the session token the
	// remaining routes require.
	api := router.Group("/api/v1")
	{
		api.POST("/sessions", handlers.Session.Start)
	}

	// In-session actions, authorized by the session-scoped token.
	sessions := router.Group("/api/v1/sessions/:session_id")
	sessions.Use(middleware.RequireSessionJWT(tokens))
	{
		sessions.GET("/state", handlers.Session.GetState)
		sessions.POST("/answer", handlers.Session.SubmitAnswer)
		sessions.POST("/hint", handlers.Session.UseHint)
		sessions.POST("/extra-time", handlers.Session.RequestExtraTime)
		sessions.POST("/skip/confirm", handlers.Session.RequestSkipConfirmation)
		sessions.POST("/skip/cancel", handlers.Session.CancelSkipConfirmation)
		sessions.POST("/skip", handlers.Session.SkipQuestion)
		sessions.POST("/next", handlers.Session.NextQuestion)
		sessions.POST("/stressor/dismiss", handlers.Session.DismissStressor)
		sessions.POST("/support/accept", handlers.Session.AcceptSupportOffer)
		sessions.POST("/support/dismiss", handlers.Session.DismissSupportOffer)
		sessions.POST("/rest/start", handlers.Session.StartRest)
		sessions.POST("/rest/resume", handlers.Session.ResumeFromRest)
		sessions.POST("/rest/dismiss", handlers.Session.DismissRestSuggestion)
		sessions.POST("/device-alert", handlers.Session.RecordDeviceAlert)
		sessions.POST("/end", handlers.Session.End)
	}

	// Post-session reports, rebuilt from persisted rows.
	reports := router.Group("/api/v1")
	{
		reports.GET("/reports/sessions/:session_id", handlers.Report.GetSessionReport)
		reports.GET("/users/:user_id/sessions", handlers.Report.ListUserSessions)
	}

	// Live state stream for the session UI.
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireSessionJWT(tokens))
	{
		ws.GET("/sessions/:session_id/stream", handlers.WS.SessionStateStream)
	}

	return router
}
