package app

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"loomworks.io/loom/internal/api/handlers"
	"loomworks.io/loom/internal/api/middleware"
	"loomworks.io/loom/internal/config"
	"loomworks.io/loom/internal/pkg/logger"
)

func newHTTPRouter(cfg *config.Config, server *handlers.Server) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	engine.Use(cors.Default())

	// Runtime log level control, outside the authenticated API surface.
	engine.Any("/log/level", gin.WrapH(logger.HTTPHandler()))

	api := engine.Group("/api/v1")
	api.GET("/health/live", server.Live)
	api.GET("/health/ready", server.Ready)

	authed := api.Group("")
	authed.Use(middleware.JWTAuth([]byte(cfg.Server.JWTSigningKey)))
	authed.POST("/commands", server.SubmitCommand)
	authed.GET("/commands", server.ListCommands)
	authed.GET("/commands/:id", server.GetCommand)
	authed.GET("/catalog/commands", server.ListCommandTypes)
	authed.GET("/catalog/events", server.ListEventTypes)
	authed.GET("/catalog/domains", server.ListDomains)

	return engine
}
