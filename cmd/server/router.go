package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hfstack/ai-web-studio/api/handlers"
	"github.com/hfstack/ai-web-studio/internal/ws"
)

func (a *app) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(handlers.RequestLogger(a.logger.Named("http")), handlers.Recovery(a.logger.Named("http")))

	// Enable CORS for development
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	sessionHandler := handlers.NewSessionHandler(a.terminal, a.settings.RecordingDir)
	detachedHandler := handlers.NewDetachedHandler(a.supervisor)
	socket := ws.NewHandler(a.terminal, a.hub, a.logger.Named("ws"))
	if len(a.settings.AllowedOrigins) > 0 {
		socket.SetCheckOrigin(ws.AllowOrigins(a.settings.AllowedOrigins))
	}
	wsHandler := handlers.NewWebSocketHandler(socket)

	api := r.Group("/api")
	{
		sessionHandler.RegisterRoutes(api)
		detachedHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}
	return r
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
