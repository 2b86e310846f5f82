package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func RegisterRoutes(r *gin.Engine, s *Server) {
	r.Use(requestLogger(s.log()), gin.Recovery())
	api := r.Group("/api")
	{
		api.GET("/health", health)
		api.POST("/runs", s.createRun)
		api.GET("/runs/:id", s.runStatus)
		api.GET("/runs/:id/archive", s.runArchive)
		api.POST("/certificates", s.certificate)
		api.GET("/qr", qrHandler)
		api.GET("/verify", verifyHandler)
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("Request served.",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
