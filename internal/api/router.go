package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine. An empty jwtSecret leaves mutating routes open.
func NewRouter(handler *APIHandler, jwtSecret string, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	var auth gin.HandlerFunc
	if jwtSecret != "" {
		auth = Auth(jwtSecret)
	}
	handler.Register(r, auth)
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		logger.Info("HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(startTime)),
			slog.String("subject", Subject(c)))
	}
}
