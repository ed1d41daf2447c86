package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trio-stream/internal/auth"
	"trio-stream/internal/metrics"
)

// NewRouter configura el router de Gin con middlewares y rutas del bridge.
// m puede ser nil.
func NewRouter(logger *zap.Logger, jwtSvc *auth.JWTService, chatH *ChatHandler, m *metrics.Metrics) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, metricas y recovery.
	r.Use(zapLoggerMiddleware(logger, m), gin.Recovery())

	r.GET("/healthz", jsonContentTypeMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	chats := r.Group("/chats/:chatId", JWTAuthMiddleware(jwtSvc))
	// El stream de eventos no lleva Content-Type JSON.
	chats.GET("/events", chatH.StreamEvents)

	api := chats.Group("", jsonContentTypeMiddleware())
	api.GET("", chatH.GetChat)
	api.POST("/messages", chatH.SendMessage)
	api.DELETE("/stream", chatH.CancelStream)
	api.POST("/reset", chatH.ResetSession)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if m != nil {
			streaming := strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream")
			m.ObserveRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), latency, streaming)
		}
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
