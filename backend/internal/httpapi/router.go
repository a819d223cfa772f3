package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/httpapi/handlers"
	"collabEngine/backend/internal/httpapi/middleware"
	"collabEngine/backend/internal/ws"
)

type RouterOptions struct {
	JWTSecret    []byte
	AllowOrigins []string
}

func NewRouter(svc collab.Service, manager *ws.Manager, log *zap.Logger, opt RouterOptions) *gin.Engine {
	r := gin.New()
	// 中间件
	r.Use(requestLogger(log))
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     opt.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	collabGroup := r.Group("/collab")
	// 健康检查不需要鉴权
	collabGroup.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	authed := collabGroup.Group("", middleware.AuthMiddleware(opt.JWTSecret, log))
	handlers.NewDocumentHandler(svc, log).Register(authed)
	authed.GET("/ws", manager.WebSocketConnect)
	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("user", c.GetString(middleware.CtxUserID)))
	}
}
