package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/askchat/backend/internal/chat"
	"github.com/askchat/backend/internal/common"
	"github.com/askchat/backend/internal/config"
	"github.com/askchat/backend/internal/httpapi/handlers"
	"github.com/askchat/backend/internal/httpapi/middleware"
	"github.com/askchat/backend/internal/logger"
)

func NewRouter(svc *chat.Service, cfg config.Config, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(svc, cfg, log)

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))

	authGroup.PUT("/users/me", h.UpsertMe)
	authGroup.POST("/users/me/push-tokens", h.RegisterPushToken)

	authGroup.POST("/chats/direct", h.CreateDirectChat)
	authGroup.GET("/chats", h.ListChats)
	authGroup.GET("/chats/:chat_id/messages", h.ListMessages)
	authGroup.POST("/chats/:chat_id/messages", h.SendMessage)

	authGroup.GET("/sources/:ref", h.ResolveSource)

	return r
}
