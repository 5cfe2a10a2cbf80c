package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/askchat/backend/internal/chat"
	"github.com/askchat/backend/internal/config"
	"github.com/askchat/backend/internal/httpapi/middleware"
	"github.com/askchat/backend/internal/logger"
)

type Handler struct {
	Svc *chat.Service
	Cfg config.Config
	Log *logger.Logger
}

func NewHandler(svc *chat.Service, cfg config.Config, log *logger.Logger) *Handler {
	return &Handler{Svc: svc, Cfg: cfg, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "region": h.Cfg.Region})
}

func userIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
