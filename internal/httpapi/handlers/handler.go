package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/solace-app/coachsync/internal/config"
	"github.com/solace-app/coachsync/internal/engine"
	"github.com/solace-app/coachsync/internal/httpapi/middleware"
)

type Handler struct {
	Cfg    config.Config
	Engine *engine.Engine
}

func NewHandler(cfg config.Config, eng *engine.Engine) *Handler {
	return &Handler{Cfg: cfg, Engine: eng}
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
