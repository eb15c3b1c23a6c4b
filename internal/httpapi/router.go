package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solace-app/coachsync/internal/common"
	"github.com/solace-app/coachsync/internal/config"
	"github.com/solace-app/coachsync/internal/engine"
	"github.com/solace-app/coachsync/internal/httpapi/handlers"
	"github.com/solace-app/coachsync/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, eng *engine.Engine) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(cfg, eng)

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.POST("/chat/open", h.OpenChat)
	authGroup.POST("/chat/messages", h.SendMessage)
	authGroup.POST("/chat/messages/:message_id/retry", h.RetryMessage)
	authGroup.POST("/chat/messages/:message_id/markers", h.RewriteMarker)
	authGroup.POST("/chat/window/more", h.LoadMore)
	authGroup.GET("/chat/window", h.GetWindow)
	authGroup.POST("/chat/reset", h.ResetChat)
	authGroup.POST("/chat/close", h.CloseChat)
	authGroup.POST("/chat/breakouts", h.OpenBreakout)
	return r
}
