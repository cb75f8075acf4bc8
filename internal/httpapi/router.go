package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studyowl/textbook-ai/internal/common"
	"github.com/studyowl/textbook-ai/internal/httpapi/handlers"
	"github.com/studyowl/textbook-ai/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, jwtSecret string) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.POST("/auth/anonymous", h.AnonymousToken)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(jwtSecret))
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.POST("/chat/sessions/:session_id/messages", h.AskQuestion)
	authGroup.GET("/usage", h.GetUsage)
	authGroup.GET("/jobs/:job_id", h.GetJob)
	authGroup.POST("/ingest", h.EnqueueIngestion)

	return r
}
