package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/studyowl/textbook-ai/internal/chat"
	"github.com/studyowl/textbook-ai/internal/common"
	"github.com/studyowl/textbook-ai/internal/config"
	"github.com/studyowl/textbook-ai/internal/httpapi/middleware"
	"github.com/studyowl/textbook-ai/internal/jobs"
	"github.com/studyowl/textbook-ai/internal/session"
	"github.com/studyowl/textbook-ai/internal/store/rabbitmq"
)

type Handler struct {
	Cfg     config.Config
	Guard   *session.Guard
	ChatSvc *chat.Service
	Jobs    *jobs.Store
	Rabbit  *rabbitmq.Publisher
}

func NewHandler(cfg config.Config, guard *session.Guard, chatSvc *chat.Service, jobStore *jobs.Store, rabbit *rabbitmq.Publisher) *Handler {
	return &Handler{
		Cfg:     cfg,
		Guard:   guard,
		ChatSvc: chatSvc,
		Jobs:    jobStore,
		Rabbit:  rabbit,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.Ok(c, gin.H{"pong": true})
}

func principalFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.PrincipalIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
