package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/studyowl/textbook-ai/internal/chat"
	"github.com/studyowl/textbook-ai/internal/common"
	"github.com/studyowl/textbook-ai/internal/session"
)

type createSessionReq struct {
	Name string `json:"name"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	principalID, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	cs, err := h.ChatSvc.CreateSession(c.Request.Context(), principalID, req.Name)
	if err != nil {
		logrus.WithError(err).Error("create chat session failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}

	common.Ok(c, gin.H{"session_id": cs.ID})
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	principalID, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessions, err := h.ChatSvc.SessionsFor(c.Request.Context(), principalID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}
	common.Ok(c, gin.H{"sessions": sessions})
}

type askReq struct {
	Query string `json:"query" binding:"required"`
}

// AskQuestion runs the guarded, metered question flow for one session.
func (h *Handler) AskQuestion(c *gin.Context) {
	principalID, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req askReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.ChatSvc.Ask(c.Request.Context(), principalID, c.Param("session_id"), req.Query)
	if err != nil {
		var verr *session.ValidationError
		var oerr *session.OwnershipError
		var lerr *chat.LimitExceededError
		switch {
		case errors.As(err, &verr):
			common.Fail(c, http.StatusBadRequest, 10003, "invalid session id format")
		case errors.As(err, &oerr):
			common.Fail(c, http.StatusForbidden, 40301, "session access denied")
		case errors.As(err, &lerr):
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    42901,
				"message": lerr.Error(),
				"data": gin.H{
					"usage_info": gin.H{
						"tokens_used":       lerr.Status.TokensUsed,
						"daily_limit":       lerr.Status.DailyLimit,
						"remaining":         0,
						"hours_until_reset": lerr.Status.HoursUntilReset(),
					},
				},
			})
		default:
			logrus.WithError(err).Error("ask failed")
			common.Fail(c, http.StatusBadGateway, 50201, "failed to generate response")
		}
		return
	}

	common.Ok(c, gin.H{
		"response":    res.Reply,
		"tokens_used": res.Tokens,
		"usage": gin.H{
			"tokens_used": res.Usage.TokensUsed,
			"daily_limit": res.Usage.DailyLimit,
			"remaining":   res.Usage.Remaining,
		},
	})
}
