package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/studyowl/textbook-ai/internal/common"
	"github.com/studyowl/textbook-ai/internal/httpapi/middleware"
)

const tokenTTL = 30 * 24 * time.Hour

// AnonymousToken mints a fresh principal (user session) and a JWT for it.
// There are no password accounts; the principal id is the stable identity
// usage is metered against.
func (h *Handler) AnonymousToken(c *gin.Context) {
	principalID := h.Guard.GenerateID()

	token, err := middleware.IssueToken(h.Cfg.JWTSecret, principalID, tokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to issue token")
		return
	}

	common.Ok(c, gin.H{
		"principal_id": principalID,
		"token":        token,
	})
}
