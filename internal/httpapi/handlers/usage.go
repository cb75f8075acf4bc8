package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studyowl/textbook-ai/internal/common"
)

func (h *Handler) GetUsage(c *gin.Context) {
	principalID, ok := principalFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	st, err := h.ChatSvc.UsageStatus(c.Request.Context(), principalID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to read usage")
		return
	}

	resp := gin.H{
		"tokens_used":         st.TokensUsed,
		"window_start":        st.WindowStart,
		"seconds_until_reset": st.SecondsUntilReset,
	}
	if st.Limited() {
		resp["daily_limit"] = st.DailyLimit
		resp["remaining"] = st.Remaining
	} else {
		resp["daily_limit"] = nil
		resp["remaining"] = "unlimited"
	}
	common.Ok(c, resp)
}
