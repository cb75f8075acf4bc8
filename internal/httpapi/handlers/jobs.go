package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/studyowl/textbook-ai/internal/chat"
	"github.com/studyowl/textbook-ai/internal/common"
	"github.com/studyowl/textbook-ai/internal/store/rabbitmq"
)

func (h *Handler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.Jobs.GetByID(c.Request.Context(), jobID)
	if err != nil {
		if chat.IsNotFound(err) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.Ok(c, gin.H{"job": j})
}

type enqueueIngestionReq struct {
	// present to re-ingest an existing textbook, absent for a new one
	TextbookID *string `json:"textbook_id"`
}

// EnqueueIngestion publishes one ingestion request. Admission happens later,
// in the job processor, once per delivered batch.
func (h *Handler) EnqueueIngestion(c *gin.Context) {
	var req enqueueIngestionReq
	_ = c.ShouldBindJSON(&req) // empty body = new ingestion

	if req.TextbookID != nil {
		if _, err := uuid.Parse(*req.TextbookID); err != nil {
			common.Fail(c, http.StatusBadRequest, 10004, "invalid textbook id")
			return
		}
	}

	if err := h.Rabbit.PublishIngestion(c.Request.Context(), rabbitmq.IngestionRequest{
		TextbookID: req.TextbookID,
	}); err != nil {
		logrus.WithError(err).Error("ingestion enqueue failed")
		common.Fail(c, http.StatusInternalServerError, 50004, "enqueue failed")
		return
	}

	common.Ok(c, gin.H{"queued": true})
}
