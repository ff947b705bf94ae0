package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoobatch/internal/services"
	"github.com/yoockh/yoobatch/internal/utils"
)

type Scheduler interface {
	Submit(ctx context.Context, userID, text string) error
	Status(ctx context.Context, userID string) (*services.SchedulerStatus, error)
}

type Resetter interface {
	Reset(ctx context.Context, userID string) (*services.ResetResult, error)
}

type MessageHandler struct {
	scheduler Scheduler
	resetter  Resetter
}

func NewMessageHandler(scheduler Scheduler, resetter Resetter) *MessageHandler {
	return &MessageHandler{scheduler: scheduler, resetter: resetter}
}

type SubmitRequest struct {
	Text string `json:"text" binding:"required"`
}

// Submit buffers one message; the reply arrives later over /ws.
func (h *MessageHandler) Submit(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "MessageHandler.Submit", "text is required", err))
		return
	}

	if err := h.scheduler.Submit(c.Request.Context(), userID, req.Text); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "buffered"})
}

func (h *MessageHandler) Status(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	st, err := h.scheduler.Status(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *MessageHandler) Reset(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	res, err := h.resetter.Reset(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
