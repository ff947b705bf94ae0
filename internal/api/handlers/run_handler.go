package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoobatch/internal/services"
)

type RunHandler struct {
	svc services.RunService
}

func NewRunHandler(svc services.RunService) *RunHandler {
	return &RunHandler{svc: svc}
}

func (h *RunHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c, 20, 200)
	if !ok {
		return
	}

	runs, err := h.svc.ListByUser(c.Request.Context(), userID, int64(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
