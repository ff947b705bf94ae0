package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoobatch/internal/models"
	"github.com/yoockh/yoobatch/internal/services"
)

type ConversationHandler struct {
	svc services.ConversationService
}

func NewConversationHandler(svc services.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// turnView is one processed batch and the reply sent for it.
type turnView struct {
	RunID string    `json:"run_id"`
	Batch string    `json:"batch"`
	Reply string    `json:"reply,omitempty"`
	At    time.Time `json:"at"`
}

// List returns the caller's latest turns, oldest first. limit counts log rows.
func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c, 50, 500)
	if !ok {
		return
	}

	rows, err := h.svc.Recent(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"turns": groupTurns(rows)})
}

func groupTurns(rows []models.ConversationLog) []turnView {
	turns := make([]turnView, 0, len(rows))
	for _, r := range rows {
		if r.Role == services.RoleAssistant {
			if n := len(turns); n > 0 && turns[n-1].RunID == r.RunID && turns[n-1].Reply == "" {
				turns[n-1].Reply = r.Content
				continue
			}
			// reply whose batch row fell outside the window
			turns = append(turns, turnView{RunID: r.RunID, Reply: r.Content, At: r.Timestamp})
			continue
		}
		turns = append(turns, turnView{RunID: r.RunID, Batch: r.Content, At: r.Timestamp})
	}
	return turns
}
