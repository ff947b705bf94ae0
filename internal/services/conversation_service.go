package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/yoockh/yoobatch/internal/models"
	pgrepo "github.com/yoockh/yoobatch/internal/repositories/postgres"
	"github.com/yoockh/yoobatch/internal/utils"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ConversationService interface {
	// AppendTurn stores one user batch and the reply it produced.
	AppendTurn(ctx context.Context, userID, runID string, texts []string, reply string) error
	// Recent returns the last n rows oldest first.
	Recent(ctx context.Context, userID string, n int) ([]models.ConversationLog, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

type conversationService struct {
	convos pgrepo.ConversationRepo
	now    func() time.Time
}

func NewConversationService(convos pgrepo.ConversationRepo) ConversationService {
	return &conversationService{convos: convos, now: time.Now}
}

func (s *conversationService) AppendTurn(ctx context.Context, userID, runID string, texts []string, reply string) error {
	const op = "ConversationService.AppendTurn"

	if userID == "" || len(texts) == 0 {
		return utils.E(utils.CodeInvalidArgument, op, "user_id and texts are required", nil)
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	meta, _ := json.Marshal(map[string]any{"batch_size": len(texts)})
	now := s.now().UTC()

	rows := []*models.ConversationLog{{
		ID:        uuid.NewString(),
		UserID:    userID,
		RunID:     runID,
		Role:      RoleUser,
		Content:   strings.Join(texts, "\n"),
		Timestamp: now,
		Metadata:  datatypes.JSON(meta),
	}}
	if reply != "" {
		rows = append(rows, &models.ConversationLog{
			ID:        uuid.NewString(),
			UserID:    userID,
			RunID:     runID,
			Role:      RoleAssistant,
			Content:   reply,
			Timestamp: now.Add(time.Millisecond),
			Metadata:  datatypes.JSON("{}"),
		})
	}

	if err := s.convos.Insert(ctx, rows...); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to insert conversation log", err)
	}
	return nil
}

func (s *conversationService) Recent(ctx context.Context, userID string, n int) ([]models.ConversationLog, error) {
	const op = "ConversationService.Recent"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	rows, err := s.convos.LatestN(ctx, userID, n)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load history", err)
	}
	return rows, nil
}

func (s *conversationService) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	const op = "ConversationService.DeleteByUser"

	n, err := s.convos.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to delete conversations", err)
	}
	return n, nil
}
