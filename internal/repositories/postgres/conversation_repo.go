package postgres

import (
	"context"

	"github.com/yoockh/yoobatch/internal/models"
	"gorm.io/gorm"
)

type ConversationRepo interface {
	Insert(ctx context.Context, logs ...*models.ConversationLog) error
	LatestN(ctx context.Context, userID string, n int) ([]models.ConversationLog, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) Insert(ctx context.Context, logs ...*models.ConversationLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(logs).Error
}

// LatestN returns the newest n rows, oldest first.
func (r *conversationRepo) LatestN(ctx context.Context, userID string, n int) ([]models.ConversationLog, error) {
	if n <= 0 {
		n = 5
	}
	var rows []models.ConversationLog
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *conversationRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.ConversationLog{})
	return res.RowsAffected, res.Error
}
