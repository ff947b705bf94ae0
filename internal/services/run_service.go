package services

import (
	"context"
	"time"

	"github.com/yoockh/yoobatch/internal/models"
	mongorepo "github.com/yoockh/yoobatch/internal/repositories/mongo"
	"github.com/yoockh/yoobatch/internal/utils"
)

// RunService archives BatchRun outcomes. It implements RunRecorder.
type RunService interface {
	RunRecorder
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.BatchRun, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

type runService struct {
	runs      mongorepo.RunRepository
	retention time.Duration
}

func NewRunService(runs mongorepo.RunRepository, retention time.Duration) RunService {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &runService{runs: runs, retention: retention}
}

func (s *runService) Record(ctx context.Context, run *models.BatchRun) error {
	const op = "RunService.Record"

	if run == nil || run.UserID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "run with user_id is required", nil)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.ExpiresAt.IsZero() {
		run.ExpiresAt = run.StartedAt.Add(s.retention)
	}

	if err := s.runs.Insert(ctx, run); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to insert run", err)
	}
	return nil
}

func (s *runService) ListByUser(ctx context.Context, userID string, limit int64) ([]models.BatchRun, error) {
	const op = "RunService.ListByUser"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	out, err := s.runs.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list runs", err)
	}
	return out, nil
}

func (s *runService) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	const op = "RunService.DeleteByUser"

	n, err := s.runs.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to delete runs", err)
	}
	return n, nil
}
