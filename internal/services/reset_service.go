package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoobatch/internal/repositories/coord"
	"github.com/yoockh/yoobatch/internal/utils"
)

// HandleEvictor drops a cached per-user handle.
type HandleEvictor interface {
	Evict(userID string) bool
}

type ResetResult struct {
	ConversationsDeleted int64 `json:"conversations_deleted"`
	HandleEvicted        bool  `json:"handle_evicted"`
}

// ResetService wipes a user's coordination state, history and cached agent.
// A run that is already in flight is not cancelled; it may still deliver one
// reply after the reset.
type ResetService struct {
	locks   *LockService
	buffers BufferService
	markers coord.MarkerRepository
	convos  ConversationService // optional
	handles HandleEvictor       // optional
	log     *logrus.Logger

	LockTimeout  time.Duration
	LockWaitTime time.Duration
	Retry        utils.RetryPolicy
}

func NewResetService(locks *LockService, buffers BufferService, markers coord.MarkerRepository, convos ConversationService, handles HandleEvictor, log *logrus.Logger) *ResetService {
	if log == nil {
		log = logrus.New()
	}
	return &ResetService{
		locks:        locks,
		buffers:      buffers,
		markers:      markers,
		convos:       convos,
		handles:      handles,
		log:          log,
		LockTimeout:  10 * time.Second,
		LockWaitTime: 5 * time.Second,
		Retry:        utils.DefaultRetryPolicy(),
	}
}

func (s *ResetService) Reset(ctx context.Context, userID string) (*ResetResult, error) {
	const op = "ResetService.Reset"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	ok, lock, err := s.locks.Acquire(ctx, userID, s.LockTimeout, true, s.LockWaitTime)
	if err != nil {
		return nil, utils.Wrap(op, "failed to lock user", err)
	}
	if !ok {
		return nil, utils.E(utils.CodeLockFailed, op, "another reset is in progress", nil)
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.log.WithError(rerr).WithField("user_id", userID).Warn("reset lock release failed")
		}
	}()

	if err := s.buffers.Discard(ctx, userID); err != nil {
		return nil, utils.Wrap(op, "failed to discard buffer", err)
	}
	if err := utils.Retry(ctx, s.Retry, func(ctx context.Context) error {
		return s.markers.Clear(ctx, userID)
	}); err != nil {
		return nil, utils.Wrap(op, "failed to clear markers", err)
	}

	res := &ResetResult{}
	if s.convos != nil {
		n, err := s.convos.DeleteByUser(ctx, userID)
		if err != nil {
			s.log.WithError(err).WithField("user_id", userID).Error("failed to delete conversation history")
		}
		res.ConversationsDeleted = n
	}
	if s.handles != nil {
		res.HandleEvicted = s.handles.Evict(userID)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":               userID,
		"conversations_deleted": res.ConversationsDeleted,
		"handle_evicted":        res.HandleEvicted,
	}).Info("user state reset")
	return res, nil
}
