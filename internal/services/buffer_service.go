package services

import (
	"context"
	"strings"
	"time"

	"github.com/yoockh/yoobatch/internal/models"
	"github.com/yoockh/yoobatch/internal/repositories/coord"
	"github.com/yoockh/yoobatch/internal/utils"
)

type BufferService interface {
	Append(ctx context.Context, userID, text string) (models.BufferedMessage, error)
	// Pending returns buffered messages newer than the user's watermark, in
	// arrival order.
	Pending(ctx context.Context, userID string) ([]models.BufferedMessage, error)
	// MarkProcessed advances the watermark to at and clears the buffer.
	MarkProcessed(ctx context.Context, userID string, at time.Time) error
	// Discard drops the buffer without touching the watermark.
	Discard(ctx context.Context, userID string) error
}

type bufferService struct {
	buffers coord.BufferRepository
	markers coord.MarkerRepository
	ttl     time.Duration
	retry   utils.RetryPolicy
	now     func() time.Time
}

func NewBufferService(buffers coord.BufferRepository, markers coord.MarkerRepository, ttl time.Duration, retry utils.RetryPolicy) BufferService {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &bufferService{buffers: buffers, markers: markers, ttl: ttl, retry: retry, now: time.Now}
}

func (s *bufferService) Append(ctx context.Context, userID, text string) (models.BufferedMessage, error) {
	const op = "BufferService.Append"

	if userID == "" || strings.TrimSpace(text) == "" {
		return models.BufferedMessage{}, utils.E(utils.CodeInvalidArgument, op, "user_id and text are required", nil)
	}

	msg := models.NewBufferedMessage(text, s.now())
	err := utils.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.buffers.Append(ctx, userID, msg, s.ttl)
	})
	if err != nil {
		return models.BufferedMessage{}, utils.Wrap(op, "failed to buffer message", err)
	}
	return msg, nil
}

func (s *bufferService) Pending(ctx context.Context, userID string) ([]models.BufferedMessage, error) {
	const op = "BufferService.Pending"

	all, err := utils.WithRetries(ctx, s.retry, func(ctx context.Context) ([]models.BufferedMessage, error) {
		return s.buffers.List(ctx, userID)
	})
	if err != nil {
		return nil, utils.Wrap(op, "failed to read buffer", err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	watermark, err := utils.WithRetries(ctx, s.retry, func(ctx context.Context) (float64, error) {
		return s.markers.Watermark(ctx, userID)
	})
	if err != nil {
		return nil, utils.Wrap(op, "failed to read watermark", err)
	}

	out := make([]models.BufferedMessage, 0, len(all))
	for _, m := range all {
		if m.Timestamp > watermark {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *bufferService) MarkProcessed(ctx context.Context, userID string, at time.Time) error {
	const op = "BufferService.MarkProcessed"

	ts := models.UnixSeconds(at)
	err := utils.Retry(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.markers.AdvanceWatermark(ctx, userID, ts)
		return err
	})
	if err != nil {
		return utils.Wrap(op, "failed to advance watermark", err)
	}

	err = utils.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.buffers.Clear(ctx, userID)
	})
	if err != nil {
		return utils.Wrap(op, "failed to clear buffer", err)
	}
	return nil
}

func (s *bufferService) Discard(ctx context.Context, userID string) error {
	const op = "BufferService.Discard"

	if err := utils.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.buffers.Clear(ctx, userID)
	}); err != nil {
		return utils.Wrap(op, "failed to clear buffer", err)
	}
	return nil
}
