package coord

import (
	"context"
	"strconv"
	"time"

	"github.com/yoockh/yoobatch/internal/kvstore"
	"github.com/yoockh/yoobatch/internal/models"
)

type MarkerRepository interface {
	IsScheduled(ctx context.Context, userID string) (bool, error)
	// Schedule creates the schedule marker with a single set-if-absent call.
	// It returns false when another caller already holds it.
	Schedule(ctx context.Context, userID string, fireAt time.Time, ttl time.Duration) (bool, error)
	ClearSchedule(ctx context.Context, userID string) error

	SetProcessing(ctx context.Context, userID string, ttl time.Duration) error
	IsProcessing(ctx context.Context, userID string) (bool, error)
	ClearProcessing(ctx context.Context, userID string) error

	// Watermark returns 0 when the user was never processed.
	Watermark(ctx context.Context, userID string) (float64, error)
	AdvanceWatermark(ctx context.Context, userID string, ts float64) (float64, error)

	// Clear drops every marker and the watermark for the user.
	Clear(ctx context.Context, userID string) error
}

type markerRepo struct {
	store kvstore.Store
	keys  Keys
}

func NewMarkerRepo(store kvstore.Store, keys Keys) MarkerRepository {
	return &markerRepo{store: store, keys: keys}
}

func (r *markerRepo) IsScheduled(ctx context.Context, userID string) (bool, error) {
	return r.store.Exists(ctx, r.keys.Scheduled(userID))
}

func (r *markerRepo) Schedule(ctx context.Context, userID string, fireAt time.Time, ttl time.Duration) (bool, error) {
	v := strconv.FormatFloat(models.UnixSeconds(fireAt), 'f', -1, 64)
	return r.store.SetNX(ctx, r.keys.Scheduled(userID), v, ttl)
}

func (r *markerRepo) ClearSchedule(ctx context.Context, userID string) error {
	return r.store.Del(ctx, r.keys.Scheduled(userID))
}

func (r *markerRepo) SetProcessing(ctx context.Context, userID string, ttl time.Duration) error {
	return r.store.Set(ctx, r.keys.Processing(userID), "1", ttl)
}

func (r *markerRepo) IsProcessing(ctx context.Context, userID string) (bool, error) {
	return r.store.Exists(ctx, r.keys.Processing(userID))
}

func (r *markerRepo) ClearProcessing(ctx context.Context, userID string) error {
	return r.store.Del(ctx, r.keys.Processing(userID))
}

func (r *markerRepo) Watermark(ctx context.Context, userID string) (float64, error) {
	s, found, err := r.store.Get(ctx, r.keys.LastProcessed(userID))
	if err != nil || !found {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// unreadable watermark: behave as never processed
		return 0, nil
	}
	return v, nil
}

func (r *markerRepo) AdvanceWatermark(ctx context.Context, userID string, ts float64) (float64, error) {
	return r.store.MaxFloat(ctx, r.keys.LastProcessed(userID), ts)
}

func (r *markerRepo) Clear(ctx context.Context, userID string) error {
	return r.store.Del(ctx,
		r.keys.Scheduled(userID),
		r.keys.Processing(userID),
		r.keys.LastProcessed(userID),
	)
}
