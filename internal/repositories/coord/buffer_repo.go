package coord

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yoockh/yoobatch/internal/kvstore"
	"github.com/yoockh/yoobatch/internal/models"
)

type BufferRepository interface {
	Append(ctx context.Context, userID string, msg models.BufferedMessage, ttl time.Duration) error
	List(ctx context.Context, userID string) ([]models.BufferedMessage, error)
	Clear(ctx context.Context, userID string) error
}

type bufferRepo struct {
	store kvstore.Store
	keys  Keys
}

func NewBufferRepo(store kvstore.Store, keys Keys) BufferRepository {
	return &bufferRepo{store: store, keys: keys}
}

func (r *bufferRepo) Append(ctx context.Context, userID string, msg models.BufferedMessage, ttl time.Duration) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.store.AppendWithTTL(ctx, r.keys.Buffer(userID), string(b), ttl)
}

// List returns the buffer in arrival order. Entries that fail to decode are
// skipped.
func (r *bufferRepo) List(ctx context.Context, userID string) ([]models.BufferedMessage, error) {
	raw, err := r.store.Range(ctx, r.keys.Buffer(userID))
	if err != nil {
		return nil, err
	}

	out := make([]models.BufferedMessage, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		var m models.BufferedMessage
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *bufferRepo) Clear(ctx context.Context, userID string) error {
	return r.store.Del(ctx, r.keys.Buffer(userID))
}
