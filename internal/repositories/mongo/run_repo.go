package mongo

import (
	"context"
	"time"

	"github.com/yoockh/yoobatch/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RunRepository interface {
	Insert(ctx context.Context, run *models.BatchRun) error
	ListByUser(ctx context.Context, userID string, limit int64) ([]models.BatchRun, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

type runRepo struct {
	col *mongo.Collection
}

func NewRunRepo(db *mongo.Database) RunRepository {
	return &runRepo{col: db.Collection("batch_runs")}
}

func (r *runRepo) Insert(ctx context.Context, run *models.BatchRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, run)
	if mongo.IsDuplicateKeyError(err) {
		// redelivered from the run stream; already archived
		return nil
	}
	return err
}

func (r *runRepo) ListByUser(ctx context.Context, userID string, limit int64) ([]models.BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}

	cur, err := r.col.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().
			SetSort(bson.D{{Key: "started_at", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.BatchRun
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *runRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
