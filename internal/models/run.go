package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RunStatus string

const (
	RunDone        RunStatus = "done"
	RunEmpty       RunStatus = "empty"        // nothing newer than the watermark
	RunRateLimited RunStatus = "rate_limited" // buffer left for the next cycle
	RunFailed      RunStatus = "failed"
)

// BatchRun records the outcome of one delayed processing run.
type BatchRun struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RunID  string             `bson:"run_id" json:"run_id"`
	UserID string             `bson:"user_id" json:"user_id"`

	Status       RunStatus `bson:"status" json:"status"`
	MessageCount int       `bson:"message_count" json:"message_count"`
	Error        string    `bson:"error,omitempty" json:"error,omitempty"`

	ScheduledFor time.Time `bson:"scheduled_for" json:"scheduled_for"`
	StartedAt    time.Time `bson:"started_at" json:"started_at"`
	DurationMS   int64     `bson:"duration_ms" json:"duration_ms"`

	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
