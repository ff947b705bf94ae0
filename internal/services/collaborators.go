package services

import (
	"context"

	"github.com/yoockh/yoobatch/internal/models"
)

// BatchProcessor turns one ordered batch of user texts into a reply.
type BatchProcessor interface {
	Process(ctx context.Context, userID string, texts []string) (string, error)
}

// ResponseSink delivers a reply. Best effort: failures are logged, never retried.
type ResponseSink interface {
	Deliver(ctx context.Context, userID, result string) error
}

// PresenceSignal switches a "working on it" indicator on and off.
type PresenceSignal interface {
	SetIndicator(ctx context.Context, userID string, active bool) error
}

// FailureNotifier receives failures of detached processing runs so the
// transport can tell the user (rate limit, processing error, store outage).
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, userID string, err error)
}

// RunRecorder archives the outcome of each delayed run.
type RunRecorder interface {
	Record(ctx context.Context, run *models.BatchRun) error
}
