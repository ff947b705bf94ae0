package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoobatch/internal/models"
	"github.com/yoockh/yoobatch/internal/repositories/coord"
	"github.com/yoockh/yoobatch/internal/utils"
)

type SchedulerConfig struct {
	DebounceDelay time.Duration
	RateLimit     int
	RateWindow    time.Duration
	Retry         utils.RetryPolicy

	// CleanupTimeout bounds the marker cleanup that runs after every task,
	// including tasks whose context was cancelled.
	CleanupTimeout time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = 5 * time.Second
	}
	if c.RateWindow <= 0 {
		c.RateWindow = 60 * time.Second
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 10 * time.Second
	}
	return c
}

// SchedulerDeps are the collaborators of a Scheduler. Buffers, Markers,
// Limiter and Processor are required.
type SchedulerDeps struct {
	Buffers   BufferService
	Markers   coord.MarkerRepository
	Limiter   *RateLimiter
	Processor BatchProcessor

	Sink     ResponseSink
	Presence PresenceSignal
	Failures FailureNotifier
	Runs     RunRecorder

	Logger *logrus.Logger
}

// Scheduler debounces inbound messages per user and runs at most one delayed
// processing task per user at a time, across every instance sharing the store.
type Scheduler struct {
	deps SchedulerDeps
	cfg  SchedulerConfig
	log  *logrus.Logger
	now  func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
	tasks  sync.WaitGroup
}

func NewScheduler(deps SchedulerDeps, cfg SchedulerConfig) (*Scheduler, error) {
	if deps.Buffers == nil || deps.Markers == nil || deps.Limiter == nil || deps.Processor == nil {
		return nil, errors.New("Scheduler missing dependency: Buffers/Markers/Limiter/Processor must be set")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		deps:    deps,
		cfg:     cfg.withDefaults(),
		log:     deps.Logger,
		now:     time.Now,
		baseCtx: ctx,
		cancel:  cancel,
	}, nil
}

// Submit buffers text for userID and makes sure exactly one delayed run is
// pending for it.
func (s *Scheduler) Submit(ctx context.Context, userID, text string) error {
	const op = "Scheduler.Submit"

	if userID == "" || strings.TrimSpace(text) == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id and text are required", nil)
	}
	if s.isClosed() {
		return utils.E(utils.CodeUnavailable, op, "scheduler is shutting down", nil)
	}

	log := s.log.WithField("user_id", userID)

	if _, err := s.deps.Buffers.Append(ctx, userID, text); err != nil {
		return utils.Wrap(op, "failed to buffer message", err)
	}
	log.WithField("text_preview", preview(text, 20)).Debug("message buffered")

	scheduled, err := utils.WithRetries(ctx, s.cfg.Retry, func(ctx context.Context) (bool, error) {
		return s.deps.Markers.IsScheduled(ctx, userID)
	})
	if err != nil {
		return utils.Wrap(op, "failed to check schedule", err)
	}
	if scheduled {
		log.Debug("run already scheduled, message rides along")
		return nil
	}

	delay := s.cfg.DebounceDelay
	fireAt := s.now().Add(delay)
	won, err := utils.WithRetries(ctx, s.cfg.Retry, func(ctx context.Context) (bool, error) {
		return s.deps.Markers.Schedule(ctx, userID, fireAt, 2*delay)
	})
	if err != nil {
		return utils.Wrap(op, "failed to schedule run", err)
	}
	if !won {
		log.Debug("lost schedule race, another run is pending")
		return nil
	}

	if err := s.spawn(userID, delay, fireAt); err != nil {
		return utils.Wrap(op, "failed to start run", err)
	}
	log.WithField("delay", delay.String()).Info("scheduled processing run")
	return nil
}

// spawn registers one delayed task in the task set.
func (s *Scheduler) spawn(userID string, delay time.Duration, fireAt time.Time) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.clearMarkers(userID, s.log.WithField("user_id", userID))
		return utils.E(utils.CodeUnavailable, "Scheduler.spawn", "scheduler is shutting down", nil)
	}
	s.tasks.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.tasks.Done()
		s.fireAfter(s.baseCtx, userID, delay, fireAt)
	}()
	return nil
}

// fireAfter is the delayed task: wait out the debounce window, process the
// batch, release the markers, then report the outcome.
func (s *Scheduler) fireAfter(ctx context.Context, userID string, delay time.Duration, fireAt time.Time) {
	run := &models.BatchRun{
		RunID:        uuid.NewString(),
		UserID:       userID,
		ScheduledFor: fireAt.UTC(),
	}
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "run_id": run.RunID})

	t := time.NewTimer(delay)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
		s.clearMarkers(userID, log)
		log.Warn("scheduler stopped before run fired")
		return
	}

	start := s.now()
	run.StartedAt = start.UTC()
	err := s.runOnce(ctx, userID, delay, run, log)
	run.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		if run.Status == "" {
			run.Status = models.RunFailed
		}
		run.Error = err.Error()
		if utils.IsCode(err, utils.CodeRateLimited) {
			log.WithError(err).Warn("rate limit exceeded")
		} else {
			log.WithError(err).Error("processing run failed")
		}
		if s.deps.Failures != nil && ctx.Err() == nil {
			s.deps.Failures.NotifyFailure(ctx, userID, err)
		}
	}

	if s.deps.Runs != nil {
		rctx, cancel := s.detached()
		defer cancel()
		if rerr := s.deps.Runs.Record(rctx, run); rerr != nil {
			log.WithError(rerr).Warn("failed to record run")
		}
	}
}

// runOnce processes the batch and clears the markers before returning, panic
// or not. Nothing slow may run between the buffer clear and the marker clear.
func (s *Scheduler) runOnce(ctx context.Context, userID string, delay time.Duration, run *models.BatchRun, log *logrus.Entry) (err error) {
	defer s.clearMarkers(userID, log)
	defer func() {
		if r := recover(); r != nil {
			err = utils.E(utils.CodeProcessing, "Scheduler.runOnce", "processing panicked", fmt.Errorf("%v", r))
		}
	}()

	run.Status, run.MessageCount, err = s.process(ctx, userID, delay, log)
	return err
}

func (s *Scheduler) process(ctx context.Context, userID string, delay time.Duration, log *logrus.Entry) (models.RunStatus, int, error) {
	const op = "Scheduler.process"

	err := utils.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.deps.Markers.SetProcessing(ctx, userID, 2*delay)
	})
	if err != nil {
		return models.RunFailed, 0, utils.Wrap(op, "failed to set processing marker", err)
	}

	pending, err := s.deps.Buffers.Pending(ctx, userID)
	if err != nil {
		return models.RunFailed, 0, utils.Wrap(op, "failed to read pending messages", err)
	}
	if len(pending) == 0 {
		log.Info("no new messages to process")
		return models.RunEmpty, 0, nil
	}

	if err := s.deps.Limiter.Check(ctx, userID, s.cfg.RateLimit, s.cfg.RateWindow); err != nil {
		if utils.IsCode(err, utils.CodeRateLimited) {
			return models.RunRateLimited, len(pending), err
		}
		return models.RunFailed, len(pending), utils.Wrap(op, "failed to check rate limit", err)
	}

	texts := make([]string, len(pending))
	for i, m := range pending {
		texts[i] = m.Text
	}
	log.WithField("messages", len(texts)).Info("processing batch")

	result, err := s.invoke(ctx, userID, texts, log)
	if err != nil {
		return models.RunFailed, len(texts), utils.E(utils.CodeProcessing, op, "batch processor failed", err)
	}

	if s.deps.Sink != nil {
		if derr := s.deps.Sink.Deliver(ctx, userID, result); derr != nil {
			log.WithError(derr).Error("failed to deliver response")
		}
	} else {
		log.Warn("no response sink configured, result dropped")
	}

	if err := s.deps.Buffers.MarkProcessed(ctx, userID, s.now()); err != nil {
		return models.RunFailed, len(texts), utils.Wrap(op, "failed to mark batch processed", err)
	}
	return models.RunDone, len(texts), nil
}

// invoke runs the processor between presence on/off signals.
func (s *Scheduler) invoke(ctx context.Context, userID string, texts []string, log *logrus.Entry) (string, error) {
	if p := s.deps.Presence; p != nil {
		if err := p.SetIndicator(ctx, userID, true); err != nil {
			log.WithError(err).Debug("presence on failed")
		}
		defer func() {
			pctx, cancel := s.detached()
			defer cancel()
			if err := p.SetIndicator(pctx, userID, false); err != nil {
				log.WithError(err).Debug("presence off failed")
			}
		}()
	}
	return s.deps.Processor.Process(ctx, userID, texts)
}

// clearMarkers deletes processing:U then scheduled:U. Failures are only
// logged; both keys carry TTLs.
func (s *Scheduler) clearMarkers(userID string, log *logrus.Entry) {
	ctx, cancel := s.detached()
	defer cancel()

	if err := utils.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.deps.Markers.ClearProcessing(ctx, userID)
	}); err != nil {
		log.WithError(err).Error("failed to clear processing marker")
	}
	if err := utils.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.deps.Markers.ClearSchedule(ctx, userID)
	}); err != nil {
		log.WithError(err).Error("failed to clear schedule marker")
	}
}

func (s *Scheduler) detached() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.CleanupTimeout)
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SchedulerStatus is a point-in-time view of one user's coordination state.
type SchedulerStatus struct {
	Scheduled  bool `json:"scheduled"`
	Processing bool `json:"processing"`
	Pending    int  `json:"pending"`
}

func (s *Scheduler) Status(ctx context.Context, userID string) (*SchedulerStatus, error) {
	const op = "Scheduler.Status"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	var st SchedulerStatus
	var err error
	if st.Scheduled, err = s.deps.Markers.IsScheduled(ctx, userID); err != nil {
		return nil, utils.Wrap(op, "failed to read schedule marker", err)
	}
	if st.Processing, err = s.deps.Markers.IsProcessing(ctx, userID); err != nil {
		return nil, utils.Wrap(op, "failed to read processing marker", err)
	}
	pending, err := s.deps.Buffers.Pending(ctx, userID)
	if err != nil {
		return nil, utils.Wrap(op, "failed to read buffer", err)
	}
	st.Pending = len(pending)
	return &st, nil
}

// Shutdown stops new submissions and waits for in-flight runs. If ctx ends
// first, pending runs are cancelled (their markers are still cleared) and
// Shutdown waits for them to exit before returning ctx's error.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
