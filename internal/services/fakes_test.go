package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/yoockh/yoobatch/internal/kvstore"
	"github.com/yoockh/yoobatch/internal/models"
	"github.com/yoockh/yoobatch/internal/repositories/coord"
	"github.com/yoockh/yoobatch/internal/utils"
)

type recordingProcessor struct {
	mu    sync.Mutex
	calls [][]string
	err   error
	fn    func(texts []string)
}

func (p *recordingProcessor) Process(_ context.Context, _ string, texts []string) (string, error) {
	if p.fn != nil {
		p.fn(texts)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := append([]string(nil), texts...)
	p.calls = append(p.calls, cp)
	if p.err != nil {
		return "", p.err
	}
	return "echo: " + strings.Join(texts, " "), nil
}

func (p *recordingProcessor) Calls() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.calls...)
}

type recordingSink struct {
	mu        sync.Mutex
	delivered []string
	presence  []bool
	failures  []error
	runs      []models.BatchRun
}

func (s *recordingSink) Deliver(_ context.Context, _ string, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, result)
	return nil
}

func (s *recordingSink) SetIndicator(_ context.Context, _ string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, active)
	return nil
}

func (s *recordingSink) NotifyFailure(_ context.Context, _ string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

func (s *recordingSink) Record(_ context.Context, run *models.BatchRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *recordingSink) Runs() []models.BatchRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.BatchRun(nil), s.runs...)
}

func (s *recordingSink) Failures() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.failures...)
}

func (s *recordingSink) Delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.delivered...)
}

// fastRetry keeps retrying tests quick.
func fastRetry() utils.RetryPolicy {
	return utils.RetryPolicy{Attempts: 3, InitialDelay: time.Millisecond, Multiplier: 1.5, MaxDelay: 5 * time.Millisecond}
}

// newStore runs the coordination store against an in-process Redis. Key TTLs
// only move when the test calls FastForward.
func newStore(t *testing.T) (*kvstore.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return kvstore.NewRedisStore(rdb), mr
}

type harness struct {
	store     *kvstore.RedisStore
	mr        *miniredis.Miniredis
	keys      coord.Keys
	markers   coord.MarkerRepository
	buffers   BufferService
	limiter   *RateLimiter
	processor *recordingProcessor
	sink      *recordingSink
	scheduler *Scheduler
	logs      *test.Hook
}

func newHarness(t *testing.T, delay time.Duration, limit int) *harness {
	return newHarnessWith(t, delay, limit, nil)
}

// newHarnessWith lets a test replace collaborators before the scheduler is built.
func newHarnessWith(t *testing.T, delay time.Duration, limit int, tweak func(*SchedulerDeps)) *harness {
	t.Helper()

	store, mr := newStore(t)
	keys := coord.Keys{}
	markers := coord.NewMarkerRepo(store, keys)
	buffers := NewBufferService(coord.NewBufferRepo(store, keys), markers, 300*time.Second, fastRetry())

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		store:     store,
		mr:        mr,
		keys:      keys,
		markers:   markers,
		buffers:   buffers,
		limiter:   NewRateLimiter(store, keys),
		processor: &recordingProcessor{},
		sink:      &recordingSink{},
		logs:      hook,
	}

	deps := SchedulerDeps{
		Buffers:   h.buffers,
		Markers:   h.markers,
		Limiter:   h.limiter,
		Processor: h.processor,
		Sink:      h.sink,
		Presence:  h.sink,
		Failures:  h.sink,
		Runs:      h.sink,
		Logger:    logger,
	}
	if tweak != nil {
		tweak(&deps)
	}

	s, err := NewScheduler(deps, SchedulerConfig{
		DebounceDelay: delay,
		RateLimit:     limit,
		RateWindow:    time.Minute,
		Retry:         fastRetry(),
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	h.scheduler = s
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return h
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
