// Package workers moves batch run records from a Redis stream into the run
// archive so the scheduler never waits on Mongo.
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoobatch/internal/models"
	"github.com/yoockh/yoobatch/internal/services"
	"github.com/yoockh/yoobatch/internal/utils"
)

const DefaultStream = "runs:stream"

// RunQueue is a services.RunRecorder that appends runs to a Redis stream.
type RunQueue struct {
	Redis  *redis.Client
	Stream string
	MaxLen int64 // approximate cap, default 10000
}

func (q *RunQueue) Record(ctx context.Context, run *models.BatchRun) error {
	const op = "RunQueue.Record"

	b, err := json.Marshal(run)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to encode run", err)
	}
	maxLen := q.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	if err := q.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"user_id": run.UserID,
			"run":     string(b),
		},
	}).Err(); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to enqueue run", err)
	}
	return nil
}

// RunArchiverPool drains the stream with a consumer group and records each
// run through Archive. Entries are acked only once archived; undecodable
// entries are acked and dropped. Entries left pending longer than
// ClaimMinIdle (a failed archive, or a consumer that died) are claimed again
// every ClaimInterval.
type RunArchiverPool struct {
	Redis      *redis.Client
	Archive    services.RunRecorder
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string // default <hostname>-<random>, unique per process
	Block          time.Duration

	ClaimInterval time.Duration
	ClaimMinIdle  time.Duration

	wg sync.WaitGroup
}

func defaultConsumerPrefix() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "archiver"
	}
	return host + "-" + uuid.NewString()[:8]
}

func (p *RunArchiverPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Archive == nil {
		return errors.New("RunArchiverPool missing dependency: Redis/Archive must be set")
	}
	if p.Stream == "" {
		p.Stream = DefaultStream
	}
	if p.Group == "" {
		p.Group = "run-archivers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = defaultConsumerPrefix()
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.Block <= 0 {
		p.Block = 5 * time.Second
	}
	if p.ClaimInterval <= 0 {
		p.ClaimInterval = 30 * time.Second
	}
	if p.ClaimMinIdle <= 0 {
		p.ClaimMinIdle = time.Minute
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runConsumer(ctx, consumer)
		}()
	}

	reclaimer := p.ConsumerPrefix + "-reclaim"
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runReclaimer(ctx, reclaimer)
	}()
	return nil
}

// Wait blocks until every consumer has returned after ctx ended.
func (p *RunArchiverPool) Wait() { p.wg.Wait() }

func (p *RunArchiverPool) runConsumer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := p.poll(ctx, consumer); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.Logger.WithError(err).WithField("consumer", consumer).Warn("run stream read failed")
			time.Sleep(500 * time.Millisecond)
		}
	}
}

func (p *RunArchiverPool) runReclaimer(ctx context.Context, consumer string) {
	t := time.NewTicker(p.ClaimInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.reclaim(ctx, consumer)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.Logger.WithError(err).WithField("consumer", consumer).Warn("run stream reclaim failed")
				continue
			}
			if n > 0 {
				p.Logger.WithField("acked", n).Info("archived reclaimed runs")
			}
		}
	}
}

// poll reads one batch for consumer and returns how many entries were acked.
func (p *RunArchiverPool) poll(ctx context.Context, consumer string) (int, error) {
	res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    p.Group,
		Consumer: consumer,
		Streams:  []string{p.Stream, ">"},
		Count:    10,
		Block:    p.Block,
	}).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, stream := range res {
		acked += p.settle(ctx, stream.Messages)
	}
	return acked, nil
}

// reclaim takes over every entry idle for at least ClaimMinIdle, walking the
// whole pending list, and returns how many were acked.
func (p *RunArchiverPool) reclaim(ctx context.Context, consumer string) (int, error) {
	acked := 0
	start := "0-0"
	for {
		msgs, next, err := p.Redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   p.Stream,
			Group:    p.Group,
			Consumer: consumer,
			MinIdle:  p.ClaimMinIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			return acked, err
		}
		acked += p.settle(ctx, msgs)
		if next == "" || next == "0-0" {
			return acked, nil
		}
		start = next
	}
}

// settle archives msgs and acks the ones that are done with.
func (p *RunArchiverPool) settle(ctx context.Context, msgs []redis.XMessage) int {
	acked := 0
	for _, msg := range msgs {
		if !p.handleMsg(ctx, msg) {
			continue
		}
		if err := p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err(); err == nil {
			acked++
		}
	}
	return acked
}

// handleMsg reports whether msg can be acked.
func (p *RunArchiverPool) handleMsg(ctx context.Context, msg redis.XMessage) bool {
	log := p.Logger.WithField("redis_id", msg.ID)

	raw, _ := msg.Values["run"].(string)
	var run models.BatchRun
	if err := json.Unmarshal([]byte(raw), &run); err != nil || run.UserID == "" {
		log.WithError(err).Warn("dropping undecodable run entry")
		return true
	}

	if err := p.Archive.Record(ctx, &run); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"user_id": run.UserID,
			"run_id":  run.RunID,
		}).Error("failed to archive run")
		return false
	}
	return true
}
