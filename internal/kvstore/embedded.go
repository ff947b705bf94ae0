package kvstore

import (
	"context"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// Embedded is an in-process Redis for single-instance runs. It serves the
// same RedisStore scripts a real server would, plus the stream and pub/sub
// commands the notifier and run archiver need.
type Embedded struct {
	*RedisStore
	Server *miniredis.Miniredis
	Client *redis.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartEmbedded starts the server and a clock that advances key TTLs with wall
// time every tick. miniredis itself only expires keys when told to.
func StartEmbedded(tick time.Duration) (*Embedded, error) {
	srv, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}

	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	ctx, cancel := context.WithCancel(context.Background())
	e := &Embedded{
		RedisStore: NewRedisStore(rdb),
		Server:     srv,
		Client:     rdb,
		cancel:     cancel,
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runClock(ctx, tick)
	}()
	return e, nil
}

func (e *Embedded) runClock(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			e.Server.FastForward(now.Sub(last))
			e.Server.SetTime(now)
			last = now
		}
	}
}

// Close stops the clock, then the client and the server.
func (e *Embedded) Close() error {
	e.cancel()
	e.wg.Wait()
	err := e.Client.Close()
	e.Server.Close()
	return err
}
