// Package handlecache keeps one long-lived handle per user in process memory
// and drops handles that have not been touched for a while.
package handlecache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Factory builds the handle for a user on first use.
type Factory[H any] func(ctx context.Context, userID string) (H, error)

type Options[H any] struct {
	IdleTimeout   time.Duration // default 30m
	SweepInterval time.Duration // default 5m
	// OnEvict runs outside the cache lock for every removed handle.
	OnEvict func(userID string, h H)
	Logger  *logrus.Logger
}

type entry[H any] struct {
	handle     H
	lastAccess time.Time
}

// Cache is safe for concurrent use. Handles are process-local: each instance
// holds its own and they are never shared through the coordination store.
type Cache[H any] struct {
	factory Factory[H]
	opts    Options[H]
	log     *logrus.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry[H]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New[H any](factory Factory[H], opts Options[H]) *Cache[H] {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache[H]{
		factory: factory,
		opts:    opts,
		log:     opts.Logger,
		now:     time.Now,
		entries: make(map[string]*entry[H]),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// GetOrCreate returns the user's handle, building it if needed, and marks it
// as used now.
func (c *Cache[H]) GetOrCreate(ctx context.Context, userID string) (H, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[userID]; ok {
		e.lastAccess = c.now()
		return e.handle, nil
	}

	h, err := c.factory(ctx, userID)
	if err != nil {
		var zero H
		return zero, err
	}
	c.entries[userID] = &entry[H]{handle: h, lastAccess: c.now()}
	c.log.WithField("user_id", userID).Debug("handle created")
	return h, nil
}

// Evict removes the user's handle. It reports whether one was present.
func (c *Cache[H]) Evict(userID string) bool {
	c.mu.Lock()
	e, ok := c.entries[userID]
	if ok {
		delete(c.entries, userID)
	}
	c.mu.Unlock()

	if ok && c.opts.OnEvict != nil {
		c.opts.OnEvict(userID, e.handle)
	}
	return ok
}

func (c *Cache[H]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep drops every handle idle for longer than IdleTimeout and returns how
// many were removed.
func (c *Cache[H]) Sweep() int {
	cutoff := c.now().Add(-c.opts.IdleTimeout)

	c.mu.Lock()
	var stale map[string]H
	for id, e := range c.entries {
		if e.lastAccess.Before(cutoff) {
			if stale == nil {
				stale = make(map[string]H)
			}
			stale[id] = e.handle
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()

	for id, h := range stale {
		if c.opts.OnEvict != nil {
			c.opts.OnEvict(id, h)
		}
	}
	if len(stale) > 0 {
		c.log.WithField("evicted", len(stale)).Info("evicted idle handles")
	}
	return len(stale)
}

// Start runs Sweep every SweepInterval until Shutdown.
func (c *Cache[H]) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.opts.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the sweeper and evicts every remaining handle.
func (c *Cache[H]) Shutdown() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	all := c.entries
	c.entries = make(map[string]*entry[H])
	c.mu.Unlock()

	for id, e := range all {
		if c.opts.OnEvict != nil {
			c.opts.OnEvict(id, e.handle)
		}
	}
}
