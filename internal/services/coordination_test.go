package services

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yoobatch/internal/models"
	"github.com/yoockh/yoobatch/internal/repositories/coord"
	"github.com/yoockh/yoobatch/internal/utils"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)
	rl := NewRateLimiter(store, coord.Keys{})

	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Check(ctx, "42", 5, 60*time.Second), "attempt %d", i+1)
		mr.FastForward(5 * time.Second)
	}
	err := rl.Check(ctx, "42", 5, 60*time.Second)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeRateLimited))

	// the window is anchored at the first attempt
	mr.FastForward(36 * time.Second)
	assert.NoError(t, rl.Check(ctx, "42", 5, 60*time.Second))

	// other users are independent
	assert.NoError(t, rl.Check(ctx, "43", 5, 60*time.Second))
}

func TestRateLimiterDisabled(t *testing.T) {
	store, _ := newStore(t)
	rl := NewRateLimiter(store, coord.Keys{})
	for i := 0; i < 50; i++ {
		require.NoError(t, rl.Check(context.Background(), "42", 0, time.Minute))
	}
}

func TestBufferServicePendingFiltersByWatermark(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	markers := coord.NewMarkerRepo(store, coord.Keys{})
	svc := NewBufferService(coord.NewBufferRepo(store, coord.Keys{}), markers, time.Minute, fastRetry()).(*bufferService)

	t0 := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return t0 }
	_, err := svc.Append(ctx, "42", "old")
	require.NoError(t, err)

	_, err = markers.AdvanceWatermark(ctx, "42", models.UnixSeconds(t0))
	require.NoError(t, err)

	svc.now = func() time.Time { return t0.Add(time.Second) }
	_, err = svc.Append(ctx, "42", "new")
	require.NoError(t, err)

	pending, err := svc.Pending(ctx, "42")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "new", pending[0].Text)

	require.NoError(t, svc.MarkProcessed(ctx, "42", t0.Add(2*time.Second)))
	pending, err = svc.Pending(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// the watermark never moves backwards
	require.NoError(t, svc.MarkProcessed(ctx, "42", t0))
	wm, err := markers.Watermark(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, models.UnixSeconds(t0.Add(2*time.Second)), wm)
}

func TestBufferServiceAppendRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)
	svc := NewBufferService(coord.NewBufferRepo(store, coord.Keys{}), coord.NewMarkerRepo(store, coord.Keys{}), 300*time.Second, fastRetry())

	_, err := svc.Append(ctx, "42", "a")
	require.NoError(t, err)
	mr.FastForward(200 * time.Second)
	_, err = svc.Append(ctx, "42", "b")
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, mr.TTL("buffer:42"))
}

func TestLockServiceExclusiveAndTokenChecked(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	locks := NewLockService(store, coord.Keys{})

	ok, l1, err := locks.Acquire(ctx, "42", time.Minute, false, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lock:42", l1.Key())

	ok, l2, err := locks.Acquire(ctx, "42", time.Minute, false, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, l2)

	// blocking with a short budget gives up without error
	start := time.Now()
	ok, _, err = locks.Acquire(ctx, "42", time.Minute, true, 150*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	require.NoError(t, l1.Release(ctx))
	err = l1.Release(ctx)
	assert.True(t, utils.IsCode(err, utils.CodeLockFailed))
}

func TestLockServiceBlockingAcquiresAfterRelease(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	locks := NewLockService(store, coord.Keys{})

	_, held, err := locks.Acquire(ctx, "42", time.Minute, false, 0)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Release(context.Background())
	}()

	ok, l, err := locks.Acquire(ctx, "42", time.Minute, true, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.Release(ctx))
}

func TestLockServiceExpiredLockCannotBeReleasedByOldHolder(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)
	locks := NewLockService(store, coord.Keys{})

	_, old, err := locks.Acquire(ctx, "42", time.Second, false, 0)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	ok, fresh, err := locks.Acquire(ctx, "42", time.Second, false, 0)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, utils.IsCode(old.Release(ctx), utils.CodeLockFailed))
	exists, err := store.Exists(ctx, fresh.Key())
	require.NoError(t, err)
	assert.True(t, exists, "old holder must not delete the new lock")
}

func TestLockServiceContextCancelled(t *testing.T) {
	store, _ := newStore(t)
	locks := NewLockService(store, coord.Keys{})
	_, _, err := locks.Acquire(context.Background(), "42", time.Minute, false, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, _, err = locks.Acquire(ctx, "42", time.Minute, true, 0)
	assert.True(t, utils.IsCode(err, utils.CodeTimeout))
}

type fakeEvictor struct{ evicted []string }

func (f *fakeEvictor) Evict(userID string) bool {
	f.evicted = append(f.evicted, userID)
	return true
}

func TestResetServiceClearsUserState(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	keys := coord.Keys{}
	markers := coord.NewMarkerRepo(store, keys)
	buffers := NewBufferService(coord.NewBufferRepo(store, keys), markers, time.Minute, fastRetry())
	evictor := &fakeEvictor{}
	logger, _ := test.NewNullLogger()

	svc := NewResetService(NewLockService(store, keys), buffers, markers, nil, evictor, logger)

	_, err := buffers.Append(ctx, "42", "hi")
	require.NoError(t, err)
	_, err = markers.Schedule(ctx, "42", time.Now(), time.Minute)
	require.NoError(t, err)
	_, err = markers.AdvanceWatermark(ctx, "42", 12)
	require.NoError(t, err)

	res, err := svc.Reset(ctx, "42")
	require.NoError(t, err)
	assert.True(t, res.HandleEvicted)
	assert.Equal(t, []string{"42"}, evictor.evicted)

	for _, key := range []string{"buffer:42", "scheduled:42", "last_processed:42", "lock:42"} {
		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, key)
	}
}

func TestResetServiceBusyLock(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	keys := coord.Keys{}
	markers := coord.NewMarkerRepo(store, keys)
	buffers := NewBufferService(coord.NewBufferRepo(store, keys), markers, time.Minute, fastRetry())
	locks := NewLockService(store, keys)
	logger, _ := test.NewNullLogger()

	svc := NewResetService(locks, buffers, markers, nil, nil, logger)
	svc.LockWaitTime = 50 * time.Millisecond

	_, held, err := locks.Acquire(ctx, "42", time.Minute, false, 0)
	require.NoError(t, err)
	defer held.Release(ctx)

	_, err = svc.Reset(ctx, "42")
	assert.True(t, utils.IsCode(err, utils.CodeLockFailed))
}
