package coord

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yoobatch/internal/kvstore"
	"github.com/yoockh/yoobatch/internal/models"
)

func newStore(t *testing.T) *kvstore.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return kvstore.NewRedisStore(rdb)
}

func TestKeysMatchStoreLayout(t *testing.T) {
	k := Keys{}
	assert.Equal(t, "buffer:42", k.Buffer("42"))
	assert.Equal(t, "scheduled:42", k.Scheduled("42"))
	assert.Equal(t, "processing:42", k.Processing("42"))
	assert.Equal(t, "last_processed:42", k.LastProcessed("42"))
	assert.Equal(t, "rate:llm:42", k.RateLLM("42"))
	assert.Equal(t, "lock:42", k.Lock("42"))

	assert.Equal(t, "bot1:buffer:42", Keys{Prefix: "bot1:"}.Buffer("42"))
}

func TestBufferRepoKeepsArrivalOrder(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	repo := NewBufferRepo(store, Keys{})

	base := time.Unix(1_700_000_000, 0)
	for i, text := range []string{"hello", "world", "again"} {
		msg := models.NewBufferedMessage(text, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, repo.Append(ctx, "42", msg, 300*time.Second))
	}
	// a foreign, undecodable entry is ignored
	require.NoError(t, store.AppendWithTTL(ctx, "buffer:42", "{not json", 300*time.Second))

	got, err := repo.List(ctx, "42")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "again", got[2].Text)
	assert.Less(t, got[0].Timestamp, got[1].Timestamp)

	require.NoError(t, repo.Clear(ctx, "42"))
	got, err = repo.List(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarkerRepo(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	repo := NewMarkerRepo(store, Keys{})

	ok, err := repo.Schedule(ctx, "42", time.Unix(1_700_000_002, 0), 4*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Schedule(ctx, "42", time.Unix(1_700_000_003, 0), 4*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second schedule must lose the race")

	fire, found, err := store.Get(ctx, "scheduled:42")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1700000002", fire)

	wm, err := repo.Watermark(ctx, "42")
	require.NoError(t, err)
	assert.Zero(t, wm)

	_, err = repo.AdvanceWatermark(ctx, "42", 10.5)
	require.NoError(t, err)
	kept, err := repo.AdvanceWatermark(ctx, "42", 9)
	require.NoError(t, err)
	assert.Equal(t, 10.5, kept)

	require.NoError(t, repo.SetProcessing(ctx, "42", 4*time.Second))
	busy, err := repo.IsProcessing(ctx, "42")
	require.NoError(t, err)
	assert.True(t, busy)

	require.NoError(t, repo.Clear(ctx, "42"))
	for _, key := range []string{"scheduled:42", "processing:42", "last_processed:42"} {
		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, key)
	}
}
