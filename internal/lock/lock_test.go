package lock

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/shaiso/wip/internal/repo"
)

// clock — управляемое время для проверки истечения lease.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newSQLPair(t *testing.T) (*SQLLocker, *SQLLocker, *clock) {
	t.Helper()
	db := openDB(t)
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	a := NewSQLLocker(SQLConfig{DB: db, Dialect: repo.SQLite, Owner: "worker-a", Now: clk.Now})
	b := NewSQLLocker(SQLConfig{DB: db, Dialect: repo.SQLite, Owner: "worker-b", Now: clk.Now})
	require.NoError(t, a.EnsureSchema(context.Background()))
	return a, b, clk
}

func TestKey(t *testing.T) {
	assert.Equal(t, "update-7", Key(PrefixUpdate, 7))
	assert.Equal(t, "exec-42", Key(PrefixExec, 42))
}

func TestSQLLocker_ExclusiveUntilRelease(t *testing.T) {
	ctx := context.Background()
	a, b, _ := newSQLPair(t)
	key := Key(PrefixUpdate, 7)

	ok, err := a.Acquire(ctx, key, 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "worker A must acquire a free lock")

	ok, err = b.Acquire(ctx, key, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "worker B must not acquire while A holds it")

	mine, err := a.IsMine(ctx, key)
	require.NoError(t, err)
	assert.True(t, mine)
	mine, err = b.IsMine(ctx, key)
	require.NoError(t, err)
	assert.False(t, mine)

	released, err := b.Release(ctx, key)
	require.NoError(t, err)
	assert.False(t, released, "B cannot release A's lock")

	released, err = a.Release(ctx, key)
	require.NoError(t, err)
	assert.True(t, released)

	free, err := b.IsFree(ctx, key)
	require.NoError(t, err)
	assert.True(t, free)

	ok, err = b.Acquire(ctx, key, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "worker B must acquire after release")
}

func TestSQLLocker_NotReentrant(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newSQLPair(t)
	key := Key(PrefixUpdate, 7)

	ok, err := a.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held key is not taken again by the same owner")
}

func TestSQLLocker_SharedLockerOneWinner(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newSQLPair(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := a.Acquire(ctx, "update-7", time.Minute)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load(), "two goroutines of one process must not both hold the lock")
}

func TestSQLLocker_Extend(t *testing.T) {
	ctx := context.Background()
	a, b, clk := newSQLPair(t)

	ok, err := a.Acquire(ctx, "exec-scheduler", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(800 * time.Millisecond)
	ok, err = a.Extend(ctx, "exec-scheduler", time.Second)
	require.NoError(t, err)
	require.True(t, ok, "owner extends a live lease")

	clk.Advance(800 * time.Millisecond)
	ok, err = b.Acquire(ctx, "exec-scheduler", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "extended lease is still held")

	ok, err = b.Extend(ctx, "exec-scheduler", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "foreign lease is not extended")

	clk.Advance(2 * time.Second)
	ok, err = a.Extend(ctx, "exec-scheduler", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "expired lease is not revived")
}

func TestSQLLocker_LeaseExpires(t *testing.T) {
	ctx := context.Background()
	a, b, clk := newSQLPair(t)
	key := Key(PrefixUpdate, 1)

	ok, err := a.Acquire(ctx, key, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(time.Second)

	free, err := b.IsFree(ctx, key)
	require.NoError(t, err)
	assert.True(t, free, "expired lease is free")

	ok, err = b.Acquire(ctx, key, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "B takes over an expired lease")

	mine, err := a.IsMine(ctx, key)
	require.NoError(t, err)
	assert.False(t, mine, "A lost the lock")

	n, err := a.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "live lease is not swept")
}

func TestSQLLocker_ConcurrentAcquireOnlyOne(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	first := NewSQLLocker(SQLConfig{DB: db, Dialect: repo.SQLite})
	require.NoError(t, first.EnsureSchema(ctx))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := NewSQLLocker(SQLConfig{DB: db, Dialect: repo.SQLite})
			ok, err := l.Acquire(ctx, "update-99", time.Minute)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSQLLocker_InvalidArguments(t *testing.T) {
	a, _, _ := newSQLPair(t)
	_, err := a.Acquire(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = a.Acquire(context.Background(), "update-1", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestRunAtomic(t *testing.T) {
	ctx := context.Background()
	a, b, _ := newSQLPair(t)
	key := Key(PrefixUpdate, 5)

	t.Run("returns result and releases", func(t *testing.T) {
		got, err := RunAtomic(ctx, a, key, time.Minute, func(ctx context.Context) (int, error) {
			mine, err := a.IsMine(ctx, key)
			require.NoError(t, err)
			assert.True(t, mine)
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)

		free, err := a.IsFree(ctx, key)
		require.NoError(t, err)
		assert.True(t, free)
	})

	t.Run("releases on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := Do(ctx, a, key, time.Minute, func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)

		free, err := a.IsFree(ctx, key)
		require.NoError(t, err)
		assert.True(t, free)
	})

	t.Run("not acquired skips fn", func(t *testing.T) {
		ok, err := b.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		defer b.Release(ctx, key)

		called := false
		err = Do(ctx, a, key, time.Minute, func(context.Context) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ErrNotAcquired)
		assert.False(t, called)
	})
}

func TestNoop(t *testing.T) {
	ok, err := Noop{}.Acquire(context.Background(), "update-1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestRedisLocker выполняется при заданном REDIS_URL.
func TestRedisLocker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	prefix := "wip:test:" + NewOwner() + ":"
	a := NewRedisLocker(RedisConfig{Client: client, Prefix: prefix})
	b := NewRedisLocker(RedisConfig{Client: client, Prefix: prefix})
	key := Key(PrefixUpdate, 7)

	ok, err := a.Acquire(ctx, key, 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx, key, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Acquire(ctx, key, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "not reentrant")

	ok, err = a.Extend(ctx, key, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	released, err := a.Release(ctx, key)
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = b.Acquire(ctx, key, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	mine, err := b.IsMine(ctx, key)
	require.NoError(t, err)
	assert.True(t, mine)
	_, _ = b.Release(ctx, key)
}
