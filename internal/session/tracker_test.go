package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func trackers(t *testing.T) map[string]Tracker {
	_, rdb := newRedis(t)
	return map[string]Tracker{
		"memory": NewMemoryTracker(),
		"redis":  NewRedisTracker(rdb, time.Hour),
	}
}

func TestTracker_GetOrInitUnknownKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			s, err := tr.GetOrInit(context.Background(), "s-1", now)
			require.NoError(t, err)
			assert.True(t, s.Fresh())
			assert.True(t, now.Equal(s.Time))
			assert.Zero(t, s.Length)
			assert.Zero(t, s.Newlines)
			assert.Empty(t, s.Hash)
		})
	}
}

func TestTracker_GetOrInitHasNoSideEffect(t *testing.T) {
	now := time.Now().UTC()
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := tr.GetOrInit(ctx, "s-1", now)
			require.NoError(t, err)

			later := now.Add(time.Minute)
			s, err := tr.GetOrInit(ctx, "s-1", later)
			require.NoError(t, err)
			assert.True(t, later.Equal(s.Time), "init time must not be stored")
		})
	}
}

func TestTracker_UpdateOverwrites(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, tr.Update(ctx, "s-1", State{Time: now, Length: 40, Newlines: 3, Hash: "abc", Events: 2}))
			require.NoError(t, tr.Update(ctx, "s-1", State{Time: now.Add(time.Second), Length: 12, Events: 3}))

			s, err := tr.GetOrInit(ctx, "s-1", now.Add(time.Hour))
			require.NoError(t, err)
			assert.False(t, s.Fresh())
			assert.True(t, now.Add(time.Second).Equal(s.Time))
			assert.Equal(t, 12, s.Length)
			assert.Equal(t, 0, s.Newlines)
			assert.Empty(t, s.Hash)
			assert.EqualValues(t, 3, s.Events)
		})
	}
}

func TestTracker_KeysAreIsolated(t *testing.T) {
	now := time.Now().UTC()
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, tr.Update(ctx, "a", State{Time: now, Length: 100, Events: 1}))

			s, err := tr.GetOrInit(ctx, "b", now)
			require.NoError(t, err)
			assert.True(t, s.Fresh())
			assert.Zero(t, s.Length)
		})
	}
}

func TestRedisTracker_SetsTTL(t *testing.T) {
	mr, rdb := newRedis(t)
	tr := NewRedisTracker(rdb, 30*time.Minute)

	require.NoError(t, tr.Update(context.Background(), "s-1", State{Time: time.Now(), Length: 5, Events: 1}))
	assert.Equal(t, 30*time.Minute, mr.TTL("integrity:state:s-1"))

	mr.FastForward(31 * time.Minute)
	s, err := tr.GetOrInit(context.Background(), "s-1", time.Now())
	require.NoError(t, err)
	assert.True(t, s.Fresh())
}

func TestRedisTracker_ReadFailure(t *testing.T) {
	mr, rdb := newRedis(t)
	tr := NewRedisTracker(rdb, time.Hour)
	mr.Close()

	_, err := tr.GetOrInit(context.Background(), "s-1", time.Now())
	assert.Error(t, err)
}

func TestParseStateData_IgnoresGarbage(t *testing.T) {
	now := time.Now().UTC()
	s := parseStateData(map[string]string{
		"time":     "nope",
		"length":   "-4",
		"newlines": "x",
		"events":   "7",
	}, now)
	assert.True(t, now.Equal(s.Time))
	assert.Zero(t, s.Length)
	assert.Zero(t, s.Newlines)
	assert.EqualValues(t, 7, s.Events)
}

func TestState_Snapshot(t *testing.T) {
	snap := State{Length: 30, Newlines: 2}.Snapshot()
	assert.False(t, snap.HasText)
	assert.Equal(t, 30, snap.Length)
	assert.Equal(t, 2, snap.Newlines)
}
