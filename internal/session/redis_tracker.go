package session

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisTracker stores session state in one Redis hash per key so several ingestor
// instances share it.
type RedisTracker struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTracker creates a tracker on rdb. Entries expire ttl after their last update.
func NewRedisTracker(rdb *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisTracker{
		redis:  rdb,
		prefix: "integrity:state:",
		ttl:    ttl,
	}
}

// GetOrInit returns the stored state or {Time: now} when the hash is missing.
func (t *RedisTracker) GetOrInit(ctx context.Context, key string, now time.Time) (State, error) {
	data, err := t.redis.HGetAll(ctx, t.prefix+key).Result()
	if err != nil {
		return State{}, err
	}
	if len(data) == 0 {
		return State{Time: now}, nil
	}
	return parseStateData(data, now), nil
}

// Update overwrites the state for key and refreshes its TTL.
func (t *RedisTracker) Update(ctx context.Context, key string, state State) error {
	k := t.prefix + key

	pipe := t.redis.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k,
		"time", state.Time.UnixNano(),
		"length", state.Length,
		"newlines", state.Newlines,
		"hash", state.Hash,
		"events", state.Events,
	)
	pipe.Expire(ctx, k, t.ttl)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Error().Err(err).Str("session_key", key).Msg("Failed to update session state in Redis")
	}
	return err
}

func parseStateData(data map[string]string, now time.Time) State {
	s := State{Time: now}

	if v, ok := data["time"]; ok {
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.Time = time.Unix(0, ns).UTC()
		}
	}
	if v, ok := data["length"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.Length = n
		}
	}
	if v, ok := data["newlines"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			s.Newlines = n
		}
	}
	if v, ok := data["hash"]; ok {
		s.Hash = v
	}
	if v, ok := data["events"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.Events = n
		}
	}
	return s
}
