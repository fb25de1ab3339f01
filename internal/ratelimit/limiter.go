// Package ratelimit applies a fixed one-second request window per caller in Redis.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/codementor/integrity/internal/auth"
)

type Limiter struct {
	redis             *redis.Client
	requestsPerSecond int
	prefix            string
}

// NewLimiter returns a limiter allowing requestsPerSecond per key. A nil client or a
// non-positive limit disables limiting.
func NewLimiter(rdb *redis.Client, requestsPerSecond int) *Limiter {
	return &Limiter{
		redis:             rdb,
		requestsPerSecond: requestsPerSecond,
		prefix:            "integrity:ratelimit:",
	}
}

// Allow counts one request for key. Redis failures allow the request.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.redis == nil || l.requestsPerSecond <= 0 {
		return true
	}
	k := l.prefix + key

	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		log.Warn().Err(err).Msg("Rate limit check failed, allowing request")
		return true
	}

	// Set expiry on first request
	if count == 1 {
		l.redis.Expire(ctx, k, time.Second)
	}

	return count <= int64(l.requestsPerSecond)
}

// Middleware limits by the authenticated user id, falling back to the remote address.
// It must run after auth.Middleware.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if id, ok := auth.FromContext(r.Context()); ok {
			key = "user:" + id.UserID
		}
		if !l.Allow(r.Context(), key) {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
