package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/pdftext/internal/common"
)

// counterStore is the subset of the redis client the limiter needs.
type counterStore interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// RateLimiter is a fixed-window counter per owner kept in redis.
type RateLimiter struct {
	store     counterStore
	limit     int
	window    time.Duration
	keyPrefix string
	logger    *slog.Logger
}

func NewRateLimiter(store counterStore, limit int, window time.Duration, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{store: store, limit: limit, window: window, keyPrefix: "pdftext:rl:upload:", logger: logger}
}

// Middleware limits requests per authenticated owner. Redis errors let the
// request through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		owner := common.OwnerIDFromContext(ctx)
		if owner == "" {
			owner = "anonymous"
		}
		key := l.keyPrefix + owner

		count, err := l.store.Incr(ctx, key).Result()
		if err != nil {
			l.logger.Warn("rate limiter unavailable, allowing request", "owner_id", owner, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			l.store.Expire(ctx, key, l.window)
		}

		reset := 0
		if ttl, err := l.store.TTL(ctx, key).Result(); err == nil && ttl > 0 {
			reset = int(ttl.Seconds())
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(reset))

		if count > int64(l.limit) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(reset))
			writeError(w, r, l.logger, common.NewAppError("RATE_LIMITED",
				fmt.Sprintf("upload limit of %d per %s exceeded", l.limit, l.window), common.ErrRateLimited))
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.limit-int(count)))
		next.ServeHTTP(w, r)
	})
}
