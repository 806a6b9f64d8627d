package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
	"github.com/utafrali/rentchain/pkg/httputil"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit rejects requests with 429 once the caller's IP exceeds the limiter's
// budget. Limiter errors are logged and the request is let through, so a Redis
// outage degrades to no limiting rather than no service.
func RateLimit(limiter Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := httputil.ClientIP(r)

			ok, err := limiter.Allow(r.Context(), ip)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					slog.String("ip", ip),
					slog.String("error", err.Error()),
				)
				ok = true
			}
			if !ok {
				rateLimitedTotal.WithLabelValues(r.URL.Path).Inc()
				logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				httputil.WriteError(w, r, apperrors.RateLimited("too many requests, retry later"), logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// --- In-memory limiter ---

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter keeps one token bucket per key in process memory. Idle keys are
// evicted by a background loop until Close is called.
type LocalLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	nowFunc  func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLocalLimiter allows requests per window for each key, refilling evenly
// across the window (5 per minute = one token every 12s, burst 5).
func NewLocalLimiter(requests int, window time.Duration) *LocalLimiter {
	l := &LocalLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
		ttl:      3 * window,
		nowFunc:  time.Now,
		stop:     make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1), nil
}

// Close stops the eviction loop.
func (l *LocalLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *LocalLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *LocalLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, key)
		}
	}
}

func (l *LocalLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// --- Redis limiter ---

// RedisLimiter is a fixed-window counter shared by every replica.
type RedisLimiter struct {
	client  redis.Cmdable
	prefix  string
	limit   int64
	window  time.Duration
	nowFunc func() time.Time
}

// NewRedisLimiter allows requests per window for each key. Keys are namespaced by prefix.
func NewRedisLimiter(client redis.Cmdable, prefix string, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:  client,
		prefix:  prefix,
		limit:   int64(requests),
		window:  window,
		nowFunc: time.Now,
	}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := l.nowFunc().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, bucket)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("increment rate limit counter: %w", err)
	}
	return incr.Val() <= l.limit, nil
}
