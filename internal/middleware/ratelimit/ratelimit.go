// Package ratelimit provides a per-IP token bucket middleware.
package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// staleAfter is how long an idle bucket survives before the janitor
// drops it.
const staleAfter = 10 * time.Minute

type Config struct {
	MaxRequestsPerMinute int
	WindowDuration       time.Duration
	Logger               *zap.Logger
}

type bucket struct {
	mu       sync.Mutex
	tokens   int
	refilled time.Time
}

type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	capacity int
	interval time.Duration // time to earn one token
	logger   *zap.Logger
	janitor  *time.Ticker
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = time.Minute
	}

	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		capacity: cfg.MaxRequestsPerMinute,
		interval: cfg.WindowDuration / time.Duration(cfg.MaxRequestsPerMinute),
		logger:   cfg.Logger,
		janitor:  time.NewTicker(5 * time.Minute),
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.allow(c.IP()) {
			return c.Next()
		}

		if rl.logger != nil {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
		}
		c.Set("Retry-After", rl.retryAfter())
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "Rate limit exceeded. Please try again later.",
		})
	}
}

func (rl *RateLimiter) Stop() {
	rl.janitor.Stop()
}

func (rl *RateLimiter) allow(key string) bool {
	b := rl.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	earned := int(now.Sub(b.refilled) / rl.interval)
	if earned > 0 {
		b.tokens = min(rl.capacity, b.tokens+earned)
		// Advance by whole tokens only so fractional progress carries
		// over to the next request.
		b.refilled = b.refilled.Add(time.Duration(earned) * rl.interval)
		if b.tokens == rl.capacity {
			b.refilled = now
		}
	}

	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

func (rl *RateLimiter) bucketFor(key string) *bucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.buckets[key]; ok {
		return b
	}
	b = &bucket{tokens: rl.capacity, refilled: time.Now()}
	rl.buckets[key] = b
	return b
}

func (rl *RateLimiter) retryAfter() string {
	secs := int(rl.interval.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (rl *RateLimiter) sweep() {
	for range rl.janitor.C {
		cutoff := time.Now().Add(-staleAfter)
		rl.mu.Lock()
		for key, b := range rl.buckets {
			b.mu.Lock()
			stale := b.refilled.Before(cutoff)
			b.mu.Unlock()
			if stale {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}
