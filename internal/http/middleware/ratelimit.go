// Package middleware holds HTTP middleware shared by the edge processes.
package middleware

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateConfig is a token bucket: sustained requests per second plus burst
// capacity.
type RateConfig struct {
	Rate  float64
	Burst float64
}

// RateLimiter applies per-client token buckets backed by Redis, with
// separate budgets for reads and writes. The bucket state lives in a hash
// updated by one Lua script so concurrent edges share a consistent budget.
type RateLimiter struct {
	client *redis.Client
	read   RateConfig
	write  RateConfig
	script *redis.Script
}

// NewRateLimiter constructs the limiter; a nil client disables it.
func NewRateLimiter(client *redis.Client, read, write RateConfig) *RateLimiter {
	if client == nil {
		return nil
	}
	return &RateLimiter{client: client, read: read, write: write, script: redis.NewScript(tokenBucketLua)}
}

// Middleware enforces the budget and sets Retry-After on rejection.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || (l.read.Rate <= 0 && l.write.Rate <= 0) {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg, scope := l.write, "write"
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			cfg, scope = l.read, "read"
		}
		if cfg.Rate <= 0 || cfg.Burst <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		allowed, retryAfter, err := l.allow(r.Context(), scope, clientIdentifier(r), cfg)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			}
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(ctx context.Context, scope, identifier string, cfg RateConfig) (bool, time.Duration, error) {
	key := strings.Join([]string{"rl", scope, identifier}, ":")
	result, err := l.script.Run(ctx, l.client, []string{key},
		time.Now().UnixMilli(), cfg.Rate, cfg.Burst, 1).Result()
	if err != nil {
		return false, 0, err
	}
	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, errors.New("invalid rate limit reply")
	}
	allowed, _ := values[0].(int64)
	waitMS, _ := values[1].(int64)
	if allowed != 1 {
		return false, time.Duration(waitMS) * time.Millisecond, nil
	}
	return true, 0, nil
}

func clientIdentifier(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// tokenBucketLua refills the bucket by elapsed time, then takes one token.
// Returns {allowed, wait_ms}.
const tokenBucketLua = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'timestamp')
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now_ms

local delta = math.max(0, now_ms - last)
tokens = math.min(capacity, tokens + delta * rate / 1000)

local allowed = 0
local wait_ms = 0
if tokens >= requested then
  allowed = 1
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000 / rate)
end

redis.call('HMSET', key, 'tokens', tokens, 'timestamp', now_ms)
redis.call('PEXPIRE', key, math.ceil(capacity / rate * 1000))

return {allowed, wait_ms}
`
