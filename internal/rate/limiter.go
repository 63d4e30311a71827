// Package rate implements the sliding-window rate limiter over Redis sorted
// sets. Each check runs as a single Lua script so trim, count and insert are
// atomic per key under concurrent requests.
//
// The limiter fails open: when Redis is unreachable it admits everything,
// logs a warning, and stops probing the store for a cooldown. Availability
// is deliberately prioritized over strict limiting when the dependency is
// down; whether auth-sensitive deployments should fail closed instead is an
// open deployment question.
package rate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// checkScript performs one sliding-window admission atomically:
// drop entries older than the window, count survivors, reject when the
// budget is spent (returning the oldest surviving score for reset
// calculation), otherwise record the request and refresh the key TTL.
// Scores and the window are in milliseconds.
const checkScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, tonumber(ARGV[1]) - tonumber(ARGV[2]))
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[3]) then
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  return {0, count, oldest[2]}
end
redis.call("ZADD", KEYS[1], tonumber(ARGV[1]), ARGV[4])
redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[2]))
return {1, count, "0"}
`

var checkLua = redis.NewScript(checkScript)

// Rule pairs a path prefix with a request budget. The longest matching
// prefix wins; the default budget applies when none match.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Config holds limiter tuning parameters.
type Config struct {
	KeyPrefix        string
	Rules            []Rule
	DefaultLimit     int
	DefaultWindow    time.Duration
	FailOpenCooldown time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
}

// Result reports one admission decision. FailedOpen marks decisions made
// without the counter store during a fail-open window.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	FailedOpen bool
}

// Limiter enforces per-key sliding-window limits backed by Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config

	// suspendedUntil holds the unix-nano deadline of the current fail-open
	// window; zero when the store is believed healthy.
	suspendedUntil atomic.Int64
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl"
	}
	if cfg.FailOpenCooldown <= 0 {
		cfg.FailOpenCooldown = 30 * time.Second
	}
	return &Limiter{redis: redisClient, config: cfg}
}

// Budget returns the (limit, window) pair for a request path by longest
// prefix match against the configured rules.
func (l *Limiter) Budget(path string) (int, time.Duration) {
	limit, window := l.config.DefaultLimit, l.config.DefaultWindow
	best := -1
	for _, rule := range l.config.Rules {
		if strings.HasPrefix(path, rule.Prefix) && len(rule.Prefix) > best {
			best = len(rule.Prefix)
			limit, window = rule.Limit, rule.Window
		}
	}
	return limit, window
}

// ClientKey derives the bucket identity for a request. Authenticated
// subjects are keyed directly; anonymous clients get a stable pseudonymous
// key hashed from address and user agent so no raw PII lands in Redis.
func ClientKey(subjectID, clientIP, userAgent string) string {
	if subjectID != "" {
		return "user:" + subjectID
	}
	if clientIP == "" {
		clientIP = "unknown"
	}
	sum := sha256.Sum256([]byte(clientIP + ":" + userAgent))
	return "ip:" + hex.EncodeToString(sum[:])[:16]
}

// Check runs one sliding-window admission for (path, client). The window
// trim, count and insert execute as a single script, so two concurrent
// checks for the same key can never both consume the last slot.
func (l *Limiter) Check(ctx context.Context, path, clientKey string) (Result, error) {
	limit, window := l.Budget(path)
	now := l.config.Now()

	if now.UnixNano() < l.suspendedUntil.Load() {
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now, FailedOpen: true}, nil
	}

	key := l.bucketKey(path, clientKey)
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	raw, err := checkLua.Run(ctx, l.redis, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, member).Result()
	if err != nil {
		l.suspendedUntil.Store(now.Add(l.config.FailOpenCooldown).UnixNano())
		l.config.Logger.WarnContext(ctx, "rate limit store unreachable, failing open",
			"error", err, "cooldown", l.config.FailOpenCooldown)
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now, FailedOpen: true}, nil
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return Result{}, fmt.Errorf("unexpected rate script reply: %v", raw)
	}

	allowed := toInt64(reply[0]) == 1
	count := int(toInt64(reply[1]))

	if !allowed {
		resetAt := now.Add(window)
		if oldest := toInt64(reply[2]); oldest > 0 {
			resetAt = time.UnixMilli(oldest).Add(window)
		}
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}, nil
	}

	remaining := limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: limit, Remaining: remaining, ResetAt: now.Add(window)}, nil
}

func (l *Limiter) bucketKey(path, clientKey string) string {
	return l.config.KeyPrefix + strings.ReplaceAll(path, "/", ":") + ":" + clientKey
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	case float64:
		return int64(n)
	default:
		return 0
	}
}
