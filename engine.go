package authcore

import (
	"context"
	"log/slog"

	"github.com/sessionlock/authcore/internal/rate"
	"github.com/sessionlock/authcore/password"
	"github.com/sessionlock/authcore/token"
)

// Engine composes the token codec, credential verifier, lockout tracker,
// rate limiter and two-factor engine into the login, refresh, logout and
// two-factor flows. Configure through [Builder]; immutable and safe for
// concurrent use after Build.
type Engine struct {
	config    Config
	store     Store
	users     UserProvider
	codec     *token.Codec
	hasher    *password.Hasher
	limiter   *rate.Limiter
	lockout   *lockoutTracker
	twoFactor *twoFactorManager
	notify    *notifyDispatcher
	metrics   *Metrics
	locks     *accountLocks
	clock     Clock
	logger    *slog.Logger
}

// Close stops the notification dispatcher after draining buffered events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.notify != nil {
		e.notify.Close()
	}
}

// NotificationsDropped returns how many events were discarded because the
// dispatch buffer was full.
func (e *Engine) NotificationsDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.notify.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emit(ctx context.Context, event Event) {
	if e == nil {
		return
	}
	e.notify.Emit(ctx, event)
}

// CheckRateLimit runs one sliding-window admission for the request. A nil
// error with Allowed=false means the budget is spent; the typed
// [RateLimitedError] equivalent for flow-style callers is available via
// [Engine.EnforceRateLimit].
func (e *Engine) CheckRateLimit(ctx context.Context, req RateLimitRequest) (RateLimitResult, error) {
	if e == nil || e.limiter == nil {
		return RateLimitResult{}, ErrEngineNotReady
	}

	result, err := e.limiter.Check(ctx, req.Path, rate.ClientKey(req.SubjectID, req.ClientIP, req.UserAgent))
	if err != nil {
		return RateLimitResult{}, err
	}
	if !result.Allowed {
		e.metricInc(MetricRateLimitRejected)
	}
	if result.FailedOpen {
		e.metricInc(MetricRateLimitFailOpen)
	}
	return RateLimitResult{
		Allowed:   result.Allowed,
		Remaining: result.Remaining,
		ResetAt:   result.ResetAt,
	}, nil
}

// EnforceRateLimit is CheckRateLimit for callers that want a rejection as an
// error: a spent budget returns [RateLimitedError].
func (e *Engine) EnforceRateLimit(ctx context.Context, req RateLimitRequest) error {
	result, err := e.CheckRateLimit(ctx, req)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return &RateLimitedError{
			RetryAfter: result.ResetAt.Sub(e.clock()),
			ResetAt:    result.ResetAt,
		}
	}
	return nil
}

// HashPassword enforces the strength policy and returns an argon2id hash
// for storage. Violations are reported all at once via [WeakPasswordError].
func (e *Engine) HashPassword(plaintext string) (string, error) {
	if e == nil || e.hasher == nil {
		return "", ErrEngineNotReady
	}
	if ok, issues := password.CheckStrength(plaintext); !ok {
		return "", &WeakPasswordError{Issues: issues}
	}
	return e.hasher.Hash(plaintext)
}

// VerifyPassword checks a plaintext against a stored hash. Malformed stored
// hashes verify false rather than erroring, so a corrupt record behaves
// like a mismatch.
func (e *Engine) VerifyPassword(plaintext, encodedHash string) bool {
	if e == nil || e.hasher == nil {
		return false
	}
	ok, err := e.hasher.Verify(plaintext, encodedHash)
	return err == nil && ok
}
