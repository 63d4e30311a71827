package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials covers every primary-credential failure: unknown
	// account, wrong password, malformed input. The cases are intentionally
	// indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenInvalid covers malformed, expired, wrong-kind and revoked
	// tokens. The cases are intentionally indistinguishable to callers.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrAccountLocked is the target for [AccountLockedError].
	ErrAccountLocked = errors.New("account locked")

	// ErrTwoFactorRequired signals that the password was accepted but the
	// login must be completed with [Engine.CompleteTwoFactorLogin].
	ErrTwoFactorRequired = errors.New("two-factor authentication required")

	// ErrTwoFactorInvalid is returned for a wrong TOTP or backup code.
	ErrTwoFactorInvalid = errors.New("two-factor code invalid")

	// ErrTwoFactorLocked is the target for [TwoFactorLockedError].
	ErrTwoFactorLocked = errors.New("two-factor verification locked")

	// ErrTwoFactorNotEnabled is returned by two-factor operations that
	// require an enabled second factor.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")

	// ErrTwoFactorAlreadyEnabled is returned by BeginTwoFactorSetup when the
	// account already has a confirmed second factor.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")

	// ErrRateLimited is the target for [RateLimitedError].
	ErrRateLimited = errors.New("rate limited")

	// ErrWeakPassword is the target for [WeakPasswordError].
	ErrWeakPassword = errors.New("password does not meet strength requirements")

	// ErrStoreUnavailable wraps persistence failures. It is surfaced as-is:
	// token, lockout and two-factor state must never be silently bypassed.
	ErrStoreUnavailable = errors.New("state store unavailable")

	// ErrEngineNotReady is returned when an Engine is used before Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// AccountLockedError reports a lockout with its expiry. Matches
// [ErrAccountLocked] via errors.Is.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

func (e *AccountLockedError) Is(target error) bool { return target == ErrAccountLocked }

// TwoFactorLockedError reports a two-factor verification lockout with its
// expiry. Matches [ErrTwoFactorLocked] via errors.Is.
type TwoFactorLockedError struct {
	Until time.Time
}

func (e *TwoFactorLockedError) Error() string {
	return fmt.Sprintf("two-factor verification locked until %s", e.Until.Format(time.RFC3339))
}

func (e *TwoFactorLockedError) Is(target error) bool { return target == ErrTwoFactorLocked }

// RateLimitedError reports an exhausted rate-limit bucket. Matches
// [ErrRateLimited] via errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// WeakPasswordError carries every violated strength rule, not just the
// first, so callers can report all issues at once. Matches [ErrWeakPassword]
// via errors.Is.
type WeakPasswordError struct {
	Issues []string
}

func (e *WeakPasswordError) Error() string {
	return "weak password: " + strings.Join(e.Issues, "; ")
}

func (e *WeakPasswordError) Is(target error) bool { return target == ErrWeakPassword }
