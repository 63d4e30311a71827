package authcore

import (
	"context"
	"time"
)

// Clock supplies the current time. Every expiry comparison in the engine
// goes through the configured Clock so tests can simulate elapsed time.
type Clock func() time.Time

// User is the account view the engine needs from the surrounding system.
// Authorization data (roles) is re-read from the provider at login and
// refresh time; it is never trusted from a stored token.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string
	Active       bool
}

// UserProvider is the consumed account lookup interface. Lookups return
// (nil, nil) when no account matches; errors are infrastructure failures.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)

	// UpdatePasswordHash persists a recomputed hash after a cost upgrade.
	// Best-effort: a failure here never fails a login.
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// RefreshTokenRecord is the persisted side of a refresh token. A refresh
// token is valid only while its record exists with Revoked=false.
type RefreshTokenRecord struct {
	TokenID   string
	SubjectID string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
	UsedAt    *time.Time
}

// LockoutState is the persisted per-account failed-attempt counter. The
// account is locked iff LockedUntil is set and in the future; expiry is
// evaluated lazily against the clock, never swept.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// TwoFactorState is the persisted second-factor state for one account.
// Enabled implies Secret is set. BackupCodes is an opaque sealed blob owned
// by the engine (hashed code list, encrypted at rest).
type TwoFactorState struct {
	Secret            string
	Enabled           bool
	BackupCodes       []byte
	RecoveryCodesUsed int
	FailedAttempts    int
	LockedUntil       *time.Time
	ConfirmedAt       *time.Time
}

// Store is the consumed persistence interface for engine-owned state. The
// engine is the only writer of these records. Get methods return (nil, nil)
// — or the zero LockoutState — when no record exists; errors are reserved
// for infrastructure failures.
type Store interface {
	GetRefreshRecord(ctx context.Context, tokenID string) (*RefreshTokenRecord, error)
	PutRefreshRecord(ctx context.Context, record *RefreshTokenRecord) error
	RevokeRefreshRecords(ctx context.Context, subjectID string) error

	GetLockoutState(ctx context.Context, accountID string) (LockoutState, error)
	PutLockoutState(ctx context.Context, accountID string, state LockoutState) error

	GetTwoFactorState(ctx context.Context, accountID string) (*TwoFactorState, error)
	PutTwoFactorState(ctx context.Context, accountID string, state *TwoFactorState) error
}

// EventKind identifies a notification event.
type EventKind string

const (
	EventAccountLocked     EventKind = "account.locked"
	EventTwoFactorLocked   EventKind = "two_factor.locked"
	EventTwoFactorEnabled  EventKind = "two_factor.enabled"
	EventTwoFactorDisabled EventKind = "two_factor.disabled"
)

// Event is an out-of-band notification (typically an email trigger).
type Event struct {
	Kind      EventKind
	AccountID string
	Payload   map[string]string
}

// Notifier is the consumed notification sink. Delivery is fire-and-forget:
// the engine dispatches asynchronously and a failing sink never blocks or
// fails the flow that emitted the event.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NoOpNotifier discards all events.
type NoOpNotifier struct{}

func (NoOpNotifier) Notify(context.Context, Event) {}

// LoginResult is the outcome of a successful primary-credential check.
// When TwoFactorRequired is set the token pair is empty and the caller must
// finish with [Engine.CompleteTwoFactorLogin] using TwoFactorToken.
type LoginResult struct {
	AccessToken       string
	RefreshToken      string
	TwoFactorRequired bool
	TwoFactorToken    string
}

// TokenPair is an issued access/refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TwoFactorSetup is returned by BeginTwoFactorSetup. BackupCodes are shown
// to the user exactly once; only their hashes are retained.
type TwoFactorSetup struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// TwoFactorStatus is a point-in-time report of an account's second factor.
type TwoFactorStatus struct {
	Enabled              bool
	ConfirmedAt          *time.Time
	BackupCodesRemaining int
}

// RateLimitRequest describes one inbound request for admission control.
// SubjectID is preferred as the bucket identity; otherwise a pseudonymous
// key is derived from ClientIP and UserAgent.
type RateLimitRequest struct {
	Path      string
	SubjectID string
	ClientIP  string
	UserAgent string
}

// RateLimitResult reports the admission decision for one request.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
