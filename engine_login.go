package authcore

import (
	"context"
	"fmt"

	"github.com/sessionlock/authcore/token"
)

// Login runs the primary-credential flow: lockout gate, password
// verification, failure accounting, then either a full token pair or — when
// the account has a confirmed second factor — a transitional result that
// must be finished with [Engine.CompleteTwoFactorLogin].
//
// Unknown account and wrong password are indistinguishable to the caller;
// both are [ErrInvalidCredentials].
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user == nil || plaintext == "" {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	locked, until, err := e.lockout.IsLocked(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if locked {
		e.metricInc(MetricLoginLockedOut)
		return nil, &AccountLockedError{Until: *until}
	}

	// Hashing happens here, outside any account lock; only the subsequent
	// counter mutation is serialized.
	if !e.VerifyPassword(plaintext, user.PasswordHash) {
		if _, ferr := e.lockout.RecordFailure(ctx, user.ID); ferr != nil {
			return nil, ferr
		}
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	if !user.Active {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	if err := e.lockout.RecordSuccess(ctx, user.ID); err != nil {
		return nil, err
	}

	e.maybeUpgradeHash(ctx, user, plaintext)

	twoFactor, err := e.store.GetTwoFactorState(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if twoFactor != nil && twoFactor.Enabled {
		transitional, err := e.codec.IssueTwoFactor(user.ID)
		if err != nil {
			return nil, err
		}
		return &LoginResult{TwoFactorRequired: true, TwoFactorToken: transitional}, nil
	}

	pair, err := e.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	return &LoginResult{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

// CompleteTwoFactorLogin finishes a login that returned TwoFactorRequired.
// transitional is the short-lived token from [LoginResult]; code is either a
// TOTP code or, with isBackup, a single-use backup code.
func (e *Engine) CompleteTwoFactorLogin(ctx context.Context, transitional, code string, isBackup bool) (*TokenPair, error) {
	if e == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.codec.Verify(transitional, token.KindTwoFactor)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	user, err := e.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user == nil || !user.Active {
		return nil, ErrTokenInvalid
	}

	if err := e.verifyTwoFactorCode(ctx, user.ID, code, isBackup); err != nil {
		return nil, err
	}

	pair, err := e.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	return pair, nil
}

// issueTokens mints an access/refresh pair from the account's current role
// state and persists the refresh record. Permissions are derived through
// the pure role mapping at issue time, never copied from earlier tokens.
func (e *Engine) issueTokens(ctx context.Context, user *User) (*TokenPair, error) {
	permissions := permissionsForRoles(e.config.RolePermissions, user.Roles)

	access, err := e.codec.IssueAccess(user.ID, user.Email, user.Roles, permissions)
	if err != nil {
		return nil, err
	}
	refresh, jti, err := e.codec.IssueRefresh(user.ID)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	record := &RefreshTokenRecord{
		TokenID:   jti,
		SubjectID: user.ID,
		ExpiresAt: now.Add(e.config.Token.RefreshTTL),
		CreatedAt: now,
	}
	if err := e.store.PutRefreshRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// maybeUpgradeHash rehashes the password when the stored hash was minted
// under weaker parameters. Best-effort: failures are logged, never surfaced.
func (e *Engine) maybeUpgradeHash(ctx context.Context, user *User, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.hasher.Hash(plaintext)
	if err != nil {
		e.logger.WarnContext(ctx, "password hash upgrade generation failed", "error", err)
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, upgraded); err != nil {
		e.logger.WarnContext(ctx, "password hash upgrade update failed", "error", err)
	}
}
