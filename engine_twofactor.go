package authcore

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// BeginTwoFactorSetup generates a TOTP secret, provisioning URI and a fresh
// backup-code set for the account. The secret is stored immediately but is
// unusable until [Engine.ConfirmTwoFactorSetup] proves the authenticator
// works; the plaintext backup codes appear only in the returned value.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, accountID string) (*TwoFactorSetup, error) {
	if e == nil || e.twoFactor == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	unlock := e.locks.lock(accountID)
	defer unlock()

	state, err := e.store.GetTwoFactorState(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if state != nil && state.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, uri, err := e.twoFactor.GenerateSecret(user.Email)
	if err != nil {
		return nil, err
	}
	codes, err := e.twoFactor.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	sealed, err := e.twoFactor.SealBackupCodes(codes)
	if err != nil {
		return nil, err
	}

	if err := e.store.PutTwoFactorState(ctx, accountID, &TwoFactorState{
		Secret:      secret,
		BackupCodes: sealed,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: uri,
		BackupCodes:     codes,
	}, nil
}

// ConfirmTwoFactorSetup verifies a first TOTP code against the pending
// secret and enables the second factor. A wrong code leaves the setup
// pending and returns [ErrTwoFactorInvalid].
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, accountID, code string) error {
	if e == nil || e.twoFactor == nil {
		return ErrEngineNotReady
	}

	unlock := e.locks.lock(accountID)
	defer unlock()

	state, err := e.store.GetTwoFactorState(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if state == nil || state.Secret == "" {
		return ErrTwoFactorNotEnabled
	}
	if state.Enabled {
		return ErrTwoFactorAlreadyEnabled
	}

	if !e.twoFactor.VerifyTOTP(state.Secret, code) {
		e.metricInc(MetricTwoFactorFailure)
		return ErrTwoFactorInvalid
	}

	now := e.clock()
	state.Enabled = true
	state.ConfirmedAt = &now
	state.FailedAttempts = 0
	state.LockedUntil = nil
	if err := e.store.PutTwoFactorState(ctx, accountID, state); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.emit(ctx, Event{Kind: EventTwoFactorEnabled, AccountID: accountID})
	return nil
}

// VerifyTwoFactor checks a TOTP or backup code for an enabled account,
// applying the two-factor attempt lockout. Backup codes are single-use: a
// consumed slot never verifies again.
func (e *Engine) VerifyTwoFactor(ctx context.Context, accountID, code string, isBackup bool) error {
	if e == nil || e.twoFactor == nil {
		return ErrEngineNotReady
	}
	return e.verifyTwoFactorCode(ctx, accountID, code, isBackup)
}

// verifyTwoFactorCode holds the account shard lock for the whole
// read-verify-write cycle so attempt counting and backup-slot nulling are
// atomic per account. TOTP and fingerprint checks are cheap; no password
// hashing happens under this lock.
func (e *Engine) verifyTwoFactorCode(ctx context.Context, accountID, code string, isBackup bool) error {
	unlock := e.locks.lock(accountID)
	defer unlock()

	state, err := e.store.GetTwoFactorState(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if state == nil || !state.Enabled {
		return ErrTwoFactorNotEnabled
	}

	now := e.clock()
	if state.LockedUntil != nil {
		if state.LockedUntil.After(now) {
			e.metricInc(MetricTwoFactorLockedOut)
			return &TwoFactorLockedError{Until: *state.LockedUntil}
		}
		// Lock has lapsed; the attempt counter restarts.
		state.LockedUntil = nil
		state.FailedAttempts = 0
	}

	verified := false
	if isBackup {
		resealed, ok, berr := e.twoFactor.ConsumeBackupCode(state.BackupCodes, code)
		if berr != nil {
			return berr
		}
		if ok {
			state.BackupCodes = resealed
			state.RecoveryCodesUsed++
			verified = true
		}
	} else {
		verified = e.twoFactor.VerifyTOTP(state.Secret, code)
	}

	if verified {
		state.FailedAttempts = 0
		if err := e.store.PutTwoFactorState(ctx, accountID, state); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricTwoFactorSuccess)
		return nil
	}

	state.FailedAttempts++
	justLocked := false
	if state.FailedAttempts >= e.config.TwoFactor.MaxAttempts {
		until := now.Add(e.config.TwoFactor.Lockout)
		state.LockedUntil = &until
		justLocked = true
	}
	if err := e.store.PutTwoFactorState(ctx, accountID, state); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricTwoFactorFailure)
	if justLocked {
		e.emit(ctx, Event{
			Kind:      EventTwoFactorLocked,
			AccountID: accountID,
			Payload: map[string]string{
				"locked_until":    state.LockedUntil.Format(time.RFC3339),
				"failed_attempts": strconv.Itoa(state.FailedAttempts),
			},
		})
	}
	return ErrTwoFactorInvalid
}

// RegenerateBackupCodes replaces the full backup-code set. Every previously
// issued code stops working; the new plaintexts appear only in the return
// value.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	if e == nil || e.twoFactor == nil {
		return nil, ErrEngineNotReady
	}

	unlock := e.locks.lock(accountID)
	defer unlock()

	state, err := e.store.GetTwoFactorState(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if state == nil || !state.Enabled {
		return nil, ErrTwoFactorNotEnabled
	}

	codes, err := e.twoFactor.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	sealed, err := e.twoFactor.SealBackupCodes(codes)
	if err != nil {
		return nil, err
	}

	state.BackupCodes = sealed
	state.RecoveryCodesUsed = 0
	if err := e.store.PutTwoFactorState(ctx, accountID, state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return codes, nil
}

// DisableTwoFactor removes the second factor after re-proving the primary
// credential. A valid session or even a fresh two-factor proof is not
// enough on its own: a stolen session must not be able to strip the
// account's protection.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, plaintext string) error {
	if e == nil || e.twoFactor == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user == nil {
		return ErrInvalidCredentials
	}

	// Password verification stays outside the shard lock; hashing is slow
	// by design.
	if !e.VerifyPassword(plaintext, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	unlock := e.locks.lock(accountID)
	defer unlock()

	state, err := e.store.GetTwoFactorState(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if state == nil || !state.Enabled {
		return ErrTwoFactorNotEnabled
	}

	if err := e.store.PutTwoFactorState(ctx, accountID, &TwoFactorState{}); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.emit(ctx, Event{Kind: EventTwoFactorDisabled, AccountID: accountID})
	return nil
}

// TwoFactorStatus reports the account's second-factor state, including how
// many backup codes remain unconsumed.
func (e *Engine) TwoFactorStatus(ctx context.Context, accountID string) (*TwoFactorStatus, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	state, err := e.store.GetTwoFactorState(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if state == nil || (!state.Enabled && state.Secret == "") {
		return &TwoFactorStatus{}, nil
	}

	remaining := 0
	if state.Enabled {
		remaining, err = e.twoFactor.RemainingBackupCodes(state.BackupCodes)
		if err != nil {
			return nil, err
		}
	}
	return &TwoFactorStatus{
		Enabled:              state.Enabled,
		ConfirmedAt:          state.ConfirmedAt,
		BackupCodesRemaining: remaining,
	}, nil
}
