package authcore

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// lockoutTracker maintains the per-account failed-attempt counter and timed
// lock. State lives in the consumed store; locking is evaluated lazily
// against the clock rather than swept by a background job, so an expired
// lock is simply treated as absent on the next read.
type lockoutTracker struct {
	store  Store
	config LockoutConfig
	clock  Clock
	locks  *accountLocks
	notify func(ctx context.Context, event Event)
}

func newLockoutTracker(store Store, cfg LockoutConfig, clock Clock, locks *accountLocks, notify func(context.Context, Event)) *lockoutTracker {
	return &lockoutTracker{
		store:  store,
		config: cfg,
		clock:  clock,
		locks:  locks,
		notify: notify,
	}
}

// IsLocked reports whether the account is currently locked.
func (t *lockoutTracker) IsLocked(ctx context.Context, accountID string) (bool, *time.Time, error) {
	state, err := t.store.GetLockoutState(ctx, accountID)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if state.LockedUntil == nil || !state.LockedUntil.After(t.clock()) {
		return false, nil, nil
	}
	return true, state.LockedUntil, nil
}

// RecordFailure increments the failure counter and, on crossing the
// threshold, transitions the account into Locked and emits a notification.
// The returned state reflects the post-increment record.
func (t *lockoutTracker) RecordFailure(ctx context.Context, accountID string) (LockoutState, error) {
	unlock := t.locks.lock(accountID)
	defer unlock()

	state, err := t.store.GetLockoutState(ctx, accountID)
	if err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := t.clock()
	if state.LockedUntil != nil && !state.LockedUntil.After(now) {
		// Expired lock: the counter restarts from zero.
		state = LockoutState{}
	}

	state.FailedAttempts++
	locked := false
	if state.FailedAttempts >= t.config.MaxAttempts && state.LockedUntil == nil {
		until := now.Add(t.config.Duration)
		state.LockedUntil = &until
		locked = true
	}

	if err := t.store.PutLockoutState(ctx, accountID, state); err != nil {
		return LockoutState{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if locked {
		t.notify(ctx, Event{
			Kind:      EventAccountLocked,
			AccountID: accountID,
			Payload: map[string]string{
				"locked_until":    state.LockedUntil.Format(time.RFC3339),
				"failed_attempts": strconv.Itoa(state.FailedAttempts),
			},
		})
	}
	return state, nil
}

// RecordSuccess resets the account to Unlocked with a zero counter.
func (t *lockoutTracker) RecordSuccess(ctx context.Context, accountID string) error {
	unlock := t.locks.lock(accountID)
	defer unlock()

	state, err := t.store.GetLockoutState(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if state.FailedAttempts == 0 && state.LockedUntil == nil {
		return nil
	}
	if err := t.store.PutLockoutState(ctx, accountID, LockoutState{}); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
