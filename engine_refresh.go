package authcore

import (
	"context"
	"fmt"

	"github.com/sessionlock/authcore/token"
)

// Refresh exchanges a live refresh token for a new access token. The token
// must verify as kind refresh and its persisted record must exist
// unrevoked and unexpired; every failure mode collapses into
// [ErrTokenInvalid]. Authorization data is re-derived from the account's
// current roles, so a role change is picked up here rather than carried
// forward from the old token.
//
// The refresh token id stays valid for its full lifetime; rotation on every
// refresh is deliberately not performed. UsedAt is stamped on each exchange.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if e == nil || e.codec == nil {
		return "", ErrEngineNotReady
	}

	claims, err := e.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return "", ErrTokenInvalid
	}

	record, err := e.store.GetRefreshRecord(ctx, claims.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	now := e.clock()
	if record == nil || record.Revoked || record.SubjectID != claims.Subject || !record.ExpiresAt.After(now) {
		e.metricInc(MetricRefreshFailure)
		return "", ErrTokenInvalid
	}

	user, err := e.users.GetUserByID(ctx, record.SubjectID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user == nil || !user.Active {
		e.metricInc(MetricRefreshFailure)
		return "", ErrTokenInvalid
	}

	permissions := permissionsForRoles(e.config.RolePermissions, user.Roles)
	access, err := e.codec.IssueAccess(user.ID, user.Email, user.Roles, permissions)
	if err != nil {
		return "", err
	}

	record.UsedAt = &now
	if err := e.store.PutRefreshRecord(ctx, record); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricRefreshSuccess)
	return access, nil
}

// Logout revokes every refresh record for the subject. Already-issued
// access tokens are stateless and stay usable until their TTL elapses;
// logout's guarantee is bounded by the access TTL.
func (e *Engine) Logout(ctx context.Context, subjectID string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.store.RevokeRefreshRecords(ctx, subjectID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricLogout)
	return nil
}
