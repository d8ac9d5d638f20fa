package marketauth

import (
	"context"
	"time"
)

// StoreRefreshToken records a new refresh token for the user. The caller
// hashes the token before it gets here; the store never sees plaintext.
// Device and origin describe the issuing client for later listing and
// revocation decisions.
func (e *Engine) StoreRefreshToken(ctx context.Context, userID, tokenHash, device, origin string, expiresAt time.Time) error {
	if e == nil || e.refreshStore == nil {
		return ErrEngineNotReady
	}
	if userID == "" || tokenHash == "" {
		return ErrValidation
	}

	if err := e.refreshStore.Save(ctx, userID, tokenHash, device, origin, expiresAt, e.now()); err != nil {
		return err
	}

	e.metricInc(MetricRefreshStored)
	e.emitAudit(ctx, auditEventRefreshStored, true, userID, nil, nil)
	return nil
}

// ValidateRefreshToken resolves a token hash to its owning user. Unknown,
// revoked, and expired tokens all fail with the same opaque error so a
// probing caller learns nothing about which case it hit.
func (e *Engine) ValidateRefreshToken(ctx context.Context, tokenHash string) (string, error) {
	if e == nil || e.refreshStore == nil {
		return "", ErrEngineNotReady
	}
	if tokenHash == "" {
		return "", ErrRefreshInvalid
	}

	userID, status, err := e.refreshStore.Validate(ctx, tokenHash, e.now())
	if err != nil {
		return "", err
	}
	if status != refreshStatusOK {
		e.metricInc(MetricRefreshRejected)
		return "", ErrRefreshInvalid
	}

	e.metricInc(MetricRefreshValidated)
	return userID, nil
}

// RevokeRefreshToken marks one token revoked. Revoking a token that never
// existed or is already revoked is not an error.
func (e *Engine) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	if e == nil || e.refreshStore == nil {
		return ErrEngineNotReady
	}
	if tokenHash == "" {
		return ErrValidation
	}

	if err := e.refreshStore.Revoke(ctx, tokenHash); err != nil {
		return err
	}

	e.metricInc(MetricRefreshRevoked)
	e.emitAudit(ctx, auditEventRefreshRevoked, true, "", nil, nil)
	return nil
}

// RevokeAllRefreshTokens logs the user out everywhere. Idempotent.
func (e *Engine) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	if e == nil || e.refreshStore == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrValidation
	}

	n, err := e.refreshStore.RevokeAll(ctx, userID)
	if err != nil {
		return err
	}

	if n > 0 {
		e.metricInc(MetricRefreshRevoked)
	}
	e.emitAudit(ctx, auditEventRefreshRevokedAll, true, userID, nil, nil)
	return nil
}

// ExchangeRefreshToken validates the refresh token and mints a short-lived
// signed access token for its user. The refresh token itself stays live;
// rotation policy belongs to the calling layer.
func (e *Engine) ExchangeRefreshToken(ctx context.Context, tokenHash string) (string, error) {
	if e == nil || e.accessTokens == nil {
		return "", ErrEngineNotReady
	}

	userID, err := e.ValidateRefreshToken(ctx, tokenHash)
	if err != nil {
		return "", err
	}

	access, err := e.accessTokens.CreateAccess(userID)
	if err != nil {
		return "", err
	}

	e.metricInc(MetricAccessIssued)
	e.emitAudit(ctx, auditEventAccessIssued, true, userID, nil, nil)
	return access, nil
}
