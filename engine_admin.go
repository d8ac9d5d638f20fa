package marketauth

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/taylanirak/marketauth/internal"
)

// CreateAdminSession opens a sliding-window session for an administrator and
// returns the opaque session token. Origin address and user agent are read
// from the context (WithClientIP, WithUserAgent) and recorded for the
// session list.
func (e *Engine) CreateAdminSession(ctx context.Context, adminID string) (string, error) {
	if e == nil || e.adminStore == nil {
		return "", ErrEngineNotReady
	}
	if adminID == "" {
		return "", ErrValidation
	}

	raw, err := internal.RandomBytes(32)
	if err != nil {
		return "", ErrSessionUnavailable
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := e.now()
	rec := &adminSessionRecord{
		SessionID:    uuid.NewString(),
		AdminID:      adminID,
		OriginAddr:   clientIPFromContext(ctx),
		UserAgent:    userAgentFromContext(ctx),
		LastActiveAt: now.Unix(),
		ExpiresAt:    now.Add(e.config.AdminSession.Timeout).Unix(),
		TokenHash:    adminTokenHash(token),
	}

	if err := e.adminStore.Save(ctx, rec, e.config.AdminSession.Timeout, now); err != nil {
		return "", err
	}

	e.metricInc(MetricAdminSessionCreated)
	e.emitAudit(ctx, auditEventAdminSessionCreated, true, adminID, nil, func() map[string]string {
		return map[string]string{"session_id": rec.SessionID}
	})
	return token, nil
}

// ValidateAdminSession checks the token and slides the idle window forward.
// Missing and expired sessions fail identically. A session terminated
// between this call's read and write stays terminated: the extend is
// conditional on the record still existing.
func (e *Engine) ValidateAdminSession(ctx context.Context, sessionToken string) (string, error) {
	if e == nil || e.adminStore == nil {
		return "", ErrEngineNotReady
	}
	if sessionToken == "" {
		return "", ErrSessionNotFound
	}

	adminID, _, status, err := e.adminStore.Validate(ctx,
		adminTokenHash(sessionToken), e.config.AdminSession.Timeout, e.now())
	if err != nil {
		return "", err
	}
	if status != adminStatusValid {
		e.metricInc(MetricAdminSessionRejected)
		e.emitAudit(ctx, auditEventAdminSessionExpired, false, "", ErrSessionNotFound, nil)
		return "", ErrSessionNotFound
	}

	e.metricInc(MetricAdminSessionValidated)
	return adminID, nil
}

// ListAdminSessions returns the admin's live sessions. When currentToken is
// the caller's own session token, the matching entry is flagged Current so
// a UI can mark "this device".
func (e *Engine) ListAdminSessions(ctx context.Context, adminID, currentToken string) ([]AdminSessionInfo, error) {
	if e == nil || e.adminStore == nil {
		return nil, ErrEngineNotReady
	}
	if adminID == "" {
		return nil, ErrValidation
	}

	records, err := e.adminStore.List(ctx, adminID, e.now())
	if err != nil {
		return nil, err
	}

	currentHash := ""
	if currentToken != "" {
		currentHash = adminTokenHash(currentToken)
	}

	out := make([]AdminSessionInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, AdminSessionInfo{
			SessionID:    rec.SessionID,
			AdminID:      rec.AdminID,
			OriginAddr:   rec.OriginAddr,
			UserAgent:    rec.UserAgent,
			LastActiveAt: time.Unix(rec.LastActiveAt, 0),
			ExpiresAt:    time.Unix(rec.ExpiresAt, 0),
			Current:      currentHash != "" && rec.TokenHash == currentHash,
		})
	}

	return out, nil
}

// TerminateAdminSession removes one session by its public session ID.
// Terminating an unknown session is not an error.
func (e *Engine) TerminateAdminSession(ctx context.Context, sessionID string) error {
	if e == nil || e.adminStore == nil {
		return ErrEngineNotReady
	}
	if sessionID == "" {
		return ErrValidation
	}

	removed, err := e.adminStore.TerminateBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}

	if removed {
		e.metricInc(MetricAdminSessionTerminated)
	}
	e.emitAudit(ctx, auditEventAdminSessionKilled, removed, "", nil, func() map[string]string {
		return map[string]string{"session_id": sessionID}
	})
	return nil
}

// TerminateAllAdminSessions removes every session of the admin.
func (e *Engine) TerminateAllAdminSessions(ctx context.Context, adminID string) error {
	return e.terminateAdminSessions(ctx, adminID, "")
}

// TerminateOtherAdminSessions removes every session except the one behind
// keepToken, for "log out other devices".
func (e *Engine) TerminateOtherAdminSessions(ctx context.Context, adminID, keepToken string) error {
	if keepToken == "" {
		return ErrValidation
	}
	return e.terminateAdminSessions(ctx, adminID, adminTokenHash(keepToken))
}

func (e *Engine) terminateAdminSessions(ctx context.Context, adminID, keepHash string) error {
	if e == nil || e.adminStore == nil {
		return ErrEngineNotReady
	}
	if adminID == "" {
		return ErrValidation
	}

	n, err := e.adminStore.TerminateAll(ctx, adminID, keepHash)
	if err != nil {
		return err
	}

	for i := int64(0); i < n; i++ {
		e.metricInc(MetricAdminSessionTerminated)
	}
	e.emitAudit(ctx, auditEventAdminSessionsKilled, true, adminID, nil, nil)
	return nil
}

func adminTokenHash(token string) string {
	sum := internal.HashSecretBytes([]byte(token))
	return hex.EncodeToString(sum[:])
}
