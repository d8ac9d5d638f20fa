package marketauth

import (
	"context"
	"encoding/base64"

	"github.com/taylanirak/marketauth/internal"
)

// GenerateCSRFToken mints a one-time token bound to the session.
func (e *Engine) GenerateCSRFToken(ctx context.Context, sessionID string) (*CSRFToken, error) {
	if e == nil || e.csrfStore == nil {
		return nil, ErrEngineNotReady
	}
	if sessionID == "" {
		return nil, ErrValidation
	}

	raw, err := internal.RandomBytes(32)
	if err != nil {
		return nil, ErrCSRFUnavailable
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	expiresAt := e.now().Add(e.config.CSRF.TTL)
	if err := e.csrfStore.Save(ctx, token, sessionID, e.config.CSRF.TTL); err != nil {
		return nil, err
	}

	e.metricInc(MetricCSRFIssued)
	e.emitAudit(ctx, auditEventCSRFIssued, true, sessionID, nil, nil)

	return &CSRFToken{
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateCSRFToken fails closed: missing, expired, or wrongly bound tokens
// all validate false. A true result deletes the token in the same store
// operation, so a raced second submission cannot also pass. Backend
// failures surface as (false, ErrCSRFUnavailable); callers must reject the
// request either way.
func (e *Engine) ValidateCSRFToken(ctx context.Context, token, sessionID string) (bool, error) {
	if e == nil || e.csrfStore == nil {
		return false, ErrEngineNotReady
	}
	if token == "" || sessionID == "" {
		return false, nil
	}

	status, err := e.csrfStore.Validate(ctx, token, sessionID)
	if err != nil {
		return false, err
	}

	if status != csrfStatusOK {
		e.metricInc(MetricCSRFRejected)
		e.emitAudit(ctx, auditEventCSRFRejected, false, sessionID, nil, func() map[string]string {
			reason := "missing_or_expired"
			if status == csrfStatusMismatch {
				reason = "session_mismatch"
			}
			return map[string]string{"reason": reason}
		})
		return false, nil
	}

	e.metricInc(MetricCSRFValidated)
	return true, nil
}
