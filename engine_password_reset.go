package marketauth

import (
	"context"
	"crypto/rand"
	"log"
	"math/big"
	"time"

	"github.com/taylanirak/marketauth/internal"
)

// RequestPasswordReset issues a reset token for the account behind email and
// returns it for out-of-band delivery. When no account matches, it returns
// an empty token and no error: the caller-visible outcome is identical for
// known and unknown addresses, and a small randomized delay masks the
// missing hash-and-store work on the unknown path.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	user, err := e.directory.GetUserByEmail(ctx, email)
	if err != nil {
		sleepEnumerationDelay()
		e.metricInc(MetricPasswordResetRequest)
		e.emitAudit(ctx, auditEventResetRequested, false, "", ErrUserNotFound, func() map[string]string {
			return map[string]string{"reason": "unknown_email"}
		})
		return "", nil
	}

	token, err := e.issueEphemeralToken(ctx, tokenPurposeReset, user.UserID, "")
	if err != nil {
		return "", err
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventResetRequested, true, user.UserID, nil, nil)
	return token, nil
}

// ResetPassword consumes the reset token, installs the new password, and
// revokes every refresh token of the subject. A reset that does not log out
// existing sessions would leave the attacker logged in.
func (e *Engine) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	subjectID, _, err := e.consumeEphemeralToken(ctx, tokenPurposeReset, rawToken)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventResetFailed, false, "", err, nil)
		return err
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventResetFailed, false, subjectID, ErrPasswordPolicy, nil)
		return ErrPasswordPolicy
	}

	if err := e.directory.UpdatePasswordHash(ctx, subjectID, newHash); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventResetFailed, false, subjectID, err, nil)
		return err
	}

	if err := e.RevokeAllRefreshTokens(ctx, subjectID); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventResetFailed, false, subjectID, err, func() map[string]string {
			return map[string]string{"reason": "refresh_revocation_failed"}
		})
		return err
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventResetCompleted, true, subjectID, nil, nil)
	return nil
}

// ChangePassword replaces the password of a logged-in user after verifying
// the current one. The new password must differ from the current password,
// and all refresh tokens are revoked so other devices must log in again.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if userID == "" || currentPassword == "" || newPassword == "" {
		return ErrValidation
	}

	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailed, false, userID, ErrUserNotFound, nil)
		return ErrUserNotFound
	}

	ok, err := e.passwordHash.Verify(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailed, false, userID, ErrUnauthorized, func() map[string]string {
			return map[string]string{"reason": "current_password_mismatch"}
		})
		return ErrUnauthorized
	}

	same, err := e.passwordHash.Verify(newPassword, user.PasswordHash)
	if err == nil && same {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailed, false, userID, ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	newHash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailed, false, userID, ErrPasswordPolicy, nil)
		return ErrPasswordPolicy
	}

	if err := e.directory.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailed, false, userID, err, nil)
		return err
	}

	if err := e.RevokeAllRefreshTokens(ctx, userID); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailed, false, userID, err, func() map[string]string {
			return map[string]string{"reason": "refresh_revocation_failed"}
		})
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChanged, true, userID, nil, nil)
	return nil
}

// VerifyPassword checks a password for the calling login layer. When the
// stored hash predates the current cost parameters, a successful check
// rehashes it in place; failure to persist the upgrade never fails the
// verification.
func (e *Engine) VerifyPassword(ctx context.Context, userID, password string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil {
		return false, ErrUserNotFound
	}

	ok, err := e.passwordHash.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return false, nil
	}

	if needsUpgrade, err := e.passwordHash.NeedsUpgrade(user.PasswordHash); err == nil && needsUpgrade {
		if upgraded, err := e.passwordHash.Hash(password); err == nil {
			if err := e.directory.UpdatePasswordHash(ctx, userID, upgraded); err != nil {
				log.Print("marketauth: password hash upgrade update failed")
			}
		}
	}

	return true, nil
}

// issueEphemeralToken generates the raw token and stores its hashed record,
// superseding any pending token of the same purpose for the subject.
func (e *Engine) issueEphemeralToken(ctx context.Context, purpose, subjectID, payload string) (string, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", ErrTokenUnavailable
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return "", ErrTokenUnavailable
	}

	ttl := e.config.PasswordReset.TTL
	if purpose == tokenPurposeVerification {
		ttl = e.config.EmailVerification.TTL
	}

	err = e.tokens.Issue(ctx, purpose, id.String(), subjectID,
		internal.HashSecret(secret), payload, ttl, e.now())
	if err != nil {
		return "", err
	}

	return internal.EncodeToken(id, secret), nil
}

// consumeEphemeralToken burns the token and maps store statuses to the
// public failure taxonomy.
func (e *Engine) consumeEphemeralToken(ctx context.Context, purpose, rawToken string) (subjectID, payload string, err error) {
	id, secret, err := internal.DecodeToken(rawToken)
	if err != nil {
		return "", "", ErrTokenNotFound
	}

	subjectID, payload, status, err := e.tokens.Consume(ctx, purpose, id.String(),
		internal.HashSecret(secret), e.now())
	if err != nil {
		return "", "", err
	}

	switch status {
	case tokenConsumeOK:
		return subjectID, payload, nil
	case tokenConsumeUsed:
		return "", "", ErrTokenAlreadyUsed
	case tokenConsumeExpired:
		return "", "", ErrTokenExpired
	default:
		return "", "", ErrTokenNotFound
	}
}

// sleepEnumerationDelay adds 20-40ms of jitter so the unknown-address path
// of RequestPasswordReset is not measurably faster than the issuing path.
func sleepEnumerationDelay() {
	jitter, err := rand.Int(rand.Reader, big.NewInt(20))
	if err != nil {
		time.Sleep(30 * time.Millisecond)
		return
	}
	time.Sleep(time.Duration(20+jitter.Int64()) * time.Millisecond)
}
