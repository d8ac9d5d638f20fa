package marketauth

import "context"

// SendEmailVerification issues a verification token for targetEmail and
// returns it for out-of-band delivery. When targetEmail is empty the user's
// current address is being verified; otherwise the token carries the pending
// new address and VerifyEmail will bind it on consumption.
func (e *Engine) SendEmailVerification(ctx context.Context, userID, targetEmail string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventVerificationSent, false, userID, ErrUserNotFound, nil)
		return "", ErrUserNotFound
	}

	email := targetEmail
	if email == "" {
		email = user.Email
	}

	token, err := e.issueEphemeralToken(ctx, tokenPurposeVerification, user.UserID, email)
	if err != nil {
		return "", err
	}

	e.metricInc(MetricEmailVerificationSent)
	e.emitAudit(ctx, auditEventVerificationSent, true, user.UserID, nil, nil)
	return token, nil
}

// VerifyEmail consumes the verification token and marks the address it was
// issued for as verified.
func (e *Engine) VerifyEmail(ctx context.Context, rawToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	subjectID, email, err := e.consumeEphemeralToken(ctx, tokenPurposeVerification, rawToken)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerifyFailed, false, "", err, nil)
		return err
	}

	if err := e.directory.MarkEmailVerified(ctx, subjectID, email); err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerifyFailed, false, subjectID, err, nil)
		return err
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerified, true, subjectID, nil, nil)
	return nil
}
