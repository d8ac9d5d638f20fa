package marketauth

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/taylanirak/marketauth/internal"
)

// Enroll2FA starts second-factor enrollment for the user. It generates a
// fresh secret and backup codes, stores them disabled, and returns the only
// copy of the plaintext material the user will ever see. Restarting a
// pending enrollment replaces the previous secret; an enabled credential is
// never overwritten.
func (e *Engine) Enroll2FA(ctx context.Context, userID string) (*TOTPEnrollment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrValidation
	}

	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	raw, err := internal.RandomBytes(e.config.TOTP.SecretBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.TOTP.Issuer,
		AccountName: user.Email,
		Secret:      raw,
		Period:      uint(e.config.TOTP.Period.Seconds()),
		Digits:      e.totpDigits(),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
	}

	sealed, err := e.keychain.Encrypt([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeychainUnavailable, err)
	}

	codes, digests, err := e.newBackupCodes(userID)
	if err != nil {
		return nil, err
	}

	saved, err := e.totpStore.SavePending(ctx, userID, sealed, digests)
	if err != nil {
		return nil, err
	}
	if !saved {
		return nil, ErrTOTPAlreadyEnabled
	}

	e.metricInc(MetricTOTPEnrollStarted)
	e.emitAudit(ctx, auditEventTOTPEnrolled, true, userID, nil, nil)

	return &TOTPEnrollment{
		Secret:      key.Secret(),
		URI:         key.URL(),
		BackupCodes: codes,
	}, nil
}

// Confirm2FA verifies the first code against the pending secret and flips
// the credential to enabled. A wrong code leaves the enrollment pending.
func (e *Engine) Confirm2FA(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	sealed, enabled, err := e.totpStore.Get(ctx, userID)
	if err != nil {
		return err
	}
	if sealed == nil {
		return ErrNoPendingEnrollment
	}
	if enabled {
		return ErrTOTPAlreadyEnabled
	}

	ok, err := e.verifyTOTPCode(sealed, code)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTOTPVerifyFailure)
		e.emitAudit(ctx, auditEventTOTPConfirmed, false, userID, ErrCodeInvalid, nil)
		return ErrCodeInvalid
	}

	status, err := e.totpStore.Confirm(ctx, userID)
	if err != nil {
		return err
	}
	switch status {
	case totpConfirmStatusMissing:
		return ErrNoPendingEnrollment
	case totpConfirmStatusEnabled:
		return ErrTOTPAlreadyEnabled
	}

	e.metricInc(MetricTOTPConfirmed)
	e.emitAudit(ctx, auditEventTOTPConfirmed, true, userID, nil, nil)
	return nil
}

// Verify2FA checks a submitted code against an enabled credential: first the
// current TOTP window (one step either side of now), then the remaining
// backup codes. A backup-code match burns that code. TOTP codes are not
// single-use; a false result carries no error unless the backend failed.
func (e *Engine) Verify2FA(ctx context.Context, userID, code string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	sealed, enabled, err := e.totpStore.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if sealed == nil || !enabled {
		return false, ErrTOTPNotEnabled
	}

	ok, err := e.verifyTOTPCode(sealed, code)
	if err != nil {
		return false, err
	}
	if ok {
		e.metricInc(MetricTOTPVerifySuccess)
		e.emitAudit(ctx, auditEventTOTPVerify, true, userID, nil, nil)
		return true, nil
	}

	used, err := e.consumeBackupCode(ctx, userID, code)
	if err != nil {
		return false, err
	}
	if used {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, userID, nil, func() map[string]string {
			meta := map[string]string{}
			if n, err := e.totpStore.CodesRemaining(ctx, userID); err == nil {
				meta["codes_remaining"] = strconv.FormatInt(n, 10)
			}
			return meta
		})
		return true, nil
	}

	if e.backupCodeShaped(code) {
		e.metricInc(MetricBackupCodeFailed)
	}
	e.metricInc(MetricTOTPVerifyFailure)
	e.emitAudit(ctx, auditEventTOTPVerify, false, userID, ErrCodeInvalid, nil)
	return false, nil
}

// backupCodeShaped reports whether the submitted code has the exact length of
// a backup code after normalization, so failed recovery attempts count apart
// from mistyped TOTP digits.
func (e *Engine) backupCodeShaped(code string) bool {
	return len(normalizeBackupCode(code)) == 2*e.config.TOTP.BackupCodeBytes
}

// Disable2FA clears the credential and all backup codes. The caller must
// still hold the second factor: a hijacked session alone cannot turn 2FA
// off.
func (e *Engine) Disable2FA(ctx context.Context, userID, code string) error {
	if err := e.requireSecondFactor(ctx, userID, code); err != nil {
		return err
	}

	if err := e.totpStore.Delete(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, userID, nil, nil)
	return nil
}

// RegenerateBackupCodes replaces the whole backup-code set under the same
// possession check as Disable2FA and returns the new plaintext codes once.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if err := e.requireSecondFactor(ctx, userID, code); err != nil {
		return nil, err
	}

	codes, digests, err := e.newBackupCodes(userID)
	if err != nil {
		return nil, err
	}

	replaced, err := e.totpStore.ReplaceCodes(ctx, userID, digests)
	if err != nil {
		return nil, err
	}
	if !replaced {
		return nil, ErrTOTPNotEnabled
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesReplaced, true, userID, nil, nil)
	return codes, nil
}

// requireSecondFactor gates destructive credential operations on a valid
// current TOTP or backup code.
func (e *Engine) requireSecondFactor(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	sealed, enabled, err := e.totpStore.Get(ctx, userID)
	if err != nil {
		return err
	}
	if sealed == nil || !enabled {
		return ErrTOTPNotEnabled
	}

	ok, err := e.verifyTOTPCode(sealed, code)
	if err != nil {
		return err
	}
	if !ok {
		var usedBackup bool
		usedBackup, err = e.consumeBackupCode(ctx, userID, code)
		if err != nil {
			return err
		}
		if !usedBackup {
			return ErrCodeInvalid
		}
	}

	return nil
}

func (e *Engine) verifyTOTPCode(sealed []byte, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}

	secret, err := e.keychain.Decrypt(sealed)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeychainUnavailable, err)
	}
	if _, err := internal.Base32Decode(string(secret)); err != nil {
		return false, fmt.Errorf("%w: corrupt secret", ErrKeychainUnavailable)
	}

	ok, err := totp.ValidateCustom(code, string(secret), e.now(), totp.ValidateOpts{
		Period:    uint(e.config.TOTP.Period.Seconds()),
		Skew:      uint(e.config.TOTP.Skew),
		Digits:    e.totpDigits(),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// malformed input, not a backend failure
		return false, nil
	}
	return ok, nil
}

func (e *Engine) consumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	normalized := normalizeBackupCode(code)
	if normalized == "" {
		return false, nil
	}

	digest := e.passwordHash.DigestCode(userID, normalized)
	return e.totpStore.ConsumeCode(ctx, userID, digest)
}

// newBackupCodes produces the configured number of grouped-hex codes and
// their storage digests.
func (e *Engine) newBackupCodes(userID string) ([]string, []string, error) {
	count := e.config.TOTP.BackupCodeCount
	codes := make([]string, 0, count)
	digests := make([]string, 0, count)

	for i := 0; i < count; i++ {
		raw, err := internal.RandomBytes(e.config.TOTP.BackupCodeBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrTOTPUnavailable, err)
		}

		plain := hex.EncodeToString(raw)
		display := plain[:len(plain)/2] + "-" + plain[len(plain)/2:]
		codes = append(codes, display)
		digests = append(digests, e.passwordHash.DigestCode(userID, plain))
	}

	return codes, digests, nil
}

// normalizeBackupCode strips the display grouping so transcription with or
// without the dash verifies the same.
func normalizeBackupCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	for _, r := range code {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ""
		}
	}
	return code
}

func (e *Engine) totpDigits() otp.Digits {
	if e.config.TOTP.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}
