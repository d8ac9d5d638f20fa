package marketauth

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method is called before
	// Build wired its dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUserNotFound is returned when the directory has no matching account.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnauthorized is returned when a current password or code check fails
	// on a guarded operation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation is returned for malformed input, such as a non-numeric
	// one-time code.
	ErrValidation = errors.New("invalid input")

	// ErrTOTPAlreadyEnabled is returned by Enroll2FA when an enabled
	// credential already exists.
	ErrTOTPAlreadyEnabled = errors.New("totp already enabled")
	// ErrTOTPNotEnabled is returned when an operation requires an enabled
	// second factor and none exists.
	ErrTOTPNotEnabled = errors.New("totp not enabled")
	// ErrNoPendingEnrollment is returned by Confirm2FA when no enrollment
	// was started.
	ErrNoPendingEnrollment = errors.New("no pending totp enrollment")
	// ErrCodeInvalid is returned when a submitted TOTP or backup code does
	// not verify.
	ErrCodeInvalid = errors.New("invalid code")
	// ErrTOTPUnavailable is returned when the credential backend cannot be
	// reached.
	ErrTOTPUnavailable = errors.New("totp backend unavailable")

	// ErrTokenNotFound is returned when no ephemeral token record matches.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenAlreadyUsed is returned when an ephemeral token was consumed
	// before, including tokens superseded by a newer issuance.
	ErrTokenAlreadyUsed = errors.New("token already used")
	// ErrTokenExpired is returned when an ephemeral token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenUnavailable is returned when the token backend cannot be
	// reached.
	ErrTokenUnavailable = errors.New("token backend unavailable")

	// ErrPasswordPolicy is returned when a new password fails hashing policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when the new password equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")

	// ErrCSRFUnavailable is returned when the CSRF backend cannot be reached.
	// Callers must treat it as a failed validation.
	ErrCSRFUnavailable = errors.New("csrf backend unavailable")

	// ErrRefreshInvalid is the single opaque failure for refresh-token
	// validation: not found, revoked, and expired all collapse into it.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshUnavailable is returned when the refresh backend cannot be
	// reached.
	ErrRefreshUnavailable = errors.New("refresh backend unavailable")

	// ErrSessionNotFound is the opaque failure for admin-session validation:
	// missing and expired collapse into it.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionUnavailable is returned when the session backend cannot be
	// reached.
	ErrSessionUnavailable = errors.New("session backend unavailable")

	// ErrKeychainUnavailable is returned when secret sealing or unsealing
	// fails.
	ErrKeychainUnavailable = errors.New("keychain unavailable")
)
