package marketauth

import (
	"context"
	"time"
)

// UserRecord is the minimal account view the engine needs from the
// surrounding user store.
type UserRecord struct {
	UserID       string
	Email        string
	PasswordHash string
}

// UserDirectory is the interface callers implement to connect marketauth to
// their user database. The engine never caches records returned from it.
type UserDirectory interface {
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	MarkEmailVerified(ctx context.Context, userID, email string) error
}

// Keychain protects secrets at rest. Implementations must use authenticated
// encryption; the blob layout is opaque to the engine. A production
// deployment typically backs this with a managed KMS key.
type Keychain interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(blob []byte) ([]byte, error)
}

// TOTPEnrollment holds everything Enroll2FA hands back exactly once: the raw
// base32 secret, the otpauth:// provisioning URI, and the plaintext backup
// codes. None of these are retrievable again.
type TOTPEnrollment struct {
	Secret      string
	URI         string
	BackupCodes []string
}

// CSRFToken is returned by GenerateCSRFToken.
type CSRFToken struct {
	Token     string
	ExpiresAt time.Time
}

// AdminSessionInfo is one entry of ListAdminSessions. Current marks the
// session matching the token the caller presented.
type AdminSessionInfo struct {
	SessionID    string
	AdminID      string
	OriginAddr   string
	UserAgent    string
	LastActiveAt time.Time
	ExpiresAt    time.Time
	Current      bool
}
