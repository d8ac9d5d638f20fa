package marketauth

import (
	"errors"
	"time"
)

// Config carries every tunable of the subsystem. All timeouts, counts, and
// lengths live here so environments can tune them and tests can pin them;
// nothing in the engine reads a free-standing constant.
type Config struct {
	KeyPrefix string // Redis key namespace, default "ma"

	TOTP              TOTPConfig
	PasswordReset     TokenConfig
	EmailVerification TokenConfig
	CSRF              CSRFConfig
	AdminSession      AdminSessionConfig
	AccessToken       AccessTokenConfig
	Password          PasswordConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

// TOTPConfig controls second-factor enrollment and verification.
type TOTPConfig struct {
	Issuer          string
	Digits          int           // 6 or 8
	Period          time.Duration // time-step length, default 30s
	Skew            int           // accepted steps either side of now
	SecretBytes     int           // raw secret length before base32, >= 20
	BackupCodeCount int
	BackupCodeBytes int // entropy per backup code, default 4 (8 hex chars)
}

// TokenConfig controls one ephemeral-token purpose (password reset or email
// verification).
type TokenConfig struct {
	TTL time.Duration
}

// CSRFConfig controls session-bound one-time tokens.
type CSRFConfig struct {
	TTL time.Duration
}

// AdminSessionConfig controls administrative sessions. Timeout is the
// sliding-window idle limit: every successful validation moves expiry to
// now + Timeout.
type AdminSessionConfig struct {
	Timeout time.Duration
}

// AccessTokenConfig controls the short-lived signed tokens minted by
// ExchangeRefreshToken.
type AccessTokenConfig struct {
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	Issuer        string
	PrivateKey    []byte
	PublicKey     []byte // ed25519 only
}

// PasswordConfig carries the Argon2id parameters used for password hashes
// and backup-code digests.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		KeyPrefix: "ma",
		TOTP: TOTPConfig{
			Issuer:          "",
			Digits:          6,
			Period:          30 * time.Second,
			Skew:            1,
			SecretBytes:     20,
			BackupCodeCount: 10,
			BackupCodeBytes: 4,
		},
		PasswordReset:     TokenConfig{TTL: 24 * time.Hour},
		EmailVerification: TokenConfig{TTL: 24 * time.Hour},
		CSRF:              CSRFConfig{TTL: 60 * time.Minute},
		AdminSession:      AdminSessionConfig{Timeout: 30 * time.Minute},
		AccessToken: AccessTokenConfig{
			TTL:           5 * time.Minute,
			SigningMethod: "hs256",
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: false},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.AccessToken.PrivateKey = cloneBytes(cfg.AccessToken.PrivateKey)
	out.AccessToken.PublicKey = cloneBytes(cfg.AccessToken.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the engine cannot run safely with.
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return errors.New("KeyPrefix must not be empty")
	}

	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15*time.Second {
		return errors.New("TOTP Period must be >= 15s")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}
	if c.TOTP.SecretBytes < 20 {
		return errors.New("TOTP SecretBytes must be >= 20")
	}
	if c.TOTP.BackupCodeCount <= 0 {
		return errors.New("TOTP BackupCodeCount must be > 0")
	}
	if c.TOTP.BackupCodeBytes < 4 {
		return errors.New("TOTP BackupCodeBytes must be >= 4")
	}

	if c.PasswordReset.TTL <= 0 {
		return errors.New("PasswordReset TTL must be > 0")
	}
	if c.EmailVerification.TTL <= 0 {
		return errors.New("EmailVerification TTL must be > 0")
	}
	if c.CSRF.TTL <= 0 {
		return errors.New("CSRF TTL must be > 0")
	}
	if c.AdminSession.Timeout <= 0 {
		return errors.New("AdminSession Timeout must be > 0")
	}

	if c.AccessToken.TTL <= 0 {
		return errors.New("AccessToken TTL must be > 0")
	}
	switch c.AccessToken.SigningMethod {
	case "hs256":
		if len(c.AccessToken.PrivateKey) < 32 {
			return errors.New("hs256 requires a key of at least 32 bytes")
		}
	case "ed25519":
		if len(c.AccessToken.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.AccessToken.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported AccessToken signing method")
	}

	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
