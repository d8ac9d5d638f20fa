package marketauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taylanirak/marketauth/jwt"
	"github.com/taylanirak/marketauth/password"
)

// Builder assembles an Engine. A zero Builder is not usable; start from New.
type Builder struct {
	config Config
	redis  *redis.Client

	directory UserDirectory
	keychain  Keychain
	auditSink AuditSink

	built bool
}

// New returns a Builder preloaded with default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithDirectory connects the engine to the caller's user store.
func (b *Builder) WithDirectory(dir UserDirectory) *Builder {
	b.directory = dir
	return b
}

// WithKeychain sets the cipher used for secrets at rest.
func (b *Builder) WithKeychain(kc Keychain) *Builder {
	b.keychain = kc
	return b
}

// WithKeychainKey is a convenience for the built-in XChaCha20-Poly1305
// keychain under a single 32-byte key.
func (b *Builder) WithKeychainKey(key []byte) *Builder {
	kc, err := NewKeyedKeychain(key)
	if err != nil {
		// surfaced at Build time as a missing keychain
		return b
	}
	b.keychain = kc
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires every store against Redis, and
// returns the Engine. A Builder can build at most once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderReused
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.directory == nil {
		return nil, errors.New("user directory required")
	}
	if b.keychain == nil {
		return nil, errors.New("keychain required")
	}

	engine := &Engine{
		config:    cfg,
		directory: b.directory,
		keychain:  b.keychain,
		now:       time.Now,
	}

	engine.totpStore = newTOTPCredentialStore(b.redis, cfg.KeyPrefix)
	engine.tokens = newEphemeralTokenStore(b.redis, cfg.KeyPrefix)
	engine.csrfStore = newCSRFStore(b.redis, cfg.KeyPrefix)
	engine.refreshStore = newRefreshTokenStore(b.redis, cfg.KeyPrefix)
	engine.adminStore = newAdminSessionStore(b.redis, cfg.KeyPrefix)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.AccessToken.TTL,
		SigningMethod: jwt.SigningMethod(cfg.AccessToken.SigningMethod),
		PrivateKey:    cloneBytes(cfg.AccessToken.PrivateKey),
		PublicKey:     cloneBytes(cfg.AccessToken.PublicKey),
		Issuer:        cfg.AccessToken.Issuer,
	})
	if err != nil {
		return nil, err
	}
	engine.accessTokens = jm

	b.built = true

	return engine, nil
}
