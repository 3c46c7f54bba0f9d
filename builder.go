package authcore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/schoolnotes/authcore/internal/audit"
	"github.com/schoolnotes/authcore/internal/rate"
	"github.com/schoolnotes/authcore/password"
	"github.com/schoolnotes/authcore/token"
)

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	directory AccountDirectory
	auditSink AuditSink
	logger    *slog.Logger

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithDirectory sets the account store. Required.
func (b *Builder) WithDirectory(dir AccountDirectory) *Builder {
	b.directory = dir
	return b
}

// WithRedis enables the redis throttles. Without it the engine
// runs unthrottled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditSink sets the destination for audit events. It takes effect only
// when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.directory == nil {
		return nil, errors.New("account directory required")
	}

	hasher, err := password.NewArgon2(cfg.passwordConfig())
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(cfg.tokenConfig())
	if err != nil {
		return nil, err
	}

	dummy, err := dummyHash(hasher)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		config:    cfg,
		directory: b.directory,
		hasher:    hasher,
		tokens:    tokens,
		dummyHash: dummy,
		logger:    logger,
		metrics:   NewMetrics(cfg.Metrics),
		now:       time.Now,
	}
	if w, ok := b.directory.(AccountWriter); ok {
		engine.writer = w
	}
	if l, ok := b.directory.(AccountLister); ok {
		engine.lister = l
	}

	if b.redis != nil {
		engine.limiter = rate.New(b.redis, rate.Config{
			Prefix:                   cfg.Security.RedisPrefix,
			EnableIPThrottle:         cfg.Security.EnableIPThrottle,
			EnableRefreshThrottle:    cfg.Security.EnableRefreshThrottle,
			MaxLoginAttempts:         cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration:    cfg.Security.LoginCooldownDuration,
			MaxRefreshAttempts:       cfg.Security.MaxRefreshAttempts,
			RefreshCooldownDuration:  cfg.Security.RefreshCooldownDuration,
			EnableRegisterThrottle:   cfg.Security.EnableRegisterThrottle,
			MaxRegisterAttempts:      cfg.Security.MaxRegisterAttempts,
			RegisterCooldownDuration: cfg.Security.RegisterCooldownDuration,
		})
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true

	return engine, nil
}

// dummyHash produces a hash with the live parameters so that logins for
// unknown identifiers cost the same as real ones.
func dummyHash(hasher *password.Argon2) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hasher.Hash(base64.RawURLEncoding.EncodeToString(buf))
}
