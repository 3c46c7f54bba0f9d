package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/schoolnotes/authcore/password"
	"github.com/schoolnotes/authcore/token"
)

// Config is the engine configuration. The builder copies it; later changes
// to the caller's value have no effect on a built Engine.
type Config struct {
	JWT      JWTConfig
	Password PasswordConfig
	Account  AccountConfig
	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds the HS256 shared secret and token lifetimes.
type JWTConfig struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id cost parameters and the length policy
// applied to new passwords.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxBytes       int
	UpgradeOnLogin bool
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig controls registration defaults and refresh behaviour.
type AccountConfig struct {
	// DefaultRole is assigned on self-service registration.
	DefaultRole Role
	// RequireVerification registers accounts as Pending instead of Active.
	RequireVerification bool
	// RotateRefreshTokens makes Refresh return a new refresh token as well.
	RotateRefreshTokens bool
}

// SecurityConfig controls the redis throttles. Throttling is active only when
// the builder receives a redis client.
type SecurityConfig struct {
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration

	// Registration budget per identifier and per client IP. Every attempt
	// counts, successful or not.
	EnableRegisterThrottle   bool
	MaxRegisterAttempts      int
	RegisterCooldownDuration time.Duration

	RedisPrefix string
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a configuration with every field but JWT.Secret set.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:  time.Hour,
			RefreshTTL: 168 * time.Hour,
			Issuer:     "authcore",
		},
		Password: PasswordConfig{
			Memory:         pw.Memory,
			Time:           pw.Time,
			Parallelism:    pw.Parallelism,
			SaltLength:     pw.SaltLength,
			KeyLength:      pw.KeyLength,
			MinLength:      8,
			MaxBytes:       pw.MaxPasswordBytes,
			UpgradeOnLogin: true,
		},
		Account: AccountConfig{
			DefaultRole: RoleStudent,
		},
		Security: SecurityConfig{
			EnableIPThrottle:         false,
			EnableRefreshThrottle:    true,
			MaxLoginAttempts:         5,
			LoginCooldownDuration:    15 * time.Minute,
			MaxRefreshAttempts:       20,
			RefreshCooldownDuration:  time.Minute,
			EnableRegisterThrottle:   true,
			MaxRegisterAttempts:      5,
			RegisterCooldownDuration: time.Hour,
			RedisPrefix:              "authcore",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
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

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if len(c.JWT.Secret) < token.MinSecretBytes {
		return fmt.Errorf("JWT Secret must be at least %d bytes", token.MinSecretBytes)
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxBytes > 0 && c.Password.MaxBytes < c.Password.MinLength {
		return errors.New("Password MaxBytes must be >= MinLength")
	}

	if !c.Account.DefaultRole.Valid() {
		return fmt.Errorf("Account DefaultRole %q is not a known role", c.Account.DefaultRole)
	}
	if c.Account.DefaultRole == RoleAdmin {
		return errors.New("Account DefaultRole must not be admin")
	}

	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("Security MaxLoginAttempts must be > 0")
	}
	if c.Security.LoginCooldownDuration <= 0 {
		return errors.New("Security LoginCooldownDuration must be > 0")
	}
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 {
			return errors.New("Security MaxRefreshAttempts must be > 0 when refresh throttle is enabled")
		}
		if c.Security.RefreshCooldownDuration <= 0 {
			return errors.New("Security RefreshCooldownDuration must be > 0 when refresh throttle is enabled")
		}
	}

	if c.Security.EnableRegisterThrottle {
		if c.Security.MaxRegisterAttempts <= 0 {
			return errors.New("Security MaxRegisterAttempts must be > 0 when register throttle is enabled")
		}
		if c.Security.RegisterCooldownDuration <= 0 {
			return errors.New("Security RegisterCooldownDuration must be > 0 when register throttle is enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

func (c *Config) passwordConfig() password.Config {
	return password.Config{
		Memory:           c.Password.Memory,
		Time:             c.Password.Time,
		Parallelism:      c.Password.Parallelism,
		SaltLength:       c.Password.SaltLength,
		KeyLength:        c.Password.KeyLength,
		MaxPasswordBytes: c.Password.MaxBytes,
	}
}

func (c *Config) tokenConfig() token.Config {
	return token.Config{
		Secret:     cloneBytes(c.JWT.Secret),
		AccessTTL:  c.JWT.AccessTTL,
		RefreshTTL: c.JWT.RefreshTTL,
		Issuer:     c.JWT.Issuer,
		Leeway:     c.JWT.Leeway,
	}
}
