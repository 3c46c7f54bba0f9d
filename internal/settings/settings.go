// Package settings loads the authcore service configuration.
//
// Sources are merged in order, each overriding the last: built-in defaults,
// an optional YAML file, APP__SECTION__KEY environment variables, then
// explicitly set command-line flags.
package settings

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/schoolnotes/authcore"
)

// EnvPrefix is the prefix of environment overrides. Sections and keys are
// separated by a double underscore: APP__SERVER__PORT.
const EnvPrefix = "APP__"

const (
	EnvDevelopment = "dev"
	EnvProduction  = "prod"
)

type Settings struct {
	Server   Server   `koanf:"server"`
	Database Database `koanf:"database"`
	Redis    Redis    `koanf:"redis"`
	Logging  Logging  `koanf:"logging"`
	JWT      JWT      `koanf:"jwt"`
	Admin    Admin    `koanf:"admin"`
	Account  Account  `koanf:"account"`
	Audit    Audit    `koanf:"audit"`
}

// Server.TrustProxyHeaders takes the client address from X-Forwarded-For or
// X-Real-IP. Enable it only behind a proxy that overwrites those headers.
type Server struct {
	Env               string `koanf:"env"`
	Host              string `koanf:"host"`
	Port              int    `koanf:"port"`
	TrustProxyHeaders bool   `koanf:"trust_proxy_headers"`
}

// Database.URL empty means accounts live in memory and are lost on exit.
type Database struct {
	URL              string `koanf:"url"`
	MigrateOnStartup bool   `koanf:"migrate_on_startup"`
}

// Redis.Addr empty disables login and refresh throttling.
type Redis struct {
	Addr string `koanf:"addr"`
}

type Logging struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type JWT struct {
	Secret       string `koanf:"secret"`
	AccessHours  int    `koanf:"access_hours"`
	RefreshHours int    `koanf:"refresh_hours"`
	Issuer       string `koanf:"issuer"`
}

// Admin holds the bootstrap administrator. Both fields empty skips the
// bootstrap.
type Admin struct {
	Email    string `koanf:"email"`
	Password string `koanf:"password"`
}

type Account struct {
	RequireVerification bool `koanf:"require_verification"`
	RotateRefreshTokens bool `koanf:"rotate_refresh_tokens"`
}

type Audit struct {
	Enabled bool `koanf:"enabled"`
}

// Default returns the development defaults.
func Default() Settings {
	return Settings{
		Server:   Server{Env: EnvDevelopment, Host: "127.0.0.1", Port: 8080},
		Database: Database{MigrateOnStartup: true},
		Logging:  Logging{Level: "info", Format: "json"},
		JWT:      JWT{AccessHours: 1, RefreshHours: 168, Issuer: "authcore"},
		Audit:    Audit{Enabled: true},
	}
}

// flagKeys maps command-line flags to settings keys.
var flagKeys = map[string]string{
	"env":                 "server.env",
	"host":                "server.host",
	"port":                "server.port",
	"trust-proxy-headers": "server.trust_proxy_headers",
	"database-url":        "database.url",
	"redis-addr":          "redis.addr",
	"log-level":           "logging.level",
	"log-format":          "logging.format",
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("env", d.Server.Env, "deployment environment (dev or prod)")
	fs.String("host", d.Server.Host, "listen host")
	fs.Int("port", d.Server.Port, "listen port")
	fs.Bool("trust-proxy-headers", d.Server.TrustProxyHeaders, "take the client address from X-Forwarded-For/X-Real-IP")
	fs.String("database-url", d.Database.URL, "postgres URL (empty = in-memory accounts)")
	fs.String("redis-addr", d.Redis.Addr, "redis address for throttling (empty = disabled)")
	fs.String("log-level", d.Logging.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Logging.Format, "log format (json or text)")
}

// Load merges every source into Settings and validates the result. path may
// be empty; fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Settings, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Settings{}, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Settings{}, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if fs != nil {
		// Only flags the user actually set override the layers above.
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Settings{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	s := Default()
	if err := k.UnmarshalWithConf("", &s, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Settings{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return s, nil
}

// envKey turns APP__JWT__ACCESS_HOURS into jwt.access_hours.
func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(name), "__", ".")
}

// Validate reports the first problem found.
func (s Settings) Validate() error {
	switch s.Server.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("server.env must be %q or %q, got %q", EnvDevelopment, EnvProduction, s.Server.Env)
	}
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", s.Server.Port)
	}
	if s.Logging.Format != "json" && s.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text', got %q", s.Logging.Format)
	}
	if s.JWT.AccessHours <= 0 {
		return errors.New("jwt.access_hours must be > 0")
	}
	if s.JWT.RefreshHours < s.JWT.AccessHours {
		return errors.New("jwt.refresh_hours must be >= jwt.access_hours")
	}
	if (s.Admin.Email == "") != (s.Admin.Password == "") {
		return errors.New("admin.email and admin.password must be set together")
	}
	if s.IsProduction() {
		if s.JWT.Secret == "" {
			return errors.New("jwt.secret is required in prod")
		}
		if s.Database.URL == "" {
			return errors.New("database.url is required in prod")
		}
	}
	return nil
}

func (s Settings) IsProduction() bool {
	return s.Server.Env == EnvProduction
}

// Addr is the HTTP listen address.
func (s Settings) Addr() string {
	return net.JoinHostPort(s.Server.Host, strconv.Itoa(s.Server.Port))
}

// EngineConfig maps the service settings onto the engine configuration.
// secret is used when jwt.secret is empty; callers generate one in dev.
func (s Settings) EngineConfig(secret []byte) authcore.Config {
	cfg := authcore.DefaultConfig()
	if s.JWT.Secret != "" {
		secret = []byte(s.JWT.Secret)
	}
	cfg.JWT.Secret = secret
	cfg.JWT.AccessTTL = time.Duration(s.JWT.AccessHours) * time.Hour
	cfg.JWT.RefreshTTL = time.Duration(s.JWT.RefreshHours) * time.Hour
	if s.JWT.Issuer != "" {
		cfg.JWT.Issuer = s.JWT.Issuer
	}
	cfg.Account.RequireVerification = s.Account.RequireVerification
	cfg.Account.RotateRefreshTokens = s.Account.RotateRefreshTokens
	cfg.Audit.Enabled = s.Audit.Enabled
	return cfg
}
