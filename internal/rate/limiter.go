package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript bumps a fixed-window counter and starts its window on the first
// hit, in one round trip.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Config holds rate limiter tuning parameters.
type Config struct {
	Prefix                   string
	EnableIPThrottle         bool
	EnableRefreshThrottle    bool
	MaxLoginAttempts         int
	LoginCooldownDuration    time.Duration
	MaxRefreshAttempts       int
	RefreshCooldownDuration  time.Duration
	EnableRegisterThrottle   bool
	MaxRegisterAttempts      int
	RegisterCooldownDuration time.Duration
}

// Limiter enforces per-identifier and per-IP login and registration budgets
// and a per-account refresh budget using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "authcore"
	}
	return &Limiter{redis: redisClient, config: cfg}
}

// CheckLogin reports ErrRateLimited when any login counter for the
// identifier or client IP has reached MaxLoginAttempts.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	counts, err := l.read(ctx, l.loginKeys(identifier, ip)...)
	if err != nil {
		return err
	}
	for _, n := range counts {
		if n >= int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// IncrementLogin records one failed login against every login counter.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	for _, key := range l.loginKeys(identifier, ip) {
		if _, err := l.hit(ctx, key, l.config.LoginCooldownDuration); err != nil {
			return err
		}
	}
	return nil
}

// ResetLogin clears the login counters after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, identifier, ip string) error {
	if err := l.redis.Del(ctx, l.loginKeys(identifier, ip)...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// CheckRefresh counts a refresh for the subject and reports ErrRateLimited
// once more than MaxRefreshAttempts happened in the window.
func (l *Limiter) CheckRefresh(ctx context.Context, subject string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}
	n, err := l.hit(ctx, l.refreshKey(subject), l.config.RefreshCooldownDuration)
	if err != nil {
		return err
	}
	if n > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

// CheckRegister counts a registration attempt against the identifier and,
// when IP throttling is on, the client IP. It reports ErrRateLimited once
// either exceeds MaxRegisterAttempts in the window.
func (l *Limiter) CheckRegister(ctx context.Context, identifier, ip string) error {
	if !l.config.EnableRegisterThrottle {
		return nil
	}
	keys := []string{l.config.Prefix + ":rg:" + strings.ToLower(strings.TrimSpace(identifier))}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, l.config.Prefix+":rgi:"+ip)
	}

	limited := false
	for _, key := range keys {
		n, err := l.hit(ctx, key, l.config.RegisterCooldownDuration)
		if err != nil {
			return err
		}
		if n > int64(l.config.MaxRegisterAttempts) {
			limited = true
		}
	}
	if limited {
		return ErrRateLimited
	}
	return nil
}

// LoginAttempts returns the failure counter for an identifier; zero when
// no window is open.
func (l *Limiter) LoginAttempts(ctx context.Context, identifier string) (int, error) {
	counts, err := l.read(ctx, l.loginUserKey(identifier))
	if err != nil {
		return 0, err
	}
	return int(max(counts[0], 0)), nil
}

// read fetches several counters in one pipeline. Missing keys read as zero.
func (l *Limiter) read(ctx context.Context, keys ...string) ([]int64, error) {
	cmds := make([]*redis.StringCmd, len(keys))
	_, err := l.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = p.Get(ctx, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	counts := make([]int64, len(keys))
	for i, cmd := range cmds {
		n, err := cmd.Int64()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return nil, unavailable(err)
		default:
			counts[i] = n
		}
	}
	return counts, nil
}

func (l *Limiter) hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := hitScript.Run(ctx, l.redis, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

func (l *Limiter) loginKeys(identifier, ip string) []string {
	keys := []string{l.loginUserKey(identifier)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, l.config.Prefix+":ali:"+ip)
	}
	return keys
}

// Identifiers are case-insensitive everywhere else, so the counters are too.
func (l *Limiter) loginUserKey(identifier string) string {
	return l.config.Prefix + ":al:" + strings.ToLower(strings.TrimSpace(identifier))
}

func (l *Limiter) refreshKey(subject string) string {
	return l.config.Prefix + ":ar:" + subject
}
