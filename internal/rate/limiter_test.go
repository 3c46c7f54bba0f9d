package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, cfg), mr
}

func loginConfig() Config {
	return Config{
		Prefix:                  "test",
		MaxLoginAttempts:        3,
		LoginCooldownDuration:   time.Minute,
		EnableRefreshThrottle:   true,
		MaxRefreshAttempts:      2,
		RefreshCooldownDuration: time.Minute,
	}
}

func TestLoginBudgetExhausts(t *testing.T) {
	l, _ := newTestLimiter(t, loginConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "ada@example.com", ""); err != nil {
			t.Fatalf("attempt %d: unexpected check error: %v", i, err)
		}
		if err := l.IncrementLogin(ctx, "ada@example.com", ""); err != nil {
			t.Fatalf("attempt %d: increment error: %v", i, err)
		}
	}

	if err := l.CheckLogin(ctx, "ada@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after budget spent, got %v", err)
	}
	if err := l.CheckLogin(ctx, "ADA@example.com ", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected identifier matching to be case-insensitive, got %v", err)
	}
	if err := l.CheckLogin(ctx, "grace@example.com", ""); err != nil {
		t.Fatalf("other identifiers must not be affected: %v", err)
	}
}

func TestLoginWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, loginConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = l.IncrementLogin(ctx, "ada", "")
	}
	if err := l.CheckLogin(ctx, "ada", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(61 * time.Second)

	if err := l.CheckLogin(ctx, "ada", ""); err != nil {
		t.Fatalf("expected window to expire, got %v", err)
	}
}

func TestResetLoginClearsCounters(t *testing.T) {
	cfg := loginConfig()
	cfg.EnableIPThrottle = true
	l, mr := newTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = l.IncrementLogin(ctx, "ada", "10.0.0.1")
	}
	if got, _ := l.LoginAttempts(ctx, "ada"); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}

	if err := l.ResetLogin(ctx, "ada", "10.0.0.1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got, _ := l.LoginAttempts(ctx, "ada"); got != 0 {
		t.Fatalf("expected counter cleared, got %d", got)
	}
	if mr.Exists("test:ali:10.0.0.1") {
		t.Fatal("expected IP counter cleared")
	}
}

func TestIPThrottleAcrossIdentifiers(t *testing.T) {
	cfg := loginConfig()
	cfg.EnableIPThrottle = true
	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "a", "10.0.0.9")
	_ = l.IncrementLogin(ctx, "b", "10.0.0.9")
	_ = l.IncrementLogin(ctx, "c", "10.0.0.9")

	if err := l.CheckLogin(ctx, "d", "10.0.0.9"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP throttle, got %v", err)
	}
	if err := l.CheckLogin(ctx, "d", "10.0.0.10"); err != nil {
		t.Fatalf("other IPs must not be affected: %v", err)
	}
}

func TestRefreshBudget(t *testing.T) {
	l, _ := newTestLimiter(t, loginConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckRefresh(ctx, "subject-1"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if err := l.CheckRefresh(ctx, "subject-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected refresh throttle, got %v", err)
	}
}

func TestRefreshThrottleDisabled(t *testing.T) {
	cfg := loginConfig()
	cfg.EnableRefreshThrottle = false
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 10; i++ {
		if err := l.CheckRefresh(context.Background(), "subject-1"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
}

func TestRedisFailureIsReported(t *testing.T) {
	l, mr := newTestLimiter(t, loginConfig())
	mr.Close()

	if err := l.CheckLogin(context.Background(), "ada", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if err := l.IncrementLogin(context.Background(), "ada", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func registerConfig() Config {
	cfg := loginConfig()
	cfg.EnableIPThrottle = true
	cfg.EnableRegisterThrottle = true
	cfg.MaxRegisterAttempts = 2
	cfg.RegisterCooldownDuration = time.Hour
	return cfg
}

func TestRegisterBudgetPerIP(t *testing.T) {
	l, mr := newTestLimiter(t, registerConfig())
	ctx := context.Background()

	for i, identifier := range []string{"ada@example.com", "grace@example.com"} {
		if err := l.CheckRegister(ctx, identifier, "203.0.113.7"); err != nil {
			t.Fatalf("registration %d: %v", i, err)
		}
	}
	if err := l.CheckRegister(ctx, "linus@example.com", "203.0.113.7"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected the client address budget to be spent, got %v", err)
	}
	if err := l.CheckRegister(ctx, "ken@example.com", "198.51.100.1"); err != nil {
		t.Fatalf("other addresses must not be affected: %v", err)
	}

	if !mr.Exists("test:rgi:203.0.113.7") {
		t.Fatalf("expected a per-address registration counter")
	}
	if ttl := mr.TTL("test:rgi:203.0.113.7"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected the window to expire within an hour, got %s", ttl)
	}

	mr.FastForward(61 * time.Minute)
	if err := l.CheckRegister(ctx, "linus@example.com", "203.0.113.7"); err != nil {
		t.Fatalf("window should have reset: %v", err)
	}
}

func TestRegisterBudgetPerIdentifier(t *testing.T) {
	cfg := registerConfig()
	cfg.EnableIPThrottle = false
	l, _ := newTestLimiter(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckRegister(ctx, "ada@example.com", "203.0.113.7"); err != nil {
			t.Fatalf("registration %d: %v", i, err)
		}
	}
	if err := l.CheckRegister(ctx, "ADA@example.com", "198.51.100.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected the identifier budget to be spent, got %v", err)
	}
}

func TestRegisterThrottleDisabled(t *testing.T) {
	cfg := registerConfig()
	cfg.EnableRegisterThrottle = false
	l, mr := newTestLimiter(t, cfg)

	for i := 0; i < 10; i++ {
		if err := l.CheckRegister(context.Background(), "ada@example.com", "203.0.113.7"); err != nil {
			t.Fatalf("registration %d: %v", i, err)
		}
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("disabled throttle must not write keys, got %v", keys)
	}
}
