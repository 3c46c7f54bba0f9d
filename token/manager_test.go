package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Secret:     testSecret,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		Issuer:     "authcore",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func signRaw(t *testing.T, method gjwt.SigningMethod, key interface{}, claims gjwt.Claims) string {
	t.Helper()
	signed, err := gjwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestIssueAndVerifyAccess(t *testing.T) {
	m := newTestManager(t)

	tok, err := m.IssueAccess("0192a4b0-0000-7000-8000-000000000001", "ada@example.com")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if parts := strings.Split(tok, "."); len(parts) != 3 {
		t.Fatalf("expected compact JWS with 3 segments, got %d", len(parts))
	}

	claims, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject() != "0192a4b0-0000-7000-8000-000000000001" {
		t.Fatalf("unexpected subject %q", claims.Subject())
	}
	if claims.Login() != "ada@example.com" {
		t.Fatalf("unexpected login %q", claims.Login())
	}
	if claims.Kind() != KindAccess {
		t.Fatalf("unexpected kind %q", claims.Kind())
	}
	if claims.ID() == "" {
		t.Fatal("expected token id")
	}
	if got := claims.ExpiresAt().Sub(claims.IssuedAt()); got != time.Hour {
		t.Fatalf("expected 1h lifetime, got %s", got)
	}
}

func TestIssueRefreshCarriesRefreshKind(t *testing.T) {
	m := newTestManager(t)

	tok, err := m.IssueRefresh("subject-1", "ada")
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	claims, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Kind() != KindRefresh {
		t.Fatalf("expected refresh kind, got %q", claims.Kind())
	}
	if got := claims.ExpiresAt().Sub(claims.IssuedAt()); got != 24*time.Hour {
		t.Fatalf("expected 24h lifetime, got %s", got)
	}
}

func TestTokenIDsAreUnique(t *testing.T) {
	m := newTestManager(t)

	a, _ := m.IssueAccess("subject-1", "")
	b, _ := m.IssueAccess("subject-1", "")
	if a == b {
		t.Fatal("expected distinct tokens for repeated issuance")
	}
}

func TestVerifyExpired(t *testing.T) {
	m := newTestManager(t)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	tok, err := m.IssueAccess("subject-1", "")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	m.now = time.Now
	if _, err := m.Verify(tok); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyExpiredWithBadSignatureIsInvalid(t *testing.T) {
	m := newTestManager(t)
	tok := signRaw(t, gjwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), wireClaims{
		Kind: KindAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "subject-1",
			Issuer:    "authcore",
			IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-3 * time.Hour)),
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	})

	if _, err := m.Verify(tok); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for forged expired token, got %v", err)
	}
}

func TestVerifyExpiredForeignIssuerIsInvalid(t *testing.T) {
	m := newTestManager(t)
	tok := signRaw(t, gjwt.SigningMethodHS256, testSecret, wireClaims{
		Kind: KindAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "subject-1",
			Issuer:    "someone-else",
			IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-3 * time.Hour)),
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	})

	_, err := m.Verify(tok)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for expired token from another issuer, got %v", err)
	}
	if errors.Is(err, ErrExpired) {
		t.Fatalf("foreign issuer must not be reported as expired: %v", err)
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	m := newTestManager(t)

	tok, err := m.IssueAccess("subject-1", "")
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	parts := strings.Split(tok, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := m.Verify(tampered); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	m := newTestManager(t)

	access, _ := m.IssueAccess("subject-1", "")
	refresh, _ := m.IssueRefresh("subject-1", "")

	// Splice a refresh payload onto an access signature.
	a := strings.Split(access, ".")
	r := strings.Split(refresh, ".")
	spliced := a[0] + "." + r[1] + "." + a[2]

	if _, err := m.Verify(spliced); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	m := newTestManager(t)
	claims := wireClaims{
		Kind: KindAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "subject-1",
			Issuer:    "authcore",
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}

	hs512 := signRaw(t, gjwt.SigningMethodHS512, testSecret, claims)
	if _, err := m.Verify(hs512); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected HS512 token to be rejected, got %v", err)
	}

	none := signRaw(t, gjwt.SigningMethodNone, gjwt.UnsafeAllowNoneSignatureType, claims)
	if _, err := m.Verify(none); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected unsigned token to be rejected, got %v", err)
	}
}

func TestVerifyRejectsMissingOrUnknownClaims(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()

	tests := []struct {
		name   string
		claims wireClaims
	}{
		{"missing exp", wireClaims{Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
			Subject: "s", Issuer: "authcore", IssuedAt: gjwt.NewNumericDate(now),
		}}},
		{"missing iat", wireClaims{Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
			Subject: "s", Issuer: "authcore", ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
		}}},
		{"missing subject", wireClaims{Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
			Issuer: "authcore", IssuedAt: gjwt.NewNumericDate(now), ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
		}}},
		{"unknown kind", wireClaims{Kind: "admin", RegisteredClaims: gjwt.RegisteredClaims{
			Subject: "s", Issuer: "authcore", IssuedAt: gjwt.NewNumericDate(now), ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
		}}},
		{"wrong issuer", wireClaims{Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
			Subject: "s", Issuer: "someone-else", IssuedAt: gjwt.NewNumericDate(now), ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
		}}},
		{"issued in the future", wireClaims{Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
			Subject: "s", Issuer: "authcore", IssuedAt: gjwt.NewNumericDate(now.Add(time.Hour)), ExpiresAt: gjwt.NewNumericDate(now.Add(2 * time.Hour)),
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := signRaw(t, gjwt.SigningMethodHS256, testSecret, tt.claims)
			if _, err := m.Verify(tok); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestVerifyGarbage(t *testing.T) {
	m := newTestManager(t)

	for _, input := range []string{"", "abc", "a.b.c", "....", "Bearer x.y.z"} {
		if _, err := m.Verify(input); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Verify(%q) expected ErrInvalid, got %v", input, err)
		}
	}
}

func TestVerifyLeeway(t *testing.T) {
	m, err := NewManager(Config{
		Secret:     testSecret,
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Leeway:     30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	within := signRaw(t, gjwt.SigningMethodHS256, testSecret, wireClaims{Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "s",
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-time.Minute)),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-15 * time.Second)),
	}})
	if _, err := m.Verify(within); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}

	beyond := signRaw(t, gjwt.SigningMethodHS256, testSecret, wireClaims{Kind: KindAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "s",
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(-3 * time.Minute)),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-2 * time.Minute)),
	}})
	if _, err := m.Verify(beyond); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired beyond leeway, got %v", err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	valid := Config{Secret: testSecret, AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short secret", func(c *Config) { c.Secret = []byte("short") }},
		{"zero access ttl", func(c *Config) { c.AccessTTL = 0 }},
		{"zero refresh ttl", func(c *Config) { c.RefreshTTL = 0 }},
		{"refresh shorter than access", func(c *Config) { c.RefreshTTL = time.Minute }},
		{"negative leeway", func(c *Config) { c.Leeway = -time.Second }},
		{"huge leeway", func(c *Config) { c.Leeway = time.Hour }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewManager(cfg); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}

	if _, err := NewManager(valid); err != nil {
		t.Fatalf("expected valid config to pass: %v", err)
	}
}

func TestSecretCopiedAtConstruction(t *testing.T) {
	secret := append([]byte(nil), testSecret...)
	m, err := NewManager(Config{Secret: secret, AccessTTL: time.Hour, RefreshTTL: time.Hour})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok, _ := m.IssueAccess("s", "")
	secret[0] ^= 0xFF

	if _, err := m.Verify(tok); err != nil {
		t.Fatalf("mutating caller's slice must not affect the manager: %v", err)
	}
}
