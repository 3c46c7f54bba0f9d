package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// MinSecretBytes is the shortest HS256 secret NewManager accepts.
const MinSecretBytes = 32

var (
	// ErrInvalid covers every verification failure other than expiry: bad
	// encoding, bad signature, wrong algorithm, missing or unknown claims.
	ErrInvalid = errors.New("token invalid")
	// ErrExpired is returned when the signature is valid but exp has passed.
	ErrExpired = errors.New("token expired")
)

// Config holds the signing secret and token lifetimes.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
}

// Manager issues and verifies HS256-signed tokens. Its configuration is
// copied at construction and never mutated, so a Manager is safe for
// concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// wireClaims is the JSON payload of every token.
type wireClaims struct {
	Login string `json:"email,omitempty"`
	Kind  Kind   `json:"token_type"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretBytes)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	cfg.Secret = secret

	return &Manager{config: cfg, now: time.Now}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// IssueAccess signs a short-lived access token for subject.
func (m *Manager) IssueAccess(subject, login string) (string, error) {
	return m.issue(subject, login, KindAccess, m.config.AccessTTL)
}

// IssueRefresh signs a long-lived refresh token for subject.
func (m *Manager) IssueRefresh(subject, login string) (string, error) {
	return m.issue(subject, login, KindRefresh, m.config.RefreshTTL)
}

func (m *Manager) issue(subject, login string, kind Kind, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}

	now := m.now()
	claims := wireClaims{
		Login: login,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   subject,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify checks the signature first and the claims second in a single parse
// pass. Claims are returned only when every check passes.
func (m *Manager) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &wireClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.config.Secret, nil
	})
	if err != nil {
		if onlyExpired(err) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	wc, ok := parsed.Claims.(*wireClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if wc.Subject == "" || wc.IssuedAt == nil || !wc.Kind.valid() {
		return nil, fmt.Errorf("%w: missing or unknown claims", ErrInvalid)
	}

	return &Claims{
		subject:   wc.Subject,
		login:     wc.Login,
		kind:      wc.Kind,
		id:        wc.ID,
		issuedAt:  wc.IssuedAt.Time,
		expiresAt: wc.ExpiresAt.Time,
	}, nil
}

// onlyExpired reports whether expiry is the sole reason err rejects a token.
// The parser reaches claim validation only after the signature verified and
// joins every claim failure, so a foreign issuer or a future iat must win.
func onlyExpired(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	return !errors.Is(err, jwt.ErrTokenInvalidIssuer) &&
		!errors.Is(err, jwt.ErrTokenUsedBeforeIssued) &&
		!errors.Is(err, jwt.ErrTokenNotValidYet)
}
