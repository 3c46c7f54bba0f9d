package token

import "time"

// Kind separates access tokens from refresh tokens. The two are otherwise
// structurally identical, so every consumer must check it.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

func (k Kind) valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Claims is the verified payload of a token. Values exist only as the result
// of a successful Manager.Verify.
type Claims struct {
	subject   string
	login     string
	kind      Kind
	id        string
	issuedAt  time.Time
	expiresAt time.Time
}

// Subject is the account identifier the token was issued to.
func (c *Claims) Subject() string { return c.subject }

// Login is the email or username presented at login. Informational only;
// the account record is authoritative.
func (c *Claims) Login() string { return c.login }

func (c *Claims) Kind() Kind { return c.kind }

// ID is the unique token identifier (jti).
func (c *Claims) ID() string { return c.id }

func (c *Claims) IssuedAt() time.Time { return c.issuedAt }

func (c *Claims) ExpiresAt() time.Time { return c.expiresAt }
