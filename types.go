package authcore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is an account's privilege tier. The set is closed and totally
// ordered: Student < Teacher < Admin.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// ParseRole maps a stored or submitted value onto a known Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// AccountStatus is an account's lifecycle state.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusPending   AccountStatus = "pending"
	StatusSuspended AccountStatus = "suspended"
)

// ParseStatus maps a stored or submitted value onto a known AccountStatus.
func ParseStatus(s string) (AccountStatus, error) {
	switch st := AccountStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusPending, StatusSuspended:
		return st, nil
	default:
		return "", fmt.Errorf("unknown account status %q", s)
	}
}

func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusSuspended:
		return true
	}
	return false
}

// CanAuthenticate reports whether an account in this state may log in and
// use its tokens. Pending accounts may; suspended accounts may not.
func (s AccountStatus) CanAuthenticate() bool {
	return s == StatusActive || s == StatusPending
}

// Account is a principal that can authenticate. Accounts are never deleted
// by this package; suspension is the only way to lock one out.
type Account struct {
	ID           uuid.UUID
	DisplayName  string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	Status       AccountStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OwnerID makes an Account its own owned resource.
func (a *Account) OwnerID() uuid.UUID { return a.ID }

// LoginIdentifier returns the email when present, else the username.
func (a *Account) LoginIdentifier() string {
	if a.Email != "" {
		return a.Email
	}
	return a.Username
}

// PublicView strips the credential hash.
func (a *Account) PublicView() AccountView {
	return AccountView{
		ID:          a.ID,
		DisplayName: a.DisplayName,
		Username:    a.Username,
		Email:       a.Email,
		Role:        a.Role,
		Status:      a.Status,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// AccountView is the externally visible projection of an Account.
type AccountView struct {
	ID          uuid.UUID     `json:"id"`
	DisplayName string        `json:"display_name,omitempty"`
	Username    string        `json:"username,omitempty"`
	Email       string        `json:"email,omitempty"`
	Role        Role          `json:"role"`
	Status      AccountStatus `json:"status"`
	CreatedAt   time.Time     `json:"created"`
	UpdatedAt   time.Time     `json:"updated"`
}

// TokenPair is returned by Register and Login. Refresh returns a pair whose
// RefreshToken is empty unless rotation is enabled.
type TokenPair struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token,omitempty"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

// RegisterRequest is the self-service registration input. At least one of
// Email and Username is required.
type RegisterRequest struct {
	Email       string
	Username    string
	Password    string
	DisplayName string
}

// CreateAccountRequest is the administrative account creation input.
type CreateAccountRequest struct {
	RegisterRequest
	Role   Role
	Status AccountStatus
}

// ProfileUpdate carries the account fields an owner may edit. A nil field
// is left unchanged; an empty identifier removes it as long as the other
// one remains.
type ProfileUpdate struct {
	DisplayName *string
	Username    *string
	Email       *string
}

// CredentialBearer is implemented by collaborator records that carry a
// password. Records that do not implement it are never hashed.
type CredentialBearer interface {
	PlaintextCredential() string
	SetCredentialHash(hash string)
}

// AccountDirectory is the persistence contract the engine depends on.
//
// FindByIdentifier and FindByID return ErrAccountNotFound when nothing
// matches. Insert returns ErrIdentifierTaken when the email or username is
// already in use; implementations must enforce that atomically. Identifier
// matching is case-insensitive.
type AccountDirectory interface {
	FindByIdentifier(ctx context.Context, login string) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	Insert(ctx context.Context, account Account) (*Account, error)
	IdentifierExists(ctx context.Context, login string) (bool, error)
}

// AccountWriter is an optional directory capability used for password
// changes, hash upgrades, and administrative updates.
type AccountWriter interface {
	UpdateAccount(ctx context.Context, account Account) (*Account, error)
}

// AccountLister is an optional directory capability. A nil owner lists every
// account; otherwise only the account with that id.
type AccountLister interface {
	ListAccounts(ctx context.Context, owner *uuid.UUID) ([]Account, error)
}
