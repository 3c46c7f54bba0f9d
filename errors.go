package authcore

import (
	"errors"
	"fmt"

	"github.com/samber/oops"

	"github.com/schoolnotes/authcore/token"
)

// Kind classifies an error for the transport layer. The zero value is
// KindInternal so anything unclassified fails closed.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindAlreadyExists
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindAlreadyExists:
		return "already_exists"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

var (
	// ErrValidation is the root of every input validation failure.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials is returned for unknown identifiers and wrong
	// passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenInvalid is returned for malformed, forged, or tampered tokens.
	ErrTokenInvalid = token.ErrInvalid
	// ErrTokenExpired is returned for authentic tokens past their expiry.
	ErrTokenExpired = token.ErrExpired
	// ErrWrongTokenKind is returned when a refresh token is presented as an
	// access token or the other way around.
	ErrWrongTokenKind = errors.New("wrong token kind")
	// ErrUnknownAccount is returned when a valid token names an account that
	// no longer exists.
	ErrUnknownAccount = errors.New("account no longer exists")
	// ErrLoginThrottled is returned while an identifier or client address is
	// cooling down after repeated failures.
	ErrLoginThrottled = errors.New("too many login attempts")
	// ErrRefreshThrottled is returned when an account refreshes too often.
	ErrRefreshThrottled = errors.New("too many refresh attempts")
	// ErrRegisterThrottled is returned when an identifier or client address
	// registers too often.
	ErrRegisterThrottled = errors.New("too many registration attempts")
	// ErrAccountSuspended is returned for authenticated suspended accounts.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrInsufficientRole is returned when the caller's role is below the
	// minimum an operation requires.
	ErrInsufficientRole = errors.New("insufficient role")
	// ErrAccessDenied is returned when the caller neither owns the resource
	// nor holds the Admin role.
	ErrAccessDenied = errors.New("access denied")
	// ErrAccountExists is returned when a registration collides with an
	// existing email or username.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound is the directory's absence result.
	ErrAccountNotFound = errors.New("account not found")
	// ErrIdentifierTaken is the directory's uniqueness violation on insert.
	ErrIdentifierTaken = errors.New("identifier already taken")
	// ErrCorruptAccount is returned when a stored account carries a role or
	// status outside the known set.
	ErrCorruptAccount = errors.New("stored account is corrupt")
	// ErrUnsupported is returned when an operation needs a directory
	// capability that was not configured.
	ErrUnsupported = errors.New("operation not supported by account directory")
	// ErrInternal marks failures the caller cannot act on. Its kind wins over
	// any sentinel further down the chain.
	ErrInternal = errors.New("internal error")
	// ErrEngineNotReady is returned by methods on a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

// ValidationError names the offending field. The reason is safe to show to
// the client.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// KindOf classifies err by walking its chain. Internal markers take
// precedence; anything unrecognised is KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInternal),
		errors.Is(err, ErrCorruptAccount),
		errors.Is(err, ErrEngineNotReady),
		errors.Is(err, ErrUnsupported):
		return KindInternal
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrWrongTokenKind),
		errors.Is(err, ErrUnknownAccount),
		errors.Is(err, ErrLoginThrottled),
		errors.Is(err, ErrRefreshThrottled),
		errors.Is(err, ErrRegisterThrottled):
		return KindUnauthorized
	case errors.Is(err, ErrAccountSuspended),
		errors.Is(err, ErrInsufficientRole),
		errors.Is(err, ErrAccessDenied):
		return KindForbidden
	case errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrIdentifierTaken):
		return KindAlreadyExists
	case errors.Is(err, ErrAccountNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// internalError hides cause behind ErrInternal while keeping it in the chain
// for logs.
func internalError(code, op string, cause error) error {
	return oops.Code(code).
		With("operation", op).
		Wrap(fmt.Errorf("%w: %w", ErrInternal, cause))
}

// clientError tags a classified sentinel with a code for structured logs.
func clientError(code string, sentinel error) error {
	return oops.Code(code).Wrap(sentinel)
}

func corruptAccountError(account *Account) error {
	return oops.Code("CORRUPT_ACCOUNT").
		With("account_id", account.ID.String()).
		With("role", string(account.Role)).
		With("status", string(account.Status)).
		Wrap(ErrCorruptAccount)
}
