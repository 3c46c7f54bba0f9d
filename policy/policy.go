package policy

import (
	"github.com/google/uuid"

	"github.com/schoolnotes/authcore"
)

// OwnedResource is anything that records the account that owns it.
type OwnedResource interface {
	OwnerID() uuid.UUID
}

// rank orders the closed role set. Unknown roles have no rank.
func rank(r authcore.Role) (int, bool) {
	switch r {
	case authcore.RoleStudent:
		return 1, true
	case authcore.RoleTeacher:
		return 2, true
	case authcore.RoleAdmin:
		return 3, true
	default:
		return 0, false
	}
}

func known(caller *authcore.Account) bool {
	return caller != nil && caller.Role.Valid()
}

// IsAdmin reports whether caller holds the Admin role.
func IsAdmin(caller *authcore.Account) bool {
	return known(caller) && caller.Role == authcore.RoleAdmin
}

// CanAccess allows Admins everything and everyone else only what they own.
func CanAccess(caller *authcore.Account, ownerID uuid.UUID) bool {
	if !known(caller) {
		return false
	}
	return caller.Role == authcore.RoleAdmin || caller.ID == ownerID
}

// CanAccessResource is CanAccess over res.OwnerID().
func CanAccessResource(caller *authcore.Account, res OwnedResource) bool {
	if res == nil {
		return false
	}
	return CanAccess(caller, res.OwnerID())
}

// RequireAccess is CanAccess expressed as an error.
func RequireAccess(caller *authcore.Account, ownerID uuid.UUID) error {
	if CanAccess(caller, ownerID) {
		return nil
	}
	return authcore.ErrAccessDenied
}

// OwnershipFilter returns nil for Admins, meaning no restriction, and the
// caller's own id otherwise. Callers without a known role get a filter that
// matches nothing.
func OwnershipFilter(caller *authcore.Account) *uuid.UUID {
	if !known(caller) {
		none := uuid.Nil
		return &none
	}
	if caller.Role == authcore.RoleAdmin {
		return nil
	}
	id := caller.ID
	return &id
}

// RequireRole fails with ErrInsufficientRole unless caller's role ranks at
// or above minimum.
func RequireRole(caller *authcore.Account, minimum authcore.Role) error {
	if !known(caller) {
		return authcore.ErrInsufficientRole
	}
	have, _ := rank(caller.Role)
	need, ok := rank(minimum)
	if !ok || have < need {
		return authcore.ErrInsufficientRole
	}
	return nil
}
