// Package middleware adapts authcore.Engine to net/http.
//
// # Guards
//
//   - [Guard] requires a bearer access token and attaches the caller.
//   - [RequireRole] additionally enforces a minimum role.
//   - [RequireAdmin] is RequireRole for admins.
//
// Handlers read the caller with [AccountFromContext].
//
// # Responses
//
// Failures are written as a JSON [Envelope] with a status chosen by
// [StatusFor] from the error's authcore.Kind. Messages are generic; internal
// causes are logged, never returned.
//
// This package does not parse tokens or touch storage. Every decision is
// delegated to the resolver and to package policy.
package middleware
