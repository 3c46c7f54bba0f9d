// Package token issues and verifies the signed bearer tokens used for
// session continuity.
//
// Tokens are compact JWS values signed with HS256 under a shared secret.
// Each carries a subject, issue and expiry times, the login identifier, a
// unique id, and a kind (access or refresh). Nothing is stored server-side.
//
// # Verification
//
// [Manager.Verify] authenticates the signature before it trusts any claim and
// reports exactly two failure classes: [ErrExpired] for an authentic token
// past its expiry, and [ErrInvalid] for everything else.
//
// # What this package must NOT do
//
//   - Decide whether a token kind is acceptable for a purpose. Callers check [Claims.Kind].
//   - Look up accounts or map failures to transport status codes.
package token
