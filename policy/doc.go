// Package policy decides whether an authenticated account may act on a
// resource.
//
// Two questions are answered separately: does the caller own the resource,
// and does the caller's role rank high enough. Admins bypass ownership.
// Every function is pure, takes the resolved [authcore.Account], and denies
// when the caller is nil or carries a role outside the known set.
//
// # What this package must NOT do
//
//   - Resolve tokens or load accounts. The request guard does that first.
//   - Touch storage. [OwnershipFilter] only produces the filter value.
package policy
