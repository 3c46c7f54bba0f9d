// Package authcore authenticates accounts for a multi-role notes service.
//
// It registers accounts, verifies passwords with Argon2id, issues HS256
// access and refresh tokens, and resolves bearer tokens back to the current
// stored account. Storage is behind [AccountDirectory]; see directory/memory
// and directory/postgres.
//
// Build an [Engine] with [New]:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithDirectory(dir).
//		Build()
//
// Engine methods are safe for concurrent use. Errors are classified with
// [KindOf]; internal causes never leak into the sentinel a caller sees.
//
// Every resolved token reloads its account, so suspension and role changes
// take effect on the next request. Tokens are not revocable otherwise.
package authcore
