package middleware

import (
	"net/http"

	"github.com/schoolnotes/authcore"
	"github.com/schoolnotes/authcore/policy"
)

// RequireRole is Guard followed by a minimum-role check. Callers below
// minimum get 403.
func RequireRole(resolver CallerResolver, minimum authcore.Role, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	guard := Guard(resolver, opts...)

	return func(next http.Handler) http.Handler {
		check := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc, _ := AccountFromContext(r.Context())
			if err := policy.RequireRole(acc, minimum); err != nil {
				WriteError(w, r, o.logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
		return guard(check)
	}
}

// RequireAdmin is RequireRole with authcore.RoleAdmin.
func RequireAdmin(resolver CallerResolver, opts ...Option) func(http.Handler) http.Handler {
	return RequireRole(resolver, authcore.RoleAdmin, opts...)
}
