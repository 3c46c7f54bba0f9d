package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/schoolnotes/authcore"
)

// CallerResolver turns an access token into the account it names.
// *authcore.Engine implements it.
type CallerResolver interface {
	ResolveCaller(ctx context.Context, accessToken string) (*authcore.Account, error)
}

type accountContextKey struct{}

// AccountFromContext returns the caller attached by Guard.
func AccountFromContext(ctx context.Context) (*authcore.Account, bool) {
	acc, ok := ctx.Value(accountContextKey{}).(*authcore.Account)
	return acc, ok && acc != nil
}

// WithAccount attaches acc to ctx the same way Guard does.
func WithAccount(ctx context.Context, acc *authcore.Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, acc)
}

// Option configures Guard and RequireRole.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets where internal failures are logged. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Guard requires a valid "Authorization: Bearer <token>" header. A missing or
// malformed header is rejected with 401 before the resolver is called.
func Guard(resolver CallerResolver, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				WriteError(w, r, o.logger, authcore.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, r, o.logger, authcore.ErrTokenInvalid)
				return
			}

			acc, err := resolver.ResolveCaller(r.Context(), token)
			if err != nil {
				WriteError(w, r, o.logger, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}

	return token, true
}
