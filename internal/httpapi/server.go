// Package httpapi exposes the authcore engine over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/schoolnotes/authcore"
)

// Engine is the subset of *authcore.Engine the handlers use.
type Engine interface {
	Register(ctx context.Context, req authcore.RegisterRequest) (*authcore.Account, *authcore.TokenPair, error)
	Login(ctx context.Context, identifier, plaintext string) (*authcore.Account, *authcore.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*authcore.TokenPair, error)
	ResolveCaller(ctx context.Context, accessToken string) (*authcore.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*authcore.Account, error)
	ListAccounts(ctx context.Context, owner *uuid.UUID) ([]authcore.AccountView, error)
	ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error
	UpdateProfile(ctx context.Context, id uuid.UUID, upd authcore.ProfileUpdate) (*authcore.Account, error)
	CreateAccount(ctx context.Context, req authcore.CreateAccountRequest) (*authcore.Account, error)
	SetStatus(ctx context.Context, id uuid.UUID, status authcore.AccountStatus) (*authcore.Account, error)
	SetRole(ctx context.Context, id uuid.UUID, role authcore.Role) (*authcore.Account, error)
}

// Deps are the server's collaborators. Engine and Logger are required.
type Deps struct {
	Engine  Engine
	Logger  *slog.Logger
	Version string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Ready reports readiness for /healthcheck. Nil means always ready.
	Ready func() bool
	// TrustProxyHeaders lets X-Forwarded-For and X-Real-IP replace the
	// connection address. Off, a client cannot pick its own throttle key.
	TrustProxyHeaders bool
}

const (
	readHeaderTimeout       = 10 * time.Second
	gracefulShutdownTimeout = 10 * time.Second
)

// Server owns the router and the HTTP listener.
type Server struct {
	engine  Engine
	logger  *slog.Logger
	version string
	metrics http.Handler
	ready   func() bool
	proxied bool
	server  *http.Server
}

func New(deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, oops.Code("HTTPAPI_INVALID").Errorf("engine is required")
	}
	if deps.Logger == nil {
		return nil, oops.Code("HTTPAPI_INVALID").Errorf("logger is required")
	}

	return &Server{
		engine:  deps.Engine,
		logger:  deps.Logger,
		version: deps.Version,
		metrics: deps.Metrics,
		ready:   deps.Ready,
		proxied: deps.TrustProxyHeaders,
	}, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start listens on addr in the background. Errors after startup are sent on
// the returned channel, which is closed when the server stops.
func (s *Server) Start(addr string) <-chan error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	srv := s.server
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- oops.Code("HTTP_SERVE_FAILED").With("addr", addr).Wrap(err)
		}
	}()

	s.logger.Info("http server listening", "addr", addr)
	return errCh
}

// Close waits for in-flight requests, then closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return oops.With("operation", "shutdown_http_server").Wrap(err)
	}
	return nil
}
