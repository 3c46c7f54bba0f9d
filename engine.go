package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	internalaudit "github.com/schoolnotes/authcore/internal/audit"
	"github.com/schoolnotes/authcore/internal/rate"
	"github.com/schoolnotes/authcore/password"
	"github.com/schoolnotes/authcore/token"
)

// Engine authenticates accounts and resolves bearer tokens to callers.
//
// An Engine is immutable once built and safe for concurrent use. Blocking
// work is limited to the AccountDirectory and, when configured, redis.
type Engine struct {
	config    Config
	directory AccountDirectory
	writer    AccountWriter
	lister    AccountLister
	hasher    *password.Argon2
	tokens    *token.Manager
	limiter   *rate.Limiter
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
	dummyHash string
	now       func() time.Time
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were discarded because the
// buffer was full or the emitting context was cancelled.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:     map[MetricID]uint64{},
			Histograms:   map[MetricID][]uint64{},
			HistogramSum: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.directory != nil && e.hasher != nil && e.tokens != nil
}

/*
====================================
REGISTER
====================================
*/

// Register creates a self-service account with the configured default role
// and returns it with a fresh token pair.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Account, *TokenPair, error) {
	if !e.ready() {
		return nil, nil, ErrEngineNotReady
	}

	if err := e.checkRegisterThrottle(ctx, req); err != nil {
		e.registerFailed(ctx, req, err)
		return nil, nil, err
	}

	account, err := e.createAccount(ctx, req, e.config.Account.DefaultRole, e.registrationStatus())
	if err != nil {
		e.registerFailed(ctx, req, err)
		return nil, nil, err
	}

	pair, err := e.issuePair(account)
	if err != nil {
		e.metricInc(MetricInternalError)
		return nil, nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, account.ID.String(), account.LoginIdentifier(), nil, func() map[string]string {
		return map[string]string{"role": string(account.Role), "status": string(account.Status)}
	})

	return account, pair, nil
}

// checkRegisterThrottle charges a self-service registration against the
// limiter. Administrative creation is never throttled.
func (e *Engine) checkRegisterThrottle(ctx context.Context, req RegisterRequest) error {
	if e.limiter == nil {
		return nil
	}
	identifier := registerIdentifier(req)
	if identifier == "" {
		return nil
	}
	if err := e.limiter.CheckRegister(ctx, identifier, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return clientError("REGISTER_THROTTLED", ErrRegisterThrottled)
		}
		return internalError("THROTTLE_CHECK", "register", err)
	}
	return nil
}

// registerIdentifier is the email when present, else the username.
func registerIdentifier(req RegisterRequest) string {
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		return email
	}
	return strings.TrimSpace(req.Username)
}

func (e *Engine) registrationStatus() AccountStatus {
	if e.config.Account.RequireVerification {
		return StatusPending
	}
	return StatusActive
}

func (e *Engine) registerFailed(ctx context.Context, req RegisterRequest, err error) {
	switch {
	case errors.Is(err, ErrRegisterThrottled):
		e.metricInc(MetricRegisterRateLimited)
	case KindOf(err) == KindValidation:
		e.metricInc(MetricRegisterInvalid)
	case KindOf(err) == KindAlreadyExists:
		e.metricInc(MetricRegisterDuplicate)
	default:
		e.metricInc(MetricInternalError)
		e.logger.ErrorContext(ctx, "register failed", "error", err)
	}

	e.emitAudit(ctx, auditEventRegisterFailure, false, "", registerIdentifier(req), err, nil)
}

// createAccount validates req, checks both identifiers for collisions, hashes
// the password, and inserts the account.
func (e *Engine) createAccount(ctx context.Context, req RegisterRequest, role Role, status AccountStatus) (*Account, error) {
	email, username, err := normalizeIdentifiers(req.Email, req.Username)
	if err != nil {
		return nil, err
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if len(displayName) > maxDisplayNameLength {
		return nil, invalidField("display_name", "too long")
	}
	if err := e.checkPasswordPolicy("password", req.Password); err != nil {
		return nil, err
	}

	for _, identifier := range []string{email, username} {
		if identifier == "" {
			continue
		}
		exists, err := e.directory.IdentifierExists(ctx, identifier)
		if err != nil {
			return nil, internalError("DIRECTORY_LOOKUP", "register", err)
		}
		if exists {
			return nil, clientError("ACCOUNT_EXISTS", ErrAccountExists)
		}
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, internalError("PASSWORD_HASH", "register", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, internalError("ID_GENERATION", "register", err)
	}

	now := e.now().UTC()
	stored, err := e.directory.Insert(ctx, Account{
		ID:           id,
		DisplayName:  displayName,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, ErrIdentifierTaken) {
			return nil, clientError("ACCOUNT_EXISTS", ErrAccountExists)
		}
		return nil, internalError("DIRECTORY_INSERT", "register", err)
	}
	if err := checkStoredAccount(stored); err != nil {
		return nil, err
	}

	return stored, nil
}

/*
====================================
LOGIN
====================================
*/

// Login authenticates identifier (an email when it contains '@', otherwise a
// username) and returns the account with a fresh token pair.
//
// Unknown identifiers and wrong passwords return the same
// ErrInvalidCredentials and cost the same hashing work.
func (e *Engine) Login(ctx context.Context, identifier, plaintext string) (*Account, *TokenPair, error) {
	if !e.ready() {
		return nil, nil, ErrEngineNotReady
	}

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, nil, invalidField("identifier", "required")
	}
	if plaintext == "" {
		return nil, nil, invalidField("password", "required")
	}

	ip := clientIPFromContext(ctx)
	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, identifier, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, auditEventLoginRateLimited, false, "", identifier, ErrLoginThrottled, nil)
				return nil, nil, clientError("LOGIN_THROTTLED", ErrLoginThrottled)
			}
			e.metricInc(MetricInternalError)
			return nil, nil, internalError("THROTTLE_CHECK", "login", err)
		}
	}

	account, err := e.directory.FindByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricInternalError)
			return nil, nil, internalError("DIRECTORY_LOOKUP", "login", err)
		}
		e.hasher.Verify(plaintext, e.dummyHash)
		return nil, nil, e.loginFailed(ctx, identifier, ip, "")
	}

	if !e.hasher.Verify(plaintext, account.PasswordHash) {
		return nil, nil, e.loginFailed(ctx, identifier, ip, account.ID.String())
	}

	if err := checkStoredAccount(account); err != nil {
		e.metricInc(MetricInternalError)
		e.logger.ErrorContext(ctx, "login rejected corrupt account", "account_id", account.ID, "error", err)
		return nil, nil, err
	}
	if !account.Status.CanAuthenticate() {
		e.metricInc(MetricLoginSuspended)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID.String(), identifier, ErrAccountSuspended, nil)
		return nil, nil, clientError("ACCOUNT_SUSPENDED", ErrAccountSuspended)
	}

	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, identifier, ip); err != nil {
			e.logger.WarnContext(ctx, "login throttle reset failed", "error", err)
		}
	}

	account = e.upgradeHash(ctx, account, plaintext)

	pair, err := e.issuePair(account)
	if err != nil {
		e.metricInc(MetricInternalError)
		return nil, nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID.String(), identifier, nil, nil)

	return account, pair, nil
}

func (e *Engine) loginFailed(ctx context.Context, identifier, ip, accountID string) error {
	if e.limiter != nil {
		if err := e.limiter.IncrementLogin(ctx, identifier, ip); err != nil {
			e.logger.WarnContext(ctx, "login throttle increment failed", "error", err)
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, accountID, identifier, ErrInvalidCredentials, nil)
	return clientError("INVALID_CREDENTIALS", ErrInvalidCredentials)
}

// upgradeHash rehashes the password when the stored parameters are weaker
// than the current ones. Failures are logged and the login proceeds.
func (e *Engine) upgradeHash(ctx context.Context, account *Account, plaintext string) *Account {
	if !e.config.Password.UpgradeOnLogin || e.writer == nil || !e.hasher.NeedsUpgrade(account.PasswordHash) {
		return account
	}

	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", "account_id", account.ID, "error", err)
		return account
	}

	updated := *account
	updated.PasswordHash = hash
	updated.UpdatedAt = e.now().UTC()

	stored, err := e.writer.UpdateAccount(ctx, updated)
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash not persisted", "account_id", account.ID, "error", err)
		return account
	}

	e.metricInc(MetricPasswordRehash)
	e.emitAudit(ctx, auditEventPasswordRehash, true, account.ID.String(), account.LoginIdentifier(), nil, nil)
	return stored
}

/*
====================================
REFRESH
====================================
*/

// Refresh exchanges a refresh token for a new access token. The returned
// pair carries a new refresh token only when rotation is enabled.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	account, err := e.accountForToken(ctx, refreshToken, token.KindRefresh, "refresh")
	if err != nil {
		e.refreshFailed(ctx, err)
		return nil, err
	}

	access, err := e.tokens.IssueAccess(account.ID.String(), account.LoginIdentifier())
	if err != nil {
		e.metricInc(MetricInternalError)
		return nil, internalError("TOKEN_SIGN", "refresh", err)
	}
	pair := &TokenPair{
		AccessToken:     access,
		AccessExpiresAt: e.now().Add(e.tokens.AccessTTL()).UTC(),
	}
	if e.config.Account.RotateRefreshTokens {
		pair.RefreshToken, err = e.tokens.IssueRefresh(account.ID.String(), account.LoginIdentifier())
		if err != nil {
			e.metricInc(MetricInternalError)
			return nil, internalError("TOKEN_SIGN", "refresh", err)
		}
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, account.ID.String(), account.LoginIdentifier(), nil, nil)

	return pair, nil
}

func (e *Engine) refreshFailed(ctx context.Context, err error) {
	switch {
	case errors.Is(err, ErrRefreshThrottled):
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", "", err, nil)
		return
	case KindOf(err) == KindInternal:
		e.metricInc(MetricInternalError)
		e.logger.ErrorContext(ctx, "refresh failed", "error", err)
	default:
		e.metricInc(MetricRefreshFailure)
	}
	e.emitAudit(ctx, auditEventRefreshFailure, false, "", "", err, nil)
}

/*
====================================
RESOLVE
====================================
*/

// ResolveCaller turns an access token into the account it names.
func (e *Engine) ResolveCaller(ctx context.Context, accessToken string) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := e.now()
	account, err := e.accountForToken(ctx, accessToken, token.KindAccess, "resolve")
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricResolveLatency, e.now().Sub(start))
	}
	if err != nil {
		if KindOf(err) == KindInternal {
			e.metricInc(MetricInternalError)
			e.logger.ErrorContext(ctx, "resolve caller failed", "error", err)
		} else {
			e.metricInc(MetricResolveFailure)
		}
		e.emitAudit(ctx, auditEventResolveFailure, false, "", "", err, nil)
		return nil, err
	}

	e.metricInc(MetricResolveSuccess)
	return account, nil
}

// accountForToken verifies raw, checks its kind, and loads the live account.
// Refresh tokens additionally pass through the refresh throttle.
func (e *Engine) accountForToken(ctx context.Context, raw string, kind token.Kind, op string) (*Account, error) {
	claims, err := e.tokens.Verify(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, clientError("TOKEN_EXPIRED", ErrTokenExpired)
		}
		return nil, clientError("TOKEN_INVALID", ErrTokenInvalid)
	}
	if claims.Kind() != kind {
		return nil, clientError("WRONG_TOKEN_KIND", ErrWrongTokenKind)
	}

	id, err := uuid.Parse(claims.Subject())
	if err != nil {
		return nil, clientError("TOKEN_INVALID", ErrTokenInvalid)
	}

	if kind == token.KindRefresh && e.limiter != nil {
		if err := e.limiter.CheckRefresh(ctx, claims.Subject()); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				return nil, clientError("REFRESH_THROTTLED", ErrRefreshThrottled)
			}
			return nil, internalError("THROTTLE_CHECK", op, err)
		}
	}

	account, err := e.directory.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, clientError("UNKNOWN_ACCOUNT", ErrUnknownAccount)
		}
		return nil, internalError("DIRECTORY_LOOKUP", op, err)
	}
	if err := checkStoredAccount(account); err != nil {
		return nil, err
	}
	if !account.Status.CanAuthenticate() {
		return nil, clientError("ACCOUNT_SUSPENDED", ErrAccountSuspended)
	}

	return account, nil
}

/*
====================================
HELPERS
====================================
*/

func (e *Engine) issuePair(account *Account) (*TokenPair, error) {
	subject := account.ID.String()
	login := account.LoginIdentifier()

	access, err := e.tokens.IssueAccess(subject, login)
	if err != nil {
		return nil, internalError("TOKEN_SIGN", "issue", err)
	}
	refresh, err := e.tokens.IssueRefresh(subject, login)
	if err != nil {
		return nil, internalError("TOKEN_SIGN", "issue", err)
	}

	return &TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: e.now().Add(e.tokens.AccessTTL()).UTC(),
	}, nil
}

// checkStoredAccount rejects accounts whose role or status fell outside the
// known set, which can only happen through direct writes to the store.
func checkStoredAccount(account *Account) error {
	if account == nil {
		return internalError("CORRUPT_ACCOUNT", "load", errors.New("directory returned nil account"))
	}
	if !account.Role.Valid() || !account.Status.Valid() {
		return corruptAccountError(account)
	}
	return nil
}
