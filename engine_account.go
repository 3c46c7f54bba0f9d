package authcore

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/schoolnotes/authcore/password"
)

const (
	maxDisplayNameLength = 128
	maxEmailLength       = 254
	minUsernameLength    = 3
	maxUsernameLength    = 64
)

// GetAccount loads one account by id.
func (e *Engine) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.loadAccount(ctx, id, "get_account")
}

// ListAccounts returns the accounts visible through owner: every account
// when owner is nil, otherwise only the owner's own. Callers normally pass
// policy.OwnershipFilter(caller).
func (e *Engine) ListAccounts(ctx context.Context, owner *uuid.UUID) ([]AccountView, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.lister == nil {
		return nil, ErrUnsupported
	}

	accounts, err := e.lister.ListAccounts(ctx, owner)
	if err != nil {
		e.metricInc(MetricInternalError)
		return nil, internalError("DIRECTORY_LIST", "list_accounts", err)
	}

	views := make([]AccountView, 0, len(accounts))
	for i := range accounts {
		if err := checkStoredAccount(&accounts[i]); err != nil {
			return nil, err
		}
		views = append(views, accounts[i].PublicView())
	}
	return views, nil
}

// ChangePassword replaces the password of accountID after verifying the
// current one. A wrong current password is ErrInvalidCredentials; a
// suspended account is refused before anything is verified.
func (e *Engine) ChangePassword(ctx context.Context, accountID uuid.UUID, current, next string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if e.writer == nil {
		return ErrUnsupported
	}
	if current == "" {
		return invalidField("current_password", "required")
	}
	if err := e.checkPasswordPolicy("new_password", next); err != nil {
		return err
	}

	account, err := e.loadAccount(ctx, accountID, "change_password")
	if err != nil {
		return err
	}
	if !account.Status.CanAuthenticate() {
		e.emitAudit(ctx, auditEventPasswordChangeFailed, false, account.ID.String(), account.LoginIdentifier(), ErrAccountSuspended, nil)
		return clientError("ACCOUNT_SUSPENDED", ErrAccountSuspended)
	}

	if !e.hasher.Verify(current, account.PasswordHash) {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeFailed, false, account.ID.String(), account.LoginIdentifier(), ErrInvalidCredentials, nil)
		return clientError("INVALID_CREDENTIALS", ErrInvalidCredentials)
	}
	if current == next {
		return invalidField("new_password", "must differ from the current password")
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		e.metricInc(MetricInternalError)
		return internalError("PASSWORD_HASH", "change_password", err)
	}

	updated := *account
	updated.PasswordHash = hash
	updated.UpdatedAt = e.now().UTC()
	if _, err := e.update(ctx, updated, "change_password"); err != nil {
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, account.ID.String(), account.LoginIdentifier(), nil, nil)
	return nil
}

// UpdateProfile applies upd to the account. Changed identifiers go through
// the same normalization and uniqueness checks as registration; a taken
// one is ErrAccountExists. Authorizing the caller is the transport layer's
// job.
func (e *Engine) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.writer == nil {
		return nil, ErrUnsupported
	}

	account, err := e.loadAccount(ctx, id, "update_profile")
	if err != nil {
		return nil, err
	}

	updated := *account
	if upd.DisplayName != nil {
		updated.DisplayName = strings.TrimSpace(*upd.DisplayName)
	}
	if upd.Email != nil {
		updated.Email = *upd.Email
	}
	if upd.Username != nil {
		updated.Username = *upd.Username
	}
	if len(updated.DisplayName) > maxDisplayNameLength {
		return nil, invalidField("display_name", "too long")
	}
	updated.Email, updated.Username, err = normalizeIdentifiers(updated.Email, updated.Username)
	if err != nil {
		return nil, err
	}

	var changed []string
	if !strings.EqualFold(updated.Email, account.Email) {
		changed = append(changed, "email")
		if err := e.checkIdentifierFree(ctx, updated.Email); err != nil {
			return nil, err
		}
	}
	if updated.Username != account.Username {
		changed = append(changed, "username")
		// A case-only change keeps the same identifier.
		if !strings.EqualFold(updated.Username, account.Username) {
			if err := e.checkIdentifierFree(ctx, updated.Username); err != nil {
				return nil, err
			}
		}
	}
	if updated.DisplayName != account.DisplayName {
		changed = append(changed, "display_name")
	}
	if len(changed) == 0 {
		return account, nil
	}

	updated.UpdatedAt = e.now().UTC()
	stored, err := e.update(ctx, updated, "update_profile")
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricProfileUpdate)
	e.emitAudit(ctx, auditEventProfileUpdate, true, id.String(), stored.LoginIdentifier(), nil, func() map[string]string {
		return map[string]string{"fields": strings.Join(changed, ",")}
	})
	return stored, nil
}

func (e *Engine) checkIdentifierFree(ctx context.Context, identifier string) error {
	if identifier == "" {
		return nil
	}
	exists, err := e.directory.IdentifierExists(ctx, identifier)
	if err != nil {
		e.metricInc(MetricInternalError)
		return internalError("DIRECTORY_LOOKUP", "update_profile", err)
	}
	if exists {
		return clientError("ACCOUNT_EXISTS", ErrAccountExists)
	}
	return nil
}

// SetStatus moves an account to status. Suspending an account makes every
// outstanding token for it unusable on the next request.
func (e *Engine) SetStatus(ctx context.Context, id uuid.UUID, status AccountStatus) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.writer == nil {
		return nil, ErrUnsupported
	}
	if !status.Valid() {
		return nil, invalidField("status", "unknown status")
	}

	account, err := e.loadAccount(ctx, id, "set_status")
	if err != nil {
		return nil, err
	}
	if account.Status == status {
		return account, nil
	}

	previous := account.Status
	updated := *account
	updated.Status = status
	updated.UpdatedAt = e.now().UTC()

	stored, err := e.update(ctx, updated, "set_status")
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricAccountStatusChange)
	e.emitAudit(ctx, auditEventAccountStatusChange, true, id.String(), account.LoginIdentifier(), nil, func() map[string]string {
		return map[string]string{"from": string(previous), "to": string(status)}
	})
	return stored, nil
}

// SetRole changes an account's role.
func (e *Engine) SetRole(ctx context.Context, id uuid.UUID, role Role) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.writer == nil {
		return nil, ErrUnsupported
	}
	if !role.Valid() {
		return nil, invalidField("role", "unknown role")
	}

	account, err := e.loadAccount(ctx, id, "set_role")
	if err != nil {
		return nil, err
	}
	if account.Role == role {
		return account, nil
	}

	previous := account.Role
	updated := *account
	updated.Role = role
	updated.UpdatedAt = e.now().UTC()

	stored, err := e.update(ctx, updated, "set_role")
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricAccountRoleChange)
	e.emitAudit(ctx, auditEventAccountRoleChange, true, id.String(), account.LoginIdentifier(), nil, func() map[string]string {
		return map[string]string{"from": string(previous), "to": string(role)}
	})
	return stored, nil
}

// CreateAccount is the administrative counterpart of Register: the role and
// status are chosen by the caller and no tokens are issued. Authorizing the
// caller is the transport layer's job.
func (e *Engine) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	role := req.Role
	if role == "" {
		role = e.config.Account.DefaultRole
	}
	if !role.Valid() {
		return nil, invalidField("role", "unknown role")
	}
	status := req.Status
	if status == "" {
		status = StatusActive
	}
	if !status.Valid() {
		return nil, invalidField("status", "unknown status")
	}

	account, err := e.createAccount(ctx, req.RegisterRequest, role, status)
	if err != nil {
		if KindOf(err) == KindInternal {
			e.metricInc(MetricInternalError)
			e.logger.ErrorContext(ctx, "create account failed", "error", err)
		}
		return nil, err
	}

	e.emitAudit(ctx, auditEventAccountCreated, true, account.ID.String(), account.LoginIdentifier(), nil, func() map[string]string {
		return map[string]string{"role": string(role), "status": string(status)}
	})
	return account, nil
}

// EnsureAdmin creates an active Admin account for email unless the email is
// already registered, in which case the existing account is returned
// untouched and created is false.
func (e *Engine) EnsureAdmin(ctx context.Context, email, plaintext string) (account *Account, created bool, err error) {
	if !e.ready() {
		return nil, false, ErrEngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateEmail(email); err != nil {
		return nil, false, err
	}

	existing, err := e.directory.FindByIdentifier(ctx, email)
	switch {
	case err == nil:
		if err := checkStoredAccount(existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	case !errors.Is(err, ErrAccountNotFound):
		return nil, false, internalError("DIRECTORY_LOOKUP", "ensure_admin", err)
	}

	account, err = e.createAccount(ctx, RegisterRequest{
		Email:       email,
		Password:    plaintext,
		DisplayName: "Administrator",
	}, RoleAdmin, StatusActive)
	if err != nil {
		return nil, false, err
	}

	e.emitAudit(ctx, auditEventAdminBootstrap, true, account.ID.String(), email, nil, nil)
	return account, true, nil
}

// HashPassword applies the password policy and returns a storable hash.
// Collaborators that persist credentials themselves use it instead of
// hashing on their own.
func (e *Engine) HashPassword(plaintext string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	if err := e.checkPasswordPolicy("password", plaintext); err != nil {
		return "", err
	}
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return "", internalError("PASSWORD_HASH", "hash_password", err)
	}
	return hash, nil
}

// SealCredential hashes the plaintext carried by record in place. The
// plaintext accessor is not consulted again afterwards.
func (e *Engine) SealCredential(record CredentialBearer) error {
	if record == nil {
		return invalidField("password", "required")
	}
	hash, err := e.HashPassword(record.PlaintextCredential())
	if err != nil {
		return err
	}
	record.SetCredentialHash(hash)
	return nil
}

func (e *Engine) loadAccount(ctx context.Context, id uuid.UUID, op string) (*Account, error) {
	account, err := e.directory.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, clientError("ACCOUNT_NOT_FOUND", ErrAccountNotFound)
		}
		e.metricInc(MetricInternalError)
		return nil, internalError("DIRECTORY_LOOKUP", op, err)
	}
	if err := checkStoredAccount(account); err != nil {
		return nil, err
	}
	return account, nil
}

func (e *Engine) update(ctx context.Context, account Account, op string) (*Account, error) {
	stored, err := e.writer.UpdateAccount(ctx, account)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountNotFound):
			return nil, clientError("ACCOUNT_NOT_FOUND", ErrAccountNotFound)
		case errors.Is(err, ErrIdentifierTaken):
			return nil, clientError("ACCOUNT_EXISTS", ErrAccountExists)
		}
		e.metricInc(MetricInternalError)
		return nil, internalError("DIRECTORY_UPDATE", op, err)
	}
	return stored, nil
}

/*
====================================
VALIDATION
====================================
*/

func (e *Engine) checkPasswordPolicy(field, plaintext string) error {
	if plaintext == "" {
		return invalidField(field, "required")
	}
	if utf8.RuneCountInString(plaintext) < e.config.Password.MinLength {
		return invalidField(field, "too short")
	}
	maxBytes := e.config.Password.MaxBytes
	if maxBytes <= 0 {
		maxBytes = password.DefaultMaxPasswordBytes
	}
	if len(plaintext) > maxBytes {
		return invalidField(field, "too long")
	}
	return nil
}

// normalizeIdentifiers trims both identifiers and lowercases the email. At
// least one must remain.
func normalizeIdentifiers(email, username string) (string, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)

	if email == "" && username == "" {
		return "", "", invalidField("email", "email or username required")
	}
	if email != "" {
		if err := validateEmail(email); err != nil {
			return "", "", err
		}
	}
	if username != "" {
		if err := validateUsername(username); err != nil {
			return "", "", err
		}
	}
	return email, username, nil
}

func validateEmail(email string) error {
	if email == "" {
		return invalidField("email", "required")
	}
	if len(email) > maxEmailLength {
		return invalidField("email", "too long")
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return invalidField("email", "malformed")
	}
	if strings.IndexFunc(email, unicode.IsSpace) >= 0 {
		return invalidField("email", "malformed")
	}
	return nil
}

// Usernames never contain '@' so that login can tell them from emails.
func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLength || n > maxUsernameLength {
		return invalidField("username", "must be between 3 and 64 characters")
	}
	if strings.ContainsRune(username, '@') {
		return invalidField("username", "must not contain '@'")
	}
	if strings.IndexFunc(username, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return invalidField("username", "must not contain whitespace")
	}
	return nil
}
