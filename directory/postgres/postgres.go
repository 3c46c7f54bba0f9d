// Package postgres is an AccountDirectory backed by PostgreSQL through pgx.
//
// Identifier uniqueness is enforced by case-insensitive unique indexes on
// email and username; see migrations/.
package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/schoolnotes/authcore"
)

// DB is the subset of pgxpool.Pool the directory uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Directory implements authcore.AccountDirectory, AccountWriter, and
// AccountLister.
type Directory struct {
	db DB
}

var (
	_ authcore.AccountDirectory = (*Directory)(nil)
	_ authcore.AccountWriter    = (*Directory)(nil)
	_ authcore.AccountLister    = (*Directory)(nil)
)

func New(db DB) *Directory {
	return &Directory{db: db}
}

const accountColumns = `id, display_name, COALESCE(username, ''), COALESCE(email, ''), password_hash, role, status, created_at, updated_at`

func scanAccount(row pgx.Row) (*authcore.Account, error) {
	var (
		a      authcore.Account
		id     string
		role   string
		status string
	)
	err := row.Scan(&id, &a.DisplayName, &a.Username, &a.Email, &a.PasswordHash,
		&role, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, oops.Code("CORRUPT_ACCOUNT_ID").With("id", id).Wrap(err)
	}
	// Unknown values pass through; the engine rejects them.
	a.Role = authcore.Role(role)
	a.Status = authcore.AccountStatus(status)
	return &a, nil
}

// FindByIdentifier matches login against emails when it contains '@' and
// against usernames otherwise.
func (d *Directory) FindByIdentifier(ctx context.Context, login string) (*authcore.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(username) = lower($1)`
	if strings.Contains(login, "@") {
		query = `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = lower($1)`
	}

	account, err := scanAccount(d.db.QueryRow(ctx, query, strings.TrimSpace(login)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authcore.ErrAccountNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "find account by identifier").Wrap(err)
	}
	return account, nil
}

func (d *Directory) FindByID(ctx context.Context, id uuid.UUID) (*authcore.Account, error) {
	account, err := scanAccount(d.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authcore.ErrAccountNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "find account by id").With("account_id", id.String()).Wrap(err)
	}
	return account, nil
}

func (d *Directory) IdentifierExists(ctx context.Context, login string) (bool, error) {
	var exists bool
	err := d.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE lower(email) = lower($1) OR lower(username) = lower($1))`,
		strings.TrimSpace(login)).Scan(&exists)
	if err != nil {
		return false, oops.With("operation", "check identifier").Wrap(err)
	}
	return exists, nil
}

func (d *Directory) Insert(ctx context.Context, account authcore.Account) (*authcore.Account, error) {
	_, err := d.db.Exec(ctx,
		`INSERT INTO accounts (id, display_name, username, email, password_hash, role, status, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		account.ID,
		account.DisplayName,
		account.Username,
		account.Email,
		account.PasswordHash,
		string(account.Role),
		string(account.Status),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, authcore.ErrIdentifierTaken
	}
	if err != nil {
		return nil, oops.With("operation", "insert account").With("account_id", account.ID.String()).Wrap(err)
	}
	return &account, nil
}

func (d *Directory) UpdateAccount(ctx context.Context, account authcore.Account) (*authcore.Account, error) {
	tag, err := d.db.Exec(ctx,
		`UPDATE accounts
		 SET display_name = $2, username = NULLIF($3, ''), email = NULLIF($4, ''),
		     password_hash = $5, role = $6, status = $7, updated_at = $8
		 WHERE id = $1`,
		account.ID,
		account.DisplayName,
		account.Username,
		account.Email,
		account.PasswordHash,
		string(account.Role),
		string(account.Status),
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, authcore.ErrIdentifierTaken
	}
	if err != nil {
		return nil, oops.With("operation", "update account").With("account_id", account.ID.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, authcore.ErrAccountNotFound
	}
	return &account, nil
}

// ListAccounts returns accounts in creation order. A non-nil owner restricts
// the result to that account.
func (d *Directory) ListAccounts(ctx context.Context, owner *uuid.UUID) ([]authcore.Account, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if owner == nil {
		rows, err = d.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	} else {
		rows, err = d.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, *owner)
	}
	if err != nil {
		return nil, oops.With("operation", "list accounts").Wrap(err)
	}
	defer rows.Close()

	accounts := []authcore.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, oops.With("operation", "scan account row").Wrap(err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate accounts").Wrap(err)
	}
	return accounts, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
