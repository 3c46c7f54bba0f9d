// Package memory is an in-process AccountDirectory. It is meant for tests,
// the load-test tool, and single-node development servers.
package memory

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/schoolnotes/authcore"
)

// Directory stores accounts in maps guarded by one mutex, so the uniqueness
// check and the insert happen atomically.
type Directory struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]authcore.Account
	byEmail    map[string]uuid.UUID
	byUsername map[string]uuid.UUID
}

var (
	_ authcore.AccountDirectory = (*Directory)(nil)
	_ authcore.AccountWriter    = (*Directory)(nil)
	_ authcore.AccountLister    = (*Directory)(nil)
)

func New() *Directory {
	return &Directory{
		byID:       make(map[uuid.UUID]authcore.Account),
		byEmail:    make(map[string]uuid.UUID),
		byUsername: make(map[string]uuid.UUID),
	}
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FindByIdentifier matches login against emails when it contains '@' and
// against usernames otherwise.
func (d *Directory) FindByIdentifier(ctx context.Context, login string) (*authcore.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	index := d.byUsername
	if strings.Contains(login, "@") {
		index = d.byEmail
	}
	id, ok := index[fold(login)]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	account := d.byID[id]
	return &account, nil
}

func (d *Directory) FindByID(ctx context.Context, id uuid.UUID) (*authcore.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	account, ok := d.byID[id]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	return &account, nil
}

func (d *Directory) IdentifierExists(ctx context.Context, login string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	key := fold(login)
	_, email := d.byEmail[key]
	_, username := d.byUsername[key]
	return email || username, nil
}

func (d *Directory) Insert(ctx context.Context, account authcore.Account) (*authcore.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byID[account.ID]; ok {
		return nil, authcore.ErrIdentifierTaken
	}
	if d.taken(account, uuid.Nil) {
		return nil, authcore.ErrIdentifierTaken
	}

	d.store(account)
	return &account, nil
}

// UpdateAccount replaces the stored account with the same id. Identifier
// changes are checked for collisions like an insert.
func (d *Directory) UpdateAccount(ctx context.Context, account authcore.Account) (*authcore.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	previous, ok := d.byID[account.ID]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	if d.taken(account, account.ID) {
		return nil, authcore.ErrIdentifierTaken
	}

	delete(d.byEmail, fold(previous.Email))
	delete(d.byUsername, fold(previous.Username))
	d.store(account)
	return &account, nil
}

// ListAccounts returns accounts ordered by id, which for UUIDv7 ids is
// creation order.
func (d *Directory) ListAccounts(ctx context.Context, owner *uuid.UUID) ([]authcore.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if owner != nil {
		account, ok := d.byID[*owner]
		if !ok {
			return []authcore.Account{}, nil
		}
		return []authcore.Account{account}, nil
	}

	out := make([]authcore.Account, 0, len(d.byID))
	for _, account := range d.byID {
		out = append(out, account)
	}
	slices.SortFunc(out, func(a, b authcore.Account) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// taken reports whether either identifier of account belongs to an account
// other than self. Identifiers share one namespace: a username may not equal
// another account's email.
func (d *Directory) taken(account authcore.Account, self uuid.UUID) bool {
	for _, key := range []string{fold(account.Email), fold(account.Username)} {
		if key == "" {
			continue
		}
		if id, ok := d.byEmail[key]; ok && id != self {
			return true
		}
		if id, ok := d.byUsername[key]; ok && id != self {
			return true
		}
	}
	return false
}

func (d *Directory) store(account authcore.Account) {
	d.byID[account.ID] = account
	if key := fold(account.Email); key != "" {
		d.byEmail[key] = account.ID
	}
	if key := fold(account.Username); key != "" {
		d.byUsername[key] = account.ID
	}
}
