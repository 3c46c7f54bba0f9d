package authcore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// fakeDirectory is a minimal AccountDirectory with failure injection. The
// production in-memory directory lives in directory/memory, which imports
// this package.
type fakeDirectory struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]Account

	findErr      error
	insertErr    error
	existsErr    error
	updateErr    error
	findCalls    int
	updateCalls  int
	insertCalls  int
	lookupLogins []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{accounts: make(map[uuid.UUID]Account)}
}

func (d *fakeDirectory) FindByIdentifier(_ context.Context, login string) (*Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.findCalls++
	d.lookupLogins = append(d.lookupLogins, login)
	if d.findErr != nil {
		return nil, d.findErr
	}
	for _, a := range d.accounts {
		if strings.Contains(login, "@") {
			if strings.EqualFold(a.Email, login) {
				return &a, nil
			}
		} else if a.Username != "" && strings.EqualFold(a.Username, login) {
			return &a, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (d *fakeDirectory) FindByID(_ context.Context, id uuid.UUID) (*Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.findCalls++
	if d.findErr != nil {
		return nil, d.findErr
	}
	a, ok := d.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

func (d *fakeDirectory) IdentifierExists(_ context.Context, login string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.existsErr != nil {
		return false, d.existsErr
	}
	for _, a := range d.accounts {
		if (a.Email != "" && strings.EqualFold(a.Email, login)) ||
			(a.Username != "" && strings.EqualFold(a.Username, login)) {
			return true, nil
		}
	}
	return false, nil
}

func (d *fakeDirectory) Insert(_ context.Context, account Account) (*Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insertCalls++
	if d.insertErr != nil {
		return nil, d.insertErr
	}
	d.accounts[account.ID] = account
	return &account, nil
}

func (d *fakeDirectory) UpdateAccount(_ context.Context, account Account) (*Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateCalls++
	if d.updateErr != nil {
		return nil, d.updateErr
	}
	if _, ok := d.accounts[account.ID]; !ok {
		return nil, ErrAccountNotFound
	}
	d.accounts[account.ID] = account
	return &account, nil
}

func (d *fakeDirectory) ListAccounts(_ context.Context, owner *uuid.UUID) ([]Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []Account{}
	for id, a := range d.accounts {
		if owner == nil || *owner == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (d *fakeDirectory) get(id uuid.UUID) Account {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accounts[id]
}

func (d *fakeDirectory) put(a Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[a.ID] = a
}

func (d *fakeDirectory) remove(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.accounts, id)
}

// readOnlyDirectory hides the optional capabilities of its embedded
// directory.
type readOnlyDirectory struct {
	AccountDirectory
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = testSecret
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

type engineOption func(*Builder)

func withConfig(mutate func(*Config)) engineOption {
	return func(b *Builder) {
		mutate(&b.config)
	}
}

func withRedis(client redis.UniversalClient) engineOption {
	return func(b *Builder) { b.WithRedis(client) }
}

func withAudit(sink AuditSink) engineOption {
	return func(b *Builder) {
		b.config.Audit.Enabled = true
		b.WithAuditSink(sink)
	}
}

func newTestEngine(t *testing.T, dir AccountDirectory, opts ...engineOption) *Engine {
	t.Helper()
	b := New().WithConfig(testConfig()).WithDirectory(dir)
	for _, opt := range opts {
		opt(b)
	}
	e, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func registerAlice(t *testing.T, e *Engine) (*Account, *TokenPair) {
	t.Helper()
	acc, pair, err := e.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		Username:    "alice",
		Password:    "correct horse",
		DisplayName: "Alice",
	})
	require.NoError(t, err)
	return acc, pair
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
