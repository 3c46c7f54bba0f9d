package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolnotes/authcore"
)

func newAccount(t *testing.T, email, username string) authcore.Account {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return authcore.Account{
		ID:           id,
		Email:        email,
		Username:     username,
		PasswordHash: "hash",
		Role:         authcore.RoleStudent,
		Status:       authcore.StatusActive,
	}
}

func TestDirectory_FindByIdentifierIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	d := New()

	acc := newAccount(t, "Alice@Example.com", "Alice")
	_, err := d.Insert(ctx, acc)
	require.NoError(t, err)

	got, err := d.FindByIdentifier(ctx, "alice@example.COM")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	got, err = d.FindByIdentifier(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)
}

func TestDirectory_FindMissing(t *testing.T) {
	ctx := context.Background()
	d := New()

	_, err := d.FindByIdentifier(ctx, "nobody")
	assert.ErrorIs(t, err, authcore.ErrAccountNotFound)

	_, err = d.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, authcore.ErrAccountNotFound)
}

func TestDirectory_InsertRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	d := New()

	_, err := d.Insert(ctx, newAccount(t, "bob@example.com", "bob"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		username string
	}{
		{name: "same email different case", email: "BOB@example.com"},
		{name: "same username", username: "Bob"},
		{name: "username equal to existing email", username: "bob@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Insert(ctx, newAccount(t, tt.email, tt.username))
			assert.ErrorIs(t, err, authcore.ErrIdentifierTaken)
		})
	}
	assert.Equal(t, 1, d.Len())
}

func TestDirectory_ConcurrentInsertOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	d := New()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := uuid.NewV7()
			_, err := d.Insert(ctx, authcore.Account{ID: id, Email: "race@example.com"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, authcore.ErrIdentifierTaken)
	}
	assert.Equal(t, 1, wins)
}

func TestDirectory_IdentifierExists(t *testing.T) {
	ctx := context.Background()
	d := New()
	_, err := d.Insert(ctx, newAccount(t, "carol@example.com", "carol"))
	require.NoError(t, err)

	for _, login := range []string{"carol", "CAROL@example.com"} {
		exists, err := d.IdentifierExists(ctx, login)
		require.NoError(t, err)
		assert.True(t, exists, login)
	}

	exists, err := d.IdentifierExists(ctx, "dave")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDirectory_UpdateAccount(t *testing.T) {
	ctx := context.Background()
	d := New()

	acc := newAccount(t, "erin@example.com", "erin")
	_, err := d.Insert(ctx, acc)
	require.NoError(t, err)
	other := newAccount(t, "frank@example.com", "frank")
	_, err = d.Insert(ctx, other)
	require.NoError(t, err)

	acc.Status = authcore.StatusSuspended
	acc.Email = "erin2@example.com"
	got, err := d.UpdateAccount(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, authcore.StatusSuspended, got.Status)

	_, err = d.FindByIdentifier(ctx, "erin@example.com")
	assert.ErrorIs(t, err, authcore.ErrAccountNotFound)
	_, err = d.FindByIdentifier(ctx, "erin2@example.com")
	require.NoError(t, err)

	acc.Username = "frank"
	_, err = d.UpdateAccount(ctx, acc)
	assert.ErrorIs(t, err, authcore.ErrIdentifierTaken)

	_, err = d.UpdateAccount(ctx, newAccount(t, "ghost@example.com", ""))
	assert.ErrorIs(t, err, authcore.ErrAccountNotFound)
}

func TestDirectory_ListAccounts(t *testing.T) {
	ctx := context.Background()
	d := New()

	first := newAccount(t, "a@example.com", "")
	second := newAccount(t, "b@example.com", "")
	_, err := d.Insert(ctx, second)
	require.NoError(t, err)
	_, err = d.Insert(ctx, first)
	require.NoError(t, err)

	all, err := d.ListAccounts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)

	mine, err := d.ListAccounts(ctx, &second.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, second.ID, mine[0].ID)

	missing := uuid.New()
	none, err := d.ListAccounts(ctx, &missing)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDirectory_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().FindByIdentifier(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
