package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolnotes/authcore"
	"github.com/schoolnotes/authcore/directory/memory"
	"github.com/schoolnotes/authcore/internal/settings"
	"github.com/schoolnotes/authcore/password"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["hash-password"])

	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestServeRegistersSettingsFlags(t *testing.T) {
	cmd := NewServeCmd()
	for _, name := range []string{"port", "host", "database-url", "redis-addr", "log-level", "log-format", "env", "trust-proxy-headers"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestHashPassword(t *testing.T) {
	out, err := execute(t, "correct horse\n", "hash-password")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	hasher, err := password.NewArgon2(password.DefaultConfig())
	require.NoError(t, err)
	assert.True(t, hasher.Verify("correct horse", hash))
}

func TestHashPasswordRejectsShortInput(t *testing.T) {
	_, err := execute(t, "short\n", "hash-password")
	assert.ErrorContains(t, err, "at least")

	_, err = execute(t, "", "hash-password")
	assert.ErrorContains(t, err, "stdin")
}

type fakeMigrator struct {
	upCalls   int
	downCalls int
	version   uint
	dirty     bool
	err       error
	closed    bool
}

func (f *fakeMigrator) Up() error   { f.upCalls++; return f.err }
func (f *fakeMigrator) Down() error { f.downCalls++; return f.err }
func (f *fakeMigrator) Version() (uint, bool, error) {
	return f.version, f.dirty, f.err
}
func (f *fakeMigrator) Close() error { f.closed = true; return nil }

func useFakeMigrator(t *testing.T, fake *fakeMigrator) *string {
	t.Helper()
	var gotURL string
	orig := newMigrator
	newMigrator = func(databaseURL string) (schemaMigrator, error) {
		gotURL = databaseURL
		return fake, nil
	}
	t.Cleanup(func() { newMigrator = orig })
	return &gotURL
}

func TestMigrateCommands(t *testing.T) {
	fake := &fakeMigrator{version: 1}
	gotURL := useFakeMigrator(t, fake)

	out, err := execute(t, "", "migrate", "up", "--database-url", "postgres://db/authcore")
	require.NoError(t, err)
	assert.Contains(t, out, "Migrations applied")
	assert.Equal(t, "postgres://db/authcore", *gotURL)
	assert.Equal(t, 1, fake.upCalls)
	assert.True(t, fake.closed)

	out, err = execute(t, "", "migrate", "version", "--database-url", "postgres://db/authcore")
	require.NoError(t, err)
	assert.Contains(t, out, "version 1")

	fake.dirty = true
	out, err = execute(t, "", "migrate", "version", "--database-url", "postgres://db/authcore")
	require.NoError(t, err)
	assert.Contains(t, out, "dirty")

	_, err = execute(t, "", "migrate", "down", "--database-url", "postgres://db/authcore")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.downCalls)
}

func TestMigrateUsesSettingsURL(t *testing.T) {
	gotURL := useFakeMigrator(t, &fakeMigrator{})
	t.Setenv("APP__DATABASE__URL", "postgres://env/authcore")

	_, err := execute(t, "", "migrate", "up")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/authcore", *gotURL)
}

func TestMigrateRequiresURL(t *testing.T) {
	useFakeMigrator(t, &fakeMigrator{})

	_, err := execute(t, "", "migrate", "up")
	assert.ErrorContains(t, err, "database URL is required")
}

func TestMigrateWrapsFailure(t *testing.T) {
	useFakeMigrator(t, &fakeMigrator{err: errors.New("dirty database version 3")})

	_, err := execute(t, "", "migrate", "up", "--database-url", "postgres://db/authcore")
	assert.ErrorContains(t, err, "dirty database version 3")
}

func TestWithRetry(t *testing.T) {
	orig := retryBase
	retryBase = time.Millisecond
	t.Cleanup(func() { retryBase = orig })

	calls := 0
	err := withRetry(context.Background(), quietLogger, "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = withRetry(context.Background(), quietLogger, "test", func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, connectAttempts+1, calls)
}

func TestOpenDirectoryFallsBackToMemory(t *testing.T) {
	dir, closeDir, err := openDirectory(context.Background(), settings.Default(), quietLogger)
	require.NoError(t, err)
	defer closeDir()

	_, ok := dir.(*memory.Directory)
	assert.True(t, ok)
}

func TestBuildEngineAndBootstrapAdmin(t *testing.T) {
	s := settings.Default()
	s.Admin.Email = "root@school.example"
	s.Admin.Password = "admin password"

	dir := memory.New()
	engine, err := buildEngine(s, dir, nil, quietLogger)
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	require.NoError(t, bootstrapAdmin(ctx, engine, s, quietLogger))
	require.NoError(t, bootstrapAdmin(ctx, engine, s, quietLogger))
	assert.Equal(t, 1, dir.Len())

	acc, _, err := engine.Login(ctx, "root@school.example", "admin password")
	require.NoError(t, err)
	assert.Equal(t, authcore.RoleAdmin, acc.Role)
}

func TestBootstrapAdminSkippedWithoutEmail(t *testing.T) {
	dir := memory.New()
	engine, err := buildEngine(settings.Default(), dir, nil, quietLogger)
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, bootstrapAdmin(context.Background(), engine, settings.Default(), quietLogger))
	assert.Zero(t, dir.Len())
}
