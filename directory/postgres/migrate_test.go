package postgres

import (
	"errors"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	upErr      error
	downErr    error
	version    uint
	dirty      bool
	versionErr error
	closeSrc   error
	closeDB    error
}

func (f *fakeMigrator) Up() error   { return f.upErr }
func (f *fakeMigrator) Down() error { return f.downErr }
func (f *fakeMigrator) Version() (uint, bool, error) {
	return f.version, f.dirty, f.versionErr
}
func (f *fakeMigrator) Close() (error, error) { return f.closeSrc, f.closeDB }

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/app":   "pgx5://u:p@db:5432/app",
		"postgresql://u:p@db:5432/app": "pgx5://u:p@db:5432/app",
		"pgx5://u:p@db:5432/app":       "pgx5://u:p@db:5432/app",
	}
	for in, want := range tests {
		assert.Equal(t, want, MigrateURL(in), in)
	}
}

func TestMigrator_UpTreatsNoChangeAsSuccess(t *testing.T) {
	m := &Migrator{m: &fakeMigrator{upErr: migrate.ErrNoChange}}
	assert.NoError(t, m.Up())

	m = &Migrator{m: &fakeMigrator{upErr: errors.New("syntax error")}}
	assert.ErrorContains(t, m.Up(), "syntax error")
}

func TestMigrator_DownTreatsNoChangeAsSuccess(t *testing.T) {
	m := &Migrator{m: &fakeMigrator{downErr: migrate.ErrNoChange}}
	assert.NoError(t, m.Down())
}

func TestMigrator_VersionBeforeFirstMigration(t *testing.T) {
	m := &Migrator{m: &fakeMigrator{versionErr: migrate.ErrNilVersion}}
	v, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)

	m = &Migrator{m: &fakeMigrator{version: 1, dirty: true}}
	v, dirty, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.True(t, dirty)
}

func TestMigrator_CloseJoinsErrors(t *testing.T) {
	m := &Migrator{m: &fakeMigrator{closeSrc: errors.New("source"), closeDB: errors.New("database")}}
	err := m.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source")
	assert.Contains(t, err.Error(), "database")
}

func TestMigrationsFS_Pairs(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		default:
			t.Errorf("unexpected file in migrations: %s", e.Name())
		}
	}
	assert.Equal(t, ups, downs)
}
