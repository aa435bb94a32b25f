package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Connect("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"no params", "SELECT 1", "SELECT 1"},
		{"two params", "SELECT * FROM t WHERE a=$1 AND b=$2", "SELECT * FROM t WHERE a=?1 AND b=?2"},
		{"double digit", "VALUES ($10, $11)", "VALUES (?10, ?11)"},
		{"literal untouched", "SELECT '$1' WHERE x=$1", "SELECT '$1' WHERE x=?1"},
		{"lone dollar", "SELECT '$' || $1", "SELECT '$' || ?1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rebindSQLite(tt.query))
		})
	}

	pg := &DB{dialect: Postgres}
	assert.Equal(t, "SELECT $1", pg.Rebind("SELECT $1"))
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect("mysql", "x")
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "compliance.db")
	ctx := context.Background()

	d1, err := Connect("sqlite", path)
	require.NoError(t, err)
	v1, err := d1.AppliedMigrations(ctx)
	require.NoError(t, err)
	d1.Close()

	d2, err := Connect("sqlite", path)
	require.NoError(t, err)
	defer d2.Close()
	v2, err := d2.AppliedMigrations(ctx)
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, []int{1, 2}, v2)
}

func TestTablesExist(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	for _, table := range []string{"users", "kv_entries", "analytics_events"} {
		var count int
		err := d.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=$1`, table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s", table)
	}
}

func TestTxRebinds(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	tx, err := d.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO users (email, password, created_at) VALUES ($1, $2, $3)`, "a@b.c", "x", 1)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	var email string
	require.NoError(t, d.QueryRowContext(ctx, `SELECT email FROM users WHERE id=$1`, 1).Scan(&email))
	assert.Equal(t, "a@b.c", email)
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("002_analytics.sql")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = parseMigrationVersion("init.sql")
	assert.Error(t, err)
}
