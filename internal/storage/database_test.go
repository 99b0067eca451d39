package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"estatechat/internal/config"

	"github.com/stretchr/testify/require"
)

func TestOpenAndMigrateSQLite(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: ":memory:"},
	}}
	db, err := Open("sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(db, "sqlite3"))
	// second run is a no-op
	require.NoError(t, Migrate(db, "sqlite3"))

	for _, table := range []string{"sessions", "turns", "uploads", "session_tokens"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"postgres": {DSN: "x"}}}
	_, err := Open("postgres", cfg)
	require.Error(t, err)
	require.Error(t, Migrate(nil, "postgres"))
}

func TestOpenDefaultConfigCreatesDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := config.Load("")
	require.NoError(t, err)
	db, err := Open(cfg.BasicConfig.Database, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db, cfg.BasicConfig.Database))

	_, err = os.Stat(filepath.Join(dir, "data", "estatechat.db"))
	require.NoError(t, err)
}

func TestSQLiteForeignKeysOnEveryConnection(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "fk.db")
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: dsn}}}
	db, err := Open("sqlite3", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	// hold two connections at once so the pool cannot hand back the same one
	first, err := db.Conn(ctx)
	require.NoError(t, err)
	defer first.Close()
	second, err := db.Conn(ctx)
	require.NoError(t, err)
	defer second.Close()

	for _, conn := range []*sql.Conn{first, second} {
		var enabled int
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&enabled))
		require.Equal(t, 1, enabled)
	}
}

func TestSQLiteDSN(t *testing.T) {
	require.Equal(t, ":memory:?_foreign_keys=1", sqliteDSN(":memory:"))
	require.Equal(t, "file:x.db?cache=shared&_foreign_keys=1", sqliteDSN("file:x.db?cache=shared"))
	require.Equal(t, "x.db?_fk=0", sqliteDSN("x.db?_fk=0"))
}
