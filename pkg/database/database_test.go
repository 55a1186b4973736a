package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", cfg.DSN())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ApplyPragmas(db))
	return db
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMigrationManager_AppliesEmbeddedSchemaOnce(t *testing.T) {
	db := openTestDB(t)
	mm := NewMigrationManager(db)

	ran, err := mm.ApplyMigrations()
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, ran)

	ran, err = mm.ApplyMigrations()
	require.NoError(t, err)
	assert.Empty(t, ran)

	require.NoError(t, NewSchemaValidator(db).Validate())
}

func TestMigrationManager_OrdersByVersion(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"m/002_add_b.sql": {Data: []byte("CREATE TABLE b (id TEXT REFERENCES a(id));")},
		"m/001_add_a.sql": {Data: []byte("CREATE TABLE a (id TEXT PRIMARY KEY);")},
		"m/notes.txt":     {Data: []byte("ignored")},
	}

	ran, err := NewMigrationManagerFS(db, source, "m").ApplyMigrations()
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, ran)
}

func TestMigrationManager_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"m/001_broken.sql": {Data: []byte("CREATE TABLE;")},
	}

	_, err := NewMigrationManagerFS(db, source, "m").ApplyMigrations()
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Zero(t, count)
}

func TestSchemaValidator_MissingTables(t *testing.T) {
	db := openTestDB(t)
	err := NewSchemaValidator(db).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "users")
}

func TestSchema_MessageStatusConstraint(t *testing.T) {
	db := openTestDB(t)
	_, err := NewMigrationManager(db).ApplyMigrations()
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO users (id, name, email, created_at) VALUES ('u1', 'Ada', 'ada@example.com', 0)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO chats (id, name, created_at) VALUES ('c1', 'pair', 0)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO messages (id, chat_id, sender_id, content, status, created_at) VALUES ('m1', 'c1', 'u1', 'hi', 'deleted', 0)`)
	assert.Error(t, err, "unknown status must be rejected")

	_, err = db.Exec(`INSERT INTO messages (id, chat_id, sender_id, content, status, created_at) VALUES ('m2', 'missing', 'u1', 'hi', 'sent', 0)`)
	assert.Error(t, err, "foreign key on chat must be enforced")
}
