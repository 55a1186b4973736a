package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentormatrix/internal/app"
	"mentormatrix/internal/config"
	"mentormatrix/internal/middleware"
)

// run executes the CLI with an isolated database and secret.
func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MENTORMATRIX_DATABASE_PATH", dbPath)
	t.Setenv("MENTORMATRIX_JWT_SECRET", "cli-test-secret")
	t.Setenv("MENTORMATRIX_CONFIG_FILE", "")

	var out, errOut bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "chat.db")

	out, err := run(t, dbPath, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 001")

	out, err = run(t, dbPath, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, filepath.Join(t.TempDir(), "chat.db"), "token", "alice", "--ttl", "5m")
	require.NoError(t, err)

	userID, err := middleware.NewTokenVerifier("cli-test-secret", time.Hour).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	_, err = run(t, filepath.Join(t.TempDir(), "chat.db"), "token")
	assert.Error(t, err)
}

func TestSeedCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")

	out, err := run(t, dbPath, "seed", "-u", "alice:Alice", "-u", "bob:Bob:bob@example.com", "--project", "p1", "--chat-name", "Capstone")
	require.NoError(t, err)
	assert.Contains(t, out, "created user alice")
	assert.Contains(t, out, "created user bob")
	assert.Contains(t, out, "created chat")

	out, err = run(t, dbPath, "seed", "-u", "alice:Alice", "--project", "p1")
	require.NoError(t, err)
	assert.NotContains(t, out, "created user")
	assert.Contains(t, out, "existing chat")

	cfg := config.DefaultConfig()
	cfg.Database.Path = dbPath
	store, _, err := app.OpenStore(cfg, nil)
	require.NoError(t, err)
	defer store.Close()

	chat, err := store.FindChatByProject(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Capstone", chat.Name)
	assert.ElementsMatch(t, []string{"alice", "bob"}, chat.Participants)
}

func TestSeedRejectsBadUser(t *testing.T) {
	_, err := run(t, filepath.Join(t.TempDir(), "chat.db"), "seed", "-u", "alice")
	assert.Error(t, err)

	_, err = run(t, filepath.Join(t.TempDir(), "chat.db"), "seed")
	assert.Error(t, err)
}

func TestParseUser(t *testing.T) {
	u, err := parseUser("carol:Carol Smith")
	require.NoError(t, err)
	assert.Equal(t, "carol", u.ID)
	assert.Equal(t, "Carol Smith", u.Name)
	assert.Equal(t, "carol@mentormatrix.local", u.Email)

	u, err = parseUser("dave:Dave:d@x.io")
	require.NoError(t, err)
	assert.Equal(t, "d@x.io", u.Email)

	_, err = parseUser(":nameless")
	assert.Error(t, err)
}

func TestBadConfigFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := run(t, filepath.Join(t.TempDir(), "chat.db"), "--config", path, "migrate")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mentormatrix dev")
}
