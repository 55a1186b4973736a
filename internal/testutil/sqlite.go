package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mentormatrix/internal/database"
	dbconfig "mentormatrix/pkg/database"
	"mentormatrix/pkg/types"
)

// NewSQLiteStore opens a migrated SQLite store in a temp dir, closed when the
// test ends.
func NewSQLiteStore(t *testing.T) *database.Manager {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "chat.db")

	store, err := database.NewManager(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = dbconfig.NewMigrationManager(store.GetDB()).ApplyMigrations()
	require.NoError(t, err)
	return store
}

// SeedChat creates the named users (id == name) and a group chat joining them.
func SeedChat(t *testing.T, store *database.Manager, chatID string, userIDs ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range userIDs {
		if _, err := store.FindUserIdentity(ctx, id); err == nil {
			continue
		}
		require.NoError(t, store.CreateUser(ctx, &types.User{ID: id, Name: id, Email: id + "@example.com"}))
	}
	require.NoError(t, store.CreateChat(ctx, &types.Chat{
		ID:           chatID,
		Name:         "chat " + chatID,
		IsGroupChat:  true,
		Participants: userIDs,
	}))
}
