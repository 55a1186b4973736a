// Package membership answers "may this user act in this chat" with a
// read-through cache over the chat store.
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mentormatrix/pkg/interfaces"
	"mentormatrix/pkg/types"
)

// Manager caches chats with their participants.
// FUNCTIONAL DISCOVERY: participants only change through CreateGroupChat, so
// cached entries are invalidated there and nowhere else
type Manager struct {
	store  interfaces.MessageStore
	logger *slog.Logger

	mu    sync.RWMutex
	chats map[string]*types.Chat
}

// NewManager creates a new membership manager
func NewManager(store interfaces.MessageStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("component", "membership"),
		chats:  make(map[string]*types.Chat),
	}
}

// GetChat returns chatID from cache or the store. A missing chat wraps
// types.ErrNotFound.
func (m *Manager) GetChat(ctx context.Context, chatID string) (*types.Chat, error) {
	m.mu.RLock()
	chat, ok := m.chats[chatID]
	m.mu.RUnlock()
	if ok {
		return chat, nil
	}

	chat, err := m.store.FindChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.chats[chatID] = chat
	m.mu.Unlock()
	return chat, nil
}

// ValidateMembership checks that chatID exists and userID participates.
func (m *Manager) ValidateMembership(ctx context.Context, chatID, userID string) (*types.Chat, error) {
	chat, err := m.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return chat, nil
}

// CreateGroupChat returns the chat for req.ProjectID, creating it with the
// creator and the deduplicated participants when none exists yet. created is
// false when an existing chat was returned.
func (m *Manager) CreateGroupChat(ctx context.Context, creatorID string, req types.CreateChatRequest) (chat *types.Chat, created bool, err error) {
	if err := types.ValidateStruct(&req); err != nil {
		return nil, false, err
	}

	existing, err := m.store.FindChatByProject(ctx, req.ProjectID)
	if err == nil {
		return existing, false, nil
	}
	if !isNotFound(err) {
		return nil, false, err
	}

	participants := uniqueParticipants(append([]string{creatorID}, req.Participants...))
	for _, userID := range participants {
		if _, err := m.store.FindUserIdentity(ctx, userID); err != nil {
			return nil, false, fmt.Errorf("participant %s: %w", userID, err)
		}
	}

	chat = &types.Chat{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		ProjectID:    req.ProjectID,
		IsGroupChat:  true,
		Participants: participants,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.CreateChat(ctx, chat); err != nil {
		// a concurrent creator may have won the unique project constraint
		if existing, findErr := m.store.FindChatByProject(ctx, req.ProjectID); findErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}

	m.Invalidate(chat.ID)
	m.logger.Info("group chat created", "chat_id", chat.ID, "project_id", chat.ProjectID, "participants", len(participants))
	return chat, true, nil
}

// Invalidate drops chatID from the cache.
func (m *Manager) Invalidate(chatID string) {
	m.mu.Lock()
	delete(m.chats, chatID)
	m.mu.Unlock()
}

// CachedChats returns how many chats are cached.
func (m *Manager) CachedChats() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chats)
}

func uniqueParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
