// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mentormatrix/pkg/interfaces"
	"mentormatrix/pkg/types"
)

var _ interfaces.MessageStore = (*MemoryStore)(nil)

// MemoryStore is an in-memory MessageStore with failure injection.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*types.User
	chats    map[string]*types.Chat
	messages []*types.Message

	// CreateErr, when set, is returned by CreateMessage instead of storing.
	CreateErr error
	// MarkErr, when set, is returned by MarkMessagesRead.
	MarkErr error
	// OnCreate runs after a message is stored, before CreateMessage returns.
	// If ctx is done by the time it returns, the insert is rolled back.
	OnCreate func(*types.Message)
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*types.User),
		chats: make(map[string]*types.Chat),
	}
}

// AddUser registers a user by id and name.
func (s *MemoryStore) AddUser(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &types.User{ID: id, Name: name, Email: id + "@example.com"}
}

// AddChat registers a chat with participants.
func (s *MemoryStore) AddChat(id string, participants ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[id] = &types.Chat{ID: id, Name: "chat " + id, IsGroupChat: true, Participants: participants, CreatedAt: time.Now().UTC()}
}

// Messages returns a copy of every stored message in insertion order.
func (s *MemoryStore) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	return out
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.CreateErr != nil {
		err := s.CreateErr
		s.mu.Unlock()
		return err
	}
	stored := *msg
	s.messages = append(s.messages, &stored)
	hook := s.OnCreate
	s.mu.Unlock()

	if hook != nil {
		hook(&stored)
	}
	if err := ctx.Err(); err != nil {
		s.mu.Lock()
		for i, m := range s.messages {
			if m == &stored {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemoryStore) MarkMessagesRead(_ context.Context, chatID, readerID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MarkErr != nil {
		return 0, s.MarkErr
	}
	var n int64
	for _, m := range s.messages {
		if m.ChatID == chatID && m.Status == types.StatusSent && m.Sender.ID != readerID {
			m.Status = types.StatusRead
			readAt := at
			m.ReadAt = &readAt
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) chatMessages(chatID string) []*types.Message {
	var out []*types.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) FindMessagesByChat(_ context.Context, chatID string, offset, limit int) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.chatMessages(chatID)
	out := []*types.Message{}
	for i := offset; i < len(all) && len(out) < limit; i++ {
		m := *all[i]
		if u, ok := s.users[m.Sender.ID]; ok {
			m.Sender.Name = u.Name
		}
		out = append(out, &m)
	}
	return out, nil
}

func (s *MemoryStore) CountMessagesByChat(_ context.Context, chatID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.chatMessages(chatID))), nil
}

func (s *MemoryStore) FindChat(_ context.Context, chatID string) (*types.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", chatID, types.ErrNotFound)
	}
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	return &cp, nil
}

func (s *MemoryStore) FindChatByProject(_ context.Context, projectID string) (*types.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if c.ProjectID != "" && c.ProjectID == projectID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("project %s: %w", projectID, types.ErrNotFound)
}

func (s *MemoryStore) FindChatParticipants(ctx context.Context, chatID string) ([]string, error) {
	c, err := s.FindChat(ctx, chatID)
	if err != nil {
		return []string{}, nil
	}
	return c.Participants, nil
}

func (s *MemoryStore) FindUserIdentity(_ context.Context, userID string) (*types.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, types.ErrNotFound)
	}
	identity := u.Identity()
	return &identity, nil
}

func (s *MemoryStore) ListUserChats(_ context.Context, userID string) ([]*types.ChatSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ChatSummary
	for _, c := range s.chats {
		if !c.HasParticipant(userID) {
			continue
		}
		summary := &types.ChatSummary{Chat: *c}
		if msgs := s.chatMessages(c.ID); len(msgs) > 0 {
			last := *msgs[len(msgs)-1]
			summary.LastMessage = &last
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.users[user.ID]; dup {
		return fmt.Errorf("%w: user %s already exists", types.ErrValidation, user.ID)
	}
	u := *user
	s.users[user.ID] = &u
	return nil
}

func (s *MemoryStore) CreateChat(_ context.Context, chat *types.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if chat.ProjectID != "" && c.ProjectID == chat.ProjectID {
			return fmt.Errorf("%w: chat for project %s already exists", types.ErrValidation, chat.ProjectID)
		}
	}
	c := *chat
	c.Participants = append([]string(nil), chat.Participants...)
	s.chats[chat.ID] = &c
	return nil
}

func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
