package interfaces

import (
	"context"
	"time"

	"mentormatrix/pkg/types"
)

// MessageStore is the durable collaborator behind the chat core. Lookups of
// missing rows return an error wrapping types.ErrNotFound.
type MessageStore interface {
	// CreateMessage commits msg. The caller assigns id, timestamp and status.
	CreateMessage(ctx context.Context, msg *types.Message) error

	// MarkMessagesRead flips every sent message in chatID not authored by
	// readerID to read in one statement and returns how many changed.
	// FUNCTIONAL DISCOVERY: the count is the only signal callers get for
	// whether a read receipt is worth broadcasting
	MarkMessagesRead(ctx context.Context, chatID, readerID string, at time.Time) (int64, error)

	// FindMessagesByChat returns messages in ascending creation order with
	// sender identities populated.
	FindMessagesByChat(ctx context.Context, chatID string, offset, limit int) ([]*types.Message, error)

	// CountMessagesByChat returns the total message count for chatID.
	CountMessagesByChat(ctx context.Context, chatID string) (int64, error)

	// FindChat returns the chat with its participant ids.
	FindChat(ctx context.Context, chatID string) (*types.Chat, error)

	// FindChatByProject returns the chat bound to projectID.
	FindChatByProject(ctx context.Context, projectID string) (*types.Chat, error)

	// FindChatParticipants returns the participant user ids of chatID.
	FindChatParticipants(ctx context.Context, chatID string) ([]string, error)

	// FindUserIdentity resolves a user id to its display identity.
	FindUserIdentity(ctx context.Context, userID string) (*types.Identity, error)

	// ListUserChats returns the chats userID participates in, newest
	// activity first, each with its last message.
	ListUserChats(ctx context.Context, userID string) ([]*types.ChatSummary, error)

	// CreateUser inserts a user row.
	CreateUser(ctx context.Context, user *types.User) error

	// CreateChat inserts a chat and its participants atomically.
	CreateChat(ctx context.Context, chat *types.Chat) error

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close drains pending writes and releases the store.
	Close() error
}
