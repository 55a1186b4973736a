// Package durability commits messages and read receipts to the store before
// anything is broadcast about them.
package durability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mentormatrix/internal/membership"
	"mentormatrix/pkg/interfaces"
	"mentormatrix/pkg/types"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Bridge is the only writer of messages.
// ARCHITECTURAL DISCOVERY: Persist returns only after the store commits, so a
// caller that broadcasts the result can never announce a message that a
// restart would lose
type Bridge struct {
	store       interfaces.MessageStore
	memberships *membership.Manager
	logger      *slog.Logger
	now         func() time.Time

	defaultPageSize int
	maxPageSize     int
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// WithPageSizes overrides the history page size default and cap.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(b *Bridge) {
		if defaultSize > 0 {
			b.defaultPageSize = defaultSize
		}
		if maxSize > 0 {
			b.maxPageSize = maxSize
		}
	}
}

// NewBridge creates a bridge over store.
func NewBridge(store interfaces.MessageStore, memberships *membership.Manager, logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		store:           store,
		memberships:     memberships,
		logger:          logger.With("component", "durability"),
		now:             time.Now,
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Persist commits a new sent message from senderID into chatID. content must
// already be validated.
func (b *Bridge) Persist(ctx context.Context, chatID, senderID, content string) (*types.Message, error) {
	if _, err := b.memberships.GetChat(ctx, chatID); err != nil {
		return nil, lookupError(err)
	}
	sender, err := b.store.FindUserIdentity(ctx, senderID)
	if err != nil {
		return nil, lookupError(err)
	}
	if _, err := b.memberships.ValidateMembership(ctx, chatID, senderID); err != nil {
		return nil, lookupError(err)
	}

	msg := &types.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Sender:    *sender,
		Content:   content,
		Status:    types.StatusSent,
		CreatedAt: b.now().UTC(),
	}
	if err := b.store.CreateMessage(ctx, msg); err != nil {
		b.logger.Error("message persist failed", "chat_id", chatID, "sender_id", senderID, "error", err)
		return nil, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	return msg, nil
}

// MarkAllRead transitions every sent message in chatID not authored by
// readerID to read and returns how many changed. Concurrent calls never
// count the same message twice.
func (b *Bridge) MarkAllRead(ctx context.Context, chatID, readerID string) (int64, error) {
	if _, err := b.memberships.ValidateMembership(ctx, chatID, readerID); err != nil {
		return 0, lookupError(err)
	}
	n, err := b.store.MarkMessagesRead(ctx, chatID, readerID, b.now().UTC())
	if err != nil {
		b.logger.Error("mark read failed", "chat_id", chatID, "reader_id", readerID, "error", err)
		return 0, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	return n, nil
}

// List returns page (1-based) of chatID's history in ascending order. A
// page with no messages is NotFound.
func (b *Bridge) List(ctx context.Context, chatID string, page, pageSize int) (*types.MessagePage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = b.defaultPageSize
	}
	if pageSize > b.maxPageSize {
		pageSize = b.maxPageSize
	}

	messages, err := b.store.FindMessagesByChat(ctx, chatID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages found for this chat: %w", types.ErrNotFound)
	}

	total, err := b.store.CountMessagesByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}

	return &types.MessagePage{
		Messages:    messages,
		Total:       total,
		TotalPages:  int((total + int64(pageSize) - 1) / int64(pageSize)),
		CurrentPage: page,
	}, nil
}

// lookupError keeps NotFound and Forbidden as they are and turns any other
// store failure into a persistence failure.
func lookupError(err error) error {
	if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrForbidden) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrPersistence, err)
}
