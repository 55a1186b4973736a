package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "mentormatrix/pkg/database"
	"mentormatrix/pkg/interfaces"
	"mentormatrix/pkg/types"
)

var _ interfaces.MessageStore = (*Manager)(nil)

// Manager is the SQLite implementation of interfaces.MessageStore.
// ARCHITECTURAL DISCOVERY: every write funnels through one goroutine, reads go
// straight to the pool
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	stopped      chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and starts the writer.
// Migrations are applied separately via pkg/database.MigrationManager.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.stopped)

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op)
		case <-m.shutdown:
			// drain writes that were queued before shutdown
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- m.runWrite(op)
				default:
					m.logger.Debug("write loop shutting down")
					return
				}
			}
		}
	}
}

// runWrite executes op, retrying once when SQLite reports contention.
func (m *Manager) runWrite(op writeOperation) error {
	if err := op.ctx.Err(); err != nil {
		return err
	}
	err := op.operation(op.ctx, m.db)
	if err == nil || !isBusy(err) {
		return err
	}

	m.logger.Warn("database busy, retrying write", "delay", m.config.RetryDelay, "error", err)
	select {
	case <-time.After(m.config.RetryDelay):
	case <-op.ctx.Done():
		return op.ctx.Err()
	}
	if err = op.operation(op.ctx, m.db); err != nil {
		m.logger.Error("database write failed after retry", "error", err)
	}
	return err
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// executeWrite queues a write and waits for the writer to report back.
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.stopped:
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerClosed
		}
	}
}

// CreateMessage commits msg.
func (m *Manager) CreateMessage(ctx context.Context, msg *types.Message) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, chat_id, sender_id, content, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.ChatID, msg.Sender.ID, msg.Content, msg.Status, msg.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// MarkMessagesRead flips sent messages from other senders to read in a
// single statement, so concurrent readers never double count a message.
func (m *Manager) MarkMessagesRead(ctx context.Context, chatID, readerID string, at time.Time) (int64, error) {
	var affected int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE messages
			SET status = 'read', read_at = ?
			WHERE chat_id = ? AND status = 'sent' AND sender_id != ?
		`, at.UnixNano(), chatID, readerID)
		if err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

const messageColumns = `
	m.id, m.chat_id, m.sender_id, u.name, m.content, m.status, m.created_at, m.read_at
`

// FindMessagesByChat returns a window of chatID's messages, oldest first.
func (m *Manager) FindMessagesByChat(ctx context.Context, chatID string, offset, limit int) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.chat_id = ?
		ORDER BY m.created_at ASC, m.rowid ASC
		LIMIT ? OFFSET ?
	`, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*types.Message, error) {
	var (
		msg       types.Message
		createdAt int64
		readAt    sql.NullInt64
	)
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.Sender.ID, &msg.Sender.Name,
		&msg.Content, &msg.Status, &createdAt, &readAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message row: %w", err)
	}
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	if readAt.Valid {
		t := time.Unix(0, readAt.Int64).UTC()
		msg.ReadAt = &t
	}
	return &msg, nil
}

// CountMessagesByChat returns how many messages chatID holds.
func (m *Manager) CountMessagesByChat(ctx context.Context, chatID string) (int64, error) {
	var count int64
	err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE chat_id = ?", chatID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// FindChat returns the chat with its participants.
func (m *Manager) FindChat(ctx context.Context, chatID string) (*types.Chat, error) {
	return m.findChatWhere(ctx, "id = ?", chatID)
}

// FindChatByProject returns the chat bound to projectID.
func (m *Manager) FindChatByProject(ctx context.Context, projectID string) (*types.Chat, error) {
	return m.findChatWhere(ctx, "project_id = ?", projectID)
}

func (m *Manager) findChatWhere(ctx context.Context, where string, arg string) (*types.Chat, error) {
	var (
		chat      types.Chat
		projectID sql.NullString
		createdAt int64
	)
	err := m.db.QueryRowContext(ctx,
		"SELECT id, name, project_id, is_group, created_at FROM chats WHERE "+where, arg,
	).Scan(&chat.ID, &chat.Name, &projectID, &chat.IsGroupChat, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat %s: %w", arg, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}
	chat.ProjectID = projectID.String
	chat.CreatedAt = time.Unix(0, createdAt).UTC()

	chat.Participants, err = m.FindChatParticipants(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// FindChatParticipants returns participant ids in a stable order.
func (m *Manager) FindChatParticipants(ctx context.Context, chatID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT user_id FROM chat_participants WHERE chat_id = ? ORDER BY user_id", chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	participants := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, userID)
	}
	return participants, rows.Err()
}

// FindUserIdentity resolves userID to {id, name}.
func (m *Manager) FindUserIdentity(ctx context.Context, userID string) (*types.Identity, error) {
	var identity types.Identity
	err := m.db.QueryRowContext(ctx, "SELECT id, name FROM users WHERE id = ?", userID).
		Scan(&identity.ID, &identity.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &identity, nil
}

// ListUserChats returns userID's chats ordered by latest activity.
func (m *Manager) ListUserChats(ctx context.Context, userID string) ([]*types.ChatSummary, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.project_id, c.is_group, c.created_at,
			COALESCE((SELECT MAX(created_at) FROM messages WHERE chat_id = c.id), c.created_at) AS activity
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = ?
		ORDER BY activity DESC, c.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user chats: %w", err)
	}

	var summaries []*types.ChatSummary
	for rows.Next() {
		var (
			summary   types.ChatSummary
			projectID sql.NullString
			createdAt int64
			activity  int64
		)
		if err := rows.Scan(&summary.ID, &summary.Name, &projectID, &summary.IsGroupChat, &createdAt, &activity); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		summary.ProjectID = projectID.String
		summary.CreatedAt = time.Unix(0, createdAt).UTC()
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating chat rows: %w", err)
	}
	_ = rows.Close()

	// TECHNICAL DISCOVERY: the cursor is closed before the follow-up queries
	// so a single-connection pool cannot deadlock
	for _, summary := range summaries {
		if summary.Participants, err = m.FindChatParticipants(ctx, summary.ID); err != nil {
			return nil, err
		}
		if summary.LastMessage, err = m.lastMessage(ctx, summary.ID); err != nil {
			return nil, err
		}
	}
	return summaries, nil
}

func (m *Manager) lastMessage(ctx context.Context, chatID string) (*types.Message, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.chat_id = ?
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT 1
	`, chatID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// CreateUser inserts user. A duplicate id or email is a validation error.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)",
			user.ID, user.Name, strings.ToLower(user.Email), user.CreatedAt.UnixNano())
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: user %s already exists", types.ErrValidation, user.Email)
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}
		return nil
	})
}

// CreateChat inserts chat and its participants in one transaction.
func (m *Manager) CreateChat(ctx context.Context, chat *types.Chat) error {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var projectID interface{}
		if chat.ProjectID != "" {
			projectID = chat.ProjectID
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO chats (id, name, project_id, is_group, created_at) VALUES (?, ?, ?, ?, ?)",
			chat.ID, chat.Name, projectID, chat.IsGroupChat, chat.CreatedAt.UnixNano())
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: chat for project %s already exists", types.ErrValidation, chat.ProjectID)
			}
			return fmt.Errorf("failed to insert chat: %w", err)
		}

		for _, userID := range chat.Participants {
			_, err = tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO chat_participants (chat_id, user_id) VALUES (?, ?)",
				chat.ID, userID)
			if err != nil {
				return fmt.Errorf("failed to insert participant %s: %w", userID, err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit chat creation: %w", err)
		}
		return nil
	})
}

// HealthCheck pings the database and runs a trivial read.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chats").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
