// Package chat is the session protocol layered on the room broadcaster:
// presence, room membership, typing relay, message send and read receipts.
// Socket events and REST handlers share the same operations.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mentormatrix/internal/durability"
	"mentormatrix/internal/hub"
	"mentormatrix/internal/membership"
	"mentormatrix/internal/ratelimit"
	"mentormatrix/internal/websocket"
	"mentormatrix/pkg/interfaces"
	"mentormatrix/pkg/types"
)

var _ websocket.EventHandler = (*Protocol)(nil)

// IdentityResolver looks up the display identity of a user id.
type IdentityResolver interface {
	FindUserIdentity(ctx context.Context, userID string) (*types.Identity, error)
}

// TokenVerifier turns a bearer token into a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Config holds protocol limits.
type Config struct {
	MaxContentLength int
}

// Deps are the collaborators a Protocol is built from.
type Deps struct {
	Registry    *websocket.Registry
	Hub         *hub.Hub
	Bridge      *durability.Bridge
	Memberships *membership.Manager
	Identities  IdentityResolver
	Tokens      TokenVerifier
	Logger      *slog.Logger
	Now         func() time.Time
}

// Protocol implements websocket.EventHandler and the shared send and
// mark-read operations.
type Protocol struct {
	registry    *websocket.Registry
	limiter     *ratelimit.Limiter
	hub         *hub.Hub
	bridge      *durability.Bridge
	memberships *membership.Manager
	identities  IdentityResolver
	tokens      TokenVerifier
	config      Config
	logger      *slog.Logger
	now         func() time.Time
}

// NewProtocol wires a protocol from deps.
func NewProtocol(deps Deps, config Config) *Protocol {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if config.MaxContentLength <= 0 {
		config.MaxContentLength = types.DefaultMaxContentLength
	}
	return &Protocol{
		registry:    deps.Registry,
		limiter:     deps.Registry.Limiter(),
		hub:         deps.Hub,
		bridge:      deps.Bridge,
		memberships: deps.Memberships,
		identities:  deps.Identities,
		tokens:      deps.Tokens,
		config:      config,
		logger:      deps.Logger.With("component", "chat"),
		now:         deps.Now,
	}
}

// Connect admits conn and, when the handshake was authenticated, identifies
// it straight away.
func (p *Protocol) Connect(ctx context.Context, conn interfaces.Connection, userID string) error {
	if err := p.registry.Admit(conn); err != nil {
		return err
	}
	if userID == "" {
		return nil
	}
	if err := p.Identify(ctx, conn.ID(), userID); err != nil {
		p.registry.Dispose(conn.ID())
		return err
	}
	return nil
}

// Identify binds userID to connID. The first binding announces userOnline
// to every other connection.
func (p *Protocol) Identify(ctx context.Context, connID, userID string) error {
	identity, err := p.identities.FindUserIdentity(ctx, userID)
	if err != nil {
		return err
	}
	first, err := p.registry.Identify(connID, *identity)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrForbidden, err)
	}
	if first {
		p.logger.Debug("connection identified", "conn_id", connID, "user_id", identity.ID)
		p.broadcastAll(types.EventUserOnline, types.PresenceEvent{UserID: identity.ID, ConnectionID: connID}, connID)
	}
	return nil
}

// Disconnect disposes connID and, if it was identified, announces
// userOffline. In-flight sends from the connection are not canceled.
//
// Presence is per connection: userOffline names the connection that closed
// and is sent even when the same user still has other connections open.
// Clients tracking a user's overall state should count connections.
func (p *Protocol) Disconnect(_ context.Context, connID string) {
	disposed, ok := p.registry.Dispose(connID)
	if !ok {
		return
	}
	p.logger.Debug("connection disposed", "conn_id", connID, "rooms", len(disposed.Rooms))
	if disposed.Identity != nil {
		p.broadcastAll(types.EventUserOffline, types.PresenceEvent{UserID: disposed.Identity.ID, ConnectionID: connID}, "")
	}
}

// JoinChat puts an identified participant's connection into the chat room.
func (p *Protocol) JoinChat(ctx context.Context, connID, chatID string) error {
	identity, err := p.requireIdentity(connID)
	if err != nil {
		return err
	}
	if chatID == "" {
		return fmt.Errorf("%w: chatId is required", types.ErrValidation)
	}
	if _, err := p.memberships.ValidateMembership(ctx, chatID, identity.ID); err != nil {
		return err
	}
	return p.hub.Join(connID, chatID)
}

// LeaveChat removes connID from the chat room.
func (p *Protocol) LeaveChat(connID, chatID string) {
	p.hub.Leave(connID, chatID)
}

// Typing relays a typing or stopTyping signal to the rest of the room.
// userName is taken from the bound identity; the client value is only
// kept when the identity has no name. Nothing is stored and the limiter is
// not consulted.
func (p *Protocol) Typing(connID, event string, payload types.TypingPayload) error {
	identity, err := p.requireIdentity(connID)
	if err != nil {
		return err
	}
	if err := types.ValidateStruct(&payload); err != nil {
		return err
	}
	if !p.registry.IsMember(connID, payload.ChatID) {
		return ErrNotInRoom
	}
	if identity.Name != "" {
		payload.UserName = identity.Name
	}
	_, err = p.hub.Broadcast(payload.ChatID, event, payload, connID)
	return err
}

// SendRequest is one message send from either transport. ConnectionID is
// empty for REST sends, which skip the per-connection limiter.
type SendRequest struct {
	ConnectionID string
	SenderID     string
	ChatID       string
	Content      string
}

// SendMessage validates, rate limits, persists and then broadcasts
// receiveMessage to the whole room, sender included. Nothing is broadcast
// unless the message was committed.
func (p *Protocol) SendMessage(ctx context.Context, req SendRequest) (*types.Message, error) {
	payload := types.SendMessagePayload{ChatID: req.ChatID, Content: req.Content}
	if err := payload.Validate(p.config.MaxContentLength); err != nil {
		return nil, err
	}
	if req.ConnectionID != "" && !p.limiter.Allow(req.ConnectionID, p.now()) {
		return nil, types.ErrRateLimited
	}

	// the sender may disconnect mid-persist; the room still gets the message
	msg, err := p.bridge.Persist(context.WithoutCancel(ctx), payload.ChatID, req.SenderID, payload.Content)
	if err != nil {
		return nil, err
	}

	if _, err := p.hub.Broadcast(msg.ChatID, types.EventReceiveMessage, msg, ""); err != nil {
		p.logger.Error("receiveMessage broadcast failed", "chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
	}
	return msg, nil
}

// MarkRead marks the chat read for readerID and tells the room. Zero
// transitions is ErrNoOp and nothing is broadcast.
func (p *Protocol) MarkRead(ctx context.Context, chatID, readerID string) (int64, error) {
	if chatID == "" {
		return 0, fmt.Errorf("%w: chatId is required", types.ErrValidation)
	}
	n, err := p.bridge.MarkAllRead(context.WithoutCancel(ctx), chatID, readerID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, types.ErrNoOp
	}
	if _, err := p.hub.Broadcast(chatID, types.EventMessagesRead, types.MessagesReadEvent{ChatID: chatID, UserID: readerID}, ""); err != nil {
		p.logger.Error("messagesRead broadcast failed", "chat_id", chatID, "error", err)
	}
	return n, nil
}

// NotifyChatCreated sends joinedChat to every live connection of the
// chat's participants.
func (p *Protocol) NotifyChatCreated(chat *types.Chat) {
	event := types.JoinedChatEvent{ChatID: chat.ID, ChatName: chat.Name, ProjectID: chat.ProjectID}
	frame, err := hub.Encode(types.EventJoinedChat, event)
	if err != nil {
		p.logger.Error("joinedChat encode failed", "chat_id", chat.ID, "error", err)
		return
	}
	for _, userID := range chat.Participants {
		for _, conn := range p.registry.ConnectionsOfUser(userID) {
			_ = conn.Send(frame)
		}
	}
}

func (p *Protocol) requireIdentity(connID string) (types.Identity, error) {
	identity, ok := p.registry.Identity(connID)
	if !ok {
		return types.Identity{}, ErrNotIdentified
	}
	return identity, nil
}

func (p *Protocol) broadcastAll(event string, payload interface{}, exclude string) {
	if _, err := p.hub.BroadcastAll(event, payload, exclude); err != nil {
		p.logger.Error("presence broadcast failed", "event", event, "error", err)
	}
}
