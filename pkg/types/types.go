package types

import (
	"encoding/json"
	"time"
)

// Client-to-server socket events
const (
	EventAuthenticate     = "authenticate"
	EventJoinChat         = "joinChat"
	EventLeaveChat        = "leaveChat"
	EventTyping           = "typing"
	EventStopTyping       = "stopTyping"
	EventSendMessage      = "sendMessage"
	EventMarkMessagesRead = "markMessagesRead"
)

// Server-to-client socket events
const (
	EventReceiveMessage = "receiveMessage"
	EventMessagesRead   = "messagesRead"
	EventUserOnline     = "userOnline"
	EventUserOffline    = "userOffline"
	EventJoinedChat     = "joinedChat"
	EventAck            = "ack"
	EventError          = "error"
)

// Message status values. A message only ever moves from sent to read.
const (
	StatusSent = "sent"
	StatusRead = "read"
)

// Identity is the authenticated user bound to a connection. Only the id and
// display name ever leave the server.
type Identity struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// User is the stored account row the chat core reads identities from.
type User struct {
	ID        string    `json:"_id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Identity projects the user down to its wire-safe fields.
func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Name: u.Name}
}

// Chat is a persisted conversation. Its id doubles as the broadcast room id.
// ARCHITECTURAL DISCOVERY: at most one chat exists per project
type Chat struct {
	ID           string    `json:"_id" db:"id"`
	Name         string    `json:"chatName" db:"name"`
	ProjectID    string    `json:"projectId,omitempty" db:"project_id"`
	IsGroupChat  bool      `json:"isGroupChat" db:"is_group"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ChatSummary is a chat as listed for one user, with its newest message.
type ChatSummary struct {
	Chat
	LastMessage *Message `json:"lastMessage,omitempty"`
}

// Message is a durable chat message.
// FUNCTIONAL DISCOVERY: sender is populated as {_id, name} on every read path
// so socket and REST consumers see the same shape
type Message struct {
	ID        string     `json:"_id"`
	ChatID    string     `json:"chatId"`
	Sender    Identity   `json:"sender"`
	Content   string     `json:"content"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

// MessagePage is one page of a chat's history in ascending creation order.
type MessagePage struct {
	Messages    []*Message `json:"messages"`
	Total       int64      `json:"totalMessages"`
	TotalPages  int        `json:"totalPages"`
	CurrentPage int        `json:"currentPage"`
}

// Frame is the socket envelope in both directions. Ack is only set by the
// client on events that want an acknowledgement.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

// OutboundFrame is what the server writes to a connection.
type OutboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// AuthenticatePayload carries a bearer token over an open socket.
type AuthenticatePayload struct {
	Token string `json:"token" validate:"required"`
}

// RoomPayload is the object form of joinChat and leaveChat.
type RoomPayload struct {
	ChatID string `json:"chatId" validate:"required"`
}

// TypingPayload is relayed verbatim to the rest of the room.
type TypingPayload struct {
	ChatID   string `json:"chatId" validate:"required"`
	UserName string `json:"userName"`
}

// SendMessagePayload is the body of sendMessage on both transports.
type SendMessagePayload struct {
	ChatID  string `json:"chatId" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// MarkReadPayload is the body of markMessagesRead.
type MarkReadPayload struct {
	ChatID string `json:"chatId" validate:"required"`
}

// MessagesReadEvent tells a room that userId has read the chat.
type MessagesReadEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// PresenceEvent is broadcast on first identification and on disconnect.
// TECHNICAL DISCOVERY: both ids are sent, labelled, so clients never mistake
// a transport id for a user id
type PresenceEvent struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// AckEvent answers a client event that carried an ack id.
type AckEvent struct {
	Ack     string   `json:"ack"`
	Success bool     `json:"success"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ErrorEvent is delivered only to the connection whose event failed.
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// JoinedChatEvent tells a participant's sockets about a chat created for
// them.
type JoinedChatEvent struct {
	ChatID    string `json:"chatId"`
	ChatName  string `json:"chatName"`
	ProjectID string `json:"projectId,omitempty"`
}

// CreateChatRequest is the REST body for group chat creation.
type CreateChatRequest struct {
	Name         string   `json:"name" validate:"required,max=200"`
	ProjectID    string   `json:"projectId" validate:"required"`
	Participants []string `json:"participants" validate:"required,min=1,dive,required"`
}
