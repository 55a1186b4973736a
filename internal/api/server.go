// Package api serves the REST surface and mounts the websocket endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"mentormatrix/internal/chat"
	"mentormatrix/internal/middleware"
	"mentormatrix/internal/websocket"
	"mentormatrix/pkg/types"
)

const maxBodyBytes = 1 << 20

// Messenger is the write path shared with the socket protocol.
type Messenger interface {
	SendMessage(ctx context.Context, req chat.SendRequest) (*types.Message, error)
	MarkRead(ctx context.Context, chatID, readerID string) (int64, error)
	NotifyChatCreated(chat *types.Chat)
}

// History pages through a chat's stored messages.
type History interface {
	List(ctx context.Context, chatID string, page, pageSize int) (*types.MessagePage, error)
}

// Chats resolves and creates chats.
type Chats interface {
	ValidateMembership(ctx context.Context, chatID, userID string) (*types.Chat, error)
	CreateGroupChat(ctx context.Context, creatorID string, req types.CreateChatRequest) (*types.Chat, bool, error)
}

// Store is the slice of storage the API reads directly.
type Store interface {
	ListUserChats(ctx context.Context, userID string) ([]*types.ChatSummary, error)
	HealthCheck(ctx context.Context) error
}

// Stats reports live connection counters.
type Stats interface {
	Stats() websocket.Stats
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Messenger      Messenger
	History        History
	Chats          Chats
	Store          Store
	Stats          Stats
	Auth           *middleware.Authenticator
	WebSocket      http.Handler
	AllowedOrigins []string
	Logger         *slog.Logger
}

// ARCHITECTURAL DISCOVERY: HTTP layer holds no chat logic; every write goes
// through the same protocol methods the socket uses
type Server struct {
	deps    Deps
	logger  *slog.Logger
	router  *mux.Router
	handler http.Handler
	started time.Time
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		deps:    deps,
		logger:  deps.Logger.With("component", "api"),
		router:  mux.NewRouter(),
		started: time.Now(),
	}
	s.setupRoutes()
	s.handler = middleware.Recover(s.logger)(middleware.Logger(s.logger)(s.corsMiddleware(s.router)))
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	if s.deps.WebSocket != nil {
		s.router.Handle("/ws", s.deps.Auth.Optional(s.deps.WebSocket)).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.deps.Auth.Require, jsonMiddleware)

	api.HandleFunc("/message/chats/{chatId}/messages", s.sendMessage).Methods(http.MethodPost)
	api.HandleFunc("/message/chats/{chatId}/messages", s.listMessages).Methods(http.MethodGet)
	api.HandleFunc("/message/mark-read/{chatId}", s.markRead).Methods(http.MethodPost)
	api.HandleFunc("/chat", s.listChats).Methods(http.MethodGet)
	api.HandleFunc("/chat", s.createChat).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, fmt.Errorf("%w: no route for %s", types.ErrNotFound, r.URL.Path))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
			Error:   http.StatusText(http.StatusMethodNotAllowed),
			Code:    types.CodeValidation,
			Message: r.Method + " is not supported here",
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type MessageResponse struct {
	Success bool           `json:"success"`
	Message *types.Message `json:"message"`
}

type MessagesResponse struct {
	Success       bool             `json:"success"`
	Results       int              `json:"results"`
	TotalMessages int64            `json:"totalMessages"`
	TotalPages    int              `json:"totalPages"`
	CurrentPage   int              `json:"currentPage"`
	Messages      []*types.Message `json:"messages"`
}

type MarkReadResponse struct {
	Success bool  `json:"success"`
	Count   int64 `json:"count"`
}

type ChatsResponse struct {
	Success bool                 `json:"success"`
	Results int                  `json:"results"`
	Chats   []*types.ChatSummary `json:"chats"`
}

type ChatResponse struct {
	Success bool        `json:"success"`
	Created bool        `json:"created"`
	Chat    *types.Chat `json:"chat"`
}

type HealthResponse struct {
	Status      string          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Uptime      string          `json:"uptime"`
	Database    string          `json:"database"`
	Connections websocket.Stats `json:"connections"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// POST /api/v1/message/chats/{chatId}/messages
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, err)
		return
	}

	msg, err := s.deps.Messenger.SendMessage(r.Context(), chat.SendRequest{
		SenderID: middleware.UserIDFromContext(r.Context()),
		ChatID:   mux.Vars(r)["chatId"],
		Content:  req.Content,
	})
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Success: true, Message: msg})
}

// GET /api/v1/message/chats/{chatId}/messages?page=&limit=
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatId"]
	page, err := queryInt(r, "page")
	if err != nil {
		s.sendError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.sendError(w, err)
		return
	}

	if _, err := s.deps.Chats.ValidateMembership(r.Context(), chatID, middleware.UserIDFromContext(r.Context())); err != nil {
		s.sendError(w, err)
		return
	}

	result, err := s.deps.History.List(r.Context(), chatID, page, limit)
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{
		Success:       true,
		Results:       len(result.Messages),
		TotalMessages: result.Total,
		TotalPages:    result.TotalPages,
		CurrentPage:   result.CurrentPage,
		Messages:      result.Messages,
	})
}

// POST /api/v1/message/mark-read/{chatId}
func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Messenger.MarkRead(r.Context(), mux.Vars(r)["chatId"], middleware.UserIDFromContext(r.Context()))
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MarkReadResponse{Success: true, Count: n})
}

// GET /api/v1/chat
func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.deps.Store.ListUserChats(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		s.sendError(w, err)
		return
	}
	if chats == nil {
		chats = []*types.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, ChatsResponse{Success: true, Results: len(chats), Chats: chats})
}

// POST /api/v1/chat creates the group chat for a project, or returns the
// one that already exists with 200.
func (s *Server) createChat(w http.ResponseWriter, r *http.Request) {
	var req types.CreateChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.sendError(w, err)
		return
	}

	created, isNew, err := s.deps.Chats.CreateGroupChat(r.Context(), middleware.UserIDFromContext(r.Context()), req)
	if err != nil {
		s.sendError(w, err)
		return
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
		s.deps.Messenger.NotifyChatCreated(created)
	}
	writeJSON(w, status, ChatResponse{Success: true, Created: isNew, Chat: created})
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Database:  "healthy",
	}
	if s.deps.Stats != nil {
		resp.Connections = s.deps.Stats.Stats()
	}

	status := http.StatusOK
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = fmt.Sprintf("error: %v", err)
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrNoOp):
		return http.StatusNotFound
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// FUNCTIONAL DISCOVERY: consistent error body; internal detail is logged,
// never returned
func (s *Server) sendError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, ErrorResponse{
		Success: false,
		Error:   http.StatusText(status),
		Code:    types.ErrorCode(err),
		Message: types.PublicMessage(err),
	})
}

// ARCHITECTURAL DISCOVERY: CORS is answered before routing so preflight
// requests never reach method matching
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowAll := len(s.deps.AllowedOrigins) == 0
	allowed := make(map[string]bool, len(s.deps.AllowedOrigins))
	for _, o := range s.deps.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", types.ErrValidation)
	}
	return nil
}

// queryInt parses an optional positive integer query parameter; 0 means
// absent.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", types.ErrValidation, name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
