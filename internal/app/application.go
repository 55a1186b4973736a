// Package app assembles the chat server from its components.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"mentormatrix/internal/api"
	"mentormatrix/internal/chat"
	"mentormatrix/internal/config"
	"mentormatrix/internal/database"
	"mentormatrix/internal/durability"
	"mentormatrix/internal/hub"
	"mentormatrix/internal/membership"
	"mentormatrix/internal/middleware"
	"mentormatrix/internal/ratelimit"
	"mentormatrix/internal/websocket"
	dbconfig "mentormatrix/pkg/database"
)

// Application owns every live component. Registry and limiter state exist
// only here, so two Applications never share connections.
type Application struct {
	config     *config.Config
	logger     *slog.Logger
	store      *database.Manager
	registry   *websocket.Registry
	hub        *hub.Hub
	protocol   *chat.Protocol
	verifier   *middleware.TokenVerifier
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
}

// OpenStore opens the SQLite store described by cfg, creating its directory,
// and brings the schema up to date. applied lists the migrations run now.
func OpenStore(cfg *config.Config, logger *slog.Logger) (store *database.Manager, applied []string, err error) {
	dbConfig := dbconfig.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.MaxConnections = cfg.Database.MaxConnections
	dbConfig.WriteTimeout = cfg.Database.Timeout

	if dir := filepath.Dir(dbConfig.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err = database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	applied, err = dbconfig.NewMigrationManager(store.GetDB()).ApplyMigrations()
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(store.GetDB()).Validate(); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("schema validation failed: %w", err)
	}
	return store, applied, nil
}

// New builds the application in dependency order:
// store → limiter → registry → hub → membership → bridge → protocol → transport → API.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, applied, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(applied) > 0 {
		logger.Info("database migrations applied", "migrations", applied)
	}

	limiter := ratelimit.New(cfg.Chat.RateWindow, cfg.Chat.RateLimit)
	registry := websocket.NewRegistry(limiter)
	messageHub := hub.NewHub(registry, logger)
	memberships := membership.NewManager(store, logger)
	bridge := durability.NewBridge(store, memberships, logger,
		durability.WithPageSizes(cfg.Chat.DefaultPageSize, cfg.Chat.MaxPageSize))
	verifier := middleware.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	protocol := chat.NewProtocol(chat.Deps{
		Registry:    registry,
		Hub:         messageHub,
		Bridge:      bridge,
		Memberships: memberships,
		Identities:  store,
		Tokens:      verifier,
		Logger:      logger,
	}, chat.Config{MaxContentLength: cfg.Chat.MaxContentLength})

	wsHandler := websocket.NewHandler(protocol, websocket.HandlerConfig{
		Connection: websocket.ConnectionConfig{
			SendBuffer:      cfg.WebSocket.BufferSize,
			WriteTimeout:    cfg.WebSocket.WriteTimeout,
			PongWait:        cfg.WebSocket.ReadTimeout,
			PingInterval:    cfg.WebSocket.PingInterval,
			MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		},
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		HandshakeTimeout: 10 * time.Second,
	}, logger)

	apiServer := api.NewServer(api.Deps{
		Messenger:      protocol,
		History:        bridge,
		Chats:          memberships,
		Store:          store,
		Stats:          registry,
		Auth:           middleware.NewAuthenticator(verifier, logger),
		WebSocket:      wsHandler,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger,
	})

	// upgraded sockets reset their own read and write deadlines
	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		store:      store,
		registry:   registry,
		hub:        messageHub,
		protocol:   protocol,
		verifier:   verifier,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start listens on the configured address and serves in the background.
func (a *Application) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}
	a.listener = listener

	go func() {
		if err := a.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", "error", err)
		}
	}()
	a.logger.Info("mentormatrix listening", "addr", listener.Addr().String())
	return nil
}

// Stop shuts down in reverse dependency order: HTTP, sockets, database.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("shutting down")

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.hub.Shutdown()
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}
	return errors.Join(errs...)
}

// Addr is the bound listen address once started, else the configured one.
func (a *Application) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.httpServer.Addr
}

// Handler is the full HTTP surface, for mounting in tests.
func (a *Application) Handler() http.Handler { return a.apiServer }

// Store exposes the database for administrative commands.
func (a *Application) Store() *database.Manager { return a.store }

// Tokens exposes the JWT issuer bound to the configured secret.
func (a *Application) Tokens() *middleware.TokenVerifier { return a.verifier }

// Registry exposes live connection state.
func (a *Application) Registry() *websocket.Registry { return a.registry }
