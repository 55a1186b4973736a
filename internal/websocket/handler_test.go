package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentormatrix/internal/middleware"
	"mentormatrix/pkg/interfaces"
)

// recordingEvents echoes every frame back and records lifecycle calls.
type recordingEvents struct {
	mu           sync.Mutex
	conns        map[string]interfaces.Connection
	userIDs      []string
	messages     []string
	disconnected []string
	rejectUser   string
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{conns: make(map[string]interfaces.Connection)}
}

func (e *recordingEvents) Connect(_ context.Context, conn interfaces.Connection, userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if userID != "" && userID == e.rejectUser {
		return assert.AnError
	}
	e.conns[conn.ID()] = conn
	e.userIDs = append(e.userIDs, userID)
	return nil
}

func (e *recordingEvents) HandleMessage(_ context.Context, connID string, data []byte) {
	if string(data) == "panic" {
		panic("boom")
	}
	e.mu.Lock()
	conn := e.conns[connID]
	e.messages = append(e.messages, string(data))
	e.mu.Unlock()
	_ = conn.Send(data)
}

func (e *recordingEvents) Disconnect(_ context.Context, connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, connID)
}

func (e *recordingEvents) snapshot() (userIDs, messages, disconnected []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.userIDs...),
		append([]string(nil), e.messages...),
		append([]string(nil), e.disconnected...)
}

func startServer(t *testing.T, events EventHandler, wrap func(http.Handler) http.Handler) string {
	t.Helper()
	cfg := HandlerConfig{Connection: DefaultConnectionConfig(), HandshakeTimeout: time.Second}
	var h http.Handler = NewHandler(events, cfg, nil)
	if wrap != nil {
		h = wrap(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestHandler_EchoAndDisconnect(t *testing.T) {
	events := newRecordingEvents()
	ws := dial(t, startServer(t, events, nil))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`)))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ping"}`, string(data))

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool {
		_, _, disconnected := events.snapshot()
		return len(disconnected) == 1
	}, 2*time.Second, 10*time.Millisecond)

	userIDs, messages, _ := events.snapshot()
	assert.Equal(t, []string{""}, userIDs)
	assert.Equal(t, []string{`{"event":"ping"}`}, messages)
}

func TestHandler_PanicClosesOnlyThatSocket(t *testing.T) {
	events := newRecordingEvents()
	url := startServer(t, events, nil)
	bad := dial(t, url)
	good := dial(t, url)

	require.NoError(t, bad.WriteMessage(websocket.TextMessage, []byte("panic")))
	require.NoError(t, bad.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := bad.ReadMessage()
	assert.Error(t, err, "panicking socket is closed")
	assert.Eventually(t, func() bool {
		_, _, disconnected := events.snapshot()
		return len(disconnected) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, good.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`)))
	require.NoError(t, good.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := good.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ping"}`, string(data))
}

func TestHandler_PassesAuthenticatedUser(t *testing.T) {
	verifier := middleware.NewTokenVerifier("secret", time.Hour)
	auth := middleware.NewAuthenticator(verifier, nil)
	events := newRecordingEvents()
	url := startServer(t, events, auth.Optional)

	token, err := verifier.Issue("user-7")
	require.NoError(t, err)
	ws := dial(t, url+"?token="+token)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{}`)))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	require.NoError(t, err)

	userIDs, _, _ := events.snapshot()
	assert.Equal(t, []string{"user-7"}, userIDs)
}

func TestHandler_RejectedConnectionIsClosed(t *testing.T) {
	verifier := middleware.NewTokenVerifier("secret", time.Hour)
	auth := middleware.NewAuthenticator(verifier, nil)
	events := newRecordingEvents()
	events.rejectUser = "banned"
	url := startServer(t, events, auth.Optional)

	token, err := verifier.Issue("banned")
	require.NoError(t, err)
	ws := dial(t, url+"?token="+token)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err, "server closes a rejected socket")
}

func TestHandler_CheckOrigin(t *testing.T) {
	h := NewHandler(newRecordingEvents(), HandlerConfig{AllowedOrigins: []string{"https://app.example.com"}}, nil)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, h.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, h.checkOrigin(r))

	open := NewHandler(newRecordingEvents(), HandlerConfig{}, nil)
	assert.True(t, open.checkOrigin(r))
}
