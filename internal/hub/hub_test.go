package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentormatrix/internal/ratelimit"
	"mentormatrix/internal/websocket"
	"mentormatrix/pkg/types"
)

type memConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func (c *memConn) ID() string { return c.id }

func (c *memConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrConnectionClosed
	}
	if c.full {
		return websocket.ErrSendBufferFull
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *memConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *memConn) events(t *testing.T) []types.OutboundFrame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.OutboundFrame, 0, len(c.frames))
	for _, raw := range c.frames {
		var f types.OutboundFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, f)
	}
	return out
}

func setup(t *testing.T, ids ...string) (*Hub, map[string]*memConn) {
	t.Helper()
	registry := websocket.NewRegistry(ratelimit.New(time.Second, 5))
	conns := make(map[string]*memConn)
	for _, id := range ids {
		c := &memConn{id: id}
		require.NoError(t, registry.Admit(c))
		conns[id] = c
	}
	return NewHub(registry, nil), conns
}

func TestHub_BroadcastIsolatedToRoom(t *testing.T) {
	h, conns := setup(t, "a", "b", "c")
	require.NoError(t, h.Join("a", "r1"))
	require.NoError(t, h.Join("b", "r1"))
	require.NoError(t, h.Join("c", "r2"))

	n, err := h.Broadcast("r1", types.EventReceiveMessage, map[string]string{"content": "hi"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Len(t, conns["a"].events(t), 1)
	assert.Len(t, conns["b"].events(t), 1)
	assert.Empty(t, conns["c"].events(t))
	assert.Equal(t, types.EventReceiveMessage, conns["a"].events(t)[0].Event)
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	h, conns := setup(t, "a", "b")
	require.NoError(t, h.Join("a", "r1"))
	require.NoError(t, h.Join("b", "r1"))

	n, err := h.Broadcast("r1", types.EventTyping, types.TypingPayload{ChatID: "r1", UserName: "Ada"}, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, conns["a"].events(t))
	assert.Len(t, conns["b"].events(t), 1)
}

func TestHub_EmptyRoomIsNoOp(t *testing.T) {
	h, _ := setup(t, "a")
	n, err := h.Broadcast("nobody-here", types.EventReceiveMessage, nil, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHub_JoinLeaveIdempotent(t *testing.T) {
	h, conns := setup(t, "a")
	require.NoError(t, h.Join("a", "r1"))
	require.NoError(t, h.Join("a", "r1"))

	n, _ := h.Broadcast("r1", "x", nil, "")
	assert.Equal(t, 1, n, "double join still delivers once")

	h.Leave("a", "r1")
	h.Leave("a", "r1")
	n, _ = h.Broadcast("r1", "x", nil, "")
	assert.Zero(t, n)
	assert.Len(t, conns["a"].events(t), 1)

	assert.ErrorIs(t, h.Join("ghost", "r1"), websocket.ErrUnknownConnection)
}

func TestHub_FullBufferDropsOnlyThatMember(t *testing.T) {
	h, conns := setup(t, "a", "b")
	require.NoError(t, h.Join("a", "r1"))
	require.NoError(t, h.Join("b", "r1"))
	conns["b"].full = true

	n, err := h.Broadcast("r1", "x", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, conns["a"].events(t), 1)
}

func TestHub_PerRoomOrderIsConsistent(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	h, conns := setup(t, ids...)
	for _, id := range ids {
		require.NoError(t, h.Join(id, "r1"))
	}

	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := h.Broadcast("r1", "seq", fmt.Sprintf("%d-%d", s, i), "")
				assert.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	reference := conns["a"].events(t)
	require.Len(t, reference, 100)
	for _, id := range ids[1:] {
		assert.Equal(t, reference, conns[id].events(t), "member %s saw a different order", id)
	}
}

func TestHub_BroadcastAllAndSend(t *testing.T) {
	h, conns := setup(t, "a", "b", "c")

	n, err := h.BroadcastAll(types.EventUserOnline, types.PresenceEvent{UserID: "u1", ConnectionID: "a"}, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, conns["a"].events(t))

	require.NoError(t, h.Send("a", types.EventError, types.ErrorEvent{Message: "nope", Code: types.CodeNoOp}))
	require.Len(t, conns["a"].events(t), 1)
	assert.Equal(t, types.EventError, conns["a"].events(t)[0].Event)

	assert.ErrorIs(t, h.Send("ghost", types.EventError, nil), websocket.ErrUnknownConnection)
}

func TestHub_EncodeFailure(t *testing.T) {
	h, _ := setup(t, "a")
	require.NoError(t, h.Join("a", "r1"))
	_, err := h.Broadcast("r1", "x", make(chan int), "")
	assert.ErrorIs(t, err, ErrEncodeFrame)
}

func TestHub_Shutdown(t *testing.T) {
	h, conns := setup(t, "a", "b")
	require.NoError(t, h.Join("a", "r1"))

	h.Shutdown()
	h.Shutdown()

	assert.True(t, conns["a"].closed)
	assert.True(t, conns["b"].closed)
	assert.ErrorIs(t, h.Join("b", "r1"), ErrHubStopped)
	n, err := h.Broadcast("r1", "x", nil, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}
