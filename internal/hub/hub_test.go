package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/salescall/internal/domain"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func TestRegisterAndBroadcast(t *testing.T) {
	h := startHub(t)
	a := h.NewConnection(nil, "sess_1")
	b := h.NewConnection(nil, "sess_1")
	other := h.NewConnection(nil, "sess_2")
	h.Register(a)
	h.Register(b)
	h.Register(other)

	require.Eventually(t, func() bool { return h.GetConnectionCount() == 3 }, time.Second, time.Millisecond)
	assert.True(t, h.HasActiveConnections("sess_1"))

	require.NoError(t, h.BroadcastJSON("sess_1", domain.LiveMessage{Type: domain.LiveTypeStatus, Status: domain.StatusConnected}))
	for _, conn := range []*Connection{a, b} {
		msg := <-conn.Send
		assert.False(t, msg.Binary)
		var got domain.LiveMessage
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, domain.StatusConnected, got.Status)
	}
	assert.Empty(t, other.Send)
}

func TestUnregisterClosesQueue(t *testing.T) {
	h := startHub(t)
	conn := h.NewConnection(nil, "sess_1")
	h.Register(conn)
	require.NoError(t, conn.SendAudio([]byte{1, 2}))

	h.Unregister(conn)
	require.Eventually(t, func() bool { return h.GetConnectionCount() == 0 }, time.Second, time.Millisecond)
	assert.False(t, h.HasActiveConnections("sess_1"))

	msg, ok := <-conn.Send
	require.True(t, ok)
	assert.True(t, msg.Binary)
	_, ok = <-conn.Send
	assert.False(t, ok)

	assert.ErrorIs(t, conn.SendJSON(domain.LiveMessage{Type: domain.LiveTypeDone}), ErrConnectionClosed)
}

func TestSendBufferFull(t *testing.T) {
	h := New(nil)
	conn := h.NewConnection(nil, "sess_1")
	for i := 0; i < cap(conn.Send); i++ {
		require.NoError(t, conn.SendAudio([]byte{0}))
	}
	assert.ErrorIs(t, conn.SendAudio([]byte{0}), ErrBufferFull)
}

func TestCloseSession(t *testing.T) {
	h := startHub(t)
	conn := h.NewConnection(nil, "sess_1")
	h.Register(conn)
	require.Eventually(t, func() bool { return h.HasActiveConnections("sess_1") }, time.Second, time.Millisecond)

	assert.Equal(t, 1, h.CloseSession("sess_1"))
	_, ok := <-conn.Send
	assert.False(t, ok)
	assert.Equal(t, 0, h.CloseSession("sess_unknown"))
}
