package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-engine/internal/auth"
	"bracket-engine/internal/chat"
)

func newTestGateway(t *testing.T) (*Hub, *httptest.Server, *auth.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	svc := auth.NewService("gateway-secret")

	router := gin.New()
	router.GET("/ws/bridge", func(c *gin.Context) {
		HandleBridgeSocket(c, hub, svc)
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, srv, svc
}

func bridgeURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/bridge?token=" + token
}

func mustBridgeToken(t *testing.T, svc *auth.Service, guildID string) string {
	t.Helper()
	token, err := svc.GenerateToken("bridge-"+guildID, auth.RoleBridge, guildID)
	require.NoError(t, err)
	return token
}

func dialBridge(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(bridgeURL(srv, token), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func framePayload(t *testing.T, frame Frame) map[string]interface{} {
	t.Helper()
	payload, ok := frame.Payload.(map[string]interface{})
	require.True(t, ok, "frame payload should be an object")
	return payload
}

func TestBridgeSocketRejectsBadTokens(t *testing.T) {
	_, srv, svc := newTestGateway(t)

	_, resp, err := websocket.DefaultDialer.Dial(bridgeURL(srv, "bogus"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Operator tokens cannot open a bridge socket.
	toToken, err := svc.GenerateToken("op-1", auth.RoleTO, "guild-1")
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(bridgeURL(srv, toToken), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Bridge tokens must carry a guild.
	bare, err := svc.GenerateToken("bridge-x", auth.RoleBridge, "")
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(bridgeURL(srv, bare), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAnnouncePushesFrame(t *testing.T) {
	hub, srv, svc := newTestGateway(t)
	conn := dialBridge(t, srv, mustBridgeToken(t, svc, "guild-1"))

	require.Eventually(t, func() bool { return hub.Connected("guild-1") },
		time.Second, 10*time.Millisecond)

	notifier := hub.NotifierFor("guild-1")
	msgID, err := notifier.Announce(context.Background(),
		chat.NewNotification(chat.KindRegistrationOpen, map[string]interface{}{"name": "Weekly 12"}))
	require.NoError(t, err)
	require.NotEmpty(t, msgID)

	frame := readFrame(t, conn)
	assert.Equal(t, FrameAnnounce, frame.Type)
	payload := framePayload(t, frame)
	assert.Equal(t, msgID, payload["message_id"])

	notif, ok := payload["notification"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(chat.KindRegistrationOpen), notif["kind"])
}

func TestCreateMatchChannelFrame(t *testing.T) {
	hub, srv, svc := newTestGateway(t)
	conn := dialBridge(t, srv, mustBridgeToken(t, svc, "guild-1"))

	require.Eventually(t, func() bool { return hub.Connected("guild-1") },
		time.Second, 10*time.Millisecond)

	notifier := hub.NotifierFor("guild-1")
	users := []chat.UserRef{{ID: "u1", Name: "mango"}, {ID: "u2", Name: "zain"}}
	channelID, messageID, err := notifier.CreateMatchChannel(context.Background(),
		"cat-7", "set-12-mango-vs-zain", users,
		chat.NewNotification(chat.KindMatchStart, map[string]interface{}{"set": 12}))
	require.NoError(t, err)
	require.NotEmpty(t, channelID)
	require.NotEmpty(t, messageID)
	assert.NotEqual(t, channelID, messageID)

	frame := readFrame(t, conn)
	assert.Equal(t, FrameCreateMatchChannel, frame.Type)
	payload := framePayload(t, frame)
	assert.Equal(t, channelID, payload["channel_id"])
	assert.Equal(t, messageID, payload["message_id"])
	assert.Equal(t, "cat-7", payload["category"])
	assert.Len(t, payload["users"], 2)
}

func TestNotifierWithoutBridge(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Shutdown)

	notifier := hub.NotifierFor("ghost")
	ctx := context.Background()

	_, err := notifier.Announce(ctx, chat.NewNotification(chat.KindStaffAlert, nil))
	assert.ErrorIs(t, err, chat.ErrNoBridge)
	assert.ErrorIs(t, notifier.NotifyStaff(ctx, chat.NewNotification(chat.KindStaffAlert, nil)), chat.ErrNoBridge)

	_, _, err = notifier.CreateMatchChannel(ctx, "", "room", nil, chat.NewNotification(chat.KindMatchStart, nil))
	assert.ErrorIs(t, err, chat.ErrNoBridge)

	_, ok := notifier.ResolveUser(ctx, "mango")
	assert.False(t, ok)

	// Best-effort DM just gets dropped.
	notifier.NotifyUser(ctx, chat.UserRef{ID: "u1", Name: "mango"},
		chat.NewNotification(chat.KindCheckinReminder, nil))
}

func TestUserSyncResolvesNames(t *testing.T) {
	hub, srv, svc := newTestGateway(t)
	conn := dialBridge(t, srv, mustBridgeToken(t, svc, "guild-1"))

	require.Eventually(t, func() bool { return hub.Connected("guild-1") },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameUserSync, Payload: map[string]interface{}{
		"users": []chat.UserRef{{ID: "u1", Name: "Mango"}, {ID: "u2", Name: "Zain"}},
	}}))

	notifier := hub.NotifierFor("guild-1")
	ctx := context.Background()

	require.Eventually(t, func() bool {
		_, ok := notifier.ResolveUser(ctx, "mango")
		return ok
	}, time.Second, 10*time.Millisecond)

	// Name lookup ignores case.
	ref, ok := notifier.ResolveUser(ctx, "MANGO")
	require.True(t, ok)
	assert.Equal(t, "u1", ref.ID)

	ref, ok = notifier.ResolveUserByID(ctx, "u2")
	require.True(t, ok)
	assert.Equal(t, "Zain", ref.Name)

	_, ok = notifier.ResolveUser(ctx, "leffen")
	assert.False(t, ok)

	// A member leaving drops them from the directory.
	require.NoError(t, conn.WriteJSON(Frame{Type: FrameUserLeft, Payload: map[string]interface{}{
		"id": "u1",
	}}))
	require.Eventually(t, func() bool {
		_, ok := notifier.ResolveUserByID(ctx, "u1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestSpokeReachesCallback(t *testing.T) {
	hub, srv, svc := newTestGateway(t)

	type spokeEvent struct{ guild, user string }
	events := make(chan spokeEvent, 1)
	hub.OnSpoke(func(guildID, userID string) {
		events <- spokeEvent{guildID, userID}
	})

	conn := dialBridge(t, srv, mustBridgeToken(t, svc, "guild-1"))
	require.Eventually(t, func() bool { return hub.Connected("guild-1") },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameSpoke, Payload: map[string]interface{}{
		"user_id": "u1",
	}}))

	select {
	case ev := <-events:
		assert.Equal(t, "guild-1", ev.guild)
		assert.Equal(t, "u1", ev.user)
	case <-time.After(2 * time.Second):
		t.Fatal("spoke callback not invoked")
	}
}

func TestReconnectReplacesBridge(t *testing.T) {
	hub, srv, svc := newTestGateway(t)
	token := mustBridgeToken(t, svc, "guild-1")

	conn1 := dialBridge(t, srv, token)
	require.Eventually(t, func() bool { return hub.Connected("guild-1") },
		time.Second, 10*time.Millisecond)

	conn2 := dialBridge(t, srv, token)

	// The replaced connection is closed by the server.
	conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn1.ReadMessage()
	require.Error(t, err)

	// Frames flow to the new connection.
	notifier := hub.NotifierFor("guild-1")
	_, err = notifier.Announce(context.Background(),
		chat.NewNotification(chat.KindBracketChanged, nil))
	require.NoError(t, err)

	frame := readFrame(t, conn2)
	assert.Equal(t, FrameAnnounce, frame.Type)
	assert.True(t, hub.Connected("guild-1"))
}
