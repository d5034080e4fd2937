// Package gateway bridges the engine to per-guild chat platforms over a
// websocket. One bridge process connects per guild, syncs the member
// directory, forwards channel activity, and executes the commands the
// engine pushes. Every command is fire-and-forget: message, channel and
// category handles are generated engine side and the bridge keeps the
// mapping to platform ids.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bracket-engine/internal/auth"
	"bracket-engine/internal/chat"
	"bracket-engine/internal/metrics"
	"bracket-engine/internal/middleware"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Outbound frame types, engine to bridge.
const (
	FrameAnnounce           = "announce"
	FrameEditAnnouncement   = "edit_announcement"
	FrameDeleteAnnouncement = "delete_announcement"
	FrameNotifyStaff        = "notify_staff"
	FrameNotifyChannel      = "notify_channel"
	FrameNotifyUser         = "notify_user"
	FrameCreateCategory     = "create_category"
	FrameCreateMatchChannel = "create_match_channel"
	FrameDeleteChannel      = "delete_channel"
	FrameSetChannelUsers    = "set_channel_users"
)

// Inbound frame types, bridge to engine.
const (
	FrameUserSync   = "user_sync"
	FrameUserJoined = "user_joined"
	FrameUserLeft   = "user_left"
	FrameSpoke      = "spoke"
)

// Upgrader configures the bridge socket upgrader.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks connected bridges and hands out per-guild notifiers.
type Hub struct {
	mu      sync.RWMutex
	bridges map[string]*Bridge

	limiter *middleware.BridgeFrameLimiter

	spokeMu sync.RWMutex
	onSpoke func(guildID, userID string)
}

func NewHub() *Hub {
	return &Hub{
		bridges: make(map[string]*Bridge),
		limiter: middleware.NewBridgeFrameLimiter(),
	}
}

// OnSpoke registers the callback invoked when a bridge reports chat
// activity from a match channel.
func (h *Hub) OnSpoke(fn func(guildID, userID string)) {
	h.spokeMu.Lock()
	h.onSpoke = fn
	h.spokeMu.Unlock()
}

func (h *Hub) spoke(guildID, userID string) {
	h.spokeMu.RLock()
	fn := h.onSpoke
	h.spokeMu.RUnlock()
	if fn != nil {
		fn(guildID, userID)
	}
}

func (h *Hub) register(b *Bridge) {
	h.mu.Lock()
	if old, ok := h.bridges[b.GuildID]; ok {
		old.shutdown()
	} else {
		metrics.BridgesConnected.Inc()
	}
	h.bridges[b.GuildID] = b
	h.mu.Unlock()
	log.Printf("[GATEWAY] Bridge connected for guild %s", b.GuildID)
}

// unregister removes the bridge if it is still the registered one. A
// bridge replaced by a reconnect must not tear down its successor.
func (h *Hub) unregister(b *Bridge) {
	h.mu.Lock()
	current := h.bridges[b.GuildID] == b
	if current {
		delete(h.bridges, b.GuildID)
		metrics.BridgesConnected.Dec()
	}
	h.mu.Unlock()

	if current {
		b.shutdown()
		log.Printf("[GATEWAY] Bridge disconnected for guild %s", b.GuildID)
	}
}

func (h *Hub) bridge(guildID string) (*Bridge, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.bridges[guildID]
	return b, ok
}

// Connected reports whether the guild's bridge is online.
func (h *Hub) Connected(guildID string) bool {
	_, ok := h.bridge(guildID)
	return ok
}

// Shutdown drops every bridge, for server exit.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	bridges := make([]*Bridge, 0, len(h.bridges))
	for _, b := range h.bridges {
		bridges = append(bridges, b)
	}
	h.mu.Unlock()

	for _, b := range bridges {
		h.unregister(b)
	}
	h.limiter.Stop()
}

// push encodes and queues one frame for the guild's bridge.
func (h *Hub) push(guildID string, frame Frame) error {
	b, ok := h.bridge(guildID)
	if !ok {
		return chat.ErrNoBridge
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}
	if err := b.queue(data); err != nil {
		return fmt.Errorf("bridge %s: %w", guildID, err)
	}
	return nil
}

func (h *Hub) handleFrame(b *Bridge, frame Frame) {
	if !h.limiter.AllowFrame(b.GuildID) {
		return
	}

	switch frame.Type {
	case FrameUserSync:
		var p struct {
			Users []chat.UserRef `json:"users"`
		}
		if err := decodePayload(frame.Payload, &p); err != nil {
			log.Printf("[GATEWAY] %s: bad %s payload: %v", b.GuildID, frame.Type, err)
			return
		}
		b.setDirectory(p.Users)
	case FrameUserJoined:
		var p struct {
			User chat.UserRef `json:"user"`
		}
		if err := decodePayload(frame.Payload, &p); err != nil {
			log.Printf("[GATEWAY] %s: bad %s payload: %v", b.GuildID, frame.Type, err)
			return
		}
		b.addUser(p.User)
	case FrameUserLeft:
		var p struct {
			ID string `json:"id"`
		}
		if err := decodePayload(frame.Payload, &p); err != nil {
			log.Printf("[GATEWAY] %s: bad %s payload: %v", b.GuildID, frame.Type, err)
			return
		}
		b.removeUser(p.ID)
	case FrameSpoke:
		var p struct {
			UserID string `json:"user_id"`
		}
		if err := decodePayload(frame.Payload, &p); err != nil {
			log.Printf("[GATEWAY] %s: bad %s payload: %v", b.GuildID, frame.Type, err)
			return
		}
		h.spoke(b.GuildID, p.UserID)
	default:
		log.Printf("[GATEWAY] %s: unknown frame type %q", b.GuildID, frame.Type)
	}
}

func decodePayload(payload interface{}, v interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func handle(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String())
}

// NotifierFor returns the chat.Notifier facade for one guild. The facade
// resolves the bridge at call time, so it can be handed to a tournament
// before the guild's bridge first connects.
func (h *Hub) NotifierFor(guildID string) chat.Notifier {
	return &guildNotifier{hub: h, guildID: guildID}
}

type guildNotifier struct {
	hub     *Hub
	guildID string
}

func (g *guildNotifier) Announce(ctx context.Context, n chat.Notification) (string, error) {
	messageID := handle("msg")
	err := g.hub.push(g.guildID, Frame{Type: FrameAnnounce, Payload: map[string]interface{}{
		"message_id":   messageID,
		"notification": n,
	}})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

func (g *guildNotifier) EditAnnouncement(ctx context.Context, messageID string, n chat.Notification) error {
	return g.hub.push(g.guildID, Frame{Type: FrameEditAnnouncement, Payload: map[string]interface{}{
		"message_id":   messageID,
		"notification": n,
	}})
}

func (g *guildNotifier) DeleteAnnouncement(ctx context.Context, messageID string) error {
	return g.hub.push(g.guildID, Frame{Type: FrameDeleteAnnouncement, Payload: map[string]interface{}{
		"message_id": messageID,
	}})
}

func (g *guildNotifier) NotifyStaff(ctx context.Context, n chat.Notification) error {
	return g.hub.push(g.guildID, Frame{Type: FrameNotifyStaff, Payload: map[string]interface{}{
		"notification": n,
	}})
}

func (g *guildNotifier) NotifyChannel(ctx context.Context, channel string, n chat.Notification) error {
	return g.hub.push(g.guildID, Frame{Type: FrameNotifyChannel, Payload: map[string]interface{}{
		"channel":      channel,
		"notification": n,
	}})
}

func (g *guildNotifier) NotifyUser(ctx context.Context, user chat.UserRef, n chat.Notification) {
	err := g.hub.push(g.guildID, Frame{Type: FrameNotifyUser, Payload: map[string]interface{}{
		"user":         user,
		"notification": n,
	}})
	if err != nil {
		log.Printf("[GATEWAY] %s: DM to %s dropped: %v", g.guildID, user.Name, err)
	}
}

func (g *guildNotifier) CreateCategory(ctx context.Context, name string) (string, error) {
	categoryID := handle("cat")
	err := g.hub.push(g.guildID, Frame{Type: FrameCreateCategory, Payload: map[string]interface{}{
		"category_id": categoryID,
		"name":        name,
	}})
	if err != nil {
		return "", err
	}
	return categoryID, nil
}

func (g *guildNotifier) CreateMatchChannel(ctx context.Context, category, name string, users []chat.UserRef, n chat.Notification) (string, string, error) {
	channelID := handle("chan")
	messageID := handle("msg")
	err := g.hub.push(g.guildID, Frame{Type: FrameCreateMatchChannel, Payload: map[string]interface{}{
		"channel_id":   channelID,
		"message_id":   messageID,
		"category":     category,
		"name":         name,
		"users":        users,
		"notification": n,
	}})
	if err != nil {
		return "", "", err
	}
	return channelID, messageID, nil
}

func (g *guildNotifier) DeleteChannel(ctx context.Context, channel string) error {
	return g.hub.push(g.guildID, Frame{Type: FrameDeleteChannel, Payload: map[string]interface{}{
		"channel": channel,
	}})
}

func (g *guildNotifier) SetChannelUsers(ctx context.Context, channel string, users []chat.UserRef) error {
	return g.hub.push(g.guildID, Frame{Type: FrameSetChannelUsers, Payload: map[string]interface{}{
		"channel": channel,
		"users":   users,
	}})
}

func (g *guildNotifier) ResolveUser(ctx context.Context, name string) (chat.UserRef, bool) {
	b, ok := g.hub.bridge(g.guildID)
	if !ok {
		return chat.UserRef{}, false
	}
	return b.lookupName(name)
}

func (g *guildNotifier) ResolveUserByID(ctx context.Context, id string) (chat.UserRef, bool) {
	b, ok := g.hub.bridge(g.guildID)
	if !ok {
		return chat.UserRef{}, false
	}
	return b.lookupID(id)
}

// HandleBridgeSocket upgrades a bridge connection. Bridges authenticate
// with a bridge-role token carrying their guild id, passed as a query
// parameter because websocket clients cannot set headers everywhere.
func HandleBridgeSocket(c *gin.Context, hub *Hub, authService *auth.Service) {
	claims, err := authService.ValidateToken(c.Query("token"))
	if err != nil || claims.Role != auth.RoleBridge || claims.GuildID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("[GATEWAY] WebSocket upgrade error:", err)
		return
	}

	bridge := newBridge(claims.GuildID, conn)
	hub.register(bridge)

	go bridge.WritePump()
	go bridge.ReadPump(hub)
}
