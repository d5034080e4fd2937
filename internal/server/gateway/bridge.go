package gateway

import (
	"errors"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"bracket-engine/internal/chat"
)

// ErrBridgeBusy means the bridge's send buffer is full. The connection is
// still up but falling behind, so the frame is dropped rather than
// blocking an engine tick.
var ErrBridgeBusy = errors.New("bridge send buffer full")

// Bridge is one connected chat bridge serving a single guild. Besides the
// connection it caches the guild member directory the bridge syncs up, so
// participant names resolve without a network round trip.
type Bridge struct {
	GuildID string
	Conn    *websocket.Conn
	Send    chan []byte

	sendMu sync.RWMutex
	closed bool

	mu     sync.RWMutex
	byID   map[string]chat.UserRef
	byName map[string]chat.UserRef
}

func newBridge(guildID string, conn *websocket.Conn) *Bridge {
	return &Bridge{
		GuildID: guildID,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		byID:    make(map[string]chat.UserRef),
		byName:  make(map[string]chat.UserRef),
	}
}

// queue enqueues one encoded frame without blocking. The closed flag is
// checked under the same lock shutdown takes, so a send can never hit a
// closed channel.
func (b *Bridge) queue(data []byte) error {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return chat.ErrNoBridge
	}
	select {
	case b.Send <- data:
		return nil
	default:
		return ErrBridgeBusy
	}
}

// shutdown closes the send channel exactly once and drops the connection.
func (b *Bridge) shutdown() {
	b.sendMu.Lock()
	if !b.closed {
		b.closed = true
		close(b.Send)
	}
	b.sendMu.Unlock()
	b.Conn.Close()
}

// setDirectory replaces the member directory from a full sync.
func (b *Bridge) setDirectory(users []chat.UserRef) {
	byID := make(map[string]chat.UserRef, len(users))
	byName := make(map[string]chat.UserRef, len(users))
	for _, u := range users {
		byID[u.ID] = u
		byName[strings.ToLower(u.Name)] = u
	}
	b.mu.Lock()
	b.byID = byID
	b.byName = byName
	b.mu.Unlock()
}

func (b *Bridge) addUser(u chat.UserRef) {
	b.mu.Lock()
	b.byID[u.ID] = u
	b.byName[strings.ToLower(u.Name)] = u
	b.mu.Unlock()
}

func (b *Bridge) removeUser(id string) {
	b.mu.Lock()
	if u, ok := b.byID[id]; ok {
		delete(b.byID, id)
		delete(b.byName, strings.ToLower(u.Name))
	}
	b.mu.Unlock()
}

func (b *Bridge) lookupName(name string) (chat.UserRef, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.byName[strings.ToLower(name)]
	return u, ok
}

func (b *Bridge) lookupID(id string) (chat.UserRef, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.byID[id]
	return u, ok
}

// ReadPump consumes frames from the bridge until the connection drops.
func (b *Bridge) ReadPump(hub *Hub) {
	defer func() {
		hub.unregister(b)
		b.Conn.Close()
	}()

	for {
		var frame Frame
		if err := b.Conn.ReadJSON(&frame); err != nil {
			return
		}
		hub.handleFrame(b, frame)
	}
}

// WritePump flushes queued frames to the bridge.
func (b *Bridge) WritePump() {
	defer b.Conn.Close()

	for message := range b.Send {
		if err := b.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	b.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
