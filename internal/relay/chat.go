package relay

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/registry"
)

// MaxContentLength caps chat message content, counted in runes. Content is
// truncated to this length before persistence and the same truncated string
// is broadcast.
const MaxContentLength = 4000

// RoomLookup resolves a room slug to its persistent id. The lookup runs per
// message rather than once per connection, so a room deleted mid-session
// simply stops accepting chat.
type RoomLookup interface {
	LookupRoom(ctx context.Context, slug string) (int64, error)
}

// MessageStore durably persists one chat message and returns the
// store-assigned id and timestamp.
type MessageStore interface {
	StoreMessage(ctx context.Context, roomID, senderID int64, content string) (id int64, createdAt time.Time, err error)
}

// ChatRelay broadcasts chat messages to a room after persisting them. The
// broadcast always carries the store-assigned id and timestamp, and includes
// the sender, so every client renders the canonical persisted record.
type ChatRelay struct {
	Registry *registry.Registry
	Identity IdentityResolver
	Rooms    RoomLookup
	Store    MessageStore
}

// Serve runs the chat protocol for one accepted connection until the
// connection closes.
func (c *ChatRelay) Serve(ctx context.Context, slug, token string, sock Socket) {
	userID, err := c.Identity.ResolveIdentity(token)
	if err != nil {
		rejectUnauthenticated(sock)
		return
	}

	peer := newPeer(sock)
	go peer.writePump()

	c.Registry.Join(registry.Chat, slug, userID, peer)
	log.Printf("conn %s: user %d joined chat room %q", peer.connID, userID, slug)

	defer func() {
		// Chat has no presence notifications; teardown is just the
		// exactly-once deregistration.
		c.Registry.Leave(registry.Chat, slug, userID)
		peer.shutdown()
		log.Printf("conn %s: user %d left chat room %q", peer.connID, userID, slug)
	}()

	sock.SetReadLimit(maxFrameSize)
	sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("conn %s: read failed: %v", peer.connID, err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			peer.Enqueue(errorFrame("malformed message"))
			continue
		}
		if env.Type != "chat" {
			peer.Enqueue(errorFrame("unknown message type: " + env.Type))
			continue
		}

		content := truncateContent(env.Content, MaxContentLength)

		roomID, err := c.Rooms.LookupRoom(ctx, slug)
		if err != nil {
			// Room gone (or lookup unavailable): drop without an error, the
			// room is checked lazily per message.
			continue
		}

		// Persist before fan-out. A message that could not be stored is
		// never broadcast; the sender learns of the failure instead.
		id, createdAt, err := c.Store.StoreMessage(ctx, roomID, userID, content)
		if err != nil {
			log.Printf("conn %s: store message failed: %v", peer.connID, err)
			peer.Enqueue(errorFrame("message could not be stored"))
			continue
		}

		frame := chatFrame(id, roomID, userID, content, createdAt)
		for memberID, h := range c.Registry.Snapshot(registry.Chat, slug) {
			if !h.Enqueue(frame) {
				log.Printf("conn %s: chat not delivered to user %d", peer.connID, memberID)
			}
		}
	}
}

// truncateContent caps s at limit runes without splitting a UTF-8 sequence.
func truncateContent(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
