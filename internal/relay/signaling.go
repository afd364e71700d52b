// Package relay implements the per-connection protocol loops for the
// signaling and chat websocket channels, on top of the shared connection
// registry. Payloads are relayed verbatim; the relay never inspects them.
package relay

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/registry"
)

// CloseUnauthenticated is the close code sent when the credential supplied at
// connect time is missing or invalid.
const CloseUnauthenticated = 4401

// IdentityResolver turns an opaque credential token into a stable user id.
type IdentityResolver interface {
	ResolveIdentity(token string) (int64, error)
}

// PresenceObserver is notified after a participant joins or leaves a
// signaling room. Used to mirror presence into redis; a nil observer is
// valid and observed failures never affect the relay.
type PresenceObserver interface {
	ParticipantJoined(slug string, userID int64)
	ParticipantLeft(slug string, userID int64)
}

// SignalingRelay routes opaque session-negotiation payloads between the
// participants of one room: join/leave announcements, targeted signal
// forwarding, and application-level ping/pong.
type SignalingRelay struct {
	Registry *registry.Registry
	Identity IdentityResolver
	Presence PresenceObserver
}

// Serve runs the signaling protocol for one accepted connection until the
// connection closes. The credential is resolved before any registry
// interaction; on failure the socket is closed with CloseUnauthenticated.
func (s *SignalingRelay) Serve(slug, token string, sock Socket) {
	userID, err := s.Identity.ResolveIdentity(token)
	if err != nil {
		rejectUnauthenticated(sock)
		return
	}

	peer := newPeer(sock)
	go peer.writePump()

	s.Registry.Join(registry.Signaling, slug, userID, peer)
	log.Printf("conn %s: user %d joined signaling room %q", peer.connID, userID, slug)
	if s.Presence != nil {
		s.Presence.ParticipantJoined(slug, userID)
	}

	defer func() {
		// Exactly-once teardown for every exit path: deregister first so the
		// leave announcement can never reach the departing connection.
		s.Registry.Leave(registry.Signaling, slug, userID)
		for id, h := range s.Registry.Snapshot(registry.Signaling, slug) {
			if !h.Enqueue(peerLeftFrame(userID)) {
				log.Printf("conn %s: peer-left not delivered to user %d", peer.connID, id)
			}
		}
		if s.Presence != nil {
			s.Presence.ParticipantLeft(slug, userID)
		}
		peer.shutdown()
		log.Printf("conn %s: user %d left signaling room %q", peer.connID, userID, slug)
	}()

	// Announce the join to everyone already present, then compute the
	// newcomer's peer list. Announce-then-snapshot keeps the list consistent
	// with what the announced peers have seen.
	for id, h := range s.Registry.Snapshot(registry.Signaling, slug) {
		if id == userID {
			continue
		}
		h.Enqueue(peerJoinedFrame(userID))
	}
	others := make([]int64, 0)
	for _, id := range s.Registry.Members(registry.Signaling, slug) {
		if id != userID {
			others = append(others, id)
		}
	}
	peer.Enqueue(peersFrame(others))

	s.readLoop(slug, userID, peer, sock)
}

func (s *SignalingRelay) readLoop(slug string, userID int64, peer *Peer, sock Socket) {
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

		switch env.Type {
		case "signal":
			if env.To == nil {
				peer.Enqueue(errorFrame("signal requires a to field"))
				continue
			}
			// Best effort: an absent target drops the message silently, so
			// delivery failures never leak peer liveness back to the sender.
			target, ok := s.Registry.Get(registry.Signaling, slug, *env.To)
			if !ok {
				continue
			}
			target.Enqueue(signalFrame(env.SignalType, userID, env.Data))
		case "ping":
			peer.Enqueue(pongFrame())
		default:
			peer.Enqueue(errorFrame("unknown message type: " + env.Type))
		}
	}
}

// rejectUnauthenticated closes a just-upgraded socket with the
// distinguished unauthenticated close code. The connection is never
// registered, so no cleanup applies.
func rejectUnauthenticated(sock Socket) {
	sock.SetWriteDeadline(time.Now().Add(writeWait))
	sock.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseUnauthenticated, "not authenticated"))
	sock.Close()
}
