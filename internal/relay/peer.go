package relay

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send transport pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Large enough for SDP offers.
	maxFrameSize = 64 * 1024

	// Outbound frames buffered per connection before deliveries drop.
	sendBuffer = 256
)

// Socket is the subset of *websocket.Conn the relay needs. Tests substitute
// an in-memory implementation.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Peer owns the write side of one live connection. All outbound traffic goes
// through Enqueue into a buffered channel drained by writePump, so any number
// of other connections' handlers can deliver to this peer without blocking.
type Peer struct {
	connID string
	sock   Socket
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPeer(sock Socket) *Peer {
	return &Peer{
		connID: uuid.NewString(),
		sock:   sock,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

// Enqueue buffers a frame for delivery. It reports false when the peer is
// gone or its buffer is full; a failed delivery affects this peer only.
func (p *Peer) Enqueue(frame []byte) bool {
	if frame == nil {
		return false
	}
	select {
	case <-p.closed:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		log.Printf("conn %s: send buffer full, dropping frame", p.connID)
		return false
	}
}

// writePump drains the send channel onto the socket and keeps the transport
// alive with periodic pings. It is the only writer to the socket.
func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.shutdown()
	}()

	for {
		select {
		case frame := <-p.send:
			p.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("conn %s: write failed: %v", p.connID, err)
				return
			}
		case <-ticker.C:
			p.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.closed:
			return
		}
	}
}

// shutdown marks the peer dead and closes the socket. Safe to call from any
// code path that detects the disconnect; only the first call has effect.
func (p *Peer) shutdown() {
	p.once.Do(func() {
		close(p.closed)
		p.sock.Close()
	})
}
