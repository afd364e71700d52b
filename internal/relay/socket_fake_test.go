package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/relay"
)

// fakeSocket is an in-memory relay.Socket. Inbound frames are pushed by the
// test; everything the relay writes is captured on a channel.
type fakeSocket struct {
	in        chan []byte
	writes    chan writtenFrame
	done      chan struct{}
	closeOnce sync.Once
}

type writtenFrame struct {
	messageType int
	data        []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan []byte, 16),
		writes: make(chan writtenFrame, 64),
		done:   make(chan struct{}),
	}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case raw := <-f.in:
		return websocket.TextMessage, raw, nil
	case <-f.done:
		return 0, nil, io.EOF
	}
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.done:
		return errors.New("write on closed socket")
	default:
	}
	select {
	case f.writes <- writtenFrame{messageType, data}:
	default:
	}
	return nil
}

func (f *fakeSocket) SetReadLimit(int64)                {}
func (f *fakeSocket) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeSocket) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeSocket) SetPongHandler(func(string) error) {}

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// push sends one inbound frame to the relay.
func (f *fakeSocket) push(t *testing.T, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal inbound frame: %v", err)
	}
	select {
	case f.in <- raw:
	case <-time.After(2 * time.Second):
		t.Fatal("inbound buffer never drained")
	}
}

// next waits for the next outbound text frame and decodes it.
func (f *fakeSocket) next(t *testing.T) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-f.writes:
			if frame.messageType != websocket.TextMessage {
				continue
			}
			var out map[string]any
			if err := json.Unmarshal(frame.data, &out); err != nil {
				t.Fatalf("outbound frame is not JSON: %v (%q)", err, frame.data)
			}
			return out
		case <-deadline:
			t.Fatal("no outbound frame arrived")
		}
	}
}

// nextClose waits for a close frame and returns its status code.
func (f *fakeSocket) nextClose(t *testing.T) int {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-f.writes:
			if frame.messageType != websocket.CloseMessage {
				continue
			}
			if len(frame.data) < 2 {
				t.Fatalf("close frame without status code: %v", frame.data)
			}
			return int(frame.data[0])<<8 | int(frame.data[1])
		case <-deadline:
			t.Fatal("no close frame arrived")
		}
	}
}

// expectNone asserts that no text frame arrives within a settle window.
func (f *fakeSocket) expectNone(t *testing.T) {
	t.Helper()
	select {
	case frame := <-f.writes:
		if frame.messageType == websocket.TextMessage {
			t.Fatalf("unexpected outbound frame: %s", frame.data)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

// fakeIdentity resolves any token of the form "user-<n>" found in its table.
type fakeIdentity struct {
	users map[string]int64
}

func (f *fakeIdentity) ResolveIdentity(token string) (int64, error) {
	id, ok := f.users[token]
	if !ok {
		return 0, errors.New("invalid token")
	}
	return id, nil
}

type fakeLookup struct {
	id  int64
	err error
}

func (f *fakeLookup) LookupRoom(context.Context, string) (int64, error) {
	return f.id, f.err
}

type storeCall struct {
	roomID   int64
	senderID int64
	content  string
}

type fakeStore struct {
	mu    sync.Mutex
	calls []storeCall
	err   error
}

var storeTime = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func (f *fakeStore) StoreMessage(_ context.Context, roomID, senderID int64, content string) (int64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	f.calls = append(f.calls, storeCall{roomID, senderID, content})
	return int64(100 + len(f.calls)), storeTime, nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStore) lastCall(t *testing.T) storeCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no store calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

// waitDone fails the test when a relay loop does not exit in time.
func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay loop did not exit")
	}
}

func serveSignaling(s *relay.SignalingRelay, slug, token string, sock relay.Socket) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(slug, token, sock)
	}()
	return done
}

func serveChat(c *relay.ChatRelay, slug, token string, sock relay.Socket) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Serve(context.Background(), slug, token, sock)
	}()
	return done
}
