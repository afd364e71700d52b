package relay

import (
	"encoding/json"
	"log"
	"time"
)

// Envelope is the inbound wire frame for both relay protocols. Only the
// fields relevant to the declared type are populated; Data and Content are
// carried verbatim and never interpreted here.
type Envelope struct {
	Type       string          `json:"type"`
	To         *int64          `json:"to,omitempty"`
	SignalType string          `json:"signal_type,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Content    string          `json:"content,omitempty"`
}

// Outbound envelope shapes. Field names are part of the wire protocol.

type peerJoinedEnvelope struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

type peerLeftEnvelope struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

type peersEnvelope struct {
	Type  string  `json:"type"`
	Peers []int64 `json:"peers"`
}

type signalEnvelope struct {
	Type       string          `json:"type"`
	SignalType string          `json:"signal_type"`
	From       int64           `json:"from"`
	Data       json.RawMessage `json:"data"`
}

type pongEnvelope struct {
	Type string `json:"type"`
}

type errorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type chatEnvelope struct {
	Type      string `json:"type"`
	ID        int64  `json:"id"`
	RoomID    int64  `json:"room_id"`
	SenderID  int64  `json:"sender_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func marshalFrame(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All outbound shapes are plain structs; this cannot fail for them.
		log.Printf("failed to marshal frame: %v", err)
		return nil
	}
	return data
}

func peerJoinedFrame(userID int64) []byte {
	return marshalFrame(peerJoinedEnvelope{Type: "peer-joined", UserID: userID})
}

func peerLeftFrame(userID int64) []byte {
	return marshalFrame(peerLeftEnvelope{Type: "peer-left", UserID: userID})
}

func peersFrame(peers []int64) []byte {
	return marshalFrame(peersEnvelope{Type: "peers", Peers: peers})
}

func signalFrame(signalType string, from int64, data json.RawMessage) []byte {
	return marshalFrame(signalEnvelope{Type: "signal", SignalType: signalType, From: from, Data: data})
}

func pongFrame() []byte {
	return marshalFrame(pongEnvelope{Type: "pong"})
}

func errorFrame(message string) []byte {
	return marshalFrame(errorEnvelope{Type: "error", Message: message})
}

func chatFrame(id, roomID, senderID int64, content string, createdAt time.Time) []byte {
	return marshalFrame(chatEnvelope{
		Type:      "chat",
		ID:        id,
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
	})
}
