package models

import (
	"encoding/json"
	"fmt"
)

// MessageType tags every envelope on the signaling socket.
type MessageType string

const (
	// Client to hub.
	TypeJoinRoom    MessageType = "join-room"
	TypeLeaveRoom   MessageType = "leave-room"
	TypeSendMessage MessageType = "send-message"

	// Client to hub to the rest of the room.
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"

	// Hub to client.
	TypeRoomJoined MessageType = "room-joined"
	TypeUserJoined MessageType = "user-joined"
	TypeUserLeft   MessageType = "user-left"
	TypeNewMessage MessageType = "new-message"
	TypeError      MessageType = "error"
)

// ClientMessageTypes lists every type a client may send to the hub.
func ClientMessageTypes() []MessageType {
	return []MessageType{
		TypeJoinRoom, TypeLeaveRoom, TypeSendMessage,
		TypeOffer, TypeAnswer, TypeICECandidate,
	}
}

// HubMessageTypes lists every type the hub delivers to clients.
func HubMessageTypes() []MessageType {
	return []MessageType{
		TypeRoomJoined, TypeUserJoined, TypeUserLeft,
		TypeOffer, TypeAnswer, TypeICECandidate,
		TypeNewMessage, TypeError,
	}
}

// IsRelayed reports whether the hub forwards the type without looking at
// its payload.
func (t MessageType) IsRelayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// Envelope is the wire frame. From is always stamped by the hub with the
// sender's socket ID; TargetPeerID is advisory and receivers filter on it.
type Envelope struct {
	Type         MessageType     `json:"type"`
	RoomID       string          `json:"roomId,omitempty"`
	From         string          `json:"from,omitempty"`
	TargetPeerID string          `json:"targetPeerId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(t MessageType, roomID string, payload any) (Envelope, error) {
	env := Envelope{Type: t, RoomID: roomID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = data
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Type, err)
	}
	return nil
}

// JoinRoomPayload is sent with join-room.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// LeaveRoomPayload is sent with leave-room.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// RoomJoinedPayload answers a join. Users never contains the joiner.
type RoomJoinedPayload struct {
	RoomID   string   `json:"roomId"`
	PeerID   string   `json:"peerId"`
	SocketID string   `json:"socketId"`
	Users    []Member `json:"users"`
}

// UserLeftPayload announces a departure.
type UserLeftPayload struct {
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
}

// Description is a session description (SDP) as exchanged on the wire.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

const (
	DescriptionOffer  = "offer"
	DescriptionAnswer = "answer"
)

// Candidate is a trickled ICE candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type OfferPayload struct {
	Offer Description `json:"offer"`
}

type AnswerPayload struct {
	Answer Description `json:"answer"`
}

type CandidatePayload struct {
	Candidate Candidate `json:"candidate"`
}

// ChatPayload is the client side of send-message.
type ChatPayload struct {
	UserID  string `json:"userId"`
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// ErrorPayload carries a human readable message only.
type ErrorPayload struct {
	Message string `json:"message"`
}
