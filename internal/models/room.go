package models

import "time"

// Member is one socket's presence in a room.
type Member struct {
	UserID   string `json:"userId"`
	PeerID   string `json:"peerId"`
	SocketID string `json:"socketId"`
}

// RoomInfo is a read-only snapshot of a room for the HTTP API.
type RoomInfo struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	MemberCount int       `json:"memberCount"`
	Members     []Member  `json:"members,omitempty"`
}

// ChatMessage is a send-message after the hub stamped it.
type ChatMessage struct {
	ID        string    `json:"id" msgpack:"id"`
	RoomID    string    `json:"roomId" msgpack:"room_id"`
	UserID    string    `json:"userId" msgpack:"user_id"`
	SocketID  string    `json:"socketId" msgpack:"socket_id"`
	Content   string    `json:"content" msgpack:"content"`
	Timestamp time.Time `json:"timestamp" msgpack:"ts"`
}

// AuditKind classifies audit trail entries.
type AuditKind string

const (
	AuditMemberJoined AuditKind = "member-joined"
	AuditMemberLeft   AuditKind = "member-left"
	AuditChatMessage  AuditKind = "chat-message"
	AuditRoomClosed   AuditKind = "room-closed"
)

// AuditEvent is what the hub hands to the persistence side channel.
type AuditEvent struct {
	Kind    AuditKind    `msgpack:"kind"`
	RoomID  string       `msgpack:"room_id"`
	Member  *Member      `msgpack:"member,omitempty"`
	Message *ChatMessage `msgpack:"message,omitempty"`
	At      time.Time    `msgpack:"at"`
}
