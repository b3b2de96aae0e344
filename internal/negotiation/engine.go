// Package negotiation drives the offer/answer dialogue for one remote peer
// at a time over an opaque connection engine.
package negotiation

import (
	"github.com/mossy-p/webrtc-mesh/internal/media"
	"github.com/mossy-p/webrtc-mesh/internal/models"
)

// SignalingState mirrors the engine's offer/answer state machine.
type SignalingState string

const (
	StateStable          SignalingState = "stable"
	StateHaveLocalOffer  SignalingState = "have-local-offer"
	StateHaveRemoteOffer SignalingState = "have-remote-offer"
	StateClosed          SignalingState = "closed"
)

// ConnectionState is the aggregate transport state of one connection.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// Terminal reports whether the session should be torn down. There is no
// ICE restart, so disconnected is final too.
func (s ConnectionState) Terminal() bool {
	switch s {
	case ConnectionDisconnected, ConnectionFailed, ConnectionClosed:
		return true
	}
	return false
}

// RemoteTrack is an incoming media track.
type RemoteTrack interface {
	ID() string
	Kind() media.Kind
	Stop()
}

// Engine is one peer connection as provided by the media transport.
// Callbacks may fire on any goroutine.
type Engine interface {
	CreateOffer() (models.Description, error)
	CreateAnswer() (models.Description, error)
	SetLocalDescription(d models.Description) error
	// SetRemoteDescription applies d. An offer applied while a local offer
	// is pending discards the local offer first.
	SetRemoteDescription(d models.Description) error
	AddICECandidate(c models.Candidate) error

	AddTrack(t media.Track) (media.Sender, error)
	Senders() []media.Sender
	// NegotiationNeeded reports a stable engine holding senders that the
	// last exchange left out.
	NegotiationNeeded() bool

	SignalingState() SignalingState
	ConnectionState() ConnectionState

	OnConnectionStateChange(f func(ConnectionState))
	OnICECandidate(f func(models.Candidate))
	OnTrack(f func(RemoteTrack))

	Close() error
}
