package negotiation

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

// Session is the local state held for one remote participant. It is owned
// by the mesh manager of the local participant.
type Session struct {
	RoomID         string
	RemoteUserID   string
	RemotePeerID   string
	RemoteSocketID string
	Engine         Engine
	IsInitiator    bool

	// Polite sessions yield when both sides offer at once: they roll back
	// their own offer and answer the remote one. Impolite sessions keep
	// their offer and ignore the colliding one.
	Polite bool

	negotiating atomic.Bool

	mu     sync.Mutex
	remote []RemoteTrack
	closed bool
}

func NewSession(roomID string, remote models.Member, engine Engine, initiator bool) *Session {
	return &Session{
		RoomID:         roomID,
		RemoteUserID:   remote.UserID,
		RemotePeerID:   remote.PeerID,
		RemoteSocketID: remote.SocketID,
		Engine:         engine,
		IsInitiator:    initiator,
		Polite:         true,
	}
}

// Negotiating reports whether an offer or answer is being produced.
func (s *Session) Negotiating() bool {
	return s.negotiating.Load()
}

// AddRemoteTrack records an incoming track. It reports false, after stopping
// the track, when the session is already closed.
func (s *Session) AddRemoteTrack(t RemoteTrack) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.Stop()
		return false
	}
	s.remote = append(s.remote, t)
	s.mu.Unlock()
	return true
}

// RemoteTracks returns the tracks received so far.
func (s *Session) RemoteTracks() []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.remote)
}

// Close stops every remote track and closes the engine. Only the first call
// does anything.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	remote := s.remote
	s.remote = nil
	s.mu.Unlock()

	for _, t := range remote {
		t.Stop()
	}
	return s.Engine.Close()
}
