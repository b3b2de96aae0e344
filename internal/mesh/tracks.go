package mesh

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mossy-p/webrtc-mesh/internal/media"
)

var _ media.Peers = (*Manager)(nil)

// AddTrack attaches t to every session and remembers it for sessions
// created later. Sessions that already negotiated are offered again so the
// new track is announced.
func (m *Manager) AddTrack(t media.Track) error {
	m.mu.Lock()
	m.tracks = append(m.tracks, t)
	sessions := m.sessionList()
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if _, err := s.Engine.AddTrack(t); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.RemoteSocketID, err))
			continue
		}
		if err := m.quiet(m.coord.CreateOffer(context.Background(), s)); err != nil {
			m.log.Warn("renegotiation failed", "socket_id", s.RemoteSocketID, "error", err)
		}
	}
	return errors.Join(errs...)
}

// ReplaceTrack swaps old for next in place in every session. A nil next
// leaves the sender empty.
func (m *Manager) ReplaceTrack(old, next media.Track) error {
	m.mu.Lock()
	if i := slices.Index(m.tracks, old); i >= 0 {
		if next == nil {
			m.tracks = slices.Delete(m.tracks, i, i+1)
		} else {
			m.tracks[i] = next
		}
	}
	sessions := m.sessionList()
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		for _, sender := range s.Engine.Senders() {
			if sender.Track() != old {
				continue
			}
			if err := sender.ReplaceTrack(next); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.RemoteSocketID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// MirrorEnabled sets the enabled bit of every outgoing track of kind.
func (m *Manager) MirrorEnabled(kind media.Kind, enabled bool) {
	for _, s := range m.Sessions() {
		for _, sender := range s.Engine.Senders() {
			if t := sender.Track(); t != nil && t.Kind() == kind {
				t.SetEnabled(enabled)
			}
		}
	}
}
