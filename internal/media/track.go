// Package media owns the local capture side of a participant: the tracks it
// sends, their mute state, and swapping the camera for a shared screen.
package media

import (
	"slices"
	"sync"
)

// Kind is the media kind of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is a local media track. Disabling a track mutes it at the encoder;
// nothing is renegotiated.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop releases the source. Ended is closed afterwards, and also when the
	// source goes away on its own (for example a shared window is closed).
	Stop()
	Ended() <-chan struct{}
}

// Sender is the outgoing slot a track occupies in one connection.
type Sender interface {
	Track() Track
	// ReplaceTrack swaps the outgoing track in place. A nil track stops
	// sending without removing the slot.
	ReplaceTrack(track Track) error
}

// Stream groups the tracks from one capture.
type Stream struct {
	ID string

	mu     sync.Mutex
	tracks []Track
}

func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{ID: id, tracks: tracks}
}

// Tracks returns a copy of the stream's tracks.
func (s *Stream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tracks)
}

// Track returns the first track of the given kind, or nil.
func (s *Stream) Track(kind Kind) Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// replace swaps old for next. A nil old appends; a nil next removes.
func (s *Stream) replace(old, next Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old != nil {
		if i := slices.Index(s.tracks, old); i >= 0 {
			if next == nil {
				s.tracks = slices.Delete(s.tracks, i, i+1)
			} else {
				s.tracks[i] = next
			}
			return
		}
	}
	if next != nil {
		s.tracks = append(s.tracks, next)
	}
}

// Stop stops every track in the stream.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
