package media

import (
	"context"
	"log/slog"
	"sync"
)

// Peers is the set of active connections local tracks are pushed into. The
// mesh manager implements it.
type Peers interface {
	// AddTrack attaches a new local track to every connection.
	AddTrack(track Track) error
	// ReplaceTrack swaps old for next in every connection's sender.
	ReplaceTrack(old, next Track) error
	// MirrorEnabled copies a kind's enabled bit onto every outgoing track.
	MirrorEnabled(kind Kind, enabled bool)
}

// Lifecycle owns the local capture for one participant.
type Lifecycle struct {
	capturer Capturer
	peers    Peers
	log      *slog.Logger

	mu            sync.Mutex
	stream        *Stream
	constraints   Constraints
	share         Track
	cameraEnabled bool
}

func NewLifecycle(capturer Capturer, peers Peers, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{capturer: capturer, peers: peers, log: logger}
}

// Stream returns the current local stream, or nil before acquisition.
func (l *Lifecycle) Stream() *Stream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream
}

// Sharing reports whether a source share is active.
func (l *Lifecycle) Sharing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.share != nil
}

// capture calls the platform, retrying once with minimal constraints when
// the request was overconstrained. The lock is not held: the platform may
// block on a permission prompt.
func (l *Lifecycle) capture(ctx context.Context, c Constraints) (*Stream, error) {
	stream, err := l.capturer.GetUserMedia(ctx, c)
	if err != nil && isOverconstrained(err) {
		l.log.Warn("capture overconstrained, retrying with minimal constraints", "error", err)
		stream, err = l.capturer.GetUserMedia(ctx, c.Minimal())
	}
	if err != nil {
		return nil, mapCaptureError(err)
	}
	return stream, nil
}

// AcquireLocalMedia captures local media and pushes every new track into
// every active connection. Acquiring again replaces the previous capture.
func (l *Lifecycle) AcquireLocalMedia(ctx context.Context, c Constraints) (*Stream, error) {
	stream, err := l.capture(ctx, c)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	previous := l.stream
	l.stream = stream
	l.constraints = c
	l.mu.Unlock()

	for _, track := range stream.Tracks() {
		var old Track
		if previous != nil {
			old = previous.Track(track.Kind())
		}
		if old != nil {
			err = l.peers.ReplaceTrack(old, track)
		} else {
			err = l.peers.AddTrack(track)
		}
		if err != nil {
			l.log.Warn("failed to attach local track", "track_id", track.ID(), "kind", track.Kind(), "error", err)
		}
	}
	if previous != nil {
		previous.Stop()
	}

	l.log.Info("local media acquired", "stream_id", stream.ID, "tracks", len(stream.Tracks()))
	return stream, nil
}

// ToggleTrack flips the enabled bit of the local track of kind, mirrors it to
// every connection and returns the new state.
func (l *Lifecycle) ToggleTrack(kind Kind) (bool, error) {
	l.mu.Lock()
	if l.stream == nil {
		l.mu.Unlock()
		return false, ErrNoTrack
	}
	track := l.stream.Track(kind)
	if track == nil {
		l.mu.Unlock()
		return false, ErrNoTrack
	}
	enabled := !track.Enabled()
	track.SetEnabled(enabled)
	l.mu.Unlock()

	l.peers.MirrorEnabled(kind, enabled)
	l.log.Debug("track toggled", "kind", kind, "enabled", enabled)
	return enabled, nil
}

// StartSourceShare replaces the outgoing video in every connection with a
// display capture. The camera track is released while sharing. When the
// share ends on its own the camera comes back automatically.
func (l *Lifecycle) StartSourceShare(ctx context.Context) error {
	if l.Sharing() {
		return nil
	}

	display, err := l.capturer.GetDisplayMedia(ctx)
	if err != nil {
		return mapCaptureError(err)
	}

	l.mu.Lock()
	if l.share != nil {
		l.mu.Unlock()
		display.Stop()
		return nil
	}
	if l.stream == nil {
		l.stream = NewStream("local")
	}
	camera := l.stream.Track(KindVideo)
	l.cameraEnabled = camera == nil || camera.Enabled()
	l.stream.replace(camera, display)
	l.share = display
	l.mu.Unlock()

	if camera != nil {
		err = l.peers.ReplaceTrack(camera, display)
		camera.Stop()
	} else {
		err = l.peers.AddTrack(display)
	}
	go l.watchShare(display)

	l.log.Info("source share started", "track_id", display.ID())
	return err
}

// StopSourceShare ends an active share and puts camera video back.
func (l *Lifecycle) StopSourceShare(ctx context.Context) error {
	l.mu.Lock()
	share := l.share
	l.mu.Unlock()
	if share == nil {
		return nil
	}
	return l.endShare(ctx, share)
}

func (l *Lifecycle) watchShare(share Track) {
	<-share.Ended()
	if err := l.endShare(context.Background(), share); err != nil {
		l.log.Warn("failed to restore camera after share ended", "error", err)
	}
}

func (l *Lifecycle) endShare(ctx context.Context, share Track) error {
	l.mu.Lock()
	if l.share != share {
		l.mu.Unlock()
		return nil
	}
	l.share = nil
	video := l.constraints.Video
	if video == nil {
		video = &VideoConstraints{}
	}
	enabled := l.cameraEnabled
	l.mu.Unlock()

	share.Stop()

	stream, err := l.capture(ctx, Constraints{Video: video})
	var camera Track
	if err == nil {
		camera = stream.Track(KindVideo)
	}
	if camera != nil {
		camera.SetEnabled(enabled)
	}

	l.mu.Lock()
	if l.stream != nil {
		l.stream.replace(share, camera)
	}
	l.mu.Unlock()

	if rerr := l.peers.ReplaceTrack(share, camera); rerr != nil && err == nil {
		err = rerr
	}
	l.log.Info("source share ended", "camera_restored", camera != nil)
	return err
}

// Release stops every local track. Used when leaving.
func (l *Lifecycle) Release() {
	l.mu.Lock()
	stream := l.stream
	share := l.share
	l.stream = nil
	l.share = nil
	l.mu.Unlock()

	if share != nil {
		share.Stop()
	}
	if stream != nil {
		stream.Stop()
	}
}
