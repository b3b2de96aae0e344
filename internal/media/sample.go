package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

var errTrackStopped = errors.New("track stopped")

// SampleTrack is a Track backed by a pion static sample track, so the same
// object can be bound to every peer connection of the mesh.
type SampleTrack struct {
	local *webrtc.TrackLocalStaticSample
	kind  Kind

	enabled  atomic.Bool
	stopOnce sync.Once
	ended    chan struct{}
}

// NewSampleTrack creates an enabled track (Opus for audio, VP8 for video).
func NewSampleTrack(kind Kind, id, streamID string) (*SampleTrack, error) {
	mime := webrtc.MimeTypeOpus
	if kind == KindVideo {
		mime = webrtc.MimeTypeVP8
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", kind, err)
	}

	t := &SampleTrack{local: local, kind: kind, ended: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *SampleTrack) ID() string                    { return t.local.ID() }
func (t *SampleTrack) Kind() Kind                    { return t.kind }
func (t *SampleTrack) Enabled() bool                 { return t.enabled.Load() }
func (t *SampleTrack) SetEnabled(enabled bool)       { t.enabled.Store(enabled) }
func (t *SampleTrack) Ended() <-chan struct{}        { return t.ended }
func (t *SampleTrack) TrackLocal() webrtc.TrackLocal { return t.local }

func (t *SampleTrack) Stop() {
	t.stopOnce.Do(func() { close(t.ended) })
}

// WriteSample forwards an encoded sample to every bound connection. Samples
// written while the track is disabled are dropped.
func (t *SampleTrack) WriteSample(s pionmedia.Sample) error {
	select {
	case <-t.ended:
		return errTrackStopped
	default:
	}
	if !t.Enabled() {
		return nil
	}
	return t.local.WriteSample(s)
}

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const silenceFrame = 20 * time.Millisecond

// PumpSilence writes Opus silence frames on a 20ms ticker until ctx is done
// or the track stops, so an audio track carries RTP with no device behind
// it. Video tracks have nothing to pump.
func (t *SampleTrack) PumpSilence(ctx context.Context) error {
	if t.kind != KindAudio {
		return nil
	}
	ticker := time.NewTicker(silenceFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.ended:
			return nil
		case <-ticker.C:
			err := t.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: silenceFrame})
			if errors.Is(err, errTrackStopped) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("write silence: %w", err)
			}
		}
	}
}
