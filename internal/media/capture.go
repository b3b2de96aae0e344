package media

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// VideoConstraints narrows the requested camera mode. Zero values mean "any".
type VideoConstraints struct {
	Width      int
	Height     int
	FrameRate  int
	FacingMode string
}

// Constraints describes a capture request. A nil Video means no video.
type Constraints struct {
	Audio bool
	Video *VideoConstraints
}

// Minimal keeps the requested kinds but drops every narrowing constraint.
func (c Constraints) Minimal() Constraints {
	out := Constraints{Audio: c.Audio}
	if c.Video != nil {
		out.Video = &VideoConstraints{}
	}
	return out
}

// Capturer is the platform's capture capability.
type Capturer interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
	GetDisplayMedia(ctx context.Context) (Track, error)
}

// Capture failure names as reported by the platform.
const (
	NameNotAllowed      = "NotAllowedError"
	NameSecurity        = "SecurityError"
	NameNotFound        = "NotFoundError"
	NameNotReadable     = "NotReadableError"
	NameAbort           = "AbortError"
	NameOverconstrained = "OverconstrainedError"
)

// CaptureError is a raw platform capture failure. Lifecycle maps it onto the
// package's error kinds.
type CaptureError struct {
	Name    string
	Message string
}

func (e *CaptureError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// SampleCapturer hands out pion sample tracks instead of real devices. It
// lets the client run headless; the Camera and Microphone flags simulate
// missing hardware. Audio tracks carry silence once PumpSilence runs. Camera
// and screen tracks are placeholders that negotiate a VP8 m-line but send no
// frames.
type SampleCapturer struct {
	Camera     bool
	Microphone bool
}

func NewSampleCapturer() *SampleCapturer {
	return &SampleCapturer{Camera: true, Microphone: true}
}

func (c *SampleCapturer) GetUserMedia(ctx context.Context, cons Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cons.Audio && cons.Video == nil {
		return nil, &CaptureError{Name: "TypeError", Message: "no media kinds requested"}
	}
	if (cons.Audio && !c.Microphone) || (cons.Video != nil && !c.Camera) {
		return nil, &CaptureError{Name: NameNotFound, Message: "requested device not found"}
	}

	streamID := "local-" + uuid.New().String()
	stream := NewStream(streamID)
	if cons.Audio {
		t, err := NewSampleTrack(KindAudio, "mic-"+uuid.New().String(), streamID)
		if err != nil {
			return nil, err
		}
		stream.replace(nil, t)
	}
	if cons.Video != nil {
		t, err := NewSampleTrack(KindVideo, "cam-"+uuid.New().String(), streamID)
		if err != nil {
			return nil, err
		}
		stream.replace(nil, t)
	}
	return stream, nil
}

func (c *SampleCapturer) GetDisplayMedia(ctx context.Context) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := NewSampleTrack(KindVideo, "screen-"+uuid.New().String(), "screen")
	if err != nil {
		return nil, fmt.Errorf("display capture: %w", err)
	}
	return t, nil
}
