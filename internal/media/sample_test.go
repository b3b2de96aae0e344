package media

import (
	"context"
	"errors"
	"testing"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

func TestSampleTrack_WriteSample(t *testing.T) {
	track, err := NewSampleTrack(KindAudio, "mic", "local")
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	sample := pionmedia.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond}

	// Unbound tracks accept samples and send them nowhere.
	if err := track.WriteSample(sample); err != nil {
		t.Fatalf("write: %v", err)
	}

	track.SetEnabled(false)
	if err := track.WriteSample(sample); err != nil {
		t.Fatalf("write while disabled: %v", err)
	}

	track.Stop()
	track.Stop()
	if err := track.WriteSample(sample); !errors.Is(err, errTrackStopped) {
		t.Fatalf("expected errTrackStopped, got %v", err)
	}
	select {
	case <-track.Ended():
	default:
		t.Fatalf("ended not closed")
	}
}

func TestSampleTrack_PumpSilence(t *testing.T) {
	mic, err := NewSampleTrack(KindAudio, "mic", "local")
	if err != nil {
		t.Fatalf("new track: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mic.PumpSilence(ctx) }()

	time.Sleep(3 * silenceFrame)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pump did not stop on cancel")
	}

	go func() { done <- mic.PumpSilence(context.Background()) }()
	mic.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil after stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pump did not stop with the track")
	}

	cam, err := NewSampleTrack(KindVideo, "cam", "local")
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	if err := cam.PumpSilence(context.Background()); err != nil {
		t.Fatalf("video pump: %v", err)
	}
}
