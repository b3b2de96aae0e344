package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-mesh/internal/handlers"
	"github.com/mossy-p/webrtc-mesh/internal/hub"
	"github.com/mossy-p/webrtc-mesh/internal/logging"
	"github.com/mossy-p/webrtc-mesh/internal/media"
	"github.com/mossy-p/webrtc-mesh/internal/mesh"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/negotiation"
	"github.com/mossy-p/webrtc-mesh/internal/negotiation/negotiationtest"
	"github.com/mossy-p/webrtc-mesh/internal/signaling"
)

type fakeEngines struct {
	name string
	mu   sync.Mutex
	n    int
}

func (f *fakeEngines) NewEngine() (negotiation.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return negotiationtest.NewEngine(fmt.Sprintf("%s-%d", f.name, f.n)), nil
}

type events struct {
	mu     sync.Mutex
	joined []models.Member
	gone   []string
	chat   []models.ChatMessage
	errors []string
}

func (e *events) RoomJoined(models.Member, []models.Member) {}

func (e *events) PeerJoined(m models.Member) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.joined = append(e.joined, m)
}

func (e *events) RemoteTrack(string, negotiation.RemoteTrack) {}

func (e *events) RemoteGone(socketID, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gone = append(e.gone, socketID)
}

func (e *events) ChatMessage(msg models.ChatMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chat = append(e.chat, msg)
}

func (e *events) Error(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, message)
}

func (e *events) snapshot() (gone []string, chat []models.ChatMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.gone...), append([]models.ChatMessage(nil), e.chat...)
}

type deniedCapturer struct{}

func (deniedCapturer) GetUserMedia(context.Context, media.Constraints) (*media.Stream, error) {
	return nil, &media.CaptureError{Name: media.NameNotAllowed, Message: "user said no"}
}

func (deniedCapturer) GetDisplayMedia(context.Context) (media.Track, error) {
	return nil, &media.CaptureError{Name: media.NameNotAllowed}
}

// startServer runs a hub behind the real HTTP surface. Cancelling the
// returned func stops the hub and drops every socket.
func startServer(t *testing.T) (string, context.CancelFunc) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.New(hub.NewMemoryStore(), nil, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(handlers.NewRouter(handlers.Deps{Hub: h, Logger: logging.Discard()}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", cancel
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type running struct {
	*Participant
	events *events
	done   chan error
}

func start(t *testing.T, url, userID string) *running {
	t.Helper()
	obs := &events{}
	cfg := Config{
		ServerURL: url,
		RoomID:    "R1",
		UserID:    userID,
		Media:     media.Constraints{Audio: true, Video: &media.VideoConstraints{}},
		Engines:   &fakeEngines{name: userID},
	}
	p, err := Start(context.Background(), cfg, media.NewSampleCapturer(), obs, logging.Discard())
	if err != nil {
		t.Fatalf("start %s: %v", userID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{Participant: p, events: obs, done: make(chan error, 1)}
	go func() { r.done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		p.Close(context.Background())
	})
	return r
}

func connectedTo(p *Participant, socketID string) bool {
	s, ok := p.Mesh().Session(socketID)
	return ok &&
		s.Engine.SignalingState() == negotiation.StateStable &&
		s.Engine.ConnectionState() == negotiation.ConnectionConnected &&
		!s.Negotiating()
}

func TestParticipants_ConnectChatAndLeave(t *testing.T) {
	url, _ := startServer(t)
	alice := start(t, url, "alice")
	eventually(t, "alice joined", func() bool { return alice.Self().SocketID != "" })
	bob := start(t, url, "bob")
	eventually(t, "bob joined", func() bool { return bob.Self().SocketID != "" })

	aliceSock, bobSock := alice.Self().SocketID, bob.Self().SocketID
	eventually(t, "mesh connected", func() bool {
		return connectedTo(alice.Participant, bobSock) && connectedTo(bob.Participant, aliceSock)
	})

	s, _ := alice.Mesh().Session(bobSock)
	if n := len(s.Engine.Senders()); n != 2 {
		t.Fatalf("alice sends %d tracks to bob, want 2", n)
	}

	if err := alice.Chat(context.Background(), "hello"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	for _, p := range []*running{alice, bob} {
		eventually(t, "chat delivered", func() bool {
			_, chat := p.events.snapshot()
			return len(chat) == 1 && chat[0].Content == "hello" && chat[0].UserID == "alice"
		})
	}

	if err := alice.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	eventually(t, "bob saw alice leave", func() bool {
		gone, _ := bob.events.snapshot()
		return len(gone) == 1 && gone[0] == aliceSock
	})
	if _, ok := bob.Mesh().Session(aliceSock); ok {
		t.Fatalf("bob kept a session for alice")
	}

	select {
	case err := <-alice.done:
		if err != nil {
			t.Fatalf("run after close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("alice's run loop did not stop")
	}
}

func TestParticipant_ToggleAndShare(t *testing.T) {
	url, _ := startServer(t)
	p := start(t, url, "alice")

	on, err := p.Toggle(media.KindAudio)
	if err != nil || on {
		t.Fatalf("first toggle: on=%v err=%v", on, err)
	}
	on, err = p.Toggle(media.KindAudio)
	if err != nil || !on {
		t.Fatalf("second toggle: on=%v err=%v", on, err)
	}

	if err := p.StartShare(context.Background()); err != nil {
		t.Fatalf("start share: %v", err)
	}
	if !p.Sharing() {
		t.Fatalf("expected sharing")
	}
	if err := p.StopShare(context.Background()); err != nil {
		t.Fatalf("stop share: %v", err)
	}
	if p.Sharing() {
		t.Fatalf("share still active")
	}
}

func TestParticipant_DroppedConnectionEndsRun(t *testing.T) {
	url, stopHub := startServer(t)
	p := start(t, url, "alice")
	eventually(t, "joined", func() bool { return p.Self().SocketID != "" })

	stopHub()

	select {
	case err := <-p.done:
		var opErr *Error
		if !errors.As(err, &opErr) || opErr.Op != "signaling" {
			t.Fatalf("expected signaling op error, got %v", err)
		}
		if !errors.Is(err, signaling.ErrTransport) {
			t.Fatalf("expected ErrTransport, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not notice the drop")
	}
}

func TestStart_Failures(t *testing.T) {
	url, _ := startServer(t)

	t.Run("invalid join", func(t *testing.T) {
		_, err := Start(context.Background(), Config{ServerURL: url, RoomID: "R1"}, media.NewSampleCapturer(), &events{}, logging.Discard())
		if !errors.Is(err, mesh.ErrInvalidJoin) {
			t.Fatalf("expected ErrInvalidJoin, got %v", err)
		}
	})

	t.Run("connect timeout", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		defer ln.Close()
		go func() {
			// Accept and never answer the handshake.
			var held []net.Conn
			for {
				conn, err := ln.Accept()
				if err != nil {
					for _, c := range held {
						c.Close()
					}
					return
				}
				held = append(held, conn)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		cfg := Config{ServerURL: "ws://" + ln.Addr().String() + "/ws", RoomID: "R1", UserID: "alice", Engines: &fakeEngines{name: "a"}}
		_, err = Start(ctx, cfg, media.NewSampleCapturer(), &events{}, logging.Discard())

		var opErr *Error
		if !errors.As(err, &opErr) || opErr.Op != "connect to server" {
			t.Fatalf("expected connect op error, got %v", err)
		}
		if !errors.Is(err, signaling.ErrConnectTimeout) {
			t.Fatalf("expected ErrConnectTimeout, got %v", err)
		}
	})

	t.Run("permission denied", func(t *testing.T) {
		cfg := Config{ServerURL: url, RoomID: "R1", UserID: "alice", Media: media.Constraints{Audio: true}, Engines: &fakeEngines{name: "a"}}
		_, err := Start(context.Background(), cfg, deniedCapturer{}, &events{}, logging.Discard())
		if !errors.Is(err, media.ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied, got %v", err)
		}
	})

	t.Run("missing devices join receive-only", func(t *testing.T) {
		cfg := Config{ServerURL: url, RoomID: "R2", UserID: "alice", Media: media.Constraints{Audio: true}, Engines: &fakeEngines{name: "a"}}
		p, err := Start(context.Background(), cfg, &media.SampleCapturer{}, &events{}, logging.Discard())
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		defer p.Close(context.Background())
		if p.Media().Stream() != nil {
			t.Fatalf("expected no local stream")
		}
	})
}
