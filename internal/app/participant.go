// Package app runs one mesh participant: it dials the hub, captures local
// media and keeps a negotiated session with every other room member.
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-mesh/internal/logging"
	"github.com/mossy-p/webrtc-mesh/internal/media"
	"github.com/mossy-p/webrtc-mesh/internal/mesh"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/rtc"
	"github.com/mossy-p/webrtc-mesh/internal/signaling"
)

// Config describes one participant.
type Config struct {
	ServerURL  string
	RoomID     string
	UserID     string
	ICEServers []webrtc.ICEServer
	LogLevel   string
	Media      media.Constraints

	// Engines overrides the pion engine factory.
	Engines mesh.EngineFactory
}

// Participant is a joined mesh member.
type Participant struct {
	signal *signaling.Client
	mesh   *mesh.Manager
	media  *media.Lifecycle
	log    *slog.Logger
}

// Start connects to the hub, acquires local media and asks to join the
// room. Missing or busy devices are not fatal: the participant joins
// receive-only.
func Start(ctx context.Context, cfg Config, capturer media.Capturer, observer mesh.Observer, logger *slog.Logger) (*Participant, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RoomID == "" || cfg.UserID == "" {
		return nil, newError("join room", mesh.ErrInvalidJoin)
	}

	engines := cfg.Engines
	if engines == nil {
		factory, err := rtc.NewFactory(cfg.ICEServers, logging.PionFactory(cfg.LogLevel))
		if err != nil {
			return nil, newError("create peer connection factory", err)
		}
		engines = factory
	}

	client, err := signaling.Dial(ctx, cfg.ServerURL, logger.With("component", "signaling"))
	if err != nil {
		return nil, newError("connect to server", err)
	}

	m := mesh.New(engines, client, observer, logger.With("component", "mesh"))
	p := &Participant{
		signal: client,
		mesh:   m,
		media:  media.NewLifecycle(capturer, m, logger.With("component", "media")),
		log:    logger,
	}

	if cfg.Media.Audio || cfg.Media.Video != nil {
		if _, err := p.media.AcquireLocalMedia(ctx, cfg.Media); err != nil {
			if !media.IsDeviceUnavailable(err) {
				client.Close()
				return nil, newError("acquire local media", err)
			}
			logger.Warn("joining without local media", "error", err)
		}
	}

	if err := m.Join(ctx, cfg.RoomID, cfg.UserID); err != nil {
		p.media.Release()
		client.Close()
		return nil, newError("join room", err)
	}
	return p, nil
}

// Run feeds hub messages to the mesh until ctx is done or the connection
// ends. A dropped connection is returned as an error; a local Close is not.
func (p *Participant) Run(ctx context.Context) error {
	incoming := p.signal.Incoming()
	for {
		select {
		case env, ok := <-incoming:
			if !ok {
				if err := p.signal.Err(); err != nil {
					return newError("signaling", err)
				}
				return nil
			}
			if err := p.mesh.Handle(ctx, env); err != nil {
				p.log.Warn("failed to handle message", "type", env.Type, "error", err)
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// Close leaves the room, releases local media and hangs up.
func (p *Participant) Close(ctx context.Context) error {
	err := p.mesh.Leave(ctx)
	if errors.Is(err, signaling.ErrClosed) || errors.Is(err, signaling.ErrTransport) {
		err = nil
	}
	p.media.Release()
	p.signal.Close()
	if err != nil {
		return newError("leave room", err)
	}
	return nil
}

// Chat sends a line to the room.
func (p *Participant) Chat(ctx context.Context, content string) error {
	if err := p.mesh.SendChat(ctx, content); err != nil {
		return newError("send message", err)
	}
	return nil
}

// Toggle flips the local track of kind and returns whether it is now on.
func (p *Participant) Toggle(kind media.Kind) (bool, error) {
	enabled, err := p.media.ToggleTrack(kind)
	if err != nil {
		return false, newError("toggle "+string(kind), err)
	}
	return enabled, nil
}

// StartShare swaps camera video for a display capture.
func (p *Participant) StartShare(ctx context.Context) error {
	if err := p.media.StartSourceShare(ctx); err != nil {
		return newError("start share", err)
	}
	return nil
}

// StopShare puts camera video back.
func (p *Participant) StopShare(ctx context.Context) error {
	if err := p.media.StopSourceShare(ctx); err != nil {
		return newError("stop share", err)
	}
	return nil
}

func (p *Participant) Sharing() bool           { return p.media.Sharing() }
func (p *Participant) Self() models.Member     { return p.mesh.Self() }
func (p *Participant) Mesh() *mesh.Manager     { return p.mesh }
func (p *Participant) Media() *media.Lifecycle { return p.media }
