// Package rtc implements the negotiation engine on pion/webrtc.
package rtc

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pion/ice/v4"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-mesh/internal/media"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/negotiation"
)

// ErrUnsupportedTrack is returned for local tracks not backed by a pion
// TrackLocal.
var ErrUnsupportedTrack = errors.New("track has no pion source")

type localSource interface {
	TrackLocal() webrtc.TrackLocal
}

// Option adjusts the setting engine shared by a factory's connections.
type Option func(*webrtc.SettingEngine)

// WithLoopback gathers plain loopback candidates over UDP4 only, so peers
// in one process connect without a network interface or multicast.
func WithLoopback() Option {
	return func(s *webrtc.SettingEngine) {
		s.SetIncludeLoopbackCandidate(true)
		s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
		s.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}
}

// Factory builds peer connections that share one API and configuration.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewFactory registers the default codecs and routes pion's internal logs
// through loggerFactory.
func NewFactory(iceServers []webrtc.ICEServer, loggerFactory logging.LoggerFactory, opts ...Option) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: loggerFactory}
	for _, opt := range opts {
		opt(&s)
	}

	return &Factory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s)),
		config: webrtc.Configuration{ICEServers: iceServers},
	}, nil
}

// NewEngine opens a new peer connection.
func (f *Factory) NewEngine() (negotiation.Engine, error) {
	e := &Engine{api: f.api, config: f.config}
	pc, err := e.open()
	if err != nil {
		return nil, err
	}
	e.pc = pc
	return e, nil
}

// Engine adapts a pion PeerConnection. pion cannot roll back a local offer,
// so a remote offer that collides with one replaces the connection with a
// fresh one carrying the same senders. Callbacks only fire for the live
// connection.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration

	mu          sync.Mutex
	pc          *webrtc.PeerConnection
	senders     []*sender
	restarts    int
	onState     func(negotiation.ConnectionState)
	onCandidate func(models.Candidate)
	onTrack     func(negotiation.RemoteTrack)

	// candidates received before a remote description
	candMu  sync.Mutex
	pending []webrtc.ICECandidateInit
}

func toSession(d models.Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func fromSession(d webrtc.SessionDescription) models.Description {
	return models.Description{Type: d.Type.String(), SDP: d.SDP}
}

// open creates a peer connection whose events are forwarded while it is
// the engine's live connection.
func (e *Engine) open() (*webrtc.PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.mu.Lock()
		f := e.onState
		live := e.pc == pc
		e.mu.Unlock()
		if live && f != nil {
			f(negotiation.ConnectionState(s.String()))
		}
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		e.mu.Lock()
		f := e.onCandidate
		live := e.pc == pc
		e.mu.Unlock()
		if !live || f == nil {
			return
		}
		init := c.ToJSON()
		f(models.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
	pc.OnTrack(func(tr *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		e.mu.Lock()
		f := e.onTrack
		live := e.pc == pc
		e.mu.Unlock()
		if live && f != nil {
			f(&remoteTrack{track: tr, receiver: recv})
		}
	})
	return pc, nil
}

func (e *Engine) conn() *webrtc.PeerConnection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pc
}

// restart swaps in a new peer connection, moves every sender onto it and
// closes the old one.
func (e *Engine) restart() error {
	pc, err := e.open()
	if err != nil {
		return err
	}
	e.mu.Lock()
	old := e.pc
	e.pc = pc
	e.restarts++
	senders := slices.Clone(e.senders)
	e.mu.Unlock()

	// old is no longer live, so its closed event goes nowhere.
	_ = old.Close()
	for _, s := range senders {
		if err := s.attach(pc); err != nil {
			return err
		}
	}
	return nil
}

// Restarts counts the connections replaced to accept a colliding offer.
func (e *Engine) Restarts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restarts
}

func (e *Engine) CreateOffer() (models.Description, error) {
	offer, err := e.conn().CreateOffer(nil)
	if err != nil {
		return models.Description{}, err
	}
	return fromSession(offer), nil
}

func (e *Engine) CreateAnswer() (models.Description, error) {
	answer, err := e.conn().CreateAnswer(nil)
	if err != nil {
		return models.Description{}, err
	}
	return fromSession(answer), nil
}

func (e *Engine) SetLocalDescription(d models.Description) error {
	return e.conn().SetLocalDescription(toSession(d))
}

func (e *Engine) SetRemoteDescription(d models.Description) error {
	desc := toSession(d)
	if desc.Type == webrtc.SDPTypeOffer && e.conn().SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if err := e.restart(); err != nil {
			return fmt.Errorf("drop local offer: %w", err)
		}
	}

	e.candMu.Lock()
	defer e.candMu.Unlock()
	pc := e.conn()
	if err := pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	for _, c := range e.pending {
		// stale candidates from a replaced remote connection may not parse
		_ = pc.AddICECandidate(c)
	}
	e.pending = nil
	return nil
}

func (e *Engine) AddICECandidate(c models.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}

	e.candMu.Lock()
	defer e.candMu.Unlock()
	pc := e.conn()
	if pc.RemoteDescription() == nil && pc.ConnectionState() != webrtc.PeerConnectionStateClosed {
		e.pending = append(e.pending, init)
		return nil
	}
	return pc.AddICECandidate(init)
}

func (e *Engine) AddTrack(t media.Track) (media.Sender, error) {
	if _, ok := t.(localSource); !ok {
		return nil, ErrUnsupportedTrack
	}
	s := &sender{kind: codecType(t.Kind()), track: t}
	if err := s.attach(e.conn()); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.senders = append(e.senders, s)
	e.mu.Unlock()
	return s, nil
}

func codecType(k media.Kind) webrtc.RTPCodecType {
	if k == media.KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// drainRTCP reads incoming RTCP so interceptors keep running. It returns
// when the sender is stopped.
func drainRTCP(rtp *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := rtp.Read(buf); err != nil {
			return
		}
	}
}

func (e *Engine) Senders() []media.Sender {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]media.Sender, 0, len(e.senders))
	for _, s := range e.senders {
		out = append(out, s)
	}
	return out
}

// NegotiationNeeded reports whether a sender has no m-line in the current
// descriptions, as happens when an answer is built for an offer that did
// not carry its kind.
func (e *Engine) NegotiationNeeded() bool {
	pc := e.conn()
	if pc.SignalingState() != webrtc.SignalingStateStable {
		return false
	}
	for _, t := range pc.GetTransceivers() {
		if t.Sender() != nil && t.Mid() == "" {
			return true
		}
	}
	return false
}

func (e *Engine) SignalingState() negotiation.SignalingState {
	return negotiation.SignalingState(e.conn().SignalingState().String())
}

func (e *Engine) ConnectionState() negotiation.ConnectionState {
	return negotiation.ConnectionState(e.conn().ConnectionState().String())
}

func (e *Engine) OnConnectionStateChange(f func(negotiation.ConnectionState)) {
	e.mu.Lock()
	e.onState = f
	e.mu.Unlock()
}

func (e *Engine) OnICECandidate(f func(models.Candidate)) {
	e.mu.Lock()
	e.onCandidate = f
	e.mu.Unlock()
}

func (e *Engine) OnTrack(f func(negotiation.RemoteTrack)) {
	e.mu.Lock()
	e.onTrack = f
	e.mu.Unlock()
}

func (e *Engine) Close() error {
	return e.conn().Close()
}

type sender struct {
	kind webrtc.RTPCodecType

	mu    sync.Mutex
	rtp   *webrtc.RTPSender
	track media.Track
}

// attach adds the sender's current track to pc. An emptied sender gets a
// transceiver of its kind with no track so the m-line survives.
func (s *sender) attach(pc *webrtc.PeerConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rtp *webrtc.RTPSender
	if s.track != nil {
		r, err := pc.AddTrack(s.track.(localSource).TrackLocal())
		if err != nil {
			return fmt.Errorf("add %s track: %w", s.track.Kind(), err)
		}
		rtp = r
	} else {
		tr, err := pc.AddTransceiverFromKind(s.kind)
		if err != nil {
			return fmt.Errorf("add %s transceiver: %w", s.kind, err)
		}
		rtp = tr.Sender()
		if err := rtp.ReplaceTrack(nil); err != nil {
			return fmt.Errorf("empty %s sender: %w", s.kind, err)
		}
	}
	go drainRTCP(rtp)
	s.rtp = rtp
	return nil
}

func (s *sender) Track() media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *sender) ReplaceTrack(t media.Track) error {
	var local webrtc.TrackLocal
	if t != nil {
		src, ok := t.(localSource)
		if !ok {
			return ErrUnsupportedTrack
		}
		local = src.TrackLocal()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rtp.ReplaceTrack(local); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	s.track = t
	return nil
}

type remoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (t *remoteTrack) ID() string { return t.track.ID() }

func (t *remoteTrack) Kind() media.Kind {
	if t.track.Kind() == webrtc.RTPCodecTypeAudio {
		return media.KindAudio
	}
	return media.KindVideo
}

func (t *remoteTrack) Stop() {
	_ = t.receiver.Stop()
}

var _ negotiation.Engine = (*Engine)(nil)
