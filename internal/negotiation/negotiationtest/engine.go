// Package negotiationtest provides an in-memory Engine that follows the
// offer/answer state machine without any media transport.
package negotiationtest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mossy-p/webrtc-mesh/internal/media"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/negotiation"
)

var (
	ErrClosed          = errors.New("engine closed")
	ErrNoRemote        = errors.New("remote description not set")
	ErrInvalidState    = errors.New("invalid signaling state")
	ErrUnsupportedType = errors.New("unsupported description type")
)

// Engine is a negotiation.Engine whose connection reaches connected as soon
// as an offer/answer exchange completes. Like pion it has no local
// rollback; a remote offer over a pending local offer restarts the
// connection instead.
type Engine struct {
	Name string

	mu          sync.Mutex
	signaling   negotiation.SignalingState
	conn        negotiation.ConnectionState
	local       *models.Description
	remote      *models.Description
	candidates  []models.Candidate
	senders     []media.Sender
	offers      int
	restarts    int
	renegotiate bool
	onState     func(negotiation.ConnectionState)
	onCandidate func(models.Candidate)
	onTrack     func(negotiation.RemoteTrack)
}

func NewEngine(name string) *Engine {
	return &Engine{
		Name:      name,
		signaling: negotiation.StateStable,
		conn:      negotiation.ConnectionNew,
	}
}

func (e *Engine) CreateOffer() (models.Description, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.signaling == negotiation.StateClosed {
		return models.Description{}, ErrClosed
	}
	e.offers++
	return models.Description{Type: models.DescriptionOffer, SDP: fmt.Sprintf("%s-offer-%d", e.Name, e.offers)}, nil
}

func (e *Engine) CreateAnswer() (models.Description, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.signaling != negotiation.StateHaveRemoteOffer {
		return models.Description{}, fmt.Errorf("%w: create answer in %s", ErrInvalidState, e.signaling)
	}
	return models.Description{Type: models.DescriptionAnswer, SDP: e.Name + "-answer-to-" + e.remote.SDP}, nil
}

func (e *Engine) SetLocalDescription(d models.Description) error {
	e.mu.Lock()
	switch {
	case d.Type == models.DescriptionOffer && e.signaling == negotiation.StateStable:
		e.signaling = negotiation.StateHaveLocalOffer
		e.renegotiate = false
	case d.Type == models.DescriptionAnswer && e.signaling == negotiation.StateHaveRemoteOffer:
		e.signaling = negotiation.StateStable
	case d.Type != models.DescriptionOffer && d.Type != models.DescriptionAnswer:
		e.mu.Unlock()
		return fmt.Errorf("%w: local %s", ErrUnsupportedType, d.Type)
	default:
		st := e.signaling
		e.mu.Unlock()
		return fmt.Errorf("%w: local %s in %s", ErrInvalidState, d.Type, st)
	}
	e.local = &d
	connected := d.Type == models.DescriptionAnswer
	e.mu.Unlock()

	if connected {
		e.connect()
	}
	return nil
}

func (e *Engine) SetRemoteDescription(d models.Description) error {
	e.mu.Lock()
	switch d.Type {
	case models.DescriptionOffer:
		if e.signaling == negotiation.StateHaveLocalOffer {
			e.signaling = negotiation.StateStable
			e.local = nil
			e.restarts++
		}
		if e.signaling != negotiation.StateStable {
			st := e.signaling
			e.mu.Unlock()
			return fmt.Errorf("%w: remote offer in %s", ErrInvalidState, st)
		}
		e.signaling = negotiation.StateHaveRemoteOffer
	case models.DescriptionAnswer:
		if e.signaling != negotiation.StateHaveLocalOffer {
			st := e.signaling
			e.mu.Unlock()
			return fmt.Errorf("%w: remote answer in %s", ErrInvalidState, st)
		}
		e.signaling = negotiation.StateStable
	default:
		e.mu.Unlock()
		return ErrUnsupportedType
	}
	e.remote = &d
	connected := d.Type == models.DescriptionAnswer
	e.mu.Unlock()

	if connected {
		e.connect()
	}
	return nil
}

func (e *Engine) connect() {
	e.SetConnectionState(negotiation.ConnectionConnecting)
	e.SetConnectionState(negotiation.ConnectionConnected)
}

func (e *Engine) AddICECandidate(c models.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil {
		return ErrNoRemote
	}
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *Engine) AddTrack(t media.Track) (media.Sender, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.signaling == negotiation.StateClosed {
		return nil, ErrClosed
	}
	s := &Sender{track: t}
	e.senders = append(e.senders, s)
	return s, nil
}

func (e *Engine) Senders() []media.Sender {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]media.Sender(nil), e.senders...)
}

func (e *Engine) NegotiationNeeded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renegotiate && e.signaling == negotiation.StateStable
}

func (e *Engine) SignalingState() negotiation.SignalingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaling
}

func (e *Engine) ConnectionState() negotiation.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
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
	e.mu.Lock()
	if e.signaling == negotiation.StateClosed {
		e.mu.Unlock()
		return nil
	}
	e.signaling = negotiation.StateClosed
	e.mu.Unlock()
	e.SetConnectionState(negotiation.ConnectionClosed)
	return nil
}

// SetConnectionState moves the connection to s and fires the callback.
func (e *Engine) SetConnectionState(s negotiation.ConnectionState) {
	e.mu.Lock()
	e.conn = s
	f := e.onState
	e.mu.Unlock()
	if f != nil {
		f(s)
	}
}

// EmitCandidate fires the local candidate callback.
func (e *Engine) EmitCandidate(c models.Candidate) {
	e.mu.Lock()
	f := e.onCandidate
	e.mu.Unlock()
	if f != nil {
		f(c)
	}
}

// EmitTrack fires the remote track callback.
func (e *Engine) EmitTrack(t negotiation.RemoteTrack) {
	e.mu.Lock()
	f := e.onTrack
	e.mu.Unlock()
	if f != nil {
		f(t)
	}
}

func (e *Engine) Closed() bool {
	return e.SignalingState() == negotiation.StateClosed
}

func (e *Engine) Offers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offers
}

// Restarts counts the local offers discarded for a colliding remote offer.
func (e *Engine) Restarts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restarts
}

// SetNegotiationNeeded marks senders as left out until the next local offer.
func (e *Engine) SetNegotiationNeeded(v bool) {
	e.mu.Lock()
	e.renegotiate = v
	e.mu.Unlock()
}

func (e *Engine) Candidates() []models.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Candidate(nil), e.candidates...)
}

func (e *Engine) LocalDescription() *models.Description {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

func (e *Engine) RemoteDescription() *models.Description {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// Sender is an outgoing slot.
type Sender struct {
	mu    sync.Mutex
	track media.Track
}

func (s *Sender) Track() media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(t media.Track) error {
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

// RemoteTrack is an incoming track that records Stop.
type RemoteTrack struct {
	TrackID   string
	TrackKind media.Kind

	mu      sync.Mutex
	stopped bool
}

func (t *RemoteTrack) ID() string       { return t.TrackID }
func (t *RemoteTrack) Kind() media.Kind { return t.TrackKind }

func (t *RemoteTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *RemoteTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
