package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mossy-p/webrtc-mesh/internal/models"
)

// ErrStateConflict marks a negotiation step dropped by a state guard. It is
// never an error for the caller; log it and move on.
var ErrStateConflict = errors.New("negotiation state conflict")

// Signaler sends envelopes to the signaling hub.
type Signaler interface {
	Send(ctx context.Context, env models.Envelope) error
}

// Coordinator runs the offer/answer dialogue of every session of one local
// participant. It holds no per-session state of its own.
type Coordinator struct {
	signaler Signaler
	log      *slog.Logger
}

func NewCoordinator(signaler Signaler, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{signaler: signaler, log: logger}
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStateConflict, fmt.Sprintf(format, args...))
}

// CreateOffer generates an offer, applies it locally and sends it to the
// remote peer. It does nothing while another offer or answer is in flight,
// or when the engine is not stable.
func (c *Coordinator) CreateOffer(ctx context.Context, s *Session) error {
	if !s.negotiating.CompareAndSwap(false, true) {
		return conflict("offer to %s: already negotiating", s.RemoteSocketID)
	}
	defer s.negotiating.Store(false)

	if st := s.Engine.SignalingState(); st != StateStable {
		return conflict("offer to %s: signaling state %s", s.RemoteSocketID, st)
	}

	offer, err := s.Engine.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.Engine.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}

	c.log.Debug("sending offer", "to", s.RemoteSocketID, "peer_id", s.RemotePeerID)
	return c.send(ctx, s, models.TypeOffer, models.OfferPayload{Offer: offer})
}

// HandleOffer applies a remote offer and answers it. An offer that collides
// with our own pending offer is accepted only by the polite side. When the
// answer could not carry every local sender, a fresh offer follows.
func (c *Coordinator) HandleOffer(ctx context.Context, s *Session, offer models.Description) error {
	if err := c.answer(ctx, s, offer); err != nil {
		return err
	}
	if s.Engine.NegotiationNeeded() {
		c.log.Debug("senders missing from answer, offering again", "to", s.RemoteSocketID)
		return c.CreateOffer(ctx, s)
	}
	return nil
}

func (c *Coordinator) answer(ctx context.Context, s *Session, offer models.Description) error {
	if !s.negotiating.CompareAndSwap(false, true) {
		return conflict("offer from %s: already negotiating", s.RemoteSocketID)
	}
	defer s.negotiating.Store(false)

	switch st := s.Engine.SignalingState(); st {
	case StateStable:
	case StateHaveLocalOffer:
		if !s.Polite {
			return conflict("offer from %s: glare, keeping local offer", s.RemoteSocketID)
		}
		c.log.Debug("glare, yielding to remote offer", "from", s.RemoteSocketID)
	default:
		return conflict("offer from %s: signaling state %s", s.RemoteSocketID, st)
	}

	if err := s.Engine.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := s.Engine.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.Engine.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}

	c.log.Debug("sending answer", "to", s.RemoteSocketID)
	return c.send(ctx, s, models.TypeAnswer, models.AnswerPayload{Answer: answer})
}

// HandleAnswer applies an answer to our pending offer. Answers in any other
// state are stale and dropped.
func (c *Coordinator) HandleAnswer(_ context.Context, s *Session, answer models.Description) error {
	if st := s.Engine.SignalingState(); st != StateHaveLocalOffer {
		return conflict("answer from %s: signaling state %s", s.RemoteSocketID, st)
	}
	if err := s.Engine.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// HandleCandidate hands a remote candidate to the engine right away.
// Candidates that arrive before a remote description may be rejected.
func (c *Coordinator) HandleCandidate(_ context.Context, s *Session, candidate models.Candidate) error {
	if err := s.Engine.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// Trickle sends a locally gathered candidate to the remote peer.
func (c *Coordinator) Trickle(ctx context.Context, s *Session, candidate models.Candidate) error {
	return c.send(ctx, s, models.TypeICECandidate, models.CandidatePayload{Candidate: candidate})
}

func (c *Coordinator) send(ctx context.Context, s *Session, t models.MessageType, payload any) error {
	env, err := models.NewEnvelope(t, s.RoomID, payload)
	if err != nil {
		return err
	}
	env.TargetPeerID = s.RemotePeerID
	if err := c.signaler.Send(ctx, env); err != nil {
		return fmt.Errorf("send %s: %w", t, err)
	}
	return nil
}
