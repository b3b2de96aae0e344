// Package mesh keeps one negotiated session per remote room member and
// fans local media out to all of them.
package mesh

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/mossy-p/webrtc-mesh/internal/media"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/negotiation"
)

var (
	ErrInvalidJoin   = errors.New("room id and user id are required")
	ErrAlreadyInRoom = errors.New("already in another room")
	ErrNotInRoom     = errors.New("not in a room")
)

// EngineFactory opens one engine per remote participant.
type EngineFactory interface {
	NewEngine() (negotiation.Engine, error)
}

// Observer is told about everything the user should see. Calls may come
// from engine goroutines.
type Observer interface {
	RoomJoined(self models.Member, others []models.Member)
	PeerJoined(remote models.Member)
	RemoteTrack(socketID string, track negotiation.RemoteTrack)
	RemoteGone(socketID, userID string)
	ChatMessage(msg models.ChatMessage)
	Error(message string)
}

type handlerFunc func(ctx context.Context, env models.Envelope) error

// Manager is the local participant's view of the mesh.
type Manager struct {
	engines  EngineFactory
	signaler negotiation.Signaler
	coord    *negotiation.Coordinator
	observer Observer
	log      *slog.Logger
	handlers map[models.MessageType]handlerFunc

	mu       sync.Mutex
	roomID   string
	userID   string
	self     models.Member
	sessions map[string]*negotiation.Session
	tracks   []media.Track
}

func New(engines EngineFactory, signaler negotiation.Signaler, observer Observer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		engines:  engines,
		signaler: signaler,
		coord:    negotiation.NewCoordinator(signaler, logger),
		observer: observer,
		log:      logger,
		sessions: make(map[string]*negotiation.Session),
	}
	m.handlers = map[models.MessageType]handlerFunc{
		models.TypeRoomJoined:   m.handleRoomJoined,
		models.TypeUserJoined:   m.handleUserJoined,
		models.TypeUserLeft:     m.handleUserLeft,
		models.TypeOffer:        m.handleOffer,
		models.TypeAnswer:       m.handleAnswer,
		models.TypeICECandidate: m.handleCandidate,
		models.TypeNewMessage:   m.handleChat,
		models.TypeError:        m.handleError,
	}
	return m
}

// Self is the local member record, known once room-joined arrived.
func (m *Manager) Self() models.Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

func (m *Manager) RoomID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID
}

// Session returns the session for a remote socket.
func (m *Manager) Session(socketID string) (*negotiation.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[socketID]
	return s, ok
}

// Sessions returns every session ordered by remote socket ID.
func (m *Manager) Sessions() []*negotiation.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionList()
}

// sessionList must be called with mu held.
func (m *Manager) sessionList() []*negotiation.Session {
	out := make([]*negotiation.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *negotiation.Session) int {
		return cmp.Compare(a.RemoteSocketID, b.RemoteSocketID)
	})
	return out
}

// Join asks the hub to admit us to roomID.
func (m *Manager) Join(ctx context.Context, roomID, userID string) error {
	if roomID == "" || userID == "" {
		return ErrInvalidJoin
	}
	m.mu.Lock()
	if m.roomID != "" && m.roomID != roomID {
		current := m.roomID
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyInRoom, current)
	}
	m.roomID = roomID
	m.userID = userID
	m.mu.Unlock()

	env, err := models.NewEnvelope(models.TypeJoinRoom, roomID, models.JoinRoomPayload{RoomID: roomID, UserID: userID})
	if err != nil {
		return err
	}
	return m.signaler.Send(ctx, env)
}

// Leave tears down every session, then tells the hub. Sessions are closed
// before it returns.
func (m *Manager) Leave(ctx context.Context) error {
	m.mu.Lock()
	roomID := m.roomID
	sessions := m.sessionList()
	m.sessions = make(map[string]*negotiation.Session)
	m.roomID = ""
	m.self = models.Member{}
	m.mu.Unlock()

	if roomID == "" {
		return nil
	}
	for _, s := range sessions {
		m.closeSession(s, "leaving")
	}

	env, err := models.NewEnvelope(models.TypeLeaveRoom, roomID, models.LeaveRoomPayload{RoomID: roomID})
	if err != nil {
		return err
	}
	return m.signaler.Send(ctx, env)
}

// SendChat posts a chat line to the current room.
func (m *Manager) SendChat(ctx context.Context, content string) error {
	m.mu.Lock()
	roomID, userID := m.roomID, m.userID
	m.mu.Unlock()
	if roomID == "" {
		return ErrNotInRoom
	}

	env, err := models.NewEnvelope(models.TypeSendMessage, roomID, models.ChatPayload{UserID: userID, RoomID: roomID, Content: content})
	if err != nil {
		return err
	}
	return m.signaler.Send(ctx, env)
}

// Handle processes one envelope from the hub. Negotiation conflicts and
// messages meant for other peers are logged, not returned.
func (m *Manager) Handle(ctx context.Context, env models.Envelope) error {
	h, ok := m.handlers[env.Type]
	if !ok {
		m.log.Debug("ignoring message", "type", env.Type)
		return nil
	}
	return m.quiet(h(ctx, env))
}

func (m *Manager) quiet(err error) error {
	if errors.Is(err, negotiation.ErrStateConflict) {
		m.log.Debug("negotiation step dropped", "reason", err)
		return nil
	}
	return err
}

func (m *Manager) handleRoomJoined(ctx context.Context, env models.Envelope) error {
	var p models.RoomJoinedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}

	m.mu.Lock()
	if m.roomID == "" || m.roomID != p.RoomID {
		m.mu.Unlock()
		m.log.Warn("room-joined for a room we did not ask for", "room_id", p.RoomID)
		return nil
	}
	m.self = models.Member{UserID: m.userID, PeerID: p.PeerID, SocketID: p.SocketID}
	self := m.self
	m.mu.Unlock()

	m.log.Info("joined room", "room_id", p.RoomID, "peer_id", p.PeerID, "members", len(p.Users))
	m.observer.RoomJoined(self, p.Users)

	var errs []error
	for _, u := range p.Users {
		errs = append(errs, m.connect(ctx, u))
	}
	return errors.Join(errs...)
}

func (m *Manager) handleUserJoined(ctx context.Context, env models.Envelope) error {
	var u models.Member
	if err := env.Decode(&u); err != nil {
		return err
	}
	if u.SocketID == m.Self().SocketID {
		return nil
	}
	m.observer.PeerJoined(u)
	return m.connect(ctx, u)
}

// connect creates the session for remote, attaches local tracks and sends
// the first offer. A second call for the same socket does nothing.
func (m *Manager) connect(ctx context.Context, remote models.Member) error {
	m.mu.Lock()
	if m.roomID == "" {
		m.mu.Unlock()
		return nil
	}
	if _, ok := m.sessions[remote.SocketID]; ok {
		m.mu.Unlock()
		m.log.Debug("session already exists", "socket_id", remote.SocketID)
		return nil
	}
	engine, err := m.engines.NewEngine()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("open connection to %s: %w", remote.SocketID, err)
	}
	s := negotiation.NewSession(m.roomID, remote, engine, true)
	// The lower socket ID yields on glare; both sides compute the same answer.
	s.Polite = m.self.SocketID < remote.SocketID
	m.sessions[remote.SocketID] = s
	tracks := slices.Clone(m.tracks)
	m.mu.Unlock()

	m.wire(s)
	for _, t := range tracks {
		if _, err := engine.AddTrack(t); err != nil {
			m.log.Warn("failed to attach local track", "socket_id", remote.SocketID, "track_id", t.ID(), "error", err)
		}
	}

	m.log.Info("peer session created", "socket_id", remote.SocketID, "user_id", remote.UserID, "polite", s.Polite)
	return m.quiet(m.coord.CreateOffer(ctx, s))
}

func (m *Manager) wire(s *negotiation.Session) {
	s.Engine.OnICECandidate(func(c models.Candidate) {
		if err := m.coord.Trickle(context.Background(), s, c); err != nil {
			m.log.Warn("failed to send candidate", "socket_id", s.RemoteSocketID, "error", err)
		}
	})
	s.Engine.OnTrack(func(t negotiation.RemoteTrack) {
		if s.AddRemoteTrack(t) {
			m.log.Info("remote track", "socket_id", s.RemoteSocketID, "kind", t.Kind(), "track_id", t.ID())
			m.observer.RemoteTrack(s.RemoteSocketID, t)
		}
	})
	s.Engine.OnConnectionStateChange(func(st negotiation.ConnectionState) {
		m.log.Debug("connection state", "socket_id", s.RemoteSocketID, "state", st)
		if st.Terminal() {
			m.drop(s, string(st))
		}
	})
}

// drop removes s if it is still the session for its socket.
func (m *Manager) drop(s *negotiation.Session, reason string) {
	m.mu.Lock()
	if m.sessions[s.RemoteSocketID] != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.RemoteSocketID)
	m.mu.Unlock()
	m.closeSession(s, reason)
}

func (m *Manager) closeSession(s *negotiation.Session, reason string) {
	if err := s.Close(); err != nil {
		m.log.Warn("failed to close connection", "socket_id", s.RemoteSocketID, "error", err)
	}
	m.log.Info("peer session closed", "socket_id", s.RemoteSocketID, "user_id", s.RemoteUserID, "reason", reason)
	m.observer.RemoteGone(s.RemoteSocketID, s.RemoteUserID)
}

func (m *Manager) handleUserLeft(_ context.Context, env models.Envelope) error {
	var p models.UserLeftPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	m.mu.Lock()
	s, ok := m.sessions[p.SocketID]
	m.mu.Unlock()
	if ok {
		m.drop(s, "left")
	}
	return nil
}

// target resolves the session a relayed message belongs to. Relay is a
// room-wide broadcast, so messages addressed to another peer are skipped.
func (m *Manager) target(env models.Envelope) (*negotiation.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if env.TargetPeerID != "" && env.TargetPeerID != m.self.PeerID {
		return nil, false
	}
	s, ok := m.sessions[env.From]
	if !ok {
		m.log.Debug("no session for sender, dropping", "type", env.Type, "from", env.From)
	}
	return s, ok
}

func (m *Manager) handleOffer(ctx context.Context, env models.Envelope) error {
	s, ok := m.target(env)
	if !ok {
		return nil
	}
	var p models.OfferPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	return m.coord.HandleOffer(ctx, s, p.Offer)
}

func (m *Manager) handleAnswer(ctx context.Context, env models.Envelope) error {
	s, ok := m.target(env)
	if !ok {
		return nil
	}
	var p models.AnswerPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	return m.coord.HandleAnswer(ctx, s, p.Answer)
}

func (m *Manager) handleCandidate(ctx context.Context, env models.Envelope) error {
	s, ok := m.target(env)
	if !ok {
		return nil
	}
	var p models.CandidatePayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if err := m.coord.HandleCandidate(ctx, s, p.Candidate); err != nil {
		m.log.Warn("candidate rejected", "from", env.From, "error", err)
	}
	return nil
}

func (m *Manager) handleChat(_ context.Context, env models.Envelope) error {
	var msg models.ChatMessage
	if err := env.Decode(&msg); err != nil {
		return err
	}
	m.observer.ChatMessage(msg)
	return nil
}

func (m *Manager) handleError(_ context.Context, env models.Envelope) error {
	var p models.ErrorPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	m.log.Warn("hub error", "message", p.Message)
	m.observer.Error(p.Message)
	return nil
}
