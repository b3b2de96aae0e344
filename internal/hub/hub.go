package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/webrtc-mesh/internal/models"
)

type inbound struct {
	client *Client
	env    models.Envelope
}

type handlerFunc func(c *Client, env models.Envelope) error

// Hub is the signaling relay. Run owns the room store and the client table;
// everything else talks to it over channels, so neither needs locking.
type Hub struct {
	store RoomStore
	audit AuditSink
	log   *slog.Logger
	now   func() time.Time

	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	queries    chan func(RoomStore)
	done       chan struct{}

	handlers map[models.MessageType]handlerFunc
}

// New builds a hub. A nil audit sink disables the audit trail.
func New(store RoomStore, audit AuditSink, logger *slog.Logger) *Hub {
	if audit == nil {
		audit = NopAuditSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		store:      store,
		audit:      audit,
		log:        logger,
		now:        time.Now,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		queries:    make(chan func(RoomStore)),
		done:       make(chan struct{}),
	}
	h.handlers = map[models.MessageType]handlerFunc{
		models.TypeJoinRoom:     h.handleJoin,
		models.TypeLeaveRoom:    h.handleLeave,
		models.TypeSendMessage:  h.handleChat,
		models.TypeOffer:        h.handleRelay,
		models.TypeAnswer:       h.handleRelay,
		models.TypeICECandidate: h.handleRelay,
	}
	return h
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clients[client.ID] = client
			h.log.Debug("client registered", "socket_id", client.ID)

		case client := <-h.unregister:
			h.disconnect(client)

		case in := <-h.inbound:
			h.dispatch(in.client, in.env)

		case query := <-h.queries:
			query(h.store)

		case <-ctx.Done():
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			return
		}
	}
}

// Register adds a connected client. It returns false once the hub stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from every room it joined. It is the cleanup
// path for dropped transports as well as orderly closes.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch hands a client envelope to the hub goroutine.
func (h *Hub) Dispatch(c *Client, env models.Envelope) {
	select {
	case h.inbound <- inbound{client: c, env: env}:
	case <-h.done:
	}
}

// Rooms returns a snapshot of every room.
func (h *Hub) Rooms(ctx context.Context) ([]models.RoomInfo, error) {
	var rooms []models.RoomInfo
	err := h.query(ctx, func(s RoomStore) { rooms = s.Rooms() })
	return rooms, err
}

// Room returns a snapshot of one room including its members.
func (h *Hub) Room(ctx context.Context, roomID string) (models.RoomInfo, bool, error) {
	var (
		info models.RoomInfo
		ok   bool
	)
	err := h.query(ctx, func(s RoomStore) { info, ok = s.Room(roomID) })
	return info, ok, err
}

func (h *Hub) query(ctx context.Context, fn func(RoomStore)) error {
	finished := make(chan struct{})
	wrapped := func(s RoomStore) {
		fn(s)
		close(finished)
	}

	select {
	case h.queries <- wrapped:
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (h *Hub) dispatch(c *Client, env models.Envelope) {
	handler, ok := h.handlers[env.Type]
	if !ok {
		h.log.Warn("unknown message type", "type", env.Type, "socket_id", c.ID)
		return
	}
	if err := handler(c, env); err != nil {
		h.log.Info("request rejected", "type", env.Type, "socket_id", c.ID, "error", err)
		h.sendError(c, clientMessage(err))
	}
}

func (h *Hub) handleJoin(c *Client, env models.Envelope) error {
	var req models.JoinRoomPayload
	if err := env.Decode(&req); err != nil {
		return ErrInvalidJoin
	}
	if req.RoomID == "" {
		req.RoomID = env.RoomID
	}

	member, existing, err := h.store.Join(req.RoomID, req.UserID, c.ID)
	switch {
	case errors.Is(err, ErrAlreadyJoined):
		h.send(c, models.TypeRoomJoined, req.RoomID, roomJoined(req.RoomID, member, existing))
		return nil
	case err != nil:
		return err
	}

	h.log.Info("member joined", "room_id", req.RoomID, "user_id", member.UserID,
		"socket_id", c.ID, "members", len(existing)+1)

	h.send(c, models.TypeRoomJoined, req.RoomID, roomJoined(req.RoomID, member, existing))
	h.broadcast(existing, models.TypeUserJoined, req.RoomID, member)
	h.audit.Record(models.AuditEvent{Kind: models.AuditMemberJoined, RoomID: req.RoomID, Member: &member, At: h.now()})
	return nil
}

func roomJoined(roomID string, member models.Member, existing []models.Member) models.RoomJoinedPayload {
	if existing == nil {
		existing = []models.Member{}
	}
	return models.RoomJoinedPayload{
		RoomID:   roomID,
		PeerID:   member.PeerID,
		SocketID: member.SocketID,
		Users:    existing,
	}
}

func (h *Hub) handleLeave(c *Client, env models.Envelope) error {
	roomID := env.RoomID
	var req models.LeaveRoomPayload
	if len(env.Payload) > 0 && env.Decode(&req) == nil && req.RoomID != "" {
		roomID = req.RoomID
	}

	if d, ok := h.store.Leave(roomID, c.ID); ok {
		h.announceDeparture(d)
	}
	return nil
}

func (h *Hub) disconnect(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	for _, d := range h.store.DisconnectAll(c.ID) {
		h.announceDeparture(d)
	}
	delete(h.clients, c.ID)
	close(c.send)
	h.log.Debug("client unregistered", "socket_id", c.ID)
}

func (h *Hub) announceDeparture(d Departure) {
	h.log.Info("member left", "room_id", d.RoomID, "user_id", d.Member.UserID,
		"socket_id", d.Member.SocketID, "members", len(d.Remaining))

	h.broadcast(d.Remaining, models.TypeUserLeft, d.RoomID, models.UserLeftPayload{
		UserID:   d.Member.UserID,
		SocketID: d.Member.SocketID,
	})

	member := d.Member
	h.audit.Record(models.AuditEvent{Kind: models.AuditMemberLeft, RoomID: d.RoomID, Member: &member, At: h.now()})
	if d.RoomClosed {
		h.log.Info("removed empty room", "room_id", d.RoomID)
		h.audit.Record(models.AuditEvent{Kind: models.AuditRoomClosed, RoomID: d.RoomID, At: h.now()})
	}
}

// handleRelay forwards offer/answer/ice-candidate to the whole room. The
// payload is never inspected and TargetPeerID is passed through for the
// receivers to filter on.
func (h *Hub) handleRelay(c *Client, env models.Envelope) error {
	if _, ok := h.store.Member(env.RoomID, c.ID); !ok {
		h.log.Warn("dropping relay from non-member", "type", env.Type, "room_id", env.RoomID, "socket_id", c.ID)
		return nil
	}

	env.From = c.ID
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("failed to marshal message", "error", err)
		return nil
	}
	for _, m := range h.store.Others(env.RoomID, c.ID) {
		h.deliver(m.SocketID, data)
	}
	return nil
}

func (h *Hub) handleChat(c *Client, env models.Envelope) error {
	var req models.ChatPayload
	if err := env.Decode(&req); err != nil {
		return ErrEmptyMessage
	}
	if req.RoomID == "" {
		req.RoomID = env.RoomID
	}

	member, ok := h.store.Member(req.RoomID, c.ID)
	if !ok {
		return ErrNotMember
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return ErrEmptyMessage
	}

	msg := models.ChatMessage{
		ID:        uuid.New().String(),
		RoomID:    req.RoomID,
		UserID:    member.UserID,
		SocketID:  c.ID,
		Content:   content,
		Timestamp: h.now().UTC(),
	}
	h.broadcast(h.store.Others(req.RoomID, ""), models.TypeNewMessage, req.RoomID, msg)
	h.audit.Record(models.AuditEvent{Kind: models.AuditChatMessage, RoomID: req.RoomID, Message: &msg, At: msg.Timestamp})
	return nil
}

func (h *Hub) broadcast(to []models.Member, t models.MessageType, roomID string, payload any) {
	if len(to) == 0 {
		return
	}
	data, err := encode(t, roomID, payload)
	if err != nil {
		h.log.Error("failed to marshal message", "type", t, "error", err)
		return
	}
	for _, m := range to {
		h.deliver(m.SocketID, data)
	}
}

func (h *Hub) send(c *Client, t models.MessageType, roomID string, payload any) {
	data, err := encode(t, roomID, payload)
	if err != nil {
		h.log.Error("failed to marshal message", "type", t, "error", err)
		return
	}
	c.enqueue(data, h.log)
}

func (h *Hub) sendError(c *Client, message string) {
	h.send(c, models.TypeError, "", models.ErrorPayload{Message: message})
}

func (h *Hub) deliver(socketID string, data []byte) {
	client, ok := h.clients[socketID]
	if !ok {
		return
	}
	client.enqueue(data, h.log)
}

func encode(t models.MessageType, roomID string, payload any) ([]byte, error) {
	env, err := models.NewEnvelope(t, roomID, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
