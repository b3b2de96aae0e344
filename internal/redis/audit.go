package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	roomTTL       = 24 * time.Hour
	writeTimeout  = 2 * time.Second
	queueSize     = 1024
	eventLogLimit = 500
	historyLimit  = 200
)

// ErrPersistence wraps every redis failure inside the sink. It is only ever
// logged.
var ErrPersistence = errors.New("persistence failure")

func peersKey(roomID string) string    { return "room:" + roomID + ":peers" }
func eventsKey(roomID string) string   { return "room:" + roomID + ":events" }
func messagesKey(roomID string) string { return "room:" + roomID + ":messages" }

// AuditSink records hub events in Redis from a background worker. Record
// never blocks: when the queue is full the event is dropped.
type AuditSink struct {
	client *redis.Client
	log    *slog.Logger
	queue  chan models.AuditEvent

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewAuditSink(client *redis.Client, logger *slog.Logger) *AuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditSink{
		client:  client,
		log:     logger,
		queue:   make(chan models.AuditEvent, queueSize),
		stopped: make(chan struct{}),
	}
}

// Record queues ev for writing.
func (s *AuditSink) Record(ev models.AuditEvent) {
	select {
	case s.queue <- ev:
	default:
		s.log.Warn("audit queue full, dropping event", "kind", ev.Kind, "room_id", ev.RoomID)
	}
}

// Run drains the queue until ctx is cancelled.
func (s *AuditSink) Run(ctx context.Context) {
	defer s.stopOnce.Do(func() { close(s.stopped) })
	for {
		select {
		case ev := <-s.queue:
			if err := s.write(ctx, ev); err != nil {
				s.log.Warn("audit write failed", "kind", ev.Kind, "room_id", ev.RoomID, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed once Run has returned.
func (s *AuditSink) Done() <-chan struct{} {
	return s.stopped
}

func (s *AuditSink) write(ctx context.Context, ev models.AuditEvent) error {
	data, err := msgpack.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersistence, err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, eventsKey(ev.RoomID), data)
	pipe.LTrim(ctx, eventsKey(ev.RoomID), -eventLogLimit, -1)
	pipe.Expire(ctx, eventsKey(ev.RoomID), roomTTL)

	switch ev.Kind {
	case models.AuditMemberJoined:
		if ev.Member != nil {
			pipe.SAdd(ctx, peersKey(ev.RoomID), ev.Member.SocketID)
			pipe.Expire(ctx, peersKey(ev.RoomID), roomTTL)
		}
	case models.AuditMemberLeft:
		if ev.Member != nil {
			pipe.SRem(ctx, peersKey(ev.RoomID), ev.Member.SocketID)
		}
	case models.AuditRoomClosed:
		pipe.Del(ctx, peersKey(ev.RoomID))
	case models.AuditChatMessage:
		if ev.Message != nil {
			msg, err := msgpack.Marshal(ev.Message)
			if err != nil {
				return fmt.Errorf("%w: encode message: %v", ErrPersistence, err)
			}
			pipe.RPush(ctx, messagesKey(ev.RoomID), msg)
			pipe.LTrim(ctx, messagesKey(ev.RoomID), -historyLimit, -1)
			pipe.Expire(ctx, messagesKey(ev.RoomID), roomTTL)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Messages returns up to limit of the most recent chat messages of a room,
// oldest first.
func (s *AuditSink) Messages(ctx context.Context, roomID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}
	raw, err := s.client.LRange(ctx, messagesKey(roomID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	out := make([]models.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg models.ChatMessage
		if err := msgpack.Unmarshal([]byte(item), &msg); err != nil {
			s.log.Warn("skipping undecodable chat message", "room_id", roomID, "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
