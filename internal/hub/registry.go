package hub

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/webrtc-mesh/internal/models"
)

// MaxRoomSize is fixed; a full mesh gets expensive quickly past this.
const MaxRoomSize = 10

// Room is the registry entry for one room. A Room with no members is never
// kept in a store.
type Room struct {
	ID        string
	Members   map[string]models.Member // keyed by socket ID
	CreatedAt time.Time
}

func (r *Room) info(withMembers bool) models.RoomInfo {
	info := models.RoomInfo{
		ID:          r.ID,
		CreatedAt:   r.CreatedAt,
		MemberCount: len(r.Members),
	}
	if withMembers {
		info.Members = r.others("")
	}
	return info
}

// others returns the members except exclude, in a stable order.
func (r *Room) others(exclude string) []models.Member {
	out := make([]models.Member, 0, len(r.Members))
	for socketID, m := range r.Members {
		if socketID == exclude {
			continue
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b models.Member) int { return cmp.Compare(a.SocketID, b.SocketID) })
	return out
}

// Departure describes one membership removed by Leave or DisconnectAll.
type Departure struct {
	RoomID     string
	Member     models.Member
	Remaining  []models.Member
	RoomClosed bool
}

// RoomStore is the authoritative membership registry. Implementations are
// not safe for concurrent use; the hub owns its store from a single
// goroutine.
type RoomStore interface {
	// Join admits socketID into roomID and returns the new member record and
	// the members that were already present.
	Join(roomID, userID, socketID string) (models.Member, []models.Member, error)
	// Leave removes socketID from roomID. ok is false when it was not there.
	Leave(roomID, socketID string) (d Departure, ok bool)
	// DisconnectAll removes socketID from every room in one pass.
	DisconnectAll(socketID string) []Departure
	// Member looks up a single membership.
	Member(roomID, socketID string) (models.Member, bool)
	// Others returns every member of roomID except socketID.
	Others(roomID, socketID string) []models.Member
	Room(roomID string) (models.RoomInfo, bool)
	Rooms() []models.RoomInfo
}

// MemoryStore is the in-process RoomStore.
type MemoryStore struct {
	rooms     map[string]*Room
	newPeerID func() string
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:     make(map[string]*Room),
		newPeerID: func() string { return uuid.New().String() },
		now:       time.Now,
	}
}

func (s *MemoryStore) Join(roomID, userID, socketID string) (models.Member, []models.Member, error) {
	if roomID == "" || userID == "" || socketID == "" {
		return models.Member{}, nil, ErrInvalidJoin
	}

	room, exists := s.rooms[roomID]
	if exists {
		if m, ok := room.Members[socketID]; ok {
			return m, room.others(socketID), ErrAlreadyJoined
		}
		if len(room.Members) >= MaxRoomSize {
			return models.Member{}, nil, ErrRoomFull
		}
	} else {
		room = &Room{
			ID:        roomID,
			Members:   make(map[string]models.Member),
			CreatedAt: s.now(),
		}
	}

	existing := room.others(socketID)
	member := models.Member{
		UserID:   userID,
		PeerID:   s.newPeerID(),
		SocketID: socketID,
	}
	room.Members[socketID] = member
	// Rooms are only published once they hold a member.
	s.rooms[roomID] = room
	return member, existing, nil
}

func (s *MemoryStore) Leave(roomID, socketID string) (Departure, bool) {
	room, exists := s.rooms[roomID]
	if !exists {
		return Departure{}, false
	}
	return s.remove(room, socketID)
}

func (s *MemoryStore) DisconnectAll(socketID string) []Departure {
	var out []Departure
	for _, room := range s.rooms {
		if d, ok := s.remove(room, socketID); ok {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b Departure) int { return cmp.Compare(a.RoomID, b.RoomID) })
	return out
}

func (s *MemoryStore) remove(room *Room, socketID string) (Departure, bool) {
	member, ok := room.Members[socketID]
	if !ok {
		return Departure{}, false
	}
	delete(room.Members, socketID)

	d := Departure{RoomID: room.ID, Member: member, Remaining: room.others("")}
	if len(room.Members) == 0 {
		delete(s.rooms, room.ID)
		d.RoomClosed = true
	}
	return d, true
}

func (s *MemoryStore) Member(roomID, socketID string) (models.Member, bool) {
	room, exists := s.rooms[roomID]
	if !exists {
		return models.Member{}, false
	}
	m, ok := room.Members[socketID]
	return m, ok
}

func (s *MemoryStore) Others(roomID, socketID string) []models.Member {
	room, exists := s.rooms[roomID]
	if !exists {
		return nil
	}
	return room.others(socketID)
}

func (s *MemoryStore) Room(roomID string) (models.RoomInfo, bool) {
	room, exists := s.rooms[roomID]
	if !exists {
		return models.RoomInfo{}, false
	}
	return room.info(true), true
}

func (s *MemoryStore) Rooms() []models.RoomInfo {
	out := make([]models.RoomInfo, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, room.info(false))
	}
	slices.SortFunc(out, func(a, b models.RoomInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
