package hub

import "errors"

var (
	ErrRoomFull      = errors.New("room is full")
	ErrInvalidJoin   = errors.New("roomId and userId are required")
	ErrAlreadyJoined = errors.New("already joined")
	ErrNotMember     = errors.New("not a member of room")
	ErrEmptyMessage  = errors.New("message content is required")

	ErrStopped = errors.New("hub stopped")
)

// clientMessage is the text a client sees in an error event. No
// machine-readable code is sent.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrRoomFull):
		return "Room is full"
	case errors.Is(err, ErrInvalidJoin):
		return "Room ID and user ID are required"
	case errors.Is(err, ErrNotMember):
		return "You must join the room first"
	case errors.Is(err, ErrEmptyMessage):
		return "Message content is required"
	default:
		return "Invalid request"
	}
}
