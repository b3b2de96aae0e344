package cli

import "strings"

type action int

const (
	actionNone action = iota
	actionChat
	actionMute
	actionVideo
	actionShare
	actionUnshare
	actionQuit
	actionHelp
	actionUnknown
)

const helpText = `/mute     toggle microphone
/video    toggle camera
/share    share screen instead of camera
/unshare  stop sharing
/quit     leave the room
anything else is sent as chat`

// parseLine turns one line of user input into an action. Chat keeps the
// text; an unknown command keeps its name.
func parseLine(line string) (action, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return actionNone, ""
	}
	if !strings.HasPrefix(line, "/") {
		return actionChat, line
	}

	name, _, _ := strings.Cut(line, " ")
	switch strings.ToLower(name) {
	case "/mute":
		return actionMute, ""
	case "/video":
		return actionVideo, ""
	case "/share":
		return actionShare, ""
	case "/unshare":
		return actionUnshare, ""
	case "/quit", "/exit", "/leave":
		return actionQuit, ""
	case "/help":
		return actionHelp, ""
	default:
		return actionUnknown, name
	}
}
