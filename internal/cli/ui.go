package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/negotiation"
)

// Color palette
var (
	Primary   = lipgloss.Color("#22d3ee")
	Secondary = lipgloss.Color("#7C3AED")
	Success   = lipgloss.Color("#10B981")
	Warning   = lipgloss.Color("#F59E0B")
	Error     = lipgloss.Color("#EF4444")
	Muted     = lipgloss.Color("#6B7280")
)

var (
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	UserStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	RoomBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(0, 2)
)

const (
	IconSuccess = "✅"
	IconError   = "❌"
	IconWarning = "⚠️"
	IconInfo    = "ℹ️"
	IconPeer    = "👤"
	IconLeft    = "👋"
	IconTrack   = "🎥"
	IconChat    = "💬"
)

func PrintError(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintWarning(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", WarningStyle.Render(IconWarning), WarningStyle.Render(msg))
}

func PrintSuccess(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", SuccessStyle.Render(IconSuccess), msg)
}

func PrintInfo(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", IconInfo, msg)
}

// printer renders mesh events as terminal lines. Engine callbacks come from
// several goroutines, so writes are serialized.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) RoomJoined(self models.Member, others []models.Member) {
	p.mu.Lock()
	defer p.mu.Unlock()
	content := fmt.Sprintf("Joined %s as %s\n%s",
		UserStyle.Render(self.UserID),
		MutedStyle.Render(self.SocketID),
		MutedStyle.Render(fmt.Sprintf("%d other participant(s)", len(others))))
	fmt.Fprintln(p.w, RoomBoxStyle.Render(content))
}

func (p *printer) PeerJoined(remote models.Member) {
	p.line("%s %s joined", IconPeer, UserStyle.Render(remote.UserID))
}

func (p *printer) RemoteTrack(socketID string, track negotiation.RemoteTrack) {
	p.line("%s receiving %s from %s", IconTrack, track.Kind(), MutedStyle.Render(socketID))
}

func (p *printer) RemoteGone(_ string, userID string) {
	p.line("%s %s left", IconLeft, UserStyle.Render(userID))
}

func (p *printer) ChatMessage(msg models.ChatMessage) {
	p.line("%s %s %s: %s", MutedStyle.Render(msg.Timestamp.Local().Format(time.TimeOnly)),
		IconChat, UserStyle.Render(msg.UserID), msg.Content)
}

func (p *printer) Error(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	PrintError(p.w, message)
}
