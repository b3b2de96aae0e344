package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mossy-p/webrtc-mesh/config"
	"github.com/mossy-p/webrtc-mesh/internal/app"
	"github.com/mossy-p/webrtc-mesh/internal/logging"
	"github.com/mossy-p/webrtc-mesh/internal/media"
)

var (
	flagRoom     string
	flagUser     string
	flagNoAudio  bool
	flagNoVideo  bool
	flagSTUN     []string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
)

var joinCmd = &cobra.Command{
	Use:     "join",
	Aliases: []string{"j"},
	Short:   "Join a room as a mesh participant",
	Long: `Join a room and keep a peer connection with every other member.

Local media comes from generated sample tracks. Lines typed on stdin are sent
as chat; /help lists the commands.

Examples:
  meshclient join --room standup --user alice
  meshclient join --room standup --user bob --no-video
  meshclient join --room standup --user carol --turn turn:turn.example.org:3478 --turn-user u --turn-pass p`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// controls is the part of a participant the input loop drives.
type controls interface {
	Chat(ctx context.Context, content string) error
	Toggle(kind media.Kind) (bool, error)
	StartShare(ctx context.Context) error
	StopShare(ctx context.Context) error
}

func joinRoom(ctx context.Context, in io.Reader, out io.Writer) error {
	wsURL, err := signalingURL(flagServer)
	if err != nil {
		return err
	}

	ice := config.ICEConfig{
		STUNURLs:       flagSTUN,
		TURNURL:        strings.TrimSpace(flagTURN),
		TURNUsername:   flagTURNUser,
		TURNCredential: flagTURNPass,
	}
	servers, err := ice.Servers()
	if err != nil {
		return fmt.Errorf("ice servers: %w", err)
	}

	logger := logging.Init(flagLogLevel)

	cons := media.Constraints{Audio: !flagNoAudio}
	if !flagNoVideo {
		cons.Video = &media.VideoConstraints{Width: 1280, Height: 720, FrameRate: 30}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := app.Start(ctx, app.Config{
		ServerURL:  wsURL,
		RoomID:     flagRoom,
		UserID:     flagUser,
		ICEServers: servers,
		LogLevel:   flagLogLevel,
		Media:      cons,
	}, media.NewSampleCapturer(), newPrinter(out), logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Close(closeCtx); err != nil {
			logger.Warn("leave failed", "error", err)
		}
	}()

	if stream := p.Media().Stream(); stream != nil {
		if mic, ok := stream.Track(media.KindAudio).(*media.SampleTrack); ok {
			go func() {
				if err := mic.PumpSilence(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("silence pump stopped", "error", err)
				}
			}()
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	PrintInfo(out, "Type /help for commands")
	for {
		select {
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, p, line, out); quit {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// handleLine executes one input line and reports whether to leave.
func handleLine(ctx context.Context, c controls, line string, out io.Writer) bool {
	act, arg := parseLine(line)
	switch act {
	case actionNone:
	case actionChat:
		if err := c.Chat(ctx, arg); err != nil {
			PrintError(out, err.Error())
		}
	case actionMute:
		toggle(c, media.KindAudio, out)
	case actionVideo:
		toggle(c, media.KindVideo, out)
	case actionShare:
		if err := c.StartShare(ctx); err != nil {
			PrintError(out, shareError(err))
			return false
		}
		PrintSuccess(out, "Sharing screen")
	case actionUnshare:
		if err := c.StopShare(ctx); err != nil {
			PrintError(out, err.Error())
			return false
		}
		PrintSuccess(out, "Camera restored")
	case actionHelp:
		fmt.Fprintln(out, MutedStyle.Render(helpText))
	case actionQuit:
		return true
	case actionUnknown:
		PrintWarning(out, "unknown command "+arg+", try /help")
	}
	return false
}

func toggle(c controls, kind media.Kind, out io.Writer) {
	on, err := c.Toggle(kind)
	if err != nil {
		if errors.Is(err, media.ErrNoTrack) {
			PrintWarning(out, fmt.Sprintf("no local %s track", kind))
			return
		}
		PrintError(out, err.Error())
		return
	}
	state := "off"
	if on {
		state = "on"
	}
	PrintInfo(out, fmt.Sprintf("%s %s", kind, state))
}

func shareError(err error) string {
	if errors.Is(err, media.ErrPermissionDenied) {
		return "screen sharing was not allowed"
	}
	return err.Error()
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagRoom, "room", "r", "", "Room to join")
	joinCmd.Flags().StringVarP(&flagUser, "user", "u", "", "User ID announced to the room")
	joinCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "Join without a microphone track")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "Join without a camera track")
	joinCmd.Flags().StringSliceVarP(&flagSTUN, "stun", "s", strings.Split(config.DefaultSTUNURLs, ","), "STUN server URLs")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "TURN server URL")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")

	joinCmd.MarkFlagRequired("room")
	joinCmd.MarkFlagRequired("user")
}
