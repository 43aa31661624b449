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

	"github.com/spf13/cobra"

	"github.com/mossy-p/webrtc-meet/internal/logging"
	"github.com/mossy-p/webrtc-meet/internal/peer"
	"github.com/mossy-p/webrtc-meet/internal/quality"
	"github.com/mossy-p/webrtc-meet/internal/session"
	"github.com/mossy-p/webrtc-meet/internal/signaling"
	"github.com/mossy-p/webrtc-meet/internal/ui"
)

var (
	flagName      string
	flagNoShare   bool
	flagNoQuality bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room by ID or short code",
	Long: `Join a room by ID or short code and stay until interrupted.

Lines typed on stdin are sent as chat. Commands:
  /share        start sharing content
  /stop         stop sharing content
  /dm <text>    send chat directly to peers, bypassing the server
  /peers        list peers and their connection state
  /reconnect    drop every connection and rejoin
  /quit         leave the room`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd, args[0])
	},
}

func init() {
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name in the room")
	joinCmd.Flags().BoolVar(&flagNoShare, "no-share", false, "disable content sharing")
	joinCmd.Flags().BoolVar(&flagNoQuality, "no-quality", false, "do not print connection quality")
	_ = joinCmd.MarkFlagRequired("name")
}

func runJoin(cmd *cobra.Command, room string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Init(cfg.LogLevel, "text")

	api, err := peer.NewAPI(logging.PionLoggerFactory(cfg.LogLevel))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := signaling.Dial(ctx, cfg.ServerURL)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	console := ui.NewConsole(out)

	var display session.DisplaySource
	if !flagNoShare {
		display = &session.StaticDisplay{}
	}

	s := session.New(session.Config{
		Room:      room,
		User:      flagName,
		Transport: client,
		Factory:   peer.NewPionFactory(api, peer.ICEServers(cfg)),
		Media:     &session.StaticMedia{},
		Display:   display,
		Observer:  console,
		Logger:    logger,
	})

	if !flagNoQuality {
		monitor := quality.NewMonitor(s.Stats, cfg.QualityInterval, console.Quality)
		go monitor.Run(ctx)
	}
	go readCommands(ctx, cmd.InOrStdin(), out, s, console)

	return s.Run(ctx)
}

// controller is the part of a session the command loop drives
type controller interface {
	ShareContent(ctx context.Context) (string, error)
	StopContent(ctx context.Context) error
	SendChat(ctx context.Context, text string) error
	SendPeerChat(ctx context.Context, text string) error
	Reconnect(ctx context.Context) error
	Peers(ctx context.Context) ([]session.PeerState, error)
	Leave(ctx context.Context) error
}

var errQuit = errors.New("quit")

func readCommands(ctx context.Context, in io.Reader, out io.Writer, c controller, console *ui.Console) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		err := dispatch(ctx, scanner.Text(), out, c, console.Names)
		switch {
		case errors.Is(err, errQuit):
			return
		case errors.Is(err, session.ErrClosed):
			return
		case err != nil:
			ui.PrintError(out, err.Error())
		}
	}
}

// dispatch runs one line of input
func dispatch(ctx context.Context, line string, out io.Writer, c controller, names func() map[string]string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.SendChat(ctx, line)
	}

	command, arg, _ := strings.Cut(line, " ")
	switch command {
	case "/share":
		id, err := c.ShareContent(ctx)
		if err != nil {
			return err
		}
		ui.PrintSuccess(out, "sharing content "+id)
	case "/stop":
		return c.StopContent(ctx)
	case "/dm":
		return c.SendPeerChat(ctx, arg)
	case "/peers":
		peers, err := c.Peers(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.PeerTable(peers, names()))
	case "/reconnect":
		return c.Reconnect(ctx)
	case "/quit":
		if err := c.Leave(ctx); err != nil {
			return err
		}
		return errQuit
	default:
		return fmt.Errorf("unknown command %s", command)
	}
	return nil
}
