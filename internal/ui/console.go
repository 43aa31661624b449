package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/mossy-p/webrtc-meet/internal/models"
	"github.com/mossy-p/webrtc-meet/internal/peer"
	"github.com/mossy-p/webrtc-meet/internal/quality"
	"github.com/mossy-p/webrtc-meet/internal/session"
)

// Console prints session activity as styled lines. It implements
// session.Observer.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	names map[string]string
}

// NewConsole creates a console writing to w
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, names: make(map[string]string)}
}

// Names returns the display names peers have announced
func (c *Console) Names() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.names))
	for k, v := range c.names {
		out[k] = v
	}
	return out
}

// Status prints a session status change
func (c *Console) Status(status session.Status, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch status {
	case session.StatusJoined:
		PrintSuccess(c.w, "joined "+BoldStyle.Render(detail))
	case session.StatusReconnecting:
		PrintWarning(c.w, "reconnecting: "+detail)
	case session.StatusFailed:
		PrintError(c.w, detail)
	case session.StatusClosed:
		PrintInfo(c.w, "left the room")
	default:
		PrintInfo(c.w, status.String()+" "+detail)
	}
}

// Participants prints the room population
func (c *Console) Participants(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s %s\n", IconPeer, MutedStyle.Render(fmt.Sprintf("%d in room", count)))
}

// PeerJoined announces a new participant
func (c *Console) PeerJoined(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s %s joined\n", IconPeer, BoldStyle.Render(user))
}

// PeerLeft announces a departure and forgets the peer's name
func (c *Console) PeerLeft(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.names, user)
	fmt.Fprintf(c.w, "%s %s left\n", IconPeer, MutedStyle.Render(user))
}

// PeerName records the display name a peer announced
func (c *Console) PeerName(user, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[user] = name
}

// Track reports where an inbound track is shown
func (c *Console) Track(user string, sink peer.Sink, track peer.RemoteTrack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	icon := IconPeer
	if sink == peer.SinkContent {
		icon = IconScreen
	}
	fmt.Fprintf(c.w, "%s %s %s track from %s\n", icon, sink, track.Kind, BoldStyle.Render(user))
}

// ContentStopped reports that a peer stopped sharing
func (c *Console) ContentStopped(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s %s stopped sharing\n", IconScreen, BoldStyle.Render(user))
}

// Chat prints a chat line, marking peer-direct ones
func (c *Console) Chat(msg models.ChatMessage, direct bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sender := msg.Sender
	if name := c.names[sender]; name != "" {
		sender = name
	}
	via := ""
	if direct {
		via = MutedStyle.Render(" (direct)")
	}
	fmt.Fprintf(c.w, "%s %s%s %s %s\n",
		IconChat,
		ChatSenderStyle.Render(sender),
		via,
		MutedStyle.Render(msg.Timestamp.Format("15:04")),
		msg.Text,
	)
}

// Error prints a session error
func (c *Console) Error(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	PrintError(c.w, err.Error())
}

// Quality prints the table of the latest quality readings
func (c *Console) Quality(readings []quality.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, QualityTable(readings))
}
