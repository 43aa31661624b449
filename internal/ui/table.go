package ui

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/mossy-p/webrtc-meet/internal/models"
	"github.com/mossy-p/webrtc-meet/internal/quality"
	"github.com/mossy-p/webrtc-meet/internal/session"
)

// RoomView renders the room announcement box
func RoomView(info models.RoomInfo, link string) string {
	content := fmt.Sprintf("%s Room %s\n\n%s Participants: %d",
		IconRoom, BoldStyle.Foreground(Primary).Render(info.Room),
		IconPeer, info.ParticipantCount,
	)
	if link != "" {
		content += fmt.Sprintf("\n%s Link:         %s", IconLink, MutedStyle.Render(link))
	}
	return RoomBoxStyle.Render(content)
}

// QualityTable renders one row per peer with its latest link grade
func QualityTable(readings []quality.Reading) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Peer", "Quality", "RTT", "Loss", "Jitter"})
	for _, r := range readings {
		row := table.Row{r.Peer, LevelStyle(r.Level).Render(r.Level.String()), "-", "-", "-"}
		if r.Sample.Valid {
			row[2] = r.Sample.RTT.Round(time.Millisecond).String()
			row[3] = fmt.Sprintf("%.1f%%", r.Sample.Loss*100)
			row[4] = r.Sample.Jitter.Round(time.Millisecond).String()
		}
		t.AppendRow(row)
	}
	return t.Render()
}

// PeerTable renders the negotiation state of every remote peer. names maps
// peers to the display names they announced.
func PeerTable(peers []session.PeerState, names map[string]string) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Peer", "Name", "State", "Sharing"})
	for _, p := range peers {
		name := names[p.User]
		if name == "" {
			name = p.User
		}
		sharing := ""
		if p.Content != "" {
			sharing = IconScreen + " " + p.Content
		}
		t.AppendRow(table.Row{p.User, name, p.State.String(), sharing})
	}
	if len(peers) == 0 {
		t.AppendRow(table.Row{MutedStyle.Render("nobody else is here"), "", "", ""})
	}
	return t.Render()
}
