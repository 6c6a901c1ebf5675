package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/BioHazard786/ShareAudio/internal/session"
	"github.com/BioHazard786/ShareAudio/internal/utils"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SessionSummary is what the CLI prints once a room is left.
type SessionSummary struct {
	Role           session.Role
	RoomID         session.RoomID
	Duration       time.Duration
	PeakListeners  int
	TotalListeners int
	MuteToggles    int
	Recording      string
	Packets        int64
}

// SessionSummaryView renders the summary as a go-pretty table.
func SessionSummaryView(s SessionSummary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.SetTitle(IconComplete + " Session Summary")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"Role", s.Role.String()})
	t.AppendRow(table.Row{"Room", string(s.RoomID)})
	t.AppendRow(table.Row{"Duration", utils.FormatTimeDuration(s.Duration)})

	switch s.Role {
	case session.RoleHost:
		t.AppendRow(table.Row{"Peak Listeners", s.PeakListeners})
		t.AppendRow(table.Row{"Total Listeners", s.TotalListeners})
		t.AppendRow(table.Row{"Mute Toggles", s.MuteToggles})
	case session.RoleListener:
		if s.Recording != "" {
			t.AppendRow(table.Row{"Recording", utils.TruncateString(s.Recording, 40)})
			t.AppendRow(table.Row{"RTP Packets", s.Packets})
		}
	}
	return t.Render()
}

func RenderSessionSummary(w io.Writer, s SessionSummary) {
	fmt.Fprintln(w, SessionSummaryView(s))
}
