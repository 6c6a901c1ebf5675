package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/ShareAudio/internal/session"
	"github.com/BioHazard786/ShareAudio/internal/utils"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

func styledTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

func stateStyle(state session.State) lipgloss.Style {
	switch state {
	case session.StateConnected:
		return SuccessStyle
	case session.StateNegotiating, session.StateNew:
		return WarningStyle
	case session.StateDisconnected, session.StateClosed:
		return ErrorStyle
	default:
		return MutedStyle
	}
}

// ListenerTableView renders one row per peer session, oldest first.
func ListenerTableView(infos []session.SessionInfo, now time.Time) string {
	if len(infos) == 0 {
		return MutedStyle.Render(IconWaiting + " No listeners yet")
	}

	rows := make([][]string, 0, len(infos))
	for i, info := range infos {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			utils.TruncateString(string(info.Peer), 24),
			stateStyle(info.State).Render(info.State.String()),
			utils.FormatTimeDuration(now.Sub(info.Since)),
		})
	}
	return styledTable([]string{"#", "Peer", "State", "Age"}, rows).Render()
}

type RoomInfo struct {
	RoomID   session.RoomID
	RoomLink string
}

func NewRoomInfo(roomID session.RoomID, roomLink string) *RoomInfo {
	return &RoomInfo{
		RoomID:   roomID,
		RoomLink: roomLink,
	}
}

func (r *RoomInfo) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Room is live!\n\n", IconHost)
	fmt.Fprintf(&b, "%s Room Code:  %s\n", IconCopy, BoldStyle.Foreground(Primary).Render(string(r.RoomID)))
	fmt.Fprintf(&b, "%s Room Link:  %s\n\n", IconWeb, MutedStyle.Render(r.RoomLink))
	fmt.Fprintf(&b, "%s Listen with: %s", IconListen, BoldStyle.Render("shareaudio listen "+string(r.RoomID)))
	return RoomBoxStyle.Render(b.String())
}
