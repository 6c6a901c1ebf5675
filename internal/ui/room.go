package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/ShareAudio/internal/media"
	"github.com/BioHazard786/ShareAudio/internal/session"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// RoomOptions configures a RoomUI.
type RoomOptions struct {
	Role     session.Role
	RoomID   session.RoomID
	RoomLink string

	// OnToggleMute is called with the requested state when the host presses m.
	OnToggleMute func(muted bool)

	Output io.Writer
	Input  io.Reader
}

// RoomStats accumulates what the room UI saw while it ran.
type RoomStats struct {
	Started        time.Time
	PeakListeners  int
	TotalConnected int
	MuteToggles    int
}

// RoomUI is a live terminal view of a room. It implements session.Observer
// so it can be handed straight to a Manager.
type RoomUI struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once

	mu    sync.Mutex
	stats RoomStats
	seen  map[session.PeerID]bool
}

type (
	peerStateMsg struct {
		peer  session.PeerID
		state session.State
		at    time.Time
	}
	listenerCountMsg int
	hostMuteMsg      bool
	streamMsg        struct {
		peer  session.PeerID
		codec string
	}
)

// NewRoomUI builds the UI. Nothing is drawn until Start.
func NewRoomUI(opts RoomOptions) *RoomUI {
	var progOpts []tea.ProgramOption
	if opts.Output != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Output))
	}
	if opts.Input != nil {
		progOpts = append(progOpts, tea.WithInput(opts.Input))
	}

	return &RoomUI{
		program: tea.NewProgram(newRoomModel(opts), progOpts...),
		done:    make(chan struct{}),
		stats:   RoomStats{Started: time.Now()},
		seen:    make(map[session.PeerID]bool),
	}
}

// Start runs the program in a goroutine. Done is closed when it exits,
// either because the user quit or Stop was called.
func (ui *RoomUI) Start() {
	go func() {
		defer close(ui.done)
		// Inline mode keeps the room box printed above visible.
		if _, err := ui.program.Run(); err != nil {
			PrintErrorf("UI error: %v", err)
		}
	}()
}

func (ui *RoomUI) Done() <-chan struct{} {
	return ui.done
}

// Stop quits the program and waits for it to restore the terminal.
func (ui *RoomUI) Stop() {
	ui.once.Do(func() {
		ui.program.Quit()
		<-ui.done
	})
}

// Stats returns a copy of the counters gathered so far.
func (ui *RoomUI) Stats() RoomStats {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.stats
}

func (ui *RoomUI) RemoteStreamAvailable(peer session.PeerID, track media.RemoteTrack) {
	ui.program.Send(streamMsg{peer: peer, codec: track.Codec()})
}

func (ui *RoomUI) ConnectionStateChanged(peer session.PeerID, state session.State) {
	if state == session.StateConnected {
		ui.mu.Lock()
		if !ui.seen[peer] {
			ui.seen[peer] = true
			ui.stats.TotalConnected++
		}
		ui.mu.Unlock()
	}
	ui.program.Send(peerStateMsg{peer: peer, state: state, at: time.Now()})
}

func (ui *RoomUI) ListenerCountChanged(count int) {
	ui.mu.Lock()
	ui.stats.PeakListeners = max(ui.stats.PeakListeners, count)
	ui.mu.Unlock()
	ui.program.Send(listenerCountMsg(count))
}

func (ui *RoomUI) HostMuteChanged(muted bool) {
	ui.mu.Lock()
	ui.stats.MuteToggles++
	ui.mu.Unlock()
	ui.program.Send(hostMuteMsg(muted))
}

// roomModel is the bubbletea model behind RoomUI.
type roomModel struct {
	role     session.Role
	roomID   session.RoomID
	link     string
	onToggle func(bool)

	spinner  spinner.Model
	peers    []session.SessionInfo
	count    int
	muted    bool
	codec    string
	quitting bool
	now      func() time.Time
}

func newRoomModel(opts RoomOptions) *roomModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return &roomModel{
		role:     opts.Role,
		roomID:   opts.RoomID,
		link:     opts.RoomLink,
		onToggle: opts.OnToggleMute,
		spinner:  s,
		now:      time.Now,
	}
}

func (m *roomModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "m":
			if m.role != session.RoleHost || m.onToggle == nil {
				return m, nil
			}
			want := !m.muted
			toggle := m.onToggle
			return m, func() tea.Msg {
				toggle(want)
				return nil
			}
		}

	case peerStateMsg:
		m.setPeer(msg)

	case listenerCountMsg:
		m.count = int(msg)

	case hostMuteMsg:
		m.muted = bool(msg)

	case streamMsg:
		m.codec = msg.codec

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *roomModel) setPeer(msg peerStateMsg) {
	for i := range m.peers {
		if m.peers[i].Peer != msg.peer {
			continue
		}
		if msg.state == session.StateClosed {
			m.peers = append(m.peers[:i], m.peers[i+1:]...)
			return
		}
		m.peers[i].State = msg.state
		return
	}
	if msg.state != session.StateClosed {
		m.peers = append(m.peers, session.SessionInfo{Peer: msg.peer, State: msg.state, Since: msg.at})
	}
}

func (m *roomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	switch m.role {
	case session.RoleHost:
		b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s Sharing room %s", IconHost, m.roomID)))
		b.WriteString("\n")
		if m.link != "" {
			fmt.Fprintf(&b, "%s %s\n", IconWeb, MutedStyle.Render(m.link))
		}
		fmt.Fprintf(&b, "%s  %s %d listening\n\n", MuteBadge(m.muted), IconPeer, m.count)
		if m.count == 0 && len(m.peers) == 0 {
			fmt.Fprintf(&b, "%s Waiting for listeners\n", m.spinner.View())
		} else {
			b.WriteString(ListenerTableView(m.peers, m.now()))
			b.WriteString("\n")
		}
		b.WriteString(FooterStyle.Render("m mute/unmute • q quit"))

	default:
		b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s Listening to room %s", IconListen, m.roomID)))
		b.WriteString("\n")
		b.WriteString(m.listenerStatus())
		b.WriteString("\n")
		if m.muted {
			fmt.Fprintf(&b, "%s\n", MuteBadge(true))
		}
		b.WriteString(FooterStyle.Render("q leave"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m *roomModel) listenerStatus() string {
	state := session.StateNew
	if len(m.peers) > 0 {
		state = m.peers[0].State
	}
	switch {
	case state == session.StateConnected && m.codec != "":
		return SuccessStyle.Render(fmt.Sprintf("%s Receiving audio (%s)", IconSpeaker, m.codec))
	case state == session.StateConnected:
		return SuccessStyle.Render(IconConnect + " Connected to host")
	case state == session.StateDisconnected:
		return WarningStyle.Render(IconWarning + " Connection to host lost")
	default:
		return fmt.Sprintf("%s Connecting to host", m.spinner.View())
	}
}
