package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fleetdesk/portal/src/models"
	"github.com/fleetdesk/portal/src/realtime"
)

// The TUI is a thin consumer of the stores: every frame is rendered
// from store snapshots, so it stays consistent with the CLI and with
// concurrent push events by construction.

type tuiView int

const (
	viewNotifications tuiView = iota
	viewConversations
	viewChat
)

// refreshMsg tells the model to re-render from the stores.
type refreshMsg struct{}

// tickMsg drives the periodic redraw (relative timestamps, presence).
type tickMsg time.Time

var (
	tuiTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tuiBadgeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("196")).Padding(0, 1)
	tuiDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	tuiCursorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tuiErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	tuiOnline      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	tuiAway        = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type tuiModel struct {
	session *Session
	view    tuiView
	cursor  int
	input   string
	typing  bool
	errMsg  string
	width   int
	height  int
	events  chan struct{}
}

// runTUI launches the interactive mode on a live session.
func runTUI(config *CLIConfig, configPath string) error {
	session, err := NewSession(config)
	if err != nil {
		return err
	}
	defer session.Close()

	events := make(chan struct{}, 16)
	session.EventTap = func(realtime.Event) {
		select {
		case events <- struct{}{}:
		default:
		}
	}

	if err := session.Start(context.Background()); err != nil {
		return err
	}

	watcher, err := NewConfigWatcher(configPath, config.Auth.Token, session.Reauthenticate)
	if err == nil {
		if err := watcher.Start(); err == nil {
			defer watcher.Stop()
		}
	}

	m := tuiModel{session: session, events: events}
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// Init implements tea.Model
func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), tick())
}

func (m tuiModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		<-m.events
		return refreshMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model
func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshMsg:
		return m, m.waitForEvent()

	case tickMsg:
		return m, tick()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.typing {
		switch msg.Type {
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input)
			m.input = ""
			m.typing = false
			if text != "" {
				return m, m.sendMessage(text)
			}
			return m, nil
		case tea.KeyEsc:
			m.typing = false
			m.input = ""
			return m, nil
		case tea.KeyBackspace:
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
			return m, nil
		case tea.KeyRunes, tea.KeySpace:
			m.input += string(msg.Runes)
			if msg.Type == tea.KeySpace {
				m.input += " "
			}
			return m, nil
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		if m.view == viewChat {
			m.session.CloseConversation()
		}
		m.view = (m.view + 1) % 2
		m.cursor = 0
		m.errMsg = ""
		return m, nil

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "down", "j":
		m.cursor++
		if max := m.cursorMax(); m.cursor > max {
			m.cursor = max
		}
		return m, nil

	case "enter":
		switch m.view {
		case viewNotifications:
			return m, m.markSelectedRead()
		case viewConversations:
			list := m.session.Conversations.Conversations()
			if m.cursor < len(list) {
				m.view = viewChat
				return m, m.openConversation(list[m.cursor].PeerID)
			}
		}
		return m, nil

	case "a":
		if m.view == viewNotifications {
			return m, m.markAllRead()
		}
		return m, nil

	case "i":
		if m.view == viewChat {
			m.typing = true
		}
		return m, nil

	case "esc":
		if m.view == viewChat {
			m.session.CloseConversation()
			m.view = viewConversations
		}
		return m, nil
	}
	return m, nil
}

func (m tuiModel) cursorMax() int {
	max := 0
	switch m.view {
	case viewNotifications:
		max = len(m.session.Notifications.Notifications()) - 1
	case viewConversations:
		max = len(m.session.Conversations.Conversations()) - 1
	}
	if max < 0 {
		max = 0
	}
	return max
}

func (m tuiModel) markSelectedRead() tea.Cmd {
	list := m.session.Notifications.Notifications()
	if m.cursor >= len(list) {
		return nil
	}
	id := list[m.cursor].ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.session.Notifications.MarkRead(ctx, id)
		return refreshMsg{}
	}
}

func (m tuiModel) markAllRead() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.session.Notifications.MarkAllRead(ctx)
		return refreshMsg{}
	}
}

func (m tuiModel) openConversation(peer string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		m.session.OpenConversation(ctx, peer)
		return refreshMsg{}
	}
}

func (m tuiModel) sendMessage(text string) tea.Cmd {
	peer := m.session.Conversations.ActivePeer()
	if peer == "" {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		m.session.Conversations.Send(ctx, peer, text)
		return refreshMsg{}
	}
}

// View implements tea.Model
func (m tuiModel) View() string {
	var b strings.Builder
	b.WriteString(m.header() + "\n\n")

	switch m.view {
	case viewNotifications:
		b.WriteString(m.notificationsView())
	case viewConversations:
		b.WriteString(m.conversationsView())
	case viewChat:
		b.WriteString(m.chatView())
	}

	if m.errMsg != "" {
		b.WriteString("\n" + tuiErrStyle.Render(m.errMsg))
	}
	b.WriteString("\n" + tuiDimStyle.Render(m.footer()))
	return b.String()
}

// header is the navbar: title plus the global unread badge.
func (m tuiModel) header() string {
	title := tuiTitleStyle.Render("FleetDesk Portal")
	unread := m.session.Notifications.UnreadCount() + m.session.Conversations.TotalUnread()
	badge := ""
	if unread > 0 {
		badge = " " + tuiBadgeStyle.Render(fmt.Sprintf("%d", unread))
	}
	state := tuiDimStyle.Render("  [" + m.session.ConnectionState().String() + "]")
	return title + badge + state
}

func (m tuiModel) notificationsView() string {
	list := m.session.Notifications.Notifications()
	if len(list) == 0 {
		return tuiDimStyle.Render("No notifications.")
	}
	var b strings.Builder
	for i, n := range list {
		cursor := "  "
		if i == m.cursor {
			cursor = tuiCursorStyle.Render("> ")
		}
		marker := "  "
		if !n.Read {
			marker = tuiTitleStyle.Render("● ")
		}
		fmt.Fprintf(&b, "%s%s%s %s\n", cursor, marker, n.Title, tuiDimStyle.Render(relativeTime(n.CreatedAt)))
	}
	return b.String()
}

func (m tuiModel) conversationsView() string {
	list := m.session.Conversations.Conversations()
	if len(list) == 0 {
		return tuiDimStyle.Render("No conversations.")
	}
	var b strings.Builder
	for i, c := range list {
		cursor := "  "
		if i == m.cursor {
			cursor = tuiCursorStyle.Render("> ")
		}
		name := c.PeerName
		if name == "" {
			name = c.PeerID
		}
		badge := ""
		if c.UnreadCount > 0 {
			badge = " " + tuiBadgeStyle.Render(fmt.Sprintf("%d", c.UnreadCount))
		}
		fmt.Fprintf(&b, "%s%s%s %s\n", cursor, name, badge, tuiDimStyle.Render(m.presenceDot(c.PeerID)))
	}
	return b.String()
}

func (m tuiModel) chatView() string {
	peer := m.session.Conversations.ActivePeer()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", tuiTitleStyle.Render(peer), m.presenceDot(peer))

	for _, msg := range m.session.Conversations.Messages() {
		who := msg.SenderID
		if msg.SenderID == m.session.Config.Auth.UserID {
			who = "me"
		}
		line := fmt.Sprintf("[%s] %s: %s", msg.CreatedAt.Format("15:04"), who, msg.Content)
		switch {
		case msg.Failed:
			line += " " + tuiErrStyle.Render("(failed)")
		case msg.Pending:
			line += " " + tuiDimStyle.Render("(sending...)")
		}
		b.WriteString(line + "\n")
	}

	if m.typing {
		fmt.Fprintf(&b, "\n> %s█", m.input)
	}
	return b.String()
}

func (m tuiModel) presenceDot(peerID string) string {
	switch m.session.Presence.Status(peerID) {
	case models.PresenceOnline:
		return tuiOnline.Render("online")
	case models.PresenceAway:
		return tuiAway.Render("away")
	default:
		return "offline"
	}
}

func (m tuiModel) footer() string {
	switch m.view {
	case viewChat:
		if m.typing {
			return "enter send · esc cancel"
		}
		return "i compose · esc back · q quit"
	case viewNotifications:
		return "tab conversations · enter mark read · a mark all · q quit"
	default:
		return "tab notifications · enter open · q quit"
	}
}
