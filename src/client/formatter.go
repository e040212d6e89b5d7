package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fleetdesk/portal/src/models"
)

// Formatter handles output formatting for the list commands.
type Formatter struct {
	Format  string
	NoColor bool
}

// NewFormatter creates a new formatter
func NewFormatter(format string, noColor bool) *Formatter {
	return &Formatter{
		Format:  format,
		NoColor: noColor,
	}
}

var (
	unreadStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
)

// FormatNotifications formats the notification list
func (f *Formatter) FormatNotifications(list []models.Notification, unread int) string {
	switch f.Format {
	case "json":
		return f.formatJSON(map[string]interface{}{
			"notifications": list,
			"unread":        unread,
		})
	case "plain":
		var b strings.Builder
		for _, n := range list {
			marker := " "
			if !n.Read {
				marker = "*"
			}
			fmt.Fprintf(&b, "%s %s  %s  %s\n", marker, n.CreatedAt.Format("2006-01-02 15:04"), n.ID, n.Title)
		}
		return b.String()
	default:
		return f.formatNotificationTable(list, unread)
	}
}

func (f *Formatter) formatNotificationTable(list []models.Notification, unread int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", f.style(headStyle, fmt.Sprintf("Notifications (%d unread)", unread)))
	if len(list) == 0 {
		b.WriteString("No notifications.\n")
		return b.String()
	}
	for _, n := range list {
		title := n.Title
		age := f.style(dimStyle, relativeTime(n.CreatedAt))
		if !n.Read {
			title = f.style(unreadStyle, "● "+title)
		} else {
			title = "  " + title
		}
		fmt.Fprintf(&b, "%s  %s\n", title, age)
		if n.Message != "" {
			fmt.Fprintf(&b, "    %s\n", f.style(dimStyle, n.Message))
		}
	}
	return b.String()
}

// FormatConversations formats the conversation index
func (f *Formatter) FormatConversations(list []models.Conversation) string {
	switch f.Format {
	case "json":
		return f.formatJSON(map[string]interface{}{"conversations": list})
	case "plain":
		var b strings.Builder
		for _, c := range list {
			fmt.Fprintf(&b, "%s  unread=%d  %s\n", c.PeerID, c.UnreadCount, c.LastMessage)
		}
		return b.String()
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "%s\n\n", f.style(headStyle, "Conversations"))
		if len(list) == 0 {
			b.WriteString("No conversations.\n")
			return b.String()
		}
		for _, c := range list {
			name := c.PeerName
			if name == "" {
				name = c.PeerID
			}
			badge := ""
			if c.UnreadCount > 0 {
				badge = f.style(unreadStyle, fmt.Sprintf(" (%d)", c.UnreadCount))
			}
			preview := c.LastMessage
			if len(preview) > 60 {
				preview = preview[:57] + "..."
			}
			fmt.Fprintf(&b, "%s%s\n    %s\n", name, badge, f.style(dimStyle, preview))
		}
		return b.String()
	}
}

// FormatMessages formats one conversation's message history
func (f *Formatter) FormatMessages(list []models.Message, currentUser string) string {
	switch f.Format {
	case "json":
		return f.formatJSON(map[string]interface{}{"messages": list})
	default:
		var b strings.Builder
		for _, m := range list {
			who := m.SenderID
			if m.SenderID == currentUser {
				who = "me"
			}
			line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format("15:04"), who, m.Content)
			switch {
			case m.Failed:
				line += " " + f.style(failStyle, "(failed, not delivered)")
			case m.Pending:
				line += " " + f.style(dimStyle, "(sending...)")
			}
			b.WriteString(line + "\n")
		}
		return b.String()
	}
}

// formatJSON renders data as indented JSON
func (f *Formatter) formatJSON(data interface{}) string {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("error formatting JSON: %v", err)
	}
	return string(out) + "\n"
}

// style applies a lipgloss style unless colors are disabled
func (f *Formatter) style(s lipgloss.Style, text string) string {
	if f.NoColor {
		return text
	}
	return s.Render(text)
}

// relativeTime renders a short "3m ago" style age
func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
