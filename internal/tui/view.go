package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/parley-chat/parley/internal/room"
	"github.com/parley-chat/parley/pkg/protocol"
)

type styleSet struct {
	title     lipgloss.Style
	online    lipgloss.Style
	offline   lipgloss.Style
	label     lipgloss.Style
	value     lipgloss.Style
	sender    lipgloss.Style
	ownSender lipgloss.Style
	timestamp lipgloss.Style
	typing    lipgloss.Style
	unread    lipgloss.Style
	logLine   lipgloss.Style
}

func buildStyles() styleSet {
	base := lipgloss.NewStyle()
	return styleSet{
		title:     base.Foreground(lipgloss.Color("13")).Bold(true),
		online:    base.Foreground(lipgloss.Color("10")).Bold(true),
		offline:   base.Foreground(lipgloss.Color("9")).Bold(true),
		label:     base.Foreground(lipgloss.Color("8")),
		value:     base.Foreground(lipgloss.Color("15")),
		sender:    base.Foreground(lipgloss.Color("14")).Bold(true),
		ownSender: base.Foreground(lipgloss.Color("10")).Bold(true),
		timestamp: base.Foreground(lipgloss.Color("8")),
		typing:    base.Foreground(lipgloss.Color("11")).Italic(true),
		unread:    base.Foreground(lipgloss.Color("11")).Bold(true),
		logLine:   base.Foreground(lipgloss.Color("7")),
	}
}

// View renders the chat screen.
func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.typingLine())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.styles.logLine.Render(m.logLine))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

func (m *Model) typingLine() string {
	if name, ok := m.mirror.TypingIn(m.mirror.ActiveRoom, time.Now()); ok {
		return m.styles.typing.Render(name + " is typing...")
	}
	return ""
}

func (m *Model) statusLine() string {
	status := m.styles.offline.Render("OFFLINE")
	if m.online {
		status = m.styles.online.Render("ONLINE")
	}

	roomLabel := "group"
	if pr, ok := room.ParsePrivate(m.mirror.ActiveRoom); ok {
		other := pr.Other(m.mirror.IdentityID)
		roomLabel = "dm:" + m.displayNameFor(other)
	}

	unread := 0
	for _, u := range m.mirror.Roster {
		if u.IdentityID == m.mirror.IdentityID {
			continue
		}
		unread += m.mirror.Unread(m.mirror.PrivateRoomWith(u.IdentityID))
	}
	unread += m.mirror.Unread(room.Group)

	parts := []string{
		m.styles.title.Render("Parley"),
		status,
		m.styles.label.Render("You") + ": " + m.styles.value.Render(m.mirror.DisplayName),
		m.styles.label.Render("Room") + ": " + m.styles.value.Render(roomLabel),
		m.styles.label.Render("Online") + ": " + m.styles.value.Render(fmt.Sprintf("%d", len(m.mirror.Roster))),
	}
	if unread > 0 {
		parts = append(parts, m.styles.unread.Render(fmt.Sprintf("%d unread", unread)))
	}
	return strings.Join(parts, " | ")
}

func (m *Model) displayNameFor(identityID string) string {
	for _, u := range m.mirror.Roster {
		if u.IdentityID == identityID {
			return u.DisplayName
		}
	}
	return identityID
}

func (m *Model) resize() {
	const fixed = 4 // typing, input, log, status
	h := m.height - fixed
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.input.Width = m.width - lipgloss.Width(m.input.Prompt) - 1
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	msgs := m.mirror.Messages(m.mirror.ActiveRoom)
	if len(msgs) == 0 {
		m.viewport.SetContent("No messages yet. Type and press Enter to send.")
		m.viewport.GotoBottom()
		return
	}

	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		lines = append(lines, m.renderMessage(msg))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *Model) renderMessage(msg protocol.ChatMessage) string {
	ts := m.styles.timestamp.Render(msg.Timestamp.Local().Format("15:04"))

	senderStyle := m.styles.sender
	if msg.IdentityID == m.mirror.IdentityID {
		senderStyle = m.styles.ownSender
	}
	sender := senderStyle.Render(msg.DisplayName)

	content := msg.Content
	if msg.Type == protocol.ContentImage {
		content = "[image]"
	}
	return fmt.Sprintf("%s %s: %s", ts, sender, content)
}
