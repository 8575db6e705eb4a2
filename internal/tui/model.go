// Package tui implements the terminal chat client on top of Bubble Tea.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/parley-chat/parley/internal/client"
	"github.com/parley-chat/parley/internal/room"
	"github.com/parley-chat/parley/pkg/protocol"
)

type eventMsg client.Event

type tickMsg time.Time

// Model is the Bubble Tea model for the chat UI.
type Model struct {
	cli    *client.Client
	mirror *client.Mirror

	viewport viewport.Model
	input    textinput.Model
	styles   styleSet

	width   int
	height  int
	ready   bool
	online  bool
	logLine string

	typingSent bool
}

// NewModel builds the UI model around an already-constructed client. The
// caller starts the client's Connect loop before running the program.
func NewModel(cli *client.Client) *Model {
	input := textinput.New()
	input.Placeholder = "Type a message, or /help"
	input.Prompt = "> "
	input.Focus()
	input.CharLimit = 4096

	return &Model{
		cli:      cli,
		mirror:   client.NewMirror(),
		viewport: viewport.New(0, 0),
		input:    input,
		styles:   buildStyles(),
	}
}

// Init is part of the tea.Model interface.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), tick(), textinput.Blink)
}

func (m *Model) waitForEvent() tea.Cmd {
	ch := m.cli.Events()
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return tea.Quit()
		}
		return eventMsg(ev)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles user input and server events.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.handleEvent(client.Event(msg))
		return m, m.waitForEvent()

	case tickMsg:
		// Redraw so stale typing indicators disappear.
		return m, tick()

	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyPgUp:
		m.viewport.ScrollUp(m.viewport.Height)
		return m, nil
	case tea.KeyPgDown:
		m.viewport.ScrollDown(m.viewport.Height)
		return m, nil
	case tea.KeyEsc:
		m.switchRoom(room.Group)
		return m, nil
	case tea.KeyEnter:
		return m, m.handleEnter()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.updateTyping()
	return m, cmd
}

func (m *Model) handleEnter() tea.Cmd {
	raw := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	m.stopTyping()
	if raw == "" {
		return nil
	}

	if strings.HasPrefix(raw, "/") {
		return m.executeCommand(raw)
	}

	target := ""
	if pr, ok := room.ParsePrivate(m.mirror.ActiveRoom); ok {
		target = pr.Other(m.mirror.IdentityID)
	}
	err := m.cli.Send(protocol.TypeSendMessage, protocol.SendMessage{
		Content: raw,
		Type:    protocol.ContentText,
		Target:  target,
	})
	if err != nil {
		m.log("send failed: %v", err)
	}
	return nil
}

func (m *Model) executeCommand(raw string) tea.Cmd {
	parts := strings.Fields(strings.TrimPrefix(raw, "/"))
	if len(parts) == 0 {
		return nil
	}
	name := strings.ToLower(parts[0])
	args := parts[1:]

	switch name {
	case "dm":
		if len(args) == 0 {
			m.log("usage: /dm <display name>")
			return nil
		}
		m.commandDM(strings.Join(args, " "))
	case "group":
		m.switchRoom(room.Group)
	case "name":
		if len(args) == 0 {
			m.log("usage: /name <new name>")
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.cli.Rename(ctx, strings.Join(args, " ")); err != nil {
			m.log("%v", err)
		}
	case "who":
		names := make([]string, 0, len(m.mirror.Roster))
		for _, u := range m.mirror.Roster {
			names = append(names, u.DisplayName)
		}
		m.log("online: %s", strings.Join(names, ", "))
	case "help":
		m.log("/dm <name>  /group  /name <new>  /who  /quit  (esc returns to the group)")
	case "quit", "exit":
		return tea.Quit
	default:
		m.log("unknown command: /%s", name)
	}
	return nil
}

func (m *Model) commandDM(name string) {
	for _, u := range m.mirror.Roster {
		if strings.EqualFold(u.DisplayName, name) {
			if u.IdentityID == m.mirror.IdentityID {
				m.log("that's you")
				return
			}
			m.switchRoom(m.mirror.PrivateRoomWith(u.IdentityID))
			return
		}
	}
	m.log("no one online named %q", name)
}

func (m *Model) switchRoom(roomID string) {
	if roomID == m.mirror.ActiveRoom {
		return
	}
	m.mirror.SetActiveRoom(roomID)
	if err := m.cli.Send(protocol.TypeSwitchRoom, protocol.SwitchRoom{Room: roomID}); err != nil {
		m.log("switch failed: %v", err)
		return
	}
	if err := m.cli.Send(protocol.TypeGetHistory, protocol.GetChatHistory{Room: roomID}); err != nil {
		m.log("history request failed: %v", err)
	}
	m.refreshViewport()
}

func (m *Model) updateTyping() {
	hasText := strings.TrimSpace(m.input.Value()) != ""
	if hasText && !m.typingSent {
		m.typingSent = true
		_ = m.cli.Send(protocol.TypeTyping, protocol.Typing{
			Room: m.mirror.ActiveRoom, IsTyping: true,
		})
	} else if !hasText && m.typingSent {
		m.stopTyping()
	}
}

func (m *Model) stopTyping() {
	if !m.typingSent {
		return
	}
	m.typingSent = false
	_ = m.cli.Send(protocol.TypeTyping, protocol.Typing{
		Room: m.mirror.ActiveRoom, IsTyping: false,
	})
}

func (m *Model) handleEvent(ev client.Event) {
	if ev.Envelope == nil {
		m.online = ev.Connected
		if ev.Connected {
			m.log("connected")
		} else {
			m.log("disconnected, retrying")
		}
		return
	}

	before := len(m.mirror.Notices)
	m.mirror.Apply(*ev.Envelope)
	if len(m.mirror.Notices) > before {
		m.log("%s", m.mirror.Notices[len(m.mirror.Notices)-1])
	}

	if ev.Envelope.Type == protocol.TypeWelcome {
		if err := m.cli.Send(protocol.TypeGetHistory,
			protocol.GetChatHistory{Room: m.mirror.ActiveRoom}); err != nil {
			m.log("history request failed: %v", err)
		}
	}
	m.refreshViewport()
}

func (m *Model) log(format string, args ...any) {
	m.logLine = fmt.Sprintf(format, args...)
}
