package internal

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"studychat/internal/storage"
)

type (
	sessionEventMsg Event
	sessionStartedMsg struct{ session *Session }
	sessionClosedMsg struct{}
	sessionFailedMsg struct{ err error }
)

// startSessionCmd builds the session controller and dials the relay. The
// session comes back as a message so Update stores it; the command goroutine
// never touches the model.
func (model *TUIModel) startSessionCmd() tea.Cmd {
	config := SessionConfig{
		ServerURL: model.serverJoinURL,
		RoomID:    model.roomID,
		UserID:    model.userID,
		UserName:  model.userName,
		Typing:    model.typingStore,
	}
	return func() tea.Msg {
		session := NewSession(config)
		if err := session.Start(); err != nil {
			return sessionFailedMsg{err: err}
		}
		return sessionStartedMsg{session: session}
	}
}

// waitEventCmd blocks on the session's event stream and hands the next
// occurrence to Update. Re-issued after every event, the bubbletea way of
// pumping a channel.
func (model *TUIModel) waitEventCmd() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-model.session.Events()
		if !ok {
			return sessionClosedMsg{}
		}
		return sessionEventMsg(ev)
	}
}

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Any mode should respect Ctrl+C or Esc so the user can bail out quickly.
		if typedMessage.Type == tea.KeyCtrlC || typedMessage.Type == tea.KeyEsc {
			if model.session != nil {
				model.session.Close()
			}
			return model, tea.Quit
		}
		switch model.mode {
		case modeJoinPrompt:
			if typedMessage.Type == tea.KeyEnter {
				trimmed := strings.TrimSpace(model.textInput.Value())
				if trimmed == "" {
					return model, nil
				}
				model.roomID = trimmed
				model.mode = modeChat
				model.textInput.SetValue("")
				model.textInput.Placeholder = "Type a message…"
				model.textInput.Prompt = "> "
				return model, model.startSessionCmd()
			}
			var cmd tea.Cmd
			model.textInput, cmd = model.textInput.Update(typedMessage)
			return model, cmd
		case modeChat:
			// while someone else is typing the input is held back, so the
			// room keeps a single writer at a time
			if model.typingUser != "" && typedMessage.Type != tea.KeyEnter {
				return model, nil
			}
			if typedMessage.Type == tea.KeyEnter {
				trimmed := strings.TrimSpace(model.textInput.Value())
				if strings.HasPrefix(trimmed, "/") {
					lower := strings.ToLower(trimmed)
					if lower == "/quit" || lower == "/exit" || lower == "/leave" {
						if model.session != nil {
							model.session.Close()
						}
						return model, tea.Quit
					}
					return model, nil
				}
				if trimmed != "" && model.isConnected {
					model.textInput.SetValue("")
					if err := model.session.SendMessage(trimmed); err != nil {
						model.appendSystemLine(fmt.Sprintf("Failed to send: %v", err))
					}
				}
				return model, nil
			}
			var command tea.Cmd
			model.textInput, command = model.textInput.Update(typedMessage)
			if model.session != nil && model.isConnected {
				model.session.NotifyInput()
			}
			return model, command
		}

	case sessionStartedMsg:
		model.session = typedMessage.session
		return model, model.waitEventCmd()

	case sessionEventMsg:
		return model.applySessionEvent(Event(typedMessage))

	case sessionFailedMsg:
		model.connectionError = typedMessage.err
		model.appendSystemLine(fmt.Sprintf("Could not reach the server: %v", typedMessage.err))
		return model, tea.Quit

	case sessionClosedMsg:
		model.isConnected = false
		return model, tea.Quit
	}
	return model, nil
}

func (model *TUIModel) applySessionEvent(ev Event) (tea.Model, tea.Cmd) {
	switch ev.Kind {
	case EventConnected:
		model.isConnected = true
		model.connectionError = nil

	case EventDisconnected:
		model.isConnected = false
		model.appendSystemLine("Connection lost, reconnecting…")

	case EventHistory:
		// a fresh history replaces whatever was rendered before the rejoin
		model.lines = model.lines[:0]
		for _, msg := range ev.History {
			model.lines = append(model.lines, lineFromMessage(msg))
		}

	case EventMessage:
		model.lines = append(model.lines, lineFromMessage(*ev.Message))
		if ev.Message.UserID == model.userID {
			model.aiPending = true
		}

	case EventAIResponse:
		model.aiPending = false
		model.lines = append(model.lines, lineFromMessage(*ev.Message))

	case EventUserJoined:
		model.lines = append(model.lines, chatLine{kind: lineSystem, text: fmt.Sprintf("%s joined the room", ev.Presence.UserName), ts: ev.Presence.Timestamp})

	case EventUserLeft:
		model.lines = append(model.lines, chatLine{kind: lineSystem, text: fmt.Sprintf("%s left the room", ev.Presence.UserName), ts: ev.Presence.Timestamp})

	case EventTypingView:
		model.typingUser = ev.TypingUser

	case EventError:
		model.aiPending = false
		model.appendSystemLine(ev.Err)
	}
	return model, model.waitEventCmd()
}

func lineFromMessage(msg storage.Message) chatLine {
	kind := lineUser
	name := msg.UserName
	if msg.Sender == storage.SenderAssistant {
		kind = lineAssistant
		name = "Assistant"
	}
	return chatLine{kind: kind, userName: name, text: msg.Text, ts: msg.Timestamp}
}
