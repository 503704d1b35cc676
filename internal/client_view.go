package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// pre styled colors, all lipgloss
var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	typingStyle        = statusStyle.Copy().Foreground(lipgloss.Color("141")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	assistantStyle     = usernameStyle.Copy().Foreground(lipgloss.Color("81"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model TUIModel) View() string {
	if model.mode == modeJoinPrompt {
		return model.renderJoinPromptView()
	}
	return model.renderChatView()
}

func (model TUIModel) renderJoinPromptView() string {
	title := appTitleStyle.Render("StudyChat")
	hint := menuHintStyle.Render("Enter a room id and press Enter. Joining an unknown room creates it.")

	viewSections := []string{title, hint}
	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}
	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model TUIModel) renderChatView() string {
	headerSegments := []string{"StudyChat"}
	if model.roomID != "" {
		headerSegments = append(headerSegments, fmt.Sprintf("Room %s", model.roomID))
	}
	headerSegments = append(headerSegments, fmt.Sprintf("User %s", model.userName))
	headerSegments = append(headerSegments, fmt.Sprintf("Server %s", model.serverJoinURL))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case model.connectionError != nil:
		statusLine = errorStyle.Render("Connection error: " + model.connectionError.Error())
	case model.typingUser != "":
		statusLine = typingStyle.Render(fmt.Sprintf("%s is typing…", model.typingUser))
	case model.aiPending:
		statusLine = connectingStyle.Render("Assistant is thinking…")
	case model.isConnected:
		statusLine = connectedStyle.Render("Connected")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	var messageLines []string
	for _, line := range model.lines {
		messageLines = append(messageLines, model.renderChatLine(line))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Ask the assistant anything."))
	}

	messagesView := messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...))
	inputView := inputBoxStyle.Render(model.textInput.View())
	footerHint := menuHintStyle.Render("Esc or /quit to exit")

	sections := []string{header, statusLine, messagesView, inputView, footerHint}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model TUIModel) renderSystemNotices() string {
	var notices []string
	for _, line := range model.lines {
		if line.kind == lineSystem {
			notices = append(notices, systemMessageStyle.Render(line.text))
		}
	}
	if len(notices) == 0 {
		return ""
	}
	return lipgloss.JoinVertical(lipgloss.Left, notices...)
}

// renderChatLine stamps the timestamp, picks a color for the speaker, and
// indents multi-line bodies so they stay legible.
func (model TUIModel) renderChatLine(line chatLine) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", line.ts.Format("15:04:05")))
	if line.kind == lineSystem {
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", systemMessageStyle.Render(line.text))
	}

	var nameStyle lipgloss.Style
	switch {
	case line.kind == lineAssistant:
		nameStyle = assistantStyle
	case line.userName == model.userName:
		nameStyle = activeUserStyle
	default:
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(line.userName))
	}

	name := nameStyle.Render(line.userName)
	bodyText := messageBodyStyle.Render(strings.ReplaceAll(line.text, "\n", "\n   "))

	return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, ": ", bodyText)
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
