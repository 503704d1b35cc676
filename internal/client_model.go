package internal

import (
	"os"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"studychat/internal/typing"
)

// tui model struct for all the components and modes
type TUIModel struct {
	textInput       textinput.Model
	lines           []chatLine
	serverJoinURL   string
	roomID          string
	userID          string
	userName        string
	typingStore     *typing.Store
	session         *Session
	isConnected     bool
	connectionError error
	typingUser      string
	aiPending       bool
	mode            appMode
}

type appMode int

const (
	modeJoinPrompt appMode = iota
	modeChat
)

type lineKind int

const (
	lineUser lineKind = iota
	lineAssistant
	lineSystem
)

type chatLine struct {
	kind     lineKind
	userName string
	text     string
	ts       time.Time
}

func NewTUIModel(serverJoinURL, roomID, userName string, typingStore *typing.Store) *TUIModel {
	input := textinput.New()
	input.Placeholder = "Type a message…"
	input.CharLimit = 0
	input.Focus()
	input.Prompt = "> "

	if userName == "" {
		userName = defaultUserName()
	}

	model := &TUIModel{
		textInput:     input,
		lines:         make([]chatLine, 0, 64),
		serverJoinURL: serverJoinURL,
		roomID:        roomID,
		userID:        uuid.NewString(),
		userName:      userName,
		typingStore:   typingStore,
	}
	if roomID == "" {
		model.mode = modeJoinPrompt
		model.textInput.Placeholder = "Enter room id…"
		model.textInput.Prompt = "room> "
	} else {
		model.mode = modeChat
	}
	return model
}

func defaultUserName() string {
	if user := os.Getenv("STUDYCHAT_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}

func (model *TUIModel) Init() tea.Cmd {
	if model.mode == modeChat {
		return model.startSessionCmd()
	}
	return nil
}

func (model *TUIModel) appendSystemLine(text string) {
	model.lines = append(model.lines, chatLine{kind: lineSystem, text: text, ts: time.Now()})
}
