// Package tui is the terminal presentation of a room session.
package tui

import (
	"strings"
	"unicode"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"roomchat/internal/chat"
)

// Sender accepts user text for the room. *chat.Session implements it.
type Sender interface {
	Send(text string)
}

type lineKind int

const (
	lineChat lineKind = iota
	lineNotice
)

type line struct {
	kind lineKind
	msg  chat.Message
}

// Model is the bubbletea model for one room. It holds only what the session
// told it to show.
type Model struct {
	textInput textinput.Model
	roomID    string
	endpoint  string
	sender    Sender

	identity     string
	lines        []line
	loading      bool
	emptyState   bool
	joinError    string
	inputEnabled bool
	transient    string
	roster       []chat.Member
	rosterLoaded bool
	sessionErr   error
	reload       bool
}

func NewModel(roomID, endpoint string) *Model {
	input := textinput.New()
	input.Placeholder = "Type a message…"
	input.CharLimit = 0
	input.Prompt = "> "
	input.Focus()

	return &Model{
		textInput:    input,
		roomID:       roomID,
		endpoint:     endpoint,
		lines:        make([]line, 0, 64),
		loading:      true,
		inputEnabled: true,
	}
}

func (model *Model) Init() tea.Cmd {
	return textinput.Blink
}

// ReloadRequested reports whether the program quit because the user asked to
// retry the join.
func (model *Model) ReloadRequested() bool { return model.reload }

// SessionErr is the error the session ended with, if any.
func (model *Model) SessionErr() error { return model.sessionErr }

// sanitize drops terminal control characters from server text. Newlines are
// kept and indented by the renderer.
func sanitize(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}
