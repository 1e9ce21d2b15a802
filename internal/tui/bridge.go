package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"roomchat/internal/chat"
)

type (
	identityMsg     string
	clearLoadingMsg struct{}
	appendMsg       chat.Message
	emptyStateMsg   struct{}
	joinNoticeMsg   string
	joinErrorMsg    string
	inputEnabledMsg bool
	clearInputMsg   struct{}
	transientMsg    string
	dismissMsg      struct{}
	rosterMsg       []chat.Member
)

// AttachMsg hands the model its sender once the session is open.
type AttachMsg struct{ Sender Sender }

// SessionEndedMsg reports that the session stopped. Err is nil on a clean close.
type SessionEndedMsg struct{ Err error }

// Bridge implements chat.Presentation by posting messages into a running
// program. Calls keep their order.
type Bridge struct {
	send func(tea.Msg)
}

var _ chat.Presentation = (*Bridge)(nil)

func NewBridge(program *tea.Program) *Bridge {
	return &Bridge{send: program.Send}
}

func (b *Bridge) SetIdentity(username string)          { b.send(identityMsg(username)) }
func (b *Bridge) ClearLoading()                        { b.send(clearLoadingMsg{}) }
func (b *Bridge) AppendMessage(msg chat.Message)       { b.send(appendMsg(msg)) }
func (b *Bridge) ShowEmptyState()                      { b.send(emptyStateMsg{}) }
func (b *Bridge) ShowJoinNotification(username string) { b.send(joinNoticeMsg(username)) }
func (b *Bridge) ShowJoinError(reason string)          { b.send(joinErrorMsg(reason)) }
func (b *Bridge) SetInputEnabled(enabled bool)         { b.send(inputEnabledMsg(enabled)) }
func (b *Bridge) ClearInput()                          { b.send(clearInputMsg{}) }
func (b *Bridge) ShowTransientError(text string)       { b.send(transientMsg(text)) }
func (b *Bridge) DismissTransientError()               { b.send(dismissMsg{}) }

func (b *Bridge) UpdateRoster(members []chat.Member) {
	b.send(rosterMsg(append([]chat.Member(nil), members...)))
}
