package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"roomchat/internal/chat"
)

type recordingSender struct {
	sent []string
}

func (s *recordingSender) Send(text string) { s.sent = append(s.sent, text) }

func newJoinedModel(t *testing.T) (*Model, *recordingSender) {
	t.Helper()
	model := NewModel("lobby", "ws://localhost:4000/socket")
	sender := &recordingSender{}
	model.Update(AttachMsg{Sender: sender})
	model.Update(identityMsg("ann"))
	model.Update(clearLoadingMsg{})
	return model, sender
}

func typeText(model *Model, text string) {
	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

func TestEnterSendsTrimmedText(t *testing.T) {
	model, sender := newJoinedModel(t)
	typeText(model, "  hello  ")
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, []string{"hello"}, sender.sent)
	// The line stays until the server acknowledges it.
	require.Equal(t, "  hello  ", model.textInput.Value())

	model.Update(clearInputMsg{})
	require.Equal(t, "", model.textInput.Value())
}

func TestBlankEnterSendsNothing(t *testing.T) {
	model, sender := newJoinedModel(t)
	typeText(model, "   ")
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Empty(t, sender.sent)
}

func TestDisabledInputIgnoresKeys(t *testing.T) {
	model, sender := newJoinedModel(t)
	model.Update(inputEnabledMsg(false))
	typeText(model, "x")
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Empty(t, sender.sent)
	require.Equal(t, "", model.textInput.Value())
	require.Contains(t, model.View(), "Sending…")
}

func TestEmptyStateAndFirstMessage(t *testing.T) {
	model, _ := newJoinedModel(t)
	model.Update(emptyStateMsg{})
	require.Contains(t, model.View(), emptyStateText)

	model.Update(appendMsg(chat.Message{Body: "hi", Username: "bob"}))
	view := model.View()
	require.NotContains(t, view, emptyStateText)
	require.Contains(t, view, "hi")
}

func TestJoinNotification(t *testing.T) {
	model, _ := newJoinedModel(t)
	model.Update(joinNoticeMsg("bob"))
	require.Contains(t, model.View(), "bob has joined the room")
}

func TestJoinErrorRetryRequestsReload(t *testing.T) {
	model := NewModel("lobby", "ws://localhost:4000/socket")
	model.Update(joinErrorMsg("room full"))
	view := model.View()
	require.Contains(t, view, "Unable to join room")
	require.Contains(t, view, "room full")
	require.NotContains(t, view, "Loading messages...")

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.True(t, model.ReloadRequested())
	require.NotNil(t, cmd)
}

func TestRosterPanel(t *testing.T) {
	model, _ := newJoinedModel(t)
	require.NotContains(t, model.View(), "Members (")

	model.Update(rosterMsg(nil))
	view := model.View()
	require.Contains(t, view, "Members (0)")
	require.Contains(t, view, noMembersText)

	model.Update(rosterMsg([]chat.Member{
		{ID: "1", Name: "ann", Role: chat.RoleAdmin},
		{ID: "2", Name: "bob", Role: chat.RoleMember},
	}))
	view = model.View()
	require.Contains(t, view, "Members (2)")
	require.Contains(t, view, "admin")
	require.NotContains(t, view, noMembersText)
}

func TestTransientError(t *testing.T) {
	model, _ := newJoinedModel(t)
	model.Update(transientMsg("slow down"))
	require.Contains(t, model.View(), "slow down")
	model.Update(dismissMsg{})
	require.NotContains(t, model.View(), "slow down")
}

func TestSessionEndedShowsError(t *testing.T) {
	model, _ := newJoinedModel(t)
	model.Update(SessionEndedMsg{Err: errors.New("socket: closed")})
	require.Contains(t, model.View(), "Connection error: socket: closed")
	require.Equal(t, "socket: closed", model.SessionErr().Error())
}

func TestSanitizeStripsControlCharacters(t *testing.T) {
	require.Equal(t, "hi[31mred", sanitize("hi\x1b[31mred"))
	require.Equal(t, "a\nb", sanitize("a\nb\r"))
}

func TestBridgePreservesOrder(t *testing.T) {
	var got []tea.Msg
	bridge := &Bridge{send: func(m tea.Msg) { got = append(got, m) }}
	bridge.ClearLoading()
	bridge.AppendMessage(chat.Message{Body: "x", Username: "y"})
	bridge.SetInputEnabled(false)
	require.Len(t, got, 3)
	require.IsType(t, clearLoadingMsg{}, got[0])
	require.IsType(t, appendMsg{}, got[1])
	require.Equal(t, inputEnabledMsg(false), got[2])
}
