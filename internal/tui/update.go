package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"roomchat/internal/chat"
)

func (model *Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		return model.handleKey(typedMessage)

	case AttachMsg:
		model.sender = typedMessage.Sender
		return model, nil

	case SessionEndedMsg:
		model.sessionErr = typedMessage.Err
		model.inputEnabled = false
		model.textInput.Blur()
		return model, nil

	case identityMsg:
		model.identity = sanitize(string(typedMessage))
	case clearLoadingMsg:
		model.loading = false
		model.emptyState = false
		model.lines = model.lines[:0]
	case appendMsg:
		model.emptyState = false
		model.lines = append(model.lines, line{kind: lineChat, msg: chat.Message(typedMessage)})
	case emptyStateMsg:
		model.emptyState = true
	case joinNoticeMsg:
		model.lines = append(model.lines, line{kind: lineNotice, msg: chat.Message{Username: string(typedMessage)}})
	case joinErrorMsg:
		model.loading = false
		model.emptyState = false
		model.lines = model.lines[:0]
		model.joinError = string(typedMessage)
		model.textInput.Blur()
	case inputEnabledMsg:
		model.inputEnabled = bool(typedMessage)
		if model.inputEnabled {
			return model, model.textInput.Focus()
		}
		model.textInput.Blur()
	case clearInputMsg:
		model.textInput.SetValue("")
	case transientMsg:
		model.transient = string(typedMessage)
	case dismissMsg:
		model.transient = ""
	case rosterMsg:
		model.roster = []chat.Member(typedMessage)
		model.rosterLoaded = true
	}
	return model, nil
}

func (model *Model) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type == tea.KeyCtrlC || key.Type == tea.KeyEsc {
		return model, tea.Quit
	}
	if model.joinError != "" || model.sessionErr != nil {
		switch key.String() {
		case "r", "R":
			model.reload = true
			return model, tea.Quit
		case "q", "Q":
			return model, tea.Quit
		}
		return model, nil
	}
	if !model.inputEnabled {
		return model, nil
	}
	if key.Type == tea.KeyEnter {
		trimmed := strings.TrimSpace(model.textInput.Value())
		if lower := strings.ToLower(trimmed); lower == "/quit" || lower == "/exit" {
			return model, tea.Quit
		}
		if trimmed != "" && model.sender != nil {
			model.sender.Send(trimmed)
		}
		return model, nil
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}
