package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"roomchat/internal/chat"
)

var (
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	rosterBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1).MarginLeft(1)
	joinErrorBoxStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.ThickBorder()).BorderForeground(lipgloss.Color("196")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	disabledInputStyle = inputBoxStyle.Copy().BorderForeground(lipgloss.Color("240"))
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	transientStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160")).Padding(0, 1).MarginTop(1)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")

	badgeStyles = map[chat.RoleClass]lipgloss.Style{
		chat.ClassPrimary:   lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true),
		chat.ClassSecondary: lipgloss.NewStyle().Foreground(lipgloss.Color("81")),
		chat.ClassGhost:     lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
	userColorPalette = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

const (
	emptyStateText = "No messages yet. Start the conversation!"
	noMembersText  = "No members yet."
)

func (model *Model) View() string {
	headerSegments := []string{"roomchat", fmt.Sprintf("Room %s", sanitize(model.roomID))}
	if model.identity != "" {
		headerSegments = append(headerSegments, fmt.Sprintf("Signed in as: %s", model.identity))
	}
	headerSegments = append(headerSegments, fmt.Sprintf("Server %s", model.endpoint))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case model.sessionErr != nil:
		statusLine = errorStyle.Render("Connection error: " + model.sessionErr.Error())
	case model.joinError != "":
		statusLine = errorStyle.Render("Not joined")
	case model.loading:
		statusLine = connectingStyle.Render("Loading messages...")
	default:
		statusLine = connectedStyle.Render("Connected")
	}

	sections := []string{header, statusLine}
	if model.joinError != "" {
		sections = append(sections, model.renderJoinError())
	} else {
		body := lipgloss.JoinHorizontal(lipgloss.Top, model.renderMessages(), model.renderRoster())
		sections = append(sections, body)
	}
	if model.transient != "" {
		sections = append(sections, transientStyle.Render(sanitize(model.transient)))
	}
	if model.joinError == "" {
		sections = append(sections, model.renderInput())
	}
	sections = append(sections, menuHintStyle.Render(model.footerHint()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *Model) footerHint() string {
	if model.joinError != "" || model.sessionErr != nil {
		return "r) Retry  •  q) Quit"
	}
	return "Enter to send  •  Esc or /quit to leave"
}

func (model *Model) renderJoinError() string {
	return joinErrorBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		errorStyle.Copy().MarginTop(0).Render("Unable to join room"),
		messageBodyStyle.Render(sanitize(model.joinError)),
	))
}

func (model *Model) renderMessages() string {
	var messageLines []string
	for _, entry := range model.lines {
		switch entry.kind {
		case lineNotice:
			messageLines = append(messageLines, systemMessageStyle.Render(fmt.Sprintf("%s has joined the room", sanitize(entry.msg.Username))))
		default:
			messageLines = append(messageLines, model.renderChatMessage(entry.msg))
		}
	}
	if model.emptyState {
		messageLines = append(messageLines, systemMessageStyle.Render(emptyStateText))
	}
	if model.loading {
		messageLines = append(messageLines, connectingStyle.Copy().MarginTop(0).Render("Loading messages..."))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, "")
	}
	return messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...))
}

// renderChatMessage stamps the time when the server sent one, colors the
// sender and indents multi-line bodies.
func (model *Model) renderChatMessage(msg chat.Message) string {
	var parts []string
	if msg.Timestamp != nil {
		parts = append(parts, timestampStyle.Render(fmt.Sprintf("[%s]", msg.Timestamp.Local().Format("15:04:05"))), " ")
	}
	var nameStyle lipgloss.Style
	if model.identity != "" && msg.Username == model.identity {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(msg.Username))
	}
	name := nameStyle.Render(sanitize(msg.Username))
	bodyText := messageBodyStyle.Render(strings.ReplaceAll(sanitize(msg.Body), "\n", "\n   "))
	parts = append(parts, name, ": ", bodyText)
	return lipgloss.JoinHorizontal(lipgloss.Left, parts...)
}

func (model *Model) renderRoster() string {
	title := "Members"
	if model.rosterLoaded {
		title = fmt.Sprintf("Members (%d)", len(model.roster))
	}
	lines := []string{usernameStyle.Render(title)}
	switch {
	case !model.rosterLoaded:
	case len(model.roster) == 0:
		lines = append(lines, menuHintStyle.Copy().MarginTop(0).Render(noMembersText))
	default:
		for _, member := range model.roster {
			badge := badgeStyles[member.Role.Class()].Render(string(member.Role))
			lines = append(lines, fmt.Sprintf("%s %s", sanitize(member.Name), badge))
		}
	}
	return rosterBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (model *Model) renderInput() string {
	if model.sessionErr != nil {
		return disabledInputStyle.Render(timestampStyle.Render("Disconnected"))
	}
	if !model.inputEnabled {
		return disabledInputStyle.Render(timestampStyle.Render("Sending…"))
	}
	return inputBoxStyle.Render(model.textInput.View())
}

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
