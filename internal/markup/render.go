// Package markup renders room state as HTML fragments. Every piece of user or
// server text goes through Escape before it reaches markup.
package markup

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"roomchat/internal/chat"
)

const (
	EmptyStateID   = "no-messages-msg"
	EmptyStateText = "No messages yet. Start the conversation!"
	NoMembersText  = "No members yet."
	LoadingText    = "Loading messages..."
)

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// Escape replaces & < > " ' with their entities.
func Escape(text string) string {
	return escaper.Replace(text)
}

// BadgeClass is the CSS class for a role.
func BadgeClass(role chat.Role) string {
	switch role.Class() {
	case chat.ClassPrimary:
		return "badge-primary"
	case chat.ClassSecondary:
		return "badge-secondary"
	default:
		return "badge-ghost"
	}
}

func userHref(id string) string {
	return "/user/" + Escape(url.PathEscape(id))
}

// MessageHTML renders one chat line.
func MessageHTML(msg chat.Message) string {
	var name string
	if msg.UserID != nil {
		name = fmt.Sprintf(`<a href="%s" class="font-bold text-primary hover:underline">%s</a>:`, userHref(*msg.UserID), Escape(msg.Username))
	} else {
		name = fmt.Sprintf(`<span class="font-bold text-primary">%s:</span>`, Escape(msg.Username))
	}
	var stamp string
	if msg.Timestamp != nil {
		stamp = fmt.Sprintf(`<span class="text-xs text-base-content/50 ml-2">%s</span>`, msg.Timestamp.Local().Format("15:04:05"))
	}
	return fmt.Sprintf(`<div class="mb-2 p-3 message-bubble rounded-lg fade-in">%s <span class="ml-2">%s</span>%s</div>`,
		name, Escape(msg.Body), stamp)
}

// JoinNotificationHTML renders the "has joined" line.
func JoinNotificationHTML(username string) string {
	return fmt.Sprintf(`<div class="mb-2 p-2 glass-panel rounded-lg text-center fade-in"><span class="text-sm neon-cyan italic">%s has joined the room</span></div>`,
		Escape(username))
}

// EmptyStateHTML is the placeholder shown when a room has no history.
func EmptyStateHTML() string {
	return fmt.Sprintf(`<p class="text-base-content/60 text-sm" id="%s">%s</p>`, EmptyStateID, EmptyStateText)
}

// RosterHTML renders the member list, or the empty-roster placeholder.
func RosterHTML(members []chat.Member) string {
	if len(members) == 0 {
		return fmt.Sprintf(`<p class="text-base-content/60 text-sm">%s</p>`, NoMembersText)
	}
	return strings.Join(lo.Map(members, func(m chat.Member, _ int) string {
		return fmt.Sprintf(`<div class="flex items-center justify-between p-3 glass-panel rounded-lg"><a href="%s" class="font-medium truncate hover:underline">%s</a><span class="badge %s badge-sm">%s</span></div>`,
			userHref(m.ID), Escape(m.Name), BadgeClass(m.Role), Escape(string(m.Role)))
	}), "")
}

// JoinErrorHTML renders the blocking join panel with its retry action.
func JoinErrorHTML(reason string) string {
	return fmt.Sprintf(`<div class="join-error" role="alert"><h3>Unable to join room</h3><p>%s</p><button id="retry-join" class="btn btn-primary" onclick="window.location.reload()">Retry</button><a href="/" class="btn btn-outline">Leave</a></div>`,
		Escape(reason))
}

// TransientErrorHTML renders a self-dismissing notice.
func TransientErrorHTML(text string) string {
	return fmt.Sprintf(`<div class="toast alert alert-error" role="status">%s</div>`, Escape(text))
}
