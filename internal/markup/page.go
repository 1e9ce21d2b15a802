package markup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"roomchat/internal/chat"
)

// Page is a chat.Presentation that keeps the room as HTML fragments. OnChange,
// when set, runs after every update with the page unlocked.
type Page struct {
	mu sync.Mutex

	roomID       string
	identity     string
	loading      bool
	emptyState   bool
	entries      []string
	joinError    string
	inputEnabled bool
	inputClears  int
	transient    string
	roster       []chat.Member
	rosterLoaded bool

	OnChange func(*Page)
}

var _ chat.Presentation = (*Page)(nil)

func NewPage(roomID string) *Page {
	return &Page{roomID: roomID, loading: true, inputEnabled: true}
}

func (p *Page) update(fn func()) {
	p.mu.Lock()
	fn()
	p.mu.Unlock()
	if p.OnChange != nil {
		p.OnChange(p)
	}
}

func (p *Page) SetIdentity(username string) {
	p.update(func() { p.identity = username })
}

func (p *Page) ClearLoading() {
	p.update(func() {
		p.loading = false
		p.entries = nil
		p.emptyState = false
	})
}

func (p *Page) AppendMessage(msg chat.Message) {
	p.update(func() {
		p.emptyState = false
		p.entries = append(p.entries, MessageHTML(msg))
	})
}

func (p *Page) ShowEmptyState() {
	p.update(func() { p.emptyState = true })
}

func (p *Page) ShowJoinNotification(username string) {
	p.update(func() { p.entries = append(p.entries, JoinNotificationHTML(username)) })
}

func (p *Page) ShowJoinError(reason string) {
	p.update(func() {
		p.loading = false
		p.emptyState = false
		p.entries = nil
		p.joinError = reason
	})
}

func (p *Page) SetInputEnabled(enabled bool) {
	p.update(func() { p.inputEnabled = enabled })
}

func (p *Page) ClearInput() {
	p.update(func() { p.inputClears++ })
}

func (p *Page) ShowTransientError(text string) {
	p.update(func() { p.transient = text })
}

func (p *Page) DismissTransientError() {
	p.update(func() { p.transient = "" })
}

func (p *Page) UpdateRoster(members []chat.Member) {
	p.update(func() {
		p.roster = append([]chat.Member(nil), members...)
		p.rosterLoaded = true
	})
}

// InputEnabled reports whether the send affordances are active.
func (p *Page) InputEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputEnabled
}

// TransientError is the visible transient notice, or "".
func (p *Page) TransientError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transient
}

// MessagesHTML is the content of the messages container.
func (p *Page) MessagesHTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messagesHTML()
}

func (p *Page) messagesHTML() string {
	switch {
	case p.joinError != "":
		return JoinErrorHTML(p.joinError)
	case p.loading:
		return fmt.Sprintf(`<p class="text-base-content/60 text-sm">%s</p>`, LoadingText)
	}
	var b strings.Builder
	for _, entry := range p.entries {
		b.WriteString(entry)
	}
	if p.emptyState {
		b.WriteString(EmptyStateHTML())
	}
	return b.String()
}

// MembersHTML is the roster container content; "" until the first roster.
func (p *Page) MembersHTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.rosterLoaded {
		return ""
	}
	return RosterHTML(p.roster)
}

// MembersCount is the displayed count, or "" before the first roster.
func (p *Page) MembersCount() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.rosterLoaded {
		return ""
	}
	return fmt.Sprint(len(p.roster))
}

// Document renders the whole page.
func (p *Page) Document() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	fmt.Fprintf(&b, "<title>room %s</title></head><body>\n", Escape(p.roomID))
	if p.identity != "" {
		fmt.Fprintf(&b, "<p id=\"username-display\">Signed in as: %s</p>\n", Escape(p.identity))
	}
	fmt.Fprintf(&b, "<div id=\"messages\">%s</div>\n", p.messagesHTML())
	if p.transient != "" {
		b.WriteString(TransientErrorHTML(p.transient))
		b.WriteString("\n")
	}
	count := ""
	members := ""
	if p.rosterLoaded {
		count = fmt.Sprint(len(p.roster))
		members = RosterHTML(p.roster)
	}
	fmt.Fprintf(&b, "<aside><h2>Members <span id=\"members-count\">%s</span></h2><div id=\"members-list\">%s</div></aside>\n", count, members)
	disabled := ""
	if !p.inputEnabled {
		disabled = " disabled"
	}
	fmt.Fprintf(&b, "<input id=\"message-input\"%s><button id=\"send-button\"%s>Send</button>\n", disabled, disabled)
	b.WriteString("</body></html>\n")
	return b.String()
}

// WriteFile replaces path with the current document through a temp file.
func (p *Page) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(p.Document()), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
