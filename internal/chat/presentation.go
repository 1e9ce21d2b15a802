package chat

// Presentation renders what the session decides. All calls arrive on the
// session's dispatch goroutine, in order.
type Presentation interface {
	// SetIdentity shows who the server says we are.
	SetIdentity(username string)
	// ClearLoading removes the "joining…" placeholder.
	ClearLoading()
	// AppendMessage adds a chat line and removes the empty-state placeholder.
	AppendMessage(msg Message)
	// ShowEmptyState shows the "no messages yet" placeholder.
	ShowEmptyState()
	ShowJoinNotification(username string)
	// ShowJoinError shows the blocking join panel. Its retry action must
	// rebuild the whole session.
	ShowJoinError(reason string)
	SetInputEnabled(enabled bool)
	ClearInput()
	ShowTransientError(text string)
	DismissTransientError()
	// UpdateRoster replaces the displayed roster. The count is len(members).
	UpdateRoster(members []Member)
}

// Presentations fans every call out to each target in order.
type Presentations []Presentation

func (ps Presentations) SetIdentity(username string) {
	for _, p := range ps {
		p.SetIdentity(username)
	}
}

func (ps Presentations) ClearLoading() {
	for _, p := range ps {
		p.ClearLoading()
	}
}

func (ps Presentations) AppendMessage(msg Message) {
	for _, p := range ps {
		p.AppendMessage(msg)
	}
}

func (ps Presentations) ShowEmptyState() {
	for _, p := range ps {
		p.ShowEmptyState()
	}
}

func (ps Presentations) ShowJoinNotification(username string) {
	for _, p := range ps {
		p.ShowJoinNotification(username)
	}
}

func (ps Presentations) ShowJoinError(reason string) {
	for _, p := range ps {
		p.ShowJoinError(reason)
	}
}

func (ps Presentations) SetInputEnabled(enabled bool) {
	for _, p := range ps {
		p.SetInputEnabled(enabled)
	}
}

func (ps Presentations) ClearInput() {
	for _, p := range ps {
		p.ClearInput()
	}
}

func (ps Presentations) ShowTransientError(text string) {
	for _, p := range ps {
		p.ShowTransientError(text)
	}
}

func (ps Presentations) DismissTransientError() {
	for _, p := range ps {
		p.DismissTransientError()
	}
}

func (ps Presentations) UpdateRoster(members []Member) {
	for _, p := range ps {
		p.UpdateRoster(append([]Member(nil), members...))
	}
}
