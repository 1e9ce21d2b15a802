package chat

import (
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultSendTimeout is how long a push waits for its reply.
	DefaultSendTimeout = 10 * time.Second
	// DefaultTransientTTL is how long a send error stays on screen.
	DefaultTransientTTL = 2600 * time.Millisecond
)

type outgoingMessage struct {
	Body string `json:"body"`
}

type pendingSend struct {
	ref string
}

// MessageDispatcher serializes sends against a channel: at most one push is
// in flight, and input is disabled exactly while it is.
type MessageDispatcher struct {
	channel      *RoomChannel
	pres         Presentation
	log          *slog.Logger
	sendTimeout  time.Duration
	transientTTL time.Duration
	after        func(time.Duration, func())

	pending      *pendingSend
	transientSeq uint64
}

// Pending reports whether a send is outstanding.
func (d *MessageDispatcher) Pending() bool { return d.pending != nil }

// Send pushes text as a new message. Blank text, a send already in flight, or
// a channel that is not joined make it a no-op; the result says whether the
// push was issued.
func (d *MessageDispatcher) Send(text string) bool {
	body := strings.TrimSpace(text)
	if body == "" || d.pending != nil || d.channel.State() != Joined {
		return false
	}
	d.pending = &pendingSend{}
	d.pres.SetInputEnabled(false)
	ref, err := d.channel.push(EventNewMessage, outgoingMessage{Body: body}, d.sendTimeout)
	if err != nil {
		d.log.Warn("send push failed", "error", err)
		d.resolve(SendRejected{Reason: DefaultSendFailure})
		return true
	}
	d.pending.ref = ref
	return true
}

func (d *MessageDispatcher) owns(ref string) bool {
	return d.pending != nil && ref != "" && d.pending.ref == ref
}

// resolve is the single consumer of send outcomes.
func (d *MessageDispatcher) resolve(outcome SendOutcome) {
	if d.pending == nil {
		return
	}
	d.pending = nil
	d.pres.SetInputEnabled(true)
	switch o := outcome.(type) {
	case SendAcked:
		d.pres.ClearInput()
	case SendRejected:
		reason := o.Reason
		if reason == "" {
			reason = DefaultSendFailure
		}
		d.flash(reason)
	case SendTimedOut:
		d.flash(SendTimeoutText)
	}
}

// abandon treats an outstanding send as timed out.
func (d *MessageDispatcher) abandon() {
	if d.pending != nil {
		d.resolve(SendTimedOut{})
	}
}

func (d *MessageDispatcher) flash(text string) {
	d.transientSeq++
	seq := d.transientSeq
	d.pres.ShowTransientError(text)
	d.after(d.transientTTL, func() {
		if seq == d.transientSeq {
			d.pres.DismissTransientError()
		}
	})
}
