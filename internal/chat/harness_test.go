package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"roomchat/internal/phx"
)

type pushed struct {
	ref, topic, event, joinRef string
	payload                    any
	timeout                    time.Duration
}

type fakeTransport struct {
	nextRef  int
	pushes   []pushed
	pushErr  error
	messages chan phx.Message
	done     chan struct{}
	err      error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{messages: make(chan phx.Message, 16), done: make(chan struct{})}
}

func (f *fakeTransport) Push(topic, event, joinRef string, payload any, timeout time.Duration) (string, error) {
	if f.pushErr != nil {
		return "", f.pushErr
	}
	f.nextRef++
	ref := strconv.Itoa(f.nextRef)
	if event == phx.EventJoin {
		joinRef = ref
	}
	f.pushes = append(f.pushes, pushed{ref: ref, topic: topic, event: event, joinRef: joinRef, payload: payload, timeout: timeout})
	return ref, nil
}

func (f *fakeTransport) Messages() <-chan phx.Message { return f.messages }
func (f *fakeTransport) Done() <-chan struct{}        { return f.done }
func (f *fakeTransport) Err() error                   { return f.err }
func (f *fakeTransport) Close() error                 { return nil }

func (f *fakeTransport) last() pushed { return f.pushes[len(f.pushes)-1] }

// recorder is a Presentation that logs every call in order.
type recorder struct {
	calls   []string
	roster  []Member
	rosters int
}

func (r *recorder) add(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) SetIdentity(username string)          { r.add("identity:%s", username) }
func (r *recorder) ClearLoading()                        { r.add("clear-loading") }
func (r *recorder) AppendMessage(msg Message)            { r.add("message:%s:%s", msg.Username, msg.Body) }
func (r *recorder) ShowEmptyState()                      { r.add("empty-state") }
func (r *recorder) ShowJoinNotification(username string) { r.add("joined:%s", username) }
func (r *recorder) ShowJoinError(reason string)          { r.add("join-error:%s", reason) }
func (r *recorder) SetInputEnabled(enabled bool)         { r.add("input:%t", enabled) }
func (r *recorder) ClearInput()                          { r.add("clear-input") }
func (r *recorder) ShowTransientError(text string)       { r.add("transient:%s", text) }
func (r *recorder) DismissTransientError()               { r.add("dismiss") }
func (r *recorder) UpdateRoster(members []Member) {
	r.roster = members
	r.rosters++
	r.add("roster:%d", len(members))
}

func (r *recorder) reset() { r.calls = nil }

type rosterFunc func(ctx context.Context, roomID string) (json.RawMessage, error)

func (f rosterFunc) FetchMembers(ctx context.Context, roomID string) (json.RawMessage, error) {
	return f(ctx, roomID)
}

type timer struct {
	d  time.Duration
	fn func()
}

// harness wires a channel the way Open does, with timers and posts under the
// test's control.
type harness struct {
	t         *testing.T
	channel   *RoomChannel
	transport *fakeTransport
	pres      *recorder
	roster    rosterFunc
	posts     chan func()
	timers    []timer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		transport: newFakeTransport(),
		pres:      &recorder{},
		posts:     make(chan func(), 16),
		roster: func(context.Context, string) (json.RawMessage, error) {
			return json.RawMessage(`{"members":[]}`), nil
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	channel := newRoomChannel("lobby", h.transport, h.pres, logger, nil)
	channel.dispatcher = &MessageDispatcher{
		channel:      channel,
		pres:         h.pres,
		log:          logger,
		sendTimeout:  DefaultSendTimeout,
		transientTTL: DefaultTransientTTL,
		after:        func(d time.Duration, fn func()) { h.timers = append(h.timers, timer{d: d, fn: fn}) },
	}
	channel.presence = &PresenceSync{
		ctx:    context.Background(),
		roomID: "lobby",
		source: rosterFunc(func(ctx context.Context, roomID string) (json.RawMessage, error) { return h.roster(ctx, roomID) }),
		pres:   h.pres,
		log:    logger,
		post:   func(fn func()) { h.posts <- fn },
	}
	h.channel = channel
	return h
}

func (h *harness) join() string {
	h.t.Helper()
	h.channel.join()
	return h.transport.last().ref
}

func (h *harness) reply(ref, status, response string) {
	h.t.Helper()
	payload, err := json.Marshal(map[string]json.RawMessage{
		"status":   json.RawMessage(strconv.Quote(status)),
		"response": json.RawMessage(response),
	})
	if err != nil {
		h.t.Fatalf("marshal reply: %v", err)
	}
	h.channel.handle(phx.Message{JoinRef: h.channel.joinRef, Ref: ref, Topic: h.channel.topic, Event: phx.EventReply, Payload: payload})
}

func (h *harness) event(event, payload string) {
	h.channel.handle(phx.Message{Topic: h.channel.topic, Event: event, Payload: json.RawMessage(payload)})
}

// joined runs the join handshake with an empty history and settles the
// initial roster fetch.
func (h *harness) joined() {
	h.t.Helper()
	ref := h.join()
	h.reply(ref, phx.StatusOK, `{"username":"ann","messages":[]}`)
	h.settlePosts(1)
	h.pres.reset()
}

// settlePosts runs n posted closures, as the dispatch loop would.
func (h *harness) settlePosts(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		select {
		case fn := <-h.posts:
			fn()
		case <-time.After(2 * time.Second):
			h.t.Fatalf("timed out waiting for post %d of %d", i+1, n)
		}
	}
}

func (h *harness) fireTimers() {
	timers := h.timers
	h.timers = nil
	for _, tm := range timers {
		tm.fn()
	}
}
