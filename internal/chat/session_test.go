package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"roomchat/internal/chat"
	"roomchat/internal/markup"
	"roomchat/internal/mocks"
	"roomchat/internal/phx"
)

type sessionFixture struct {
	transport *mocks.MockTransport
	roster    *mocks.MockRosterSource
	page      *markup.Page
	messages  chan phx.Message
	done      chan struct{}
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &sessionFixture{
		transport: mocks.NewMockTransport(ctrl),
		roster:    mocks.NewMockRosterSource(ctrl),
		page:      markup.NewPage("lobby"),
		messages:  make(chan phx.Message, 8),
		done:      make(chan struct{}),
	}
	f.transport.EXPECT().Messages().Return((<-chan phx.Message)(f.messages)).AnyTimes()
	f.transport.EXPECT().Done().Return((<-chan struct{})(f.done)).AnyTimes()
	return f
}

func (f *sessionFixture) open(t *testing.T, cfg chat.Config) (*chat.Session, <-chan error) {
	t.Helper()
	f.transport.EXPECT().Push("room:lobby", phx.EventJoin, "", gomock.Any(), time.Duration(0)).Return("1", nil)
	cfg.Endpoint = "ws://example.test/socket"
	cfg.RoomID = "lobby"
	session, err := chat.Open(context.Background(), cfg, f.page,
		chat.WithTransport(f.transport),
		chat.WithRosterSource(f.roster),
	)
	require.NoError(t, err)
	errs := make(chan error, 1)
	go func() { errs <- session.Run(context.Background()) }()
	return session, errs
}

func (f *sessionFixture) reply(t *testing.T, ref, status string, response any) {
	t.Helper()
	payload, err := phx.EncodeReply(status, response)
	require.NoError(t, err)
	f.messages <- phx.Message{JoinRef: "1", Ref: ref, Topic: "room:lobby", Event: phx.EventReply, Payload: payload}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestOpenInertWithoutConfig(t *testing.T) {
	page := markup.NewPage("")
	for _, cfg := range []chat.Config{
		{},
		{Endpoint: "ws://example.test/socket"},
		{RoomID: "lobby"},
		{RoomID: "  ", Endpoint: "ws://example.test/socket"},
	} {
		session, err := chat.Open(context.Background(), cfg, page)
		require.ErrorIs(t, err, chat.ErrInert)
		require.Nil(t, session)
	}

	_, err := chat.Open(context.Background(), chat.Config{RoomID: "lobby", Endpoint: "ws://example.test/socket"}, nil)
	require.ErrorIs(t, err, chat.ErrInert)
}

func TestSessionJoinSendAndBroadcast(t *testing.T) {
	f := newSessionFixture(t)
	f.roster.EXPECT().FetchMembers(gomock.Any(), "lobby").
		Return(json.RawMessage(`{"members":[{"id":"1","name":"Ann","role":"admin"},{"id":"2","name":"Bo","role":"member"}]}`), nil)

	session, errs := f.open(t, chat.Config{})
	require.Equal(t, chat.Joining, session.State())

	f.reply(t, "1", phx.StatusOK, map[string]any{"username": "ann", "messages": []any{}})
	waitFor(t, func() bool { return f.page.MembersCount() == "2" }, "roster applied")
	require.Equal(t, chat.Joined, session.State())
	require.Contains(t, f.page.MessagesHTML(), markup.EmptyStateID)
	require.Contains(t, f.page.MembersHTML(), "badge-primary")

	sent := make(chan struct{})
	f.transport.EXPECT().Push("room:lobby", chat.EventNewMessage, "1", gomock.Any(), chat.DefaultSendTimeout).
		DoAndReturn(func(string, string, string, any, time.Duration) (string, error) {
			close(sent)
			return "2", nil
		})
	session.Send("  hello <world>  ")
	<-sent
	waitFor(t, func() bool { return !f.page.InputEnabled() }, "input disabled while pending")

	f.reply(t, "2", phx.StatusOK, nil)
	waitFor(t, f.page.InputEnabled, "input re-enabled after ack")
	require.Contains(t, f.page.MessagesHTML(), markup.EmptyStateID, "ack renders nothing")

	f.messages <- phx.Message{Topic: "room:lobby", Event: chat.EventNewMessage, Payload: json.RawMessage(`{"body":"hello <world>","username":"ann"}`)}
	waitFor(t, func() bool { return !strings.Contains(f.page.MessagesHTML(), markup.EmptyStateID) }, "placeholder removed")
	require.Contains(t, f.page.MessagesHTML(), "hello &lt;world&gt;")

	f.transport.EXPECT().Close().Return(nil)
	require.NoError(t, session.Close())
	require.ErrorIs(t, <-errs, chat.ErrClosed)
}

func TestSessionRejectedSendDismissesAfterTTL(t *testing.T) {
	f := newSessionFixture(t)
	f.roster.EXPECT().FetchMembers(gomock.Any(), "lobby").Return(json.RawMessage(`{}`), nil)

	session, errs := f.open(t, chat.Config{TransientTTL: 30 * time.Millisecond})
	f.reply(t, "1", phx.StatusOK, map[string]any{"username": "ann"})
	waitFor(t, func() bool { return session.State() == chat.Joined }, "joined")

	f.transport.EXPECT().Push("room:lobby", chat.EventNewMessage, "1", gomock.Any(), gomock.Any()).Return("2", nil)
	session.Send("hi")
	waitFor(t, func() bool { return !f.page.InputEnabled() }, "pending")

	f.reply(t, "2", phx.StatusError, map[string]string{"reason": "slow down"})
	waitFor(t, func() bool { return f.page.TransientError() == "slow down" }, "transient shown")
	require.True(t, f.page.InputEnabled())
	waitFor(t, func() bool { return f.page.TransientError() == "" }, "transient dismissed")

	f.transport.EXPECT().Close().Return(nil)
	require.NoError(t, session.Close())
	require.ErrorIs(t, <-errs, chat.ErrClosed)
}

func TestSessionJoinRejected(t *testing.T) {
	f := newSessionFixture(t)
	session, errs := f.open(t, chat.Config{})

	f.reply(t, "1", phx.StatusError, map[string]string{"reason": "room full"})
	waitFor(t, func() bool { return session.State() == chat.Errored }, "errored")
	html := f.page.MessagesHTML()
	require.Contains(t, html, "room full")
	require.Contains(t, html, "Retry")

	session.Send("ignored")

	f.transport.EXPECT().Close().Return(nil)
	require.NoError(t, session.Close())
	require.ErrorIs(t, <-errs, chat.ErrClosed)
}

func TestSessionSocketLostWhileJoining(t *testing.T) {
	f := newSessionFixture(t)
	f.transport.EXPECT().Err().Return(errors.New("read: EOF"))
	session, errs := f.open(t, chat.Config{})

	close(f.done)
	err := <-errs
	require.Error(t, err)
	require.Contains(t, err.Error(), "read: EOF")
	require.Equal(t, chat.Errored, session.State())
	require.Contains(t, f.page.MessagesHTML(), chat.ConnectionLostReason)

	f.transport.EXPECT().Close().Return(nil)
	require.NoError(t, session.Close())
}

func TestSessionSocketLostWithPendingSendDismissesNotice(t *testing.T) {
	f := newSessionFixture(t)
	f.roster.EXPECT().FetchMembers(gomock.Any(), "lobby").Return(json.RawMessage(`{}`), nil)

	session, errs := f.open(t, chat.Config{TransientTTL: 30 * time.Millisecond})
	f.reply(t, "1", phx.StatusOK, map[string]any{"username": "ann"})
	waitFor(t, func() bool { return session.State() == chat.Joined }, "joined")

	f.transport.EXPECT().Push("room:lobby", chat.EventNewMessage, "1", gomock.Any(), gomock.Any()).Return("2", nil)
	session.Send("hello")
	waitFor(t, func() bool { return !f.page.InputEnabled() }, "pending")

	f.transport.EXPECT().Err().Return(errors.New("read: EOF"))
	close(f.done)
	err := <-errs
	require.ErrorContains(t, err, "read: EOF")
	require.Equal(t, chat.SendTimeoutText, f.page.TransientError())
	require.True(t, f.page.InputEnabled())

	waitFor(t, func() bool { return f.page.TransientError() == "" }, "timeout notice dismissed after socket loss")

	f.transport.EXPECT().Close().Return(nil)
	require.NoError(t, session.Close())
}
