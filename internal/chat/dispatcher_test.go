package chat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"roomchat/internal/phx"
)

func TestSendPushesTrimmedBody(t *testing.T) {
	h := newHarness(t)
	h.joined()
	pushesBefore := len(h.transport.pushes)

	require.True(t, h.channel.dispatcher.Send("  hello  "))
	require.Len(t, h.transport.pushes, pushesBefore+1)
	push := h.transport.last()
	require.Equal(t, EventNewMessage, push.event)
	require.Equal(t, outgoingMessage{Body: "hello"}, push.payload)
	require.Equal(t, DefaultSendTimeout, push.timeout)
	require.Equal(t, h.channel.joinRef, push.joinRef)
	require.Equal(t, []string{"input:false"}, h.pres.calls)
	require.True(t, h.channel.dispatcher.Pending())
}

func TestBlankSendIsNoop(t *testing.T) {
	h := newHarness(t)
	h.joined()
	pushesBefore := len(h.transport.pushes)

	for _, text := range []string{"", "   ", "\t\n"} {
		require.False(t, h.channel.dispatcher.Send(text))
	}
	require.Len(t, h.transport.pushes, pushesBefore)
	require.Empty(t, h.pres.calls)
	require.False(t, h.channel.dispatcher.Pending())
}

func TestSecondSendWhilePendingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.joined()
	require.True(t, h.channel.dispatcher.Send("one"))
	ref := h.transport.last().ref
	pushesBefore := len(h.transport.pushes)

	require.False(t, h.channel.dispatcher.Send("two"))
	require.Len(t, h.transport.pushes, pushesBefore)
	require.Equal(t, ref, h.channel.dispatcher.pending.ref)
	require.Equal(t, []string{"input:false"}, h.pres.calls)
}

func TestSendBeforeJoinIsNoop(t *testing.T) {
	h := newHarness(t)
	h.join()
	require.False(t, h.channel.dispatcher.Send("early"))
	require.Len(t, h.transport.pushes, 1)
}

func TestAckClearsInputWithoutRendering(t *testing.T) {
	h := newHarness(t)
	h.joined()
	h.channel.dispatcher.Send("hello")
	h.reply(h.transport.last().ref, phx.StatusOK, `{}`)

	require.Equal(t, []string{"input:false", "input:true", "clear-input"}, h.pres.calls)
	require.False(t, h.channel.dispatcher.Pending())
	require.Empty(t, h.timers)
}

func TestRejectedSendShowsReasonThenDismisses(t *testing.T) {
	h := newHarness(t)
	h.joined()
	h.channel.dispatcher.Send("hello")
	h.reply(h.transport.last().ref, phx.StatusError, `{"reason":"slow down"}`)

	require.Equal(t, []string{"input:false", "input:true", "transient:slow down"}, h.pres.calls)
	require.Len(t, h.timers, 1)
	require.Equal(t, DefaultTransientTTL, h.timers[0].d)

	h.fireTimers()
	require.Equal(t, "dismiss", h.pres.calls[len(h.pres.calls)-1])
}

func TestRejectedSendWithoutReasonUsesGenericText(t *testing.T) {
	h := newHarness(t)
	h.joined()
	h.channel.dispatcher.Send("hello")
	h.reply(h.transport.last().ref, phx.StatusError, `{}`)
	require.Contains(t, h.pres.calls, "transient:"+DefaultSendFailure)
}

func TestTimedOutSend(t *testing.T) {
	h := newHarness(t)
	h.joined()
	h.channel.dispatcher.Send("hello")
	h.reply(h.transport.last().ref, phx.StatusTimeout, `{}`)

	require.Equal(t, []string{"input:false", "input:true", "transient:" + SendTimeoutText}, h.pres.calls)
	pushesBefore := len(h.transport.pushes)
	h.fireTimers()
	require.Len(t, h.transport.pushes, pushesBefore, "timeouts are not retried")
}

func TestStaleDismissKeepsNewerError(t *testing.T) {
	h := newHarness(t)
	h.joined()
	h.channel.dispatcher.Send("one")
	h.reply(h.transport.last().ref, phx.StatusError, `{"reason":"first"}`)
	h.channel.dispatcher.Send("two")
	h.reply(h.transport.last().ref, phx.StatusError, `{"reason":"second"}`)
	require.Len(t, h.timers, 2)

	first, second := h.timers[0], h.timers[1]
	h.pres.reset()
	first.fn()
	require.Empty(t, h.pres.calls)
	second.fn()
	require.Equal(t, []string{"dismiss"}, h.pres.calls)
}

func TestLateReplyForSettledSendIgnored(t *testing.T) {
	h := newHarness(t)
	h.joined()
	h.channel.dispatcher.Send("hello")
	ref := h.transport.last().ref
	h.reply(ref, phx.StatusTimeout, `{}`)
	h.pres.reset()

	h.reply(ref, phx.StatusOK, `{}`)
	require.Empty(t, h.pres.calls)
}

func TestSendPushFailureResolvesAsRejected(t *testing.T) {
	h := newHarness(t)
	h.joined()
	h.transport.pushErr = errors.New("closed")
	require.True(t, h.channel.dispatcher.Send("hello"))
	require.Equal(t, []string{"input:false", "input:true", "transient:" + DefaultSendFailure}, h.pres.calls)
	require.False(t, h.channel.dispatcher.Pending())
}

func TestLostWithPendingSendTimesOut(t *testing.T) {
	h := newHarness(t)
	h.joined()
	h.channel.dispatcher.Send("hello")
	h.channel.lost(errors.New("read: EOF"))
	require.Equal(t, []string{"input:false", "input:true", "transient:" + SendTimeoutText}, h.pres.calls)
}
