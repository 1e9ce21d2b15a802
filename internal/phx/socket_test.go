package phx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// serverFunc handles one decoded frame and returns the frames to send back.
type serverFunc func(Message) []Message

func newServer(t *testing.T, handle serverFunc) (endpoint string, query chan string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	query = make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query <- r.URL.Path + "?" + r.URL.RawQuery
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				return
			}
			for _, out := range handle(msg) {
				frame, _ := json.Marshal(out)
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket", query
}

func replyTo(msg Message, status string, response any) Message {
	payload, _ := EncodeReply(status, response)
	return Message{JoinRef: msg.JoinRef, Ref: msg.Ref, Topic: msg.Topic, Event: EventReply, Payload: payload}
}

func receive(t *testing.T, s *Socket) Message {
	t.Helper()
	select {
	case msg := <-s.Messages():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
		return Message{}
	}
}

func TestSocketURL(t *testing.T) {
	got, err := SocketURL("ws://localhost:4000/socket", "abc")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:4000/socket/websocket?token=abc&vsn=2.0.0", got)

	got, err = SocketURL("wss://chat.example/socket/websocket", "")
	require.NoError(t, err)
	require.Equal(t, "wss://chat.example/socket/websocket?vsn=2.0.0", got)

	_, err = SocketURL("http://localhost:4000/socket", "abc")
	require.Error(t, err)
}

func TestMessageCodec(t *testing.T) {
	data, err := json.Marshal(Message{Topic: "room:1", Event: "new_message"})
	require.NoError(t, err)
	require.JSONEq(t, `[null,null,"room:1","new_message",{}]`, string(data))

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`["1","2","room:1","phx_reply",{"status":"ok","response":{"a":1}}]`), &msg))
	require.Equal(t, "1", msg.JoinRef)
	require.Equal(t, "2", msg.Ref)
	reply, err := msg.Reply()
	require.NoError(t, err)
	require.Equal(t, StatusOK, reply.Status)
	require.JSONEq(t, `{"a":1}`, string(reply.Response))

	require.Error(t, json.Unmarshal([]byte(`["1","2","room:1"]`), &msg))
	_, err = Message{Event: "new_message"}.Reply()
	require.Error(t, err)
}

func TestJoinRoundTrip(t *testing.T) {
	endpoint, query := newServer(t, func(msg Message) []Message {
		if msg.Event == EventJoin {
			return []Message{replyTo(msg, StatusOK, map[string]string{"username": "ann"})}
		}
		return nil
	})
	sock, err := Dial(context.Background(), endpoint, Options{Token: "tok", Logger: quietLogger})
	require.NoError(t, err)
	defer sock.Close()
	require.Equal(t, "/socket/websocket?token=tok&vsn=2.0.0", <-query)

	ref, err := sock.Push("room:lobby", EventJoin, "", struct{}{}, 0)
	require.NoError(t, err)

	msg := receive(t, sock)
	require.Equal(t, ref, msg.Ref)
	require.Equal(t, ref, msg.JoinRef)
	reply, err := msg.Reply()
	require.NoError(t, err)
	require.Equal(t, StatusOK, reply.Status)
}

func TestPushTimeoutIsSynthesized(t *testing.T) {
	endpoint, _ := newServer(t, func(Message) []Message { return nil })
	sock, err := Dial(context.Background(), endpoint, Options{Logger: quietLogger})
	require.NoError(t, err)
	defer sock.Close()

	ref, err := sock.Push("room:lobby", "new_message", "1", map[string]string{"body": "hi"}, 30*time.Millisecond)
	require.NoError(t, err)

	msg := receive(t, sock)
	require.Equal(t, ref, msg.Ref)
	require.Equal(t, "room:lobby", msg.Topic)
	reply, err := msg.Reply()
	require.NoError(t, err)
	require.Equal(t, StatusTimeout, reply.Status)
}

func TestReplyBeforeTimeoutCancelsIt(t *testing.T) {
	endpoint, _ := newServer(t, func(msg Message) []Message {
		return []Message{replyTo(msg, StatusOK, nil)}
	})
	sock, err := Dial(context.Background(), endpoint, Options{Logger: quietLogger})
	require.NoError(t, err)
	defer sock.Close()

	_, err = sock.Push("room:lobby", "new_message", "1", map[string]string{"body": "hi"}, 50*time.Millisecond)
	require.NoError(t, err)
	reply, err := receive(t, sock).Reply()
	require.NoError(t, err)
	require.Equal(t, StatusOK, reply.Status)

	select {
	case msg := <-sock.Messages():
		t.Fatalf("unexpected frame after reply: %+v", msg)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestHeartbeatRepliesAreConsumed(t *testing.T) {
	endpoint, _ := newServer(t, func(msg Message) []Message {
		if msg.Topic == TopicPhoenix && msg.Event == EventHeartbeat {
			return []Message{replyTo(msg, StatusOK, nil)}
		}
		return nil
	})
	sock, err := Dial(context.Background(), endpoint, Options{Heartbeat: 20 * time.Millisecond, Logger: quietLogger})
	require.NoError(t, err)
	defer sock.Close()

	select {
	case msg := <-sock.Messages():
		t.Fatalf("heartbeat reply leaked: %+v", msg)
	case <-sock.Done():
		t.Fatalf("socket stopped: %v", sock.Err())
	case <-time.After(150 * time.Millisecond):
	}
	require.NoError(t, sock.Err())
}

func TestMissedHeartbeatStopsSocket(t *testing.T) {
	endpoint, _ := newServer(t, func(Message) []Message { return nil })
	sock, err := Dial(context.Background(), endpoint, Options{Heartbeat: 20 * time.Millisecond, Logger: quietLogger})
	require.NoError(t, err)

	select {
	case <-sock.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("socket did not stop")
	}
	require.True(t, errors.Is(sock.Err(), ErrHeartbeatTimeout))

	_, err = sock.Push("room:lobby", "new_message", "1", nil, 0)
	require.ErrorIs(t, err, ErrClosed)
}

func TestCloseReportsErrClosed(t *testing.T) {
	endpoint, _ := newServer(t, func(Message) []Message { return nil })
	sock, err := Dial(context.Background(), endpoint, Options{Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, sock.Close())
	<-sock.Done()
	require.ErrorIs(t, sock.Err(), ErrClosed)
}
