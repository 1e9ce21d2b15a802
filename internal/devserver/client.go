package devserver

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/phx"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192
	sendBuffer = 256
)

// Client is one websocket connection. A connection may join several topics.
type Client struct {
	server   *Server
	conn     *websocket.Conn
	name     string
	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once

	// joined maps topic to the join ref the client used. Only the read
	// goroutine touches it.
	joined map[string]joinedTopic
}

type joinedTopic struct {
	joinRef string
	room    *Room
}

func newClient(server *Server, conn *websocket.Conn, name string) *Client {
	return &Client{
		server: server,
		conn:   conn,
		name:   name,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		joined: make(map[string]joinedTopic),
	}
}

// enqueue hands a frame to the write pump without blocking. It reports false
// when the buffer is full or the client is gone.
func (client *Client) enqueue(frame []byte) bool {
	select {
	case <-client.done:
		return false
	default:
	}
	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

func (client *Client) stop() {
	client.stopOnce.Do(func() { close(client.done) })
}

func (client *Client) write(msg phx.Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		client.server.log.Error("encode frame", "event", msg.Event, "err", err)
		return
	}
	if !client.enqueue(frame) {
		client.stop()
	}
}

func (client *Client) reply(req phx.Message, status string, response any) {
	payload, err := phx.EncodeReply(status, response)
	if err != nil {
		client.server.log.Error("encode reply", "topic", req.Topic, "err", err)
		return
	}
	client.write(phx.Message{
		JoinRef: req.JoinRef,
		Ref:     req.Ref,
		Topic:   req.Topic,
		Event:   phx.EventReply,
		Payload: payload,
	})
}

func (client *Client) replyError(req phx.Message, reason string) {
	client.reply(req, phx.StatusError, map[string]string{"reason": reason})
}

func (client *Client) readPump() {
	defer func() {
		for topic := range client.joined {
			client.server.leave(client, topic)
		}
		client.stop()
		_ = client.conn.Close()
		client.server.metrics.DecConn()
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				client.server.log.Debug("read ended", "user", client.name, "err", err)
			}
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg phx.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			client.server.log.Warn("dropping malformed frame", "user", client.name, "err", err)
			continue
		}
		client.server.dispatch(client, msg)
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case frame := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
