package phx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultHeartbeat matches the interval Phoenix clients use.
	DefaultHeartbeat = 30 * time.Second

	protocolVersion = "2.0.0"
	writeWait       = 10 * time.Second
	maxFrameSize    = 1 << 20
	inboundBuffer   = 64
	outboundBuffer  = 64
)

var (
	// ErrClosed is returned by Push once the socket has shut down.
	ErrClosed = errors.New("phx: socket closed")
	// ErrHeartbeatTimeout ends a socket whose previous heartbeat went unanswered.
	ErrHeartbeatTimeout = errors.New("phx: heartbeat timeout")
)

// Options tunes Dial. The zero value is usable.
type Options struct {
	Token     string
	Heartbeat time.Duration
	Dialer    *websocket.Dialer
	Logger    *slog.Logger
}

// Socket is one multiplexed connection. Frames from the server are delivered
// in order on Messages; replies to timed pushes that never arrive are
// synthesized as StatusTimeout replies.
type Socket struct {
	conn      *websocket.Conn
	log       *slog.Logger
	heartbeat time.Duration

	messages chan Message
	outbound chan []byte
	done     chan struct{}

	refs atomic.Uint64

	mu           sync.Mutex
	pending      map[string]*time.Timer
	heartbeatRef string

	closeOnce sync.Once
	err       error
}

// SocketURL turns an endpoint such as ws://host/socket into the transport
// URL carrying the token and protocol version.
func SocketURL(endpoint, token string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	if !strings.HasSuffix(parsed.Path, "/websocket") {
		parsed.Path = strings.TrimRight(parsed.Path, "/") + "/websocket"
	}
	query := parsed.Query()
	if token != "" {
		query.Set("token", token)
	}
	query.Set("vsn", protocolVersion)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Dial opens the socket and starts its pumps.
func Dial(ctx context.Context, endpoint string, opts Options) (*Socket, error) {
	target, err := SocketURL(endpoint, opts.Token)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return newSocket(conn, opts), nil
}

func newSocket(conn *websocket.Conn, opts Options) *Socket {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	s := &Socket{
		conn:      conn,
		log:       logger,
		heartbeat: heartbeat,
		messages:  make(chan Message, inboundBuffer),
		outbound:  make(chan []byte, outboundBuffer),
		done:      make(chan struct{}),
		pending:   make(map[string]*time.Timer),
	}
	conn.SetReadLimit(maxFrameSize)
	go s.readPump()
	go s.writePump()
	return s
}

// Messages delivers inbound frames in arrival order. Heartbeat replies are
// consumed by the socket itself.
func (s *Socket) Messages() <-chan Message { return s.messages }

// Done is closed when the socket stops.
func (s *Socket) Done() <-chan struct{} { return s.done }

// Err reports why the socket stopped. It is nil while the socket is open.
func (s *Socket) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Push queues a frame and returns its ref. A join frame uses its own ref as
// join_ref. With a positive timeout, a StatusTimeout reply is delivered if
// the server has not replied in time; a zero timeout waits forever.
func (s *Socket) Push(topic, event, joinRef string, payload any, timeout time.Duration) (string, error) {
	select {
	case <-s.done:
		return "", ErrClosed
	default:
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", event, err)
	}
	ref := s.nextRef()
	if event == EventJoin {
		joinRef = ref
	}
	frame, err := json.Marshal(Message{JoinRef: joinRef, Ref: ref, Topic: topic, Event: event, Payload: raw})
	if err != nil {
		return "", err
	}
	if timeout > 0 {
		s.track(topic, joinRef, ref, timeout)
	}
	select {
	case s.outbound <- frame:
		return ref, nil
	case <-s.done:
		s.settle(ref)
		return "", ErrClosed
	}
}

// Close sends a close frame and stops the socket.
func (s *Socket) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client quit"),
		time.Now().Add(writeWait))
	s.fail(ErrClosed)
	return nil
}

func (s *Socket) nextRef() string {
	return strconv.FormatUint(s.refs.Add(1), 10)
}

func (s *Socket) track(topic, joinRef, ref string, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[ref] = time.AfterFunc(timeout, func() {
		s.expire(topic, joinRef, ref)
	})
}

// settle forgets a pending push and reports whether it was still waiting.
func (s *Socket) settle(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.pending[ref]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.pending, ref)
	return true
}

func (s *Socket) expire(topic, joinRef, ref string) {
	if !s.settle(ref) {
		return
	}
	payload, _ := EncodeReply(StatusTimeout, nil)
	s.deliver(Message{JoinRef: joinRef, Ref: ref, Topic: topic, Event: EventReply, Payload: payload})
}

func (s *Socket) deliver(msg Message) {
	select {
	case s.messages <- msg:
	case <-s.done:
	}
}

func (s *Socket) fail(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
		_ = s.conn.Close()
		s.mu.Lock()
		for ref, timer := range s.pending {
			timer.Stop()
			delete(s.pending, ref)
		}
		s.mu.Unlock()
	})
}

func (s *Socket) readPump() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("read: %w", err))
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("dropping undecodable frame", "error", err)
			continue
		}
		if msg.Event == EventReply {
			s.settle(msg.Ref)
			if msg.Topic == TopicPhoenix {
				s.clearHeartbeat(msg.Ref)
				continue
			}
		}
		s.deliver(msg)
	}
}

func (s *Socket) writePump() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case frame := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.fail(fmt.Errorf("write: %w", err))
				return
			}
		case <-ticker.C:
			if err := s.sendHeartbeat(); err != nil {
				s.fail(err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Socket) sendHeartbeat() error {
	s.mu.Lock()
	if s.heartbeatRef != "" {
		s.mu.Unlock()
		return ErrHeartbeatTimeout
	}
	ref := s.nextRef()
	s.heartbeatRef = ref
	s.mu.Unlock()

	frame, err := json.Marshal(Message{Ref: ref, Topic: TopicPhoenix, Event: EventHeartbeat})
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

func (s *Socket) clearHeartbeat(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeatRef == ref {
		s.heartbeatRef = ""
	}
}
