// Package devserver is a small room server speaking the channel protocol the
// chat client uses: joins with history replay, broadcasts and roster reads.
// It backs `roomchat serve` and `roomchat local`.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"roomchat/internal/phx"
	"roomchat/internal/storage"
)

const (
	DefaultPath         = "/socket"
	DefaultHistoryLimit = 50
	DefaultRateLimit    = 5
	DefaultRateWindow   = 3 * time.Second
	DefaultMaxBodyLen   = 2000

	maxNameLen = 64
	roomPrefix = "room:"

	EventNewMessage = "new_message"
	EventUserJoined = "user_joined"
)

// Config tunes a Server. Zero values fall back to the defaults above.
type Config struct {
	Path         string
	HistoryLimit int
	RoomCapacity int
	RateLimit    int
	RateWindow   time.Duration
	MaxBodyLen   int
	Editors      []string
	Logger       *slog.Logger
}

type Server struct {
	store    *storage.Store
	cfg      Config
	log      *slog.Logger
	hub      *Hub
	presence *PresenceTracker
	limiter  *RateLimiter
	metrics  *Metrics
	editors  map[string]bool
	upgrader websocket.Upgrader
}

// messagePayload is the wire shape of a chat message, in history replays and
// new_message broadcasts.
type messagePayload struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	Username  string `json:"username"`
	UserID    string `json:"user_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

type joinPayload struct {
	Username string           `json:"username"`
	Messages []messagePayload `json:"messages"`
}

type memberPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type rosterPayload struct {
	Members []memberPayload `json:"members"`
}

func New(store *storage.Store, cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultRateWindow
	}
	if cfg.MaxBodyLen <= 0 {
		cfg.MaxBodyLen = DefaultMaxBodyLen
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    store,
		cfg:      cfg,
		log:      logger,
		hub:      NewHub(),
		presence: NewPresenceTracker(),
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		metrics:  NewMetrics(),
		editors: lo.SliceToMap(cfg.Editors, func(name string) (string, bool) {
			return strings.TrimSpace(name), true
		}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler routes the socket, roster and metrics endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(strings.TrimRight(s.cfg.Path, "/")+"/websocket", s.ServeWS)
	mux.HandleFunc("GET /room/{id}/members", s.handleMembers)
	mux.Handle("GET /metrics", s.metrics)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Close stops the room loops. Open connections end when the listener closes.
func (s *Server) Close() {
	s.hub.Close()
}

// ServeWS upgrades the request. The token query parameter is the display
// name; there are no accounts.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("token"))
	if name == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing token"))
		return
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		writeError(w, http.StatusBadRequest, errors.New("name too long"))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "err", err)
		return
	}
	client := newClient(s, conn, name)
	s.metrics.IncConn()
	s.log.Info("client connected", "user", name, "remote", r.RemoteAddr)
	go client.writePump()
	go client.readPump()
}

func (s *Server) dispatch(client *Client, msg phx.Message) {
	switch {
	case msg.Topic == phx.TopicPhoenix && msg.Event == phx.EventHeartbeat:
		client.reply(msg, phx.StatusOK, nil)
	case msg.Event == phx.EventJoin:
		s.join(client, msg)
	case msg.Event == phx.EventLeave:
		s.leave(client, msg.Topic)
		client.reply(msg, phx.StatusOK, nil)
	case msg.Event == EventNewMessage:
		s.newMessage(client, msg)
	default:
		client.replyError(msg, "unknown event")
	}
}

func (s *Server) join(client *Client, msg phx.Message) {
	roomID, ok := strings.CutPrefix(msg.Topic, roomPrefix)
	if !ok || strings.TrimSpace(roomID) == "" {
		client.replyError(msg, "unknown topic")
		return
	}
	if _, already := client.joined[msg.Topic]; already {
		client.replyError(msg, "already joined")
		return
	}
	if !s.presence.TryEnter(roomID, client.name, s.cfg.RoomCapacity) {
		s.metrics.IncJoinRejection()
		s.log.Info("join rejected", "room", roomID, "user", client.name, "reason", "room full")
		client.replyError(msg, "room full")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	room := s.hub.getOrCreateRoom(roomID)
	room.admission.Lock()
	payload, err := s.admit(ctx, roomID, client.name)
	if err != nil {
		room.admission.Unlock()
		s.presence.Leave(roomID, client.name)
		s.log.Error("join failed", "room", roomID, "user", client.name, "err", err)
		client.replyError(msg, "could not join room")
		return
	}
	// The reply is queued before registering so it precedes any broadcast.
	client.reply(msg, phx.StatusOK, payload)
	room.join(client)
	room.admission.Unlock()
	client.joined[msg.Topic] = joinedTopic{joinRef: msg.JoinRef, room: room}
	s.metrics.IncJoin()
	s.log.Info("joined", "room", roomID, "user", client.name, "online", s.presence.ActiveCount(roomID))

	notice, err := s.frame(msg.Topic, EventUserJoined, map[string]string{"username": client.name})
	if err == nil {
		room.publish(notice, client)
	}
}

func (s *Server) admit(ctx context.Context, roomID, name string) (joinPayload, error) {
	member, created, err := s.store.UpsertMember(ctx, roomID, name)
	if err != nil {
		return joinPayload{}, err
	}
	if created && s.editors[name] && member.Role == storage.RoleMember {
		if err := s.store.SetRole(ctx, roomID, name, storage.RoleEditor); err != nil {
			return joinPayload{}, err
		}
	}
	history, err := s.store.RecentMessages(ctx, roomID, s.cfg.HistoryLimit)
	if err != nil {
		return joinPayload{}, err
	}
	return joinPayload{
		Username: name,
		Messages: lo.Map(history, func(m storage.Message, _ int) messagePayload {
			return toMessagePayload(m)
		}),
	}, nil
}

func (s *Server) leave(client *Client, topic string) {
	joined, ok := client.joined[topic]
	if !ok {
		return
	}
	delete(client.joined, topic)
	joined.room.leave(client)
	if s.presence.Leave(joined.room.id, client.name) == 0 {
		s.limiter.Forget(rateKey(joined.room.id, client.name))
	}
	s.log.Info("left", "room", joined.room.id, "user", client.name, "connections", joined.room.size())
}

func (s *Server) newMessage(client *Client, msg phx.Message) {
	joined, ok := client.joined[msg.Topic]
	if !ok {
		client.replyError(msg, "not joined")
		return
	}
	var in struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		client.replyError(msg, "Malformed message")
		return
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		client.replyError(msg, "Message cannot be empty")
		return
	}
	if utf8.RuneCountInString(body) > s.cfg.MaxBodyLen {
		client.replyError(msg, "Message is too long")
		return
	}
	if !s.limiter.Allow(rateKey(joined.room.id, client.name)) {
		s.metrics.IncRateLimited()
		client.replyError(msg, "You are sending messages too quickly")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	joined.room.admission.Lock()
	defer joined.room.admission.Unlock()
	member, _, err := s.store.UpsertMember(ctx, joined.room.id, client.name)
	if err != nil {
		s.log.Error("lookup member", "room", joined.room.id, "user", client.name, "err", err)
		client.replyError(msg, "Message could not be saved")
		return
	}
	saved, err := s.store.AppendMessage(ctx, storage.Message{
		RoomID:   joined.room.id,
		UserID:   member.ID,
		Username: client.name,
		Body:     body,
	})
	if err != nil {
		s.log.Error("append message", "room", joined.room.id, "user", client.name, "err", err)
		client.replyError(msg, "Message could not be saved")
		return
	}
	s.metrics.IncMessage()

	frame, err := s.frame(msg.Topic, EventNewMessage, toMessagePayload(saved))
	if err != nil {
		client.replyError(msg, "Message could not be sent")
		return
	}
	joined.room.publish(frame, nil)
	client.reply(msg, phx.StatusOK, nil)
}

func (s *Server) frame(topic, event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("encode payload", "event", event, "err", err)
		return nil, err
	}
	return json.Marshal(phx.Message{Topic: topic, Event: event, Payload: raw})
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	if bearerToken(r) == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing token"))
		return
	}
	roomID := r.PathValue("id")
	members, err := s.store.ListMembers(r.Context(), roomID)
	if err != nil {
		s.log.Error("list members", "room", roomID, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("could not load members"))
		return
	}
	writeJSON(w, http.StatusOK, rosterPayload{
		Members: lo.Map(members, func(m storage.Member, _ int) memberPayload {
			return memberPayload{ID: m.ID, Name: m.Name, Role: m.Role}
		}),
	})
}

func rateKey(roomID, name string) string {
	return roomID + "|" + name
}

func toMessagePayload(m storage.Message) messagePayload {
	return messagePayload{
		ID:        m.ID,
		Body:      m.Body,
		Username:  m.Username,
		UserID:    m.UserID,
		Timestamp: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
