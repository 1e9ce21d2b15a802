// Package chat is the room session protocol: join lifecycle, single-flight
// message sends and roster refreshes, driven from one dispatch loop.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"roomchat/internal/api"
	"roomchat/internal/phx"
)

var (
	// ErrInert is returned by Open when the host did not supply a room,
	// an endpoint and a presentation. Callers treat it as a quiet no-op.
	ErrInert = errors.New("chat: session not configured")
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("chat: session closed")
)

const inboxSize = 16

// Config describes the room a session joins. Token is sent once at connect
// time and never changes for the session.
type Config struct {
	Endpoint     string
	RoomID       string
	Token        string
	SendTimeout  time.Duration
	TransientTTL time.Duration
}

// Ready reports whether the config is enough to start a session.
func (c Config) Ready() bool {
	return strings.TrimSpace(c.RoomID) != "" && strings.TrimSpace(c.Endpoint) != ""
}

type options struct {
	transport Transport
	roster    RosterSource
	logger    *slog.Logger
}

// Option customizes Open.
type Option func(*options)

// WithTransport uses an existing transport instead of dialing Config.Endpoint.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithRosterSource overrides the HTTP roster client.
func WithRosterSource(r RosterSource) Option {
	return func(o *options) { o.roster = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Session owns the connection, the room channel and the dispatch inbox. All
// protocol state is mutated on the goroutine running Run.
type Session struct {
	cfg       Config
	log       *slog.Logger
	transport Transport
	channel   *RoomChannel
	inbox     chan func()
	state     atomic.Int32
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
}

// Open connects, builds the room channel and starts the join. The join reply
// is processed once Run is called.
func Open(ctx context.Context, cfg Config, pres Presentation, opts ...Option) (*Session, error) {
	if !cfg.Ready() || pres == nil {
		return nil, ErrInert
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.TransientTTL <= 0 {
		cfg.TransientTTL = DefaultTransientTTL
	}
	logger := o.logger.With("room", cfg.RoomID)

	roster := o.roster
	if roster == nil {
		client, err := api.NewClient(cfg.Endpoint, cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("roster client: %w", err)
		}
		roster = client
	}

	transport := o.transport
	if transport == nil {
		sock, err := phx.Dial(ctx, cfg.Endpoint, phx.Options{Token: cfg.Token, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		transport = sock
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		cfg:       cfg,
		log:       logger,
		transport: transport,
		inbox:     make(chan func(), inboxSize),
		cancel:    cancel,
		closed:    make(chan struct{}),
	}
	channel := newRoomChannel(cfg.RoomID, transport, pres, logger, s.storeState)
	channel.dispatcher = &MessageDispatcher{
		channel:      channel,
		pres:         pres,
		log:          logger,
		sendTimeout:  cfg.SendTimeout,
		transientTTL: cfg.TransientTTL,
		after:        s.after,
	}
	channel.presence = &PresenceSync{
		ctx:    sessionCtx,
		roomID: cfg.RoomID,
		source: roster,
		pres:   pres,
		log:    logger,
		post:   s.post,
	}
	s.channel = channel
	channel.join()
	return s, nil
}

// State reports the join state. Safe from any goroutine.
func (s *Session) State() JoinState {
	return JoinState(s.state.Load())
}

// Send queues a user send onto the dispatch loop. Safe from any goroutine.
func (s *Session) Send(text string) {
	s.post(func() { s.channel.dispatcher.Send(text) })
}

// Run dispatches transport frames, user sends, roster results and timers one
// at a time until ctx ends, Close is called or the socket dies. After a socket
// loss the inbox keeps being served in the background until ctx ends or Close.
func (s *Session) Run(ctx context.Context) error {
	messages := s.transport.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return ErrClosed
		case msg := <-messages:
			s.channel.handle(msg)
		case fn := <-s.inbox:
			fn()
		case <-s.transport.Done():
			select {
			case <-s.closed:
				return ErrClosed
			default:
			}
			s.drain(messages)
			err := s.transport.Err()
			s.channel.lost(err)
			go s.linger(ctx)
			return fmt.Errorf("socket: %w", err)
		}
	}
}

// linger takes over the inbox once the socket is gone so pending timers and
// fetch results still land. It stops with ctx or Close.
func (s *Session) linger(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case fn := <-s.inbox:
			fn()
		}
	}
}

// Close tears the session down. Outstanding fetches are cancelled and later
// posts are dropped.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		err = s.transport.Close()
	})
	return err
}

func (s *Session) drain(messages <-chan phx.Message) {
	for {
		select {
		case msg := <-messages:
			s.channel.handle(msg)
		default:
			return
		}
	}
}

func (s *Session) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.closed:
	}
}

func (s *Session) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { s.post(fn) })
}

func (s *Session) storeState(state JoinState) {
	s.state.Store(int32(state))
}
