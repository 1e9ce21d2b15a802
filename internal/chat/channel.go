package chat

import (
	"log/slog"
	"time"

	"roomchat/internal/phx"
)

// Room events.
const (
	EventNewMessage = "new_message"
	EventUserJoined = "user_joined"
)

// JoinState is the lifecycle of a room channel.
type JoinState int32

const (
	Idle JoinState = iota
	Joining
	Joined
	Errored
)

func (s JoinState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

var joinTransitions = map[JoinState][]JoinState{
	Idle:    {Joining},
	Joining: {Joined, Errored},
}

func (s JoinState) canMoveTo(next JoinState) bool {
	for _, allowed := range joinTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Topic is the channel topic for a room.
func Topic(roomID string) string {
	return "room:" + roomID
}

// RoomChannel owns the join lifecycle of one room and its event
// subscriptions. It is only touched from the session's dispatch goroutine.
type RoomChannel struct {
	roomID    string
	topic     string
	state     JoinState
	joinRef   string
	transport Transport
	pres      Presentation
	log       *slog.Logger
	onState   func(JoinState)

	dispatcher *MessageDispatcher
	presence   *PresenceSync
}

func newRoomChannel(roomID string, transport Transport, pres Presentation, logger *slog.Logger, onState func(JoinState)) *RoomChannel {
	return &RoomChannel{
		roomID:    roomID,
		topic:     Topic(roomID),
		transport: transport,
		pres:      pres,
		log:       logger.With("topic", Topic(roomID)),
		onState:   onState,
	}
}

// State reports the current join state.
func (c *RoomChannel) State() JoinState { return c.state }

func (c *RoomChannel) setState(next JoinState) bool {
	if !c.state.canMoveTo(next) {
		c.log.Warn("ignoring join transition", "from", c.state, "to", next)
		return false
	}
	c.log.Debug("join state", "from", c.state, "to", next)
	c.state = next
	if c.onState != nil {
		c.onState(next)
	}
	return true
}

// join issues the handshake. Join has no client-side timeout.
func (c *RoomChannel) join() {
	if !c.setState(Joining) {
		return
	}
	ref, err := c.transport.Push(c.topic, phx.EventJoin, "", struct{}{}, 0)
	if err != nil {
		c.log.Warn("join push failed", "error", err)
		c.applyJoin(JoinRejected{Reason: ConnectionLostReason})
		return
	}
	c.joinRef = ref
}

func (c *RoomChannel) push(event string, payload any, timeout time.Duration) (string, error) {
	return c.transport.Push(c.topic, event, c.joinRef, payload, timeout)
}

// applyJoin is the single consumer of join outcomes.
func (c *RoomChannel) applyJoin(outcome JoinOutcome) {
	if c.state != Joining {
		return
	}
	switch o := outcome.(type) {
	case JoinAccepted:
		c.setState(Joined)
		if o.Dropped > 0 {
			c.log.Warn("dropped malformed history records", "count", o.Dropped)
		}
		if o.Username != "" {
			c.pres.SetIdentity(o.Username)
		}
		c.pres.ClearLoading()
		if len(o.History) == 0 {
			c.pres.ShowEmptyState()
		} else {
			for _, msg := range o.History {
				c.pres.AppendMessage(msg)
			}
		}
		c.presence.Refresh()
	case JoinRejected:
		c.setState(Errored)
		c.log.Info("join rejected", "reason", o.Reason)
		c.pres.ShowJoinError(o.Reason)
	}
}

func (c *RoomChannel) handle(msg phx.Message) {
	if msg.Topic != c.topic {
		c.log.Debug("frame for foreign topic", "frame_topic", msg.Topic, "event", msg.Event)
		return
	}
	switch msg.Event {
	case phx.EventReply:
		c.handleReply(msg)
	case phx.EventError, phx.EventClose:
		if c.state == Joining {
			c.applyJoin(JoinRejected{Reason: DefaultJoinReason})
			return
		}
		c.log.Warn("channel closed by server", "event", msg.Event, "state", c.state)
	case EventNewMessage:
		if c.state != Joined {
			c.log.Debug("chat event before join", "state", c.state)
			return
		}
		chatMsg, err := ParseMessage(msg.Payload)
		if err != nil {
			c.log.Warn("dropping chat event", "error", err)
			return
		}
		c.pres.AppendMessage(chatMsg)
	case EventUserJoined:
		if c.state != Joined {
			c.log.Debug("membership event before join", "state", c.state)
			return
		}
		name, err := parseUserJoined(msg.Payload)
		if err != nil {
			c.log.Warn("dropping membership event", "error", err)
			return
		}
		c.pres.ShowJoinNotification(name)
		c.presence.Refresh()
	default:
		c.log.Debug("unhandled event", "event", msg.Event)
	}
}

func (c *RoomChannel) handleReply(msg phx.Message) {
	reply, err := msg.Reply()
	switch {
	case c.state == Joining && msg.Ref == c.joinRef:
		if err != nil {
			c.log.Warn("malformed join reply", "error", err)
			c.applyJoin(JoinRejected{Reason: DefaultJoinReason})
			return
		}
		c.applyJoin(joinOutcomeOf(reply))
	case c.dispatcher.owns(msg.Ref):
		if err != nil {
			c.log.Warn("malformed send reply", "error", err)
			c.dispatcher.resolve(SendRejected{Reason: DefaultSendFailure})
			return
		}
		c.dispatcher.resolve(sendOutcomeOf(reply))
	default:
		c.log.Debug("reply for unknown ref", "ref", msg.Ref)
	}
}

// lost settles whatever was outstanding when the socket died.
func (c *RoomChannel) lost(err error) {
	c.log.Warn("socket lost", "error", err, "state", c.state)
	if c.state == Joining {
		c.applyJoin(JoinRejected{Reason: ConnectionLostReason})
	}
	c.dispatcher.abandon()
}
