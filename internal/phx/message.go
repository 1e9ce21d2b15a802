// Package phx speaks the Phoenix channels V2 JSON protocol over a gorilla
// websocket: framing, refs, heartbeats and push timeouts.
package phx

import (
	"encoding/json"
	"fmt"
)

// Reserved events and statuses of the channels protocol.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"

	TopicPhoenix = "phoenix"

	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Message is one frame on the wire: [join_ref, ref, topic, event, payload].
// Empty refs are encoded as null.
type Message struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload json.RawMessage
}

// Reply is the payload of a phx_reply frame.
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	payload := m.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return json.Marshal([]any{nullable(m.JoinRef), nullable(m.Ref), m.Topic, m.Event, payload})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	if len(frame) != 5 {
		return fmt.Errorf("decode frame: want 5 elements, got %d", len(frame))
	}
	var joinRef, ref *string
	if err := json.Unmarshal(frame[0], &joinRef); err != nil {
		return fmt.Errorf("decode join_ref: %w", err)
	}
	if err := json.Unmarshal(frame[1], &ref); err != nil {
		return fmt.Errorf("decode ref: %w", err)
	}
	var topic, event string
	if err := json.Unmarshal(frame[2], &topic); err != nil {
		return fmt.Errorf("decode topic: %w", err)
	}
	if err := json.Unmarshal(frame[3], &event); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	*m = Message{
		JoinRef: deref(joinRef),
		Ref:     deref(ref),
		Topic:   topic,
		Event:   event,
		Payload: frame[4],
	}
	return nil
}

// Reply decodes the payload of a phx_reply frame.
func (m Message) Reply() (Reply, error) {
	if m.Event != EventReply {
		return Reply{}, fmt.Errorf("event %q is not a reply", m.Event)
	}
	var reply Reply
	if err := json.Unmarshal(m.Payload, &reply); err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

// EncodeReply builds a phx_reply payload. A nil response becomes {}.
func EncodeReply(status string, response any) (json.RawMessage, error) {
	if response == nil {
		response = struct{}{}
	}
	raw, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Reply{Status: status, Response: raw})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
