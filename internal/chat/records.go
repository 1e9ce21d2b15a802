package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = validator.New()

// Role is a member's standing in the room.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleMember Role = "member"
)

// RoleClass is the display class a role renders with.
type RoleClass int

const (
	ClassGhost RoleClass = iota
	ClassPrimary
	ClassSecondary
)

// Class maps a role to exactly one display class. Unknown roles render like
// plain members.
func (r Role) Class() RoleClass {
	switch r {
	case RoleAdmin:
		return ClassPrimary
	case RoleEditor:
		return ClassSecondary
	default:
		return ClassGhost
	}
}

// Message is a chat line as received from the room.
type Message struct {
	Body      string
	Username  string
	UserID    *string
	Timestamp *time.Time
}

// Member is one entry of the roster snapshot.
type Member struct {
	ID   string
	Name string
	Role Role
}

// flexID accepts ids encoded as JSON strings or numbers.
type flexID string

func (id *flexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %s", data)
	}
	*id = flexID(n.String())
	return nil
}

type messageRecord struct {
	Body      string          `json:"body" validate:"required"`
	Username  string          `json:"username" validate:"required"`
	UserID    flexID          `json:"user_id"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type memberRecord struct {
	ID   flexID `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
	Role string `json:"role"`
}

type rosterRecord struct {
	Members *[]memberRecord `json:"members"`
}

type userJoinedRecord struct {
	Username string `json:"username" validate:"required"`
}

// ParseMessage validates a Message-shaped payload.
func ParseMessage(raw json.RawMessage) (Message, error) {
	var rec messageRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := validate.Struct(rec); err != nil {
		return Message{}, fmt.Errorf("invalid message: %w", err)
	}
	msg := Message{Body: rec.Body, Username: rec.Username}
	if rec.UserID != "" {
		msg.UserID = lo.ToPtr(string(rec.UserID))
	}
	msg.Timestamp = parseTimestamp(rec.Timestamp)
	return msg, nil
}

// ParseRoster decodes a roster fetch body. present is false when the body has
// no members field, which means "no update" rather than "empty".
func ParseRoster(raw json.RawMessage) (members []Member, present bool, err error) {
	var rec rosterRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode roster: %w", err)
	}
	if rec.Members == nil {
		return nil, false, nil
	}
	members = make([]Member, 0, len(*rec.Members))
	for i, m := range *rec.Members {
		if err := validate.Struct(m); err != nil {
			return nil, false, fmt.Errorf("invalid member %d: %w", i, err)
		}
		role := Role(strings.ToLower(strings.TrimSpace(m.Role)))
		if role == "" {
			role = RoleMember
		}
		members = append(members, Member{ID: string(m.ID), Name: m.Name, Role: role})
	}
	return members, true, nil
}

func parseUserJoined(raw json.RawMessage) (string, error) {
	var rec userJoinedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("decode user_joined: %w", err)
	}
	if err := validate.Struct(rec); err != nil {
		return "", fmt.Errorf("invalid user_joined: %w", err)
	}
	return rec.Username, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp reads ISO-8601 strings (naive ones as UTC) or unix seconds.
// Anything else is treated as absent.
func parseTimestamp(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range timestampLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return &t
			}
		}
		return nil
	}
	secs, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil
	}
	return lo.ToPtr(time.Unix(secs, 0).UTC())
}

// failureReason picks the first non-empty string among keys, or fallback.
func failureReason(response json.RawMessage, fallback string, keys ...string) string {
	if len(response) == 0 {
		return fallback
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(response, &fields); err != nil {
		return fallback
	}
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil && n.String() != "0" {
			return n.String()
		}
	}
	return fallback
}
