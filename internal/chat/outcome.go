package chat

import (
	"encoding/json"

	"roomchat/internal/phx"
)

// User-facing fallbacks when the server gives no reason.
const (
	DefaultJoinReason    = "Please try again."
	ConnectionLostReason = "Connection lost."
	DefaultSendFailure   = "Failed to send message."
	SendTimeoutText      = "Message timed out, please retry."
)

// JoinOutcome is the result of the join handshake: JoinAccepted or JoinRejected.
type JoinOutcome interface{ joinOutcome() }

// JoinAccepted carries the identity and history returned by a successful join.
// Dropped counts history records that failed validation.
type JoinAccepted struct {
	Username string
	History  []Message
	Dropped  int
}

// JoinRejected carries the reason shown on the join error panel.
type JoinRejected struct {
	Reason string
}

func (JoinAccepted) joinOutcome() {}
func (JoinRejected) joinOutcome() {}

// SendOutcome is the result of one push: SendAcked, SendRejected or SendTimedOut.
type SendOutcome interface{ sendOutcome() }

type SendAcked struct{}

type SendRejected struct {
	Reason string
}

type SendTimedOut struct{}

func (SendAcked) sendOutcome()    {}
func (SendRejected) sendOutcome() {}
func (SendTimedOut) sendOutcome() {}

type joinResponse struct {
	Username string            `json:"username"`
	Messages []json.RawMessage `json:"messages"`
}

func joinOutcomeOf(reply phx.Reply) JoinOutcome {
	switch reply.Status {
	case phx.StatusOK:
		var resp joinResponse
		if len(reply.Response) > 0 {
			if err := json.Unmarshal(reply.Response, &resp); err != nil {
				return JoinRejected{Reason: DefaultJoinReason}
			}
		}
		accepted := JoinAccepted{Username: resp.Username}
		for _, raw := range resp.Messages {
			msg, err := ParseMessage(raw)
			if err != nil {
				accepted.Dropped++
				continue
			}
			accepted.History = append(accepted.History, msg)
		}
		return accepted
	case phx.StatusError:
		return JoinRejected{Reason: failureReason(reply.Response, DefaultJoinReason, "reason", "error", "message")}
	default:
		return JoinRejected{Reason: DefaultJoinReason}
	}
}

func sendOutcomeOf(reply phx.Reply) SendOutcome {
	switch reply.Status {
	case phx.StatusOK:
		return SendAcked{}
	case phx.StatusTimeout:
		return SendTimedOut{}
	case phx.StatusError:
		return SendRejected{Reason: failureReason(reply.Response, DefaultSendFailure, "reason")}
	default:
		return SendRejected{Reason: DefaultSendFailure}
	}
}
