//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=../mocks/mock_transport.go -package=mocks

package chat

import (
	"context"
	"encoding/json"
	"time"

	"roomchat/internal/phx"
)

// Transport is the socket surface a session drives. *phx.Socket implements it.
type Transport interface {
	Push(topic, event, joinRef string, payload any, timeout time.Duration) (string, error)
	Messages() <-chan phx.Message
	Done() <-chan struct{}
	Err() error
	Close() error
}

// RosterSource reads a room's member list. The raw body is parsed by
// ParseRoster.
type RosterSource interface {
	FetchMembers(ctx context.Context, roomID string) (json.RawMessage, error)
}
